package pendingstore

import (
	"context"
	"sync"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
)

// MemoryBackend keeps slots in process memory. Records do not survive a restart.
type MemoryBackend struct {
	mu    sync.Mutex
	slots map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: make(map[string][]byte)}
}

// ForUser implements ports.PendingStoreFactory
func (b *MemoryBackend) ForUser(userID string) ports.PendingPaymentStore {
	return &memoryStore{backend: b, key: SlotKey(userID)}
}

// Device returns the device slot
func (b *MemoryBackend) Device() ports.PendingPaymentStore {
	return b.ForUser("")
}

type memoryStore struct {
	backend *MemoryBackend
	key     string
}

func (s *memoryStore) Write(ctx context.Context, record domain.PendingPaymentRecord) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.slots[s.key] = data
	return nil
}

func (s *memoryStore) Read(ctx context.Context) (*domain.PendingPaymentRecord, error) {
	s.backend.mu.Lock()
	data, ok := s.backend.slots[s.key]
	s.backend.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return Decode(data)
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.slots, s.key)
	return nil
}

func (s *memoryStore) ClearIfOrder(ctx context.Context, orderNo string) (bool, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	data, ok := s.backend.slots[s.key]
	if !ok {
		return false, nil
	}
	record, err := Decode(data)
	if err != nil {
		return false, err
	}
	if record.OrderNo != orderNo {
		return false, nil
	}
	delete(s.backend.slots, s.key)
	return true, nil
}
