package pendingstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
)

// FileBackend stores each slot as a JSON file under a directory.
// This is the device-local store used by the CLI host.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

// NewFileBackend creates the directory if needed
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create pending store directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// ForUser implements ports.PendingStoreFactory
func (b *FileBackend) ForUser(userID string) ports.PendingPaymentStore {
	return &fileStore{backend: b, path: filepath.Join(b.dir, fileName(SlotKey(userID)))}
}

// Device returns the device slot
func (b *FileBackend) Device() ports.PendingPaymentStore {
	return b.ForUser("")
}

// fileName keeps user IDs from escaping the directory
func fileName(key string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "__", "..", "_")
	return replacer.Replace(key) + ".json"
}

type fileStore struct {
	backend *FileBackend
	path    string
}

func (s *fileStore) Write(ctx context.Context, record domain.PendingPaymentRecord) error {
	data, err := Encode(record)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	// Write-then-rename so a crash never leaves a torn record
	tmp, err := os.CreateTemp(s.backend.dir, ".pending-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write pending record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync pending record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close pending record: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit pending record: %w", err)
	}
	return nil
}

func (s *fileStore) Read(ctx context.Context) (*domain.PendingPaymentRecord, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.readLocked()
}

func (s *fileStore) readLocked() (*domain.PendingPaymentRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending record: %w", err)
	}
	return Decode(data)
}

func (s *fileStore) Clear(ctx context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return s.removeLocked()
}

func (s *fileStore) removeLocked() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear pending record: %w", err)
	}
	return nil
}

func (s *fileStore) ClearIfOrder(ctx context.Context, orderNo string) (bool, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	record, err := s.readLocked()
	if err != nil || record == nil || record.OrderNo != orderNo {
		return false, err
	}
	if err := s.removeLocked(); err != nil {
		return false, err
	}
	return true, nil
}
