package pendingstore

import (
	"context"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
)

// Instrument wraps a factory so every store operation is bounded by the store
// timeout, counted in metrics, and logged on failure.
func Instrument(factory ports.PendingStoreFactory, backend string, timeouts *resilience.TimeoutConfig, logger ports.Logger) ports.PendingStoreFactory {
	return &instrumentedFactory{inner: factory, backend: backend, timeouts: timeouts, logger: logger}
}

type instrumentedFactory struct {
	inner    ports.PendingStoreFactory
	backend  string
	timeouts *resilience.TimeoutConfig
	logger   ports.Logger
}

func (f *instrumentedFactory) ForUser(userID string) ports.PendingPaymentStore {
	return &instrumentedStore{inner: f.inner.ForUser(userID), factory: f, userID: userID}
}

type instrumentedStore struct {
	inner   ports.PendingPaymentStore
	factory *instrumentedFactory
	userID  string
}

func (s *instrumentedStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if s.factory.timeouts == nil {
		return context.WithCancel(parent)
	}
	return s.factory.timeouts.StoreContext(parent)
}

func (s *instrumentedStore) observe(op string, err error) {
	observability.RecordPendingStoreOp(s.factory.backend, op, err)
	if err != nil && s.factory.logger != nil {
		s.factory.logger.Error("pending store operation failed",
			ports.String("backend", s.factory.backend),
			ports.String("operation", op),
			ports.String("user_id", s.userID),
			ports.Err(err),
		)
	}
}

func (s *instrumentedStore) Write(ctx context.Context, record domain.PendingPaymentRecord) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	err := s.inner.Write(ctx, record)
	s.observe("write", err)
	return err
}

func (s *instrumentedStore) Read(ctx context.Context) (*domain.PendingPaymentRecord, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	record, err := s.inner.Read(ctx)
	s.observe("read", err)
	return record, err
}

func (s *instrumentedStore) Clear(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	err := s.inner.Clear(ctx)
	s.observe("clear", err)
	return err
}

func (s *instrumentedStore) ClearIfOrder(ctx context.Context, orderNo string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	cleared, err := ClearIfOrder(ctx, s.inner, orderNo)
	s.observe("clear_if_order", err)
	return cleared, err
}
