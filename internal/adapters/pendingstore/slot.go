package pendingstore

import (
	"context"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
)

// orderClearer is implemented by backends that can compare-and-delete atomically
type orderClearer interface {
	ClearIfOrder(ctx context.Context, orderNo string) (bool, error)
}

// ClearIfOrder clears the slot only while it still holds orderNo, so a
// finishing attempt never removes the record of a newer one.
func ClearIfOrder(ctx context.Context, store ports.PendingPaymentStore, orderNo string) (bool, error) {
	if c, ok := store.(orderClearer); ok {
		return c.ClearIfOrder(ctx, orderNo)
	}

	current, err := store.Read(ctx)
	if err != nil {
		return false, err
	}
	if current == nil || current.OrderNo != orderNo {
		return false, nil
	}
	if err := store.Clear(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ReadFresh reads the slot, treating records older than maxAge as absent.
// maxAge <= 0 disables the check.
func ReadFresh(ctx context.Context, store ports.PendingPaymentStore, maxAge time.Duration, now time.Time) (*domain.PendingPaymentRecord, error) {
	record, err := store.Read(ctx)
	if err != nil || record == nil {
		return record, err
	}
	if maxAge > 0 && record.Age(now) > maxAge {
		return nil, nil
	}
	return record, nil
}
