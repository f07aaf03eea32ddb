package ports

import (
	"context"

	"github.com/kevin07696/subscription-checkout/internal/domain"
)

// PendingPaymentStore is a durable single-slot record of the one in-flight payment attempt.
// Writes are last-write-wins and supersede any earlier record.
type PendingPaymentStore interface {
	Write(ctx context.Context, record domain.PendingPaymentRecord) error
	// Read returns nil, nil when the slot is empty
	Read(ctx context.Context) (*domain.PendingPaymentRecord, error)
	Clear(ctx context.Context) error
}

// PendingStoreFactory hands out the slot belonging to one user
type PendingStoreFactory interface {
	ForUser(userID string) PendingPaymentStore
}
