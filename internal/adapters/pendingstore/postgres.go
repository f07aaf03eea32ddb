package pendingstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kevin07696/subscription-checkout/internal/domain"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
)

// DBTX is the subset of pgxpool.Pool / pgx.Tx the store needs
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	upsertPendingSQL = `
INSERT INTO pending_payments (slot_key, order_no, plan_id, processor, started_at_ms, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (slot_key) DO UPDATE SET
	order_no = EXCLUDED.order_no,
	plan_id = EXCLUDED.plan_id,
	processor = EXCLUDED.processor,
	started_at_ms = EXCLUDED.started_at_ms,
	updated_at = now()`

	selectPendingSQL = `
SELECT order_no, plan_id, processor, started_at_ms
FROM pending_payments
WHERE slot_key = $1`

	deletePendingSQL = `DELETE FROM pending_payments WHERE slot_key = $1`

	deletePendingIfOrderSQL = `DELETE FROM pending_payments WHERE slot_key = $1 AND order_no = $2`
)

// PostgresBackend stores slots as rows in pending_payments
type PostgresBackend struct {
	db DBTX
}

// NewPostgresBackend creates a backend over a pool or transaction
func NewPostgresBackend(db DBTX) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// ForUser implements ports.PendingStoreFactory
func (b *PostgresBackend) ForUser(userID string) ports.PendingPaymentStore {
	return &postgresStore{db: b.db, key: SlotKey(userID)}
}

type postgresStore struct {
	db  DBTX
	key string
}

func (s *postgresStore) Write(ctx context.Context, record domain.PendingPaymentRecord) error {
	if record.OrderNo == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationFailed, "pending record requires orderNo")
	}
	_, err := s.db.Exec(ctx, upsertPendingSQL,
		s.key, record.OrderNo, record.PlanID, string(record.Processor), record.StartedAtEpochMs)
	if err != nil {
		return fmt.Errorf("failed to write pending record: %w", err)
	}
	return nil
}

func (s *postgresStore) Read(ctx context.Context) (*domain.PendingPaymentRecord, error) {
	var (
		record    domain.PendingPaymentRecord
		processor string
	)
	err := s.db.QueryRow(ctx, selectPendingSQL, s.key).
		Scan(&record.OrderNo, &record.PlanID, &processor, &record.StartedAtEpochMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending record: %w", err)
	}
	record.Processor = domain.Processor(processor)
	return &record, nil
}

func (s *postgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, deletePendingSQL, s.key); err != nil {
		return fmt.Errorf("failed to clear pending record: %w", err)
	}
	return nil
}

func (s *postgresStore) ClearIfOrder(ctx context.Context, orderNo string) (bool, error) {
	tag, err := s.db.Exec(ctx, deletePendingIfOrderSQL, s.key, orderNo)
	if err != nil {
		return false, fmt.Errorf("failed to clear pending record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
