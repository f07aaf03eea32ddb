package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// migrationLockID serializes Migrate across replicas starting together
const migrationLockID int64 = 0x636b6f7574 // "ckout"

type migration struct {
	version int
	name    string
	sql     string
}

// migrations are applied in order and never edited once released
var migrations = []migration{
	{1, "create pending_payments", `CREATE TABLE IF NOT EXISTS pending_payments (
		slot_key      TEXT PRIMARY KEY,
		order_no      TEXT NOT NULL,
		plan_id       TEXT NOT NULL,
		processor     TEXT NOT NULL,
		started_at_ms BIGINT NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`},
	{2, "index pending_payments.order_no", `CREATE INDEX IF NOT EXISTS idx_pending_payments_order_no ON pending_payments (order_no)`},
}

// Migrate brings the schema up to date and returns how many migrations ran
func (a *PostgreSQLAdapter) Migrate(ctx context.Context) (int, error) {
	var ran []migration
	err := a.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}

		for _, m := range pending(migrations, current) {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
			ran = append(ran, m)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, m := range ran {
		a.logger.Info("Applied migration", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return len(ran), nil
}

// pending returns the migrations newer than current, in order
func pending(all []migration, current int) []migration {
	var out []migration
	for _, m := range all {
		if m.version > current {
			out = append(out, m)
		}
	}
	return out
}
