// Package database owns the PostgreSQL pool and the tables this service keeps.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var poolConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "db_pool_connections",
	Help: "PostgreSQL pool connections by state",
}, []string{"state"}) // acquired, idle, max

// PostgreSQLConfig holds the connection string and pool limits
type PostgreSQLConfig struct {
	DatabaseURL     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPostgreSQLConfig sizes the pool for the pending slot table: one-row
// reads and writes, a few per purchase.
func DefaultPostgreSQLConfig(databaseURL string) *PostgreSQLConfig {
	return &PostgreSQLConfig{
		DatabaseURL:     databaseURL,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// PostgreSQLAdapter wraps a pgx pool
type PostgreSQLAdapter struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgreSQLAdapter connects and pings before returning
func NewPostgreSQLAdapter(ctx context.Context, cfg *PostgreSQLConfig, logger *zap.Logger) (*PostgreSQLAdapter, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("PostgreSQL connected",
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.Int32("max_conns", cfg.MaxConns),
	)
	return &PostgreSQLAdapter{pool: pool, logger: logger}, nil
}

// Pool exposes the pool to repositories and the health checker
func (a *PostgreSQLAdapter) Pool() *pgxpool.Pool {
	return a.pool
}

// Close closes the pool
func (a *PostgreSQLAdapter) Close() {
	a.pool.Close()
}

// HealthCheck pings the database
func (a *PostgreSQLAdapter) HealthCheck(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// WithTx runs fn in a transaction, committing when it returns nil. A panic
// in fn rolls back and is re-raised.
func (a *PostgreSQLAdapter) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			a.logger.Error("Rollback failed", zap.Error(rbErr), zap.NamedError("cause", err))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// StartPoolMonitoring publishes pool gauges every interval until ctx ends
// and warns when the pool is nearly exhausted.
func (a *PostgreSQLAdapter) StartPoolMonitoring(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.reportPool(a.pool.Stat())
			}
		}
	}()
}

func (a *PostgreSQLAdapter) reportPool(stat *pgxpool.Stat) {
	acquired, size := stat.AcquiredConns(), stat.MaxConns()
	poolConns.WithLabelValues("acquired").Set(float64(acquired))
	poolConns.WithLabelValues("idle").Set(float64(stat.IdleConns()))
	poolConns.WithLabelValues("max").Set(float64(size))

	if u := PoolUtilization(acquired, size); u > 80 {
		a.logger.Warn("Database pool highly utilized",
			zap.Float64("utilization_percent", u),
			zap.Int32("acquired", acquired),
			zap.Int32("max", size),
		)
	}
}

// PoolUtilization returns acquired connections as a percentage of the pool size
func PoolUtilization(acquired, total int32) float64 {
	if total <= 0 {
		return 0
	}
	return float64(acquired) / float64(total) * 100
}
