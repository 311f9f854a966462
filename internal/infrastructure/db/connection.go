package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/cornd/internal/config"
	"github.com/sawpanic/cornd/internal/ledger"
	"github.com/sawpanic/cornd/internal/ledger/postgres"
)

// Manager owns the Postgres connection pool and the ledger repository
// built on top of it. It is created once at startup and injected into
// the components that need the ledger, never reached as a singleton.
type Manager struct {
	db     *sqlx.DB
	config config.DatabaseSection
	ledger ledger.Ledger
}

// NewManager opens the pool, applies pool limits, and verifies
// connectivity with a bounded ping.
func NewManager(cfg config.DatabaseSection) (*Manager, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime.Std())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Manager{
		db:     db,
		config: cfg,
		ledger: postgres.NewPurchasesRepo(db, cfg.QueryTimeout.Std()),
	}, nil
}

// InitSchema bootstraps the ledger schema.
func (m *Manager) InitSchema(ctx context.Context) error {
	return postgres.InitSchema(ctx, m.db)
}

// Ledger returns the purchase ledger repository.
func (m *Manager) Ledger() ledger.Ledger {
	return m.ledger
}

// DB returns the underlying pool (migrations, tests).
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Ping tests basic connectivity within the configured query timeout.
func (m *Manager) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout.Std())
	defer cancel()
	return m.db.PingContext(pingCtx)
}

// Stats returns connection pool statistics for the health endpoint.
func (m *Manager) Stats() map[string]interface{} {
	stats := m.db.Stats()
	return map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// Close closes the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
