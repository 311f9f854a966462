package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/cornd/internal/ledger"
)

// purchasesRepo implements ledger.Ledger on PostgreSQL
type purchasesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPurchasesRepo creates a PostgreSQL-backed purchase ledger
func NewPurchasesRepo(db *sqlx.DB, timeout time.Duration) ledger.Ledger {
	return &purchasesRepo{
		db:      db,
		timeout: timeout,
	}
}

// InitSchema creates the purchase table and its lookup index if they
// do not exist. Mirrors the retention posture of the ledger: records
// are never mutated or deleted here.
func InitSchema(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS corn_purchases (
			id BIGSERIAL PRIMARY KEY,
			client_id TEXT NOT NULL,
			purchased_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_corn_purchases_client_time
			ON corn_purchases (client_id, purchased_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize ledger schema: %w", err)
		}
	}

	return nil
}

// MostRecentPurchase returns the latest purchase for the client, with
// elapsed time computed inside the store so its clock is the single
// source of truth.
func (r *purchasesRepo) MostRecentPurchase(ctx context.Context, clientID string) (*ledger.Recency, error) {
	if clientID == "" {
		return nil, ledger.ErrEmptyClientID
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT purchased_at,
		       EXTRACT(EPOCH FROM (now() - purchased_at)) AS age_seconds
		FROM corn_purchases
		WHERE client_id = $1
		ORDER BY purchased_at DESC
		LIMIT 1`

	var row struct {
		PurchasedAt time.Time `db:"purchased_at"`
		AgeSeconds  float64   `db:"age_seconds"`
	}

	err := r.db.QueryRowxContext(ctx, query, clientID).Scan(&row.PurchasedAt, &row.AgeSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query most recent purchase: %w", err)
	}

	// Clamp negative ages from sub-millisecond clock jitter between
	// statement evaluation points.
	if row.AgeSeconds < 0 {
		row.AgeSeconds = 0
	}

	return &ledger.Recency{
		PurchasedAt: row.PurchasedAt,
		Age:         time.Duration(row.AgeSeconds * float64(time.Second)),
	}, nil
}

// AppendPurchase inserts a record with the store assigning id and
// timestamp.
func (r *purchasesRepo) AppendPurchase(ctx context.Context, clientID string) (*ledger.Purchase, error) {
	if clientID == "" {
		return nil, ledger.ErrEmptyClientID
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO corn_purchases (client_id)
		VALUES ($1)
		RETURNING id, purchased_at`

	purchase := &ledger.Purchase{ClientID: clientID}
	err := r.db.QueryRowxContext(ctx, query, clientID).Scan(&purchase.ID, &purchase.PurchasedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append purchase: %w", err)
	}

	return purchase, nil
}

// AppendIfAllowed inserts a record only when no purchase inside the
// window exists for the client. Window check and insert are one
// statement, so two concurrent requests cannot both pass the check.
func (r *purchasesRepo) AppendIfAllowed(ctx context.Context, clientID string, window time.Duration) (*ledger.Purchase, error) {
	if clientID == "" {
		return nil, ledger.ErrEmptyClientID
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO corn_purchases (client_id)
		SELECT $1
		WHERE NOT EXISTS (
			SELECT 1 FROM corn_purchases
			WHERE client_id = $1
			AND purchased_at > now() - $2 * interval '1 second'
		)
		RETURNING id, purchased_at`

	purchase := &ledger.Purchase{ClientID: clientID}
	err := r.db.QueryRowxContext(ctx, query, clientID, window.Seconds()).
		Scan(&purchase.ID, &purchase.PurchasedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrWindowConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append purchase: %w", err)
	}

	return purchase, nil
}

// Stats returns the client's total purchase count and most recent
// timestamp, independent of the admission window.
func (r *purchasesRepo) Stats(ctx context.Context, clientID string) (*ledger.Stats, error) {
	if clientID == "" {
		return nil, ledger.ErrEmptyClientID
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*) AS total_purchases,
		       MAX(purchased_at) AS last_purchase
		FROM corn_purchases
		WHERE client_id = $1`

	var row struct {
		TotalPurchases int64        `db:"total_purchases"`
		LastPurchase   sql.NullTime `db:"last_purchase"`
	}

	if err := r.db.QueryRowxContext(ctx, query, clientID).Scan(&row.TotalPurchases, &row.LastPurchase); err != nil {
		return nil, fmt.Errorf("failed to query purchase stats: %w", err)
	}

	stats := &ledger.Stats{
		ClientID:       clientID,
		TotalPurchases: row.TotalPurchases,
	}
	if row.LastPurchase.Valid {
		ts := row.LastPurchase.Time
		stats.LastPurchase = &ts
	}

	return stats, nil
}
