package ledger

import (
	"context"
	"errors"
	"time"
)

// Purchase is a single append-only ledger record. The id and timestamp
// are assigned by the store at insertion time; caller-supplied
// timestamps are never trusted.
type Purchase struct {
	ID          int64     `json:"id" db:"id"`
	ClientID    string    `json:"clientId" db:"client_id"`
	PurchasedAt time.Time `json:"purchasedAt" db:"purchased_at"`
}

// Recency describes a client's most recent purchase. Age is elapsed
// time measured against the store's own clock, so admission decisions
// are immune to process clock skew.
type Recency struct {
	PurchasedAt time.Time     `db:"purchased_at"`
	Age         time.Duration `db:"-"`
}

// Stats summarizes a client's full purchase history, independent of
// the admission window.
type Stats struct {
	ClientID       string     `json:"clientId" db:"client_id"`
	TotalPurchases int64      `json:"totalPurchases" db:"total_purchases"`
	LastPurchase   *time.Time `json:"lastPurchase" db:"last_purchase"`
}

var (
	// ErrWindowConflict is returned by AppendIfAllowed when a purchase
	// inside the window already exists for the client.
	ErrWindowConflict = errors.New("purchase window conflict")

	// ErrEmptyClientID marks a blank client identifier reaching the
	// ledger; handlers are expected to reject these first.
	ErrEmptyClientID = errors.New("client id is empty")
)

// Ledger provides append and query access to the purchase history.
type Ledger interface {
	// MostRecentPurchase returns the client's latest purchase and its
	// age per the store clock, or nil when the client has no history.
	MostRecentPurchase(ctx context.Context, clientID string) (*Recency, error)

	// AppendPurchase inserts a record unconditionally, with the store
	// assigning id and timestamp.
	AppendPurchase(ctx context.Context, clientID string) (*Purchase, error)

	// AppendIfAllowed inserts a record only if the client has no
	// purchase newer than the window, evaluated atomically in the
	// store. Returns ErrWindowConflict when the condition fails.
	AppendIfAllowed(ctx context.Context, clientID string, window time.Duration) (*Purchase, error)

	// Stats returns total purchase count and latest timestamp.
	Stats(ctx context.Context, clientID string) (*Stats, error)
}
