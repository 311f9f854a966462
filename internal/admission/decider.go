package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/cornd/internal/ledger"
)

// DefaultWindow is the rolling interval within which a client may make
// at most one purchase.
const DefaultWindow = 60 * time.Second

// ErrStoreUnavailable signals that the admission decision could not be
// evaluated because the ledger was unreachable. It is distinct from a
// Deny: the caller must fail closed, never treat it as either outcome.
var ErrStoreUnavailable = errors.New("purchase ledger unavailable")

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the whole seconds until the next purchase becomes
	// admissible. Always >= 1 when Allowed is false.
	RetryAfter int
}

// DenyCache is an optional fast path consulted before the ledger. A
// positive answer can only produce a Deny, never an Allow, so the
// ledger remains the source of truth.
type DenyCache interface {
	DeniedFor(ctx context.Context, clientID string) (time.Duration, bool)
	MarkPurchased(ctx context.Context, clientID string, window time.Duration)
}

// Decider evaluates the one-purchase-per-window policy against the
// ledger. It is stateless across requests: every invocation is an
// independent query plus compute.
type Decider struct {
	ledger  ledger.Ledger
	window  time.Duration
	breaker *gobreaker.CircuitBreaker
	cache   DenyCache
}

// Option configures a Decider.
type Option func(*Decider)

// WithWindow overrides the admission window.
func WithWindow(window time.Duration) Option {
	return func(d *Decider) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithDenyCache attaches a best-effort deny cache.
func WithDenyCache(cache DenyCache) Option {
	return func(d *Decider) {
		d.cache = cache
	}
}

// NewDecider creates a Decider over the given ledger.
func NewDecider(l ledger.Ledger, opts ...Option) *Decider {
	settings := gobreaker.Settings{Name: "purchase-ledger"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 15 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}

	d := &Decider{
		ledger:  l,
		window:  DefaultWindow,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the configured admission window.
func (d *Decider) Window() time.Duration {
	return d.window
}

// Decide reports whether a purchase by clientID is admissible now.
// Store failures surface as ErrStoreUnavailable, never as Allow or
// Deny.
func (d *Decider) Decide(ctx context.Context, clientID string) (Decision, error) {
	if clientID == "" {
		return Decision{}, ledger.ErrEmptyClientID
	}

	if d.cache != nil {
		if remaining, denied := d.cache.DeniedFor(ctx, clientID); denied {
			return denyAfter(remaining), nil
		}
	}

	result, err := d.breaker.Execute(func() (interface{}, error) {
		return d.ledger.MostRecentPurchase(ctx, clientID)
	})
	if err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("admission check failed, failing closed")
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	recency, _ := result.(*ledger.Recency)
	if recency == nil || recency.Age >= d.window {
		return Decision{Allowed: true}, nil
	}

	return denyAfter(d.window - recency.Age), nil
}

// Admit runs the full purchase path: decide, then append through the
// ledger's atomic window-conditional insert. A conflict on append
// means a concurrent request won the window; it is folded back into a
// Deny rather than an error.
func (d *Decider) Admit(ctx context.Context, clientID string) (*ledger.Purchase, Decision, error) {
	decision, err := d.Decide(ctx, clientID)
	if err != nil || !decision.Allowed {
		return nil, decision, err
	}

	purchase, err := d.ledger.AppendIfAllowed(ctx, clientID, d.window)
	if errors.Is(err, ledger.ErrWindowConflict) {
		decision, err = d.Decide(ctx, clientID)
		if err != nil {
			return nil, Decision{}, err
		}
		if decision.Allowed {
			// The conflicting record aged out between the two calls;
			// the client can simply retry immediately.
			decision = Decision{Allowed: false, RetryAfter: 1}
		}
		return nil, decision, nil
	}
	if err != nil {
		return nil, Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if purchase == nil {
		return nil, Decision{}, errors.New("ledger append returned no record")
	}

	if d.cache != nil {
		d.cache.MarkPurchased(ctx, clientID, d.window)
	}

	return purchase, Decision{Allowed: true}, nil
}

// denyAfter converts remaining window time into a Deny decision.
// Elapsed seconds are floored, so the remainder is effectively
// ceiling-rounded and the client is never told to retry early.
func denyAfter(remaining time.Duration) Decision {
	retry := int(remaining.Seconds())
	if remaining > time.Duration(retry)*time.Second {
		retry++
	}
	if retry < 1 {
		retry = 1
	}
	return Decision{Allowed: false, RetryAfter: retry}
}
