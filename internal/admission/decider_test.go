package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cornd/internal/ledger"
)

type fakeLedger struct {
	recency     *ledger.Recency
	recencyErr  error
	appended    *ledger.Purchase
	appendErr   error
	appendCalls int
}

func (f *fakeLedger) MostRecentPurchase(ctx context.Context, clientID string) (*ledger.Recency, error) {
	return f.recency, f.recencyErr
}

func (f *fakeLedger) AppendPurchase(ctx context.Context, clientID string) (*ledger.Purchase, error) {
	f.appendCalls++
	return f.appended, f.appendErr
}

func (f *fakeLedger) AppendIfAllowed(ctx context.Context, clientID string, window time.Duration) (*ledger.Purchase, error) {
	f.appendCalls++
	return f.appended, f.appendErr
}

func (f *fakeLedger) Stats(ctx context.Context, clientID string) (*ledger.Stats, error) {
	return nil, errors.New("not implemented")
}

func recencyAged(age time.Duration) *ledger.Recency {
	return &ledger.Recency{
		PurchasedAt: time.Now().Add(-age),
		Age:         age,
	}
}

func TestDecide_NoHistory(t *testing.T) {
	decider := NewDecider(&fakeLedger{recency: nil})

	decision, err := decider.Decide(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestDecide_InsideWindow(t *testing.T) {
	tests := []struct {
		name          string
		age           time.Duration
		expectedRetry int
	}{
		{"fresh_purchase", 0, 60},
		{"one_second_old", 1 * time.Second, 59},
		{"halfway", 30 * time.Second, 30},
		{"fractional_floors_elapsed", 30500 * time.Millisecond, 30},
		{"almost_expired", 59 * time.Second, 1},
		{"sub_second_remaining", 59900 * time.Millisecond, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decider := NewDecider(&fakeLedger{recency: recencyAged(tt.age)})

			decision, err := decider.Decide(context.Background(), "alice")
			require.NoError(t, err)
			assert.False(t, decision.Allowed)
			assert.Equal(t, tt.expectedRetry, decision.RetryAfter)
			assert.GreaterOrEqual(t, decision.RetryAfter, 1)
			assert.LessOrEqual(t, decision.RetryAfter, 60)
		})
	}
}

func TestDecide_WindowElapsed(t *testing.T) {
	for _, age := range []time.Duration{60 * time.Second, 61 * time.Second, time.Hour} {
		decider := NewDecider(&fakeLedger{recency: recencyAged(age)})

		decision, err := decider.Decide(context.Background(), "alice")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "age %v should be admissible", age)
	}
}

func TestDecide_RetryAfterMonotonic(t *testing.T) {
	prev := 61
	for secs := 0; secs < 60; secs++ {
		decider := NewDecider(&fakeLedger{recency: recencyAged(time.Duration(secs) * time.Second)})

		decision, err := decider.Decide(context.Background(), "alice")
		require.NoError(t, err)
		require.False(t, decision.Allowed)
		assert.Less(t, decision.RetryAfter, prev, "retry must decrease as elapsed time grows")
		prev = decision.RetryAfter
	}
	assert.Equal(t, 1, prev)
}

func TestDecide_EmptyClientID(t *testing.T) {
	decider := NewDecider(&fakeLedger{})

	_, err := decider.Decide(context.Background(), "")
	assert.ErrorIs(t, err, ledger.ErrEmptyClientID)
}

func TestDecide_StoreFailureFailsClosed(t *testing.T) {
	decider := NewDecider(&fakeLedger{recencyErr: errors.New("connection refused")})

	decision, err := decider.Decide(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, decision.Allowed, "a store failure must never read as an Allow")
}

func TestDecide_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	decider := NewDecider(&fakeLedger{recencyErr: errors.New("connection refused")})

	for i := 0; i < 5; i++ {
		_, err := decider.Decide(context.Background(), "alice")
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	}
}

func TestDecide_CustomWindow(t *testing.T) {
	decider := NewDecider(
		&fakeLedger{recency: recencyAged(5 * time.Second)},
		WithWindow(10*time.Second),
	)

	decision, err := decider.Decide(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 5, decision.RetryAfter)
}

func TestAdmit_Success(t *testing.T) {
	purchase := &ledger.Purchase{ID: 7, ClientID: "alice", PurchasedAt: time.Now()}
	fake := &fakeLedger{appended: purchase}
	decider := NewDecider(fake)

	got, decision, err := decider.Admit(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, purchase, got)
	assert.Equal(t, 1, fake.appendCalls)
}

func TestAdmit_DeniedSkipsAppend(t *testing.T) {
	fake := &fakeLedger{recency: recencyAged(10 * time.Second)}
	decider := NewDecider(fake)

	got, decision, err := decider.Admit(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 50, decision.RetryAfter)
	assert.Zero(t, fake.appendCalls, "a denied request must have no side effects")
}

func TestAdmit_ConflictBecomesDeny(t *testing.T) {
	// First read sees no recent purchase, but a concurrent request wins
	// the conditional insert. The loser must come back as a Deny with a
	// positive wait, never an error and never a duplicate purchase.
	fake := &fakeLedger{appendErr: ledger.ErrWindowConflict}
	decider := NewDecider(fake)

	got, decision, err := decider.Admit(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, decision.Allowed)
	assert.GreaterOrEqual(t, decision.RetryAfter, 1)
}

func TestAdmit_AppendFailureFailsClosed(t *testing.T) {
	fake := &fakeLedger{appendErr: errors.New("write timeout")}
	decider := NewDecider(fake)

	got, _, err := decider.Admit(context.Background(), "alice")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAdmit_NilPurchaseIsUnexpected(t *testing.T) {
	fake := &fakeLedger{} // append succeeds but returns no record
	decider := NewDecider(fake)

	_, _, err := decider.Admit(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

type fakeDenyCache struct {
	remaining time.Duration
	denied    bool
	marked    []string
}

func (f *fakeDenyCache) DeniedFor(ctx context.Context, clientID string) (time.Duration, bool) {
	return f.remaining, f.denied
}

func (f *fakeDenyCache) MarkPurchased(ctx context.Context, clientID string, window time.Duration) {
	f.marked = append(f.marked, clientID)
}

func TestDecide_DenyCacheShortCircuits(t *testing.T) {
	fake := &fakeLedger{recencyErr: errors.New("should not be queried")}
	decider := NewDecider(fake, WithDenyCache(&fakeDenyCache{remaining: 42 * time.Second, denied: true}))

	decision, err := decider.Decide(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 42, decision.RetryAfter)
}

func TestDecide_DenyCacheMissFallsThrough(t *testing.T) {
	decider := NewDecider(&fakeLedger{}, WithDenyCache(&fakeDenyCache{}))

	decision, err := decider.Decide(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "a cache miss must defer to the ledger")
}

func TestAdmit_MarksDenyCacheOnPurchase(t *testing.T) {
	denyCache := &fakeDenyCache{}
	fake := &fakeLedger{appended: &ledger.Purchase{ID: 1, ClientID: "alice", PurchasedAt: time.Now()}}
	decider := NewDecider(fake, WithDenyCache(denyCache))

	_, decision, err := decider.Admit(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, []string{"alice"}, denyCache.marked)
}
