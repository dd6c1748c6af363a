package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatguard/flatguard/internal/clock"
)

func TestEvent_DedupKey_IdentifiesBrokerAction(t *testing.T) {
	ev := Event{
		Kind:       KindOrderFilled,
		Account:    "ACC-1",
		Instrument: "ES",
		BrokerID:   "ord-778",
	}

	assert.Equal(t, "ACC-1|ES|ord-778|order_filled", ev.DedupKey())

	// Same broker action under a different kind is a distinct key: a fill
	// notification must not suppress the order_placed for the same order ID.
	placed := ev
	placed.Kind = KindOrderPlaced
	assert.NotEqual(t, ev.DedupKey(), placed.DedupKey())
}

func TestEvent_Validate(t *testing.T) {
	valid := Event{Kind: KindQuote, Account: "ACC-1", Instrument: "ES"}
	require.NoError(t, valid.Validate())

	noAccount := Event{Kind: KindQuote}
	assert.Error(t, noAccount.Validate())

	noKind := Event{Account: "ACC-1"}
	assert.Error(t, noKind.Validate())
}

func TestMemoryDeduper_FirstSeenThenSuppressed(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	d := NewMemoryDeduper(clk, 10*time.Minute)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "ACC-1|ES|ord-1|order_filled")
	require.NoError(t, err)
	assert.False(t, seen, "first delivery must pass")

	for i := 0; i < 3; i++ {
		seen, err = d.Seen(ctx, "ACC-1|ES|ord-1|order_filled")
		require.NoError(t, err)
		assert.True(t, seen, "redelivery %d must be suppressed", i+1)
	}

	seen, err = d.Seen(ctx, "ACC-1|ES|ord-2|order_filled")
	require.NoError(t, err)
	assert.False(t, seen, "distinct key must pass")
}

func TestMemoryDeduper_ExpiresAfterTTL(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC))
	d := NewMemoryDeduper(clk, 10*time.Minute)
	ctx := context.Background()

	_, err := d.Seen(ctx, "k")
	require.NoError(t, err)

	clk.Advance(9 * time.Minute)
	seen, err := d.Seen(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)

	clk.Advance(2 * time.Minute)
	seen, err = d.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen, "key older than the retention window is forgotten")
}
