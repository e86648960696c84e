package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLedger(client, time.Hour), mr
}

func TestMarkAndCheck(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	seen, err := ledger.AlreadyProcessed(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := ledger.MarkProcessed(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	seen, err = ledger.AlreadyProcessed(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	again, err := ledger.MarkProcessed(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, again, "second mark reports duplicate")
}

func TestProvidersAreIndependent(t *testing.T) {
	ledger, _ := testLedger(t)
	ctx := context.Background()

	_, err := ledger.MarkProcessed(ctx, "stripe", "evt_1")
	require.NoError(t, err)

	seen, err := ledger.AlreadyProcessed(ctx, "calendly", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestEntriesExpire(t *testing.T) {
	ledger, mr := testLedger(t)
	ctx := context.Background()

	_, err := ledger.MarkProcessed(ctx, "stripe", "evt_ttl")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	seen, err := ledger.AlreadyProcessed(ctx, "stripe", "evt_ttl")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNilClientDisablesDedup(t *testing.T) {
	ledger := NewLedger(nil, time.Hour)
	ctx := context.Background()

	seen, err := ledger.AlreadyProcessed(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	ok, err := ledger.MarkProcessed(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
}
