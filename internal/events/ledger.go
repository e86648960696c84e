// Package events tracks provider webhook deliveries that were already
// handled, so duplicate deliveries become cheap no-ops before any booking
// row lock is taken.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "webhook:processed:"

// Ledger records processed webhook event ids in Redis with a TTL. Entries
// only need to outlive the providers' retry horizon; stale-but-unseen events
// still fall through to the state machine's no-op failure path.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLedger creates a ledger. A nil client disables deduplication (local/dev
// without Redis): AlreadyProcessed always answers false and MarkProcessed is
// a no-op.
func NewLedger(client *redis.Client, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Ledger{client: client, ttl: ttl}
}

// AlreadyProcessed checks whether this provider event id was seen before.
func (l *Ledger) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if l.client == nil {
		return false, nil
	}
	n, err := l.client.Exists(ctx, key(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records an event id for the provider, returning false if it
// was already recorded.
func (l *Ledger) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	ok, err := l.client.SetNX(ctx, key(provider, eventID), 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}

func key(provider, eventID string) string {
	return keyPrefix + provider + ":" + eventID
}
