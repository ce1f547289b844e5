package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/adsnap/internal/ads"
)

// KeyPrefix namespaces memo entries.
const KeyPrefix = "adsnap:snapshot:"

// Memo stores resolved snapshots as JSON strings with a TTL.
type Memo struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewMemo wraps client. A non-positive ttl stores entries without expiry.
func NewMemo(client goredis.Cmdable, ttl time.Duration) (*Memo, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Memo{client: client, ttl: ttl}, nil
}

// Get loads the snapshot memoized under key.
func (m *Memo) Get(ctx context.Context, key string) (ads.Snapshot, bool, error) {
	raw, err := m.client.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ads.Snapshot{}, false, nil
		}
		return ads.Snapshot{}, false, fmt.Errorf("redis get: %w", err)
	}
	var snap ads.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return ads.Snapshot{}, false, fmt.Errorf("decode memo %s: %w", key, err)
	}
	return snap, true, nil
}

// Set stores snap under key.
func (m *Memo) Set(ctx context.Context, key string, snap ads.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode memo %s: %w", key, err)
	}
	if err := m.client.Set(ctx, KeyPrefix+key, raw, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
