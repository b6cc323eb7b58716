package redis

import (
	"context"
	"fmt"
	"time"

	"PredictLedger/internal/bridge"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// SeenStore records processed bridge message hashes with a TTL.
//
// Key schema:
//
//	bridge:seen:{hash} - "1", expires after ttl
type SeenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSeenStore creates a SeenStore; ttl <= 0 keeps marks forever.
func NewSeenStore(c *Client, ttl time.Duration) *SeenStore {
	return &SeenStore{rdb: c.rdb, ttl: ttl}
}

func seenKey(id common.Hash) string {
	return "bridge:seen:" + id.Hex()
}

// Seen reports whether id has been marked and not yet expired.
func (s *SeenStore) Seen(ctx context.Context, id common.Hash) (bool, error) {
	n, err := s.rdb.Exists(ctx, seenKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: bridge seen %s: %w", id.Hex(), err)
	}
	return n > 0, nil
}

// MarkSeen marks id. Marking twice is not an error.
func (s *SeenStore) MarkSeen(ctx context.Context, id common.Hash) error {
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.SetNX(ctx, seenKey(id), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: bridge mark seen %s: %w", id.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ bridge.SeenStore = (*SeenStore)(nil)
