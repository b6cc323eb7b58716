package redis

import (
	"context"
	"fmt"
	"strconv"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"

	"github.com/redis/go-redis/v9"
)

// PriceCache mirrors the latest oracle observation per commodity so readers
// outside the ledger can poll it without touching the read model.
//
// Key schema:
//
//	price:{commodity hex} - hash with fields "price", "confidence", "ts"
type PriceCache struct {
	rdb *redis.Client
}

// CachedPrice is one mirrored observation.
type CachedPrice struct {
	Price      uint64
	Confidence uint64
	Timestamp  int64
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb}
}

func priceKey(commodity domain.CommodityID) string {
	return "price:" + commodity.Hex()
}

// SetPrice stores an applied PriceUpdated notification.
func (pc *PriceCache) SetPrice(ctx context.Context, n event.PriceUpdated) error {
	fields := map[string]interface{}{
		"price":      strconv.FormatUint(n.Price, 10),
		"confidence": strconv.FormatUint(n.Confidence, 10),
		"ts":         strconv.FormatInt(n.Timestamp, 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(n.Commodity), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", n.Commodity, err)
	}
	return nil
}

// GetPrice returns the cached observation, or domain.ErrPriceNotInitialized
// when nothing was cached for the commodity.
func (pc *PriceCache) GetPrice(ctx context.Context, commodity domain.CommodityID) (CachedPrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(commodity)).Result()
	if err != nil {
		return CachedPrice{}, fmt.Errorf("redis: get price %s: %w", commodity, err)
	}
	if len(vals) == 0 {
		return CachedPrice{}, domain.ErrPriceNotInitialized
	}

	var out CachedPrice
	if out.Price, err = strconv.ParseUint(vals["price"], 10, 64); err != nil {
		return CachedPrice{}, fmt.Errorf("redis: parse price %s: %w", commodity, err)
	}
	if out.Confidence, err = strconv.ParseUint(vals["confidence"], 10, 64); err != nil {
		return CachedPrice{}, fmt.Errorf("redis: parse confidence %s: %w", commodity, err)
	}
	if out.Timestamp, err = strconv.ParseInt(vals["ts"], 10, 64); err != nil {
		return CachedPrice{}, fmt.Errorf("redis: parse ts %s: %w", commodity, err)
	}
	return out, nil
}
