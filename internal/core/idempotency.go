package core

import (
	"github.com/ethereum/go-ethereum/common/lru"
)

// DefaultLRUCapacity bounds the in-memory tier.
const DefaultLRUCapacity = 1_000_000

// Dedup tiers reported by Lookup.
const (
	TierNone     = ""
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// DBIdempotencyChecker looks a key up in the persisted event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates commands in two tiers: a bounded LRU of
// recently applied keys, then the event log.
type IdempotencyChecker struct {
	lru         *IdempotencyLRU
	dbChecker   DBIdempotencyChecker
	tier2Errors int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// CompositeKey is the LRU key for a command: "<event type>:<idempotency key>".
func CompositeKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// Lookup returns the tier that recognized the command, or TierNone.
func (ic *IdempotencyChecker) Lookup(eventType string, idempotencyKey string) string {
	key := CompositeKey(eventType, idempotencyKey)
	if ic.lru.Contains(key) {
		return TierLRU
	}
	if ic.dbChecker == nil {
		return TierNone
	}

	dup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		// Treated as unseen: the event log's unique key still rejects a true
		// duplicate at persist time.
		ic.tier2Errors++
		return TierNone
	}
	if !dup {
		return TierNone
	}
	ic.lru.Add(key)
	return TierPostgres
}

// IsDuplicate reports whether either tier has seen the command.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	return ic.Lookup(eventType, idempotencyKey) != TierNone
}

// MarkProcessed records an applied command in the LRU.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(CompositeKey(eventType, idempotencyKey))
}

func (ic *IdempotencyChecker) Size() int        { return ic.lru.Size() }
func (ic *IdempotencyChecker) Evictions() int64 { return ic.lru.Evictions() }

// Tier2Errors counts event-log lookups that failed.
func (ic *IdempotencyChecker) Tier2Errors() int64 { return ic.tier2Errors }

// IdempotencyLRU is a bounded set of keys with least-recently-used eviction.
// Not safe for concurrent use; callers hold their own lock.
type IdempotencyLRU struct {
	cache     lru.BasicLRU[string, struct{}]
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{cache: lru.NewBasicLRU[string, struct{}](capacity)}
}

// Contains reports whether key is present and marks it most recently used.
func (l *IdempotencyLRU) Contains(key string) bool {
	_, ok := l.cache.Get(key)
	return ok
}

// Add inserts or promotes key.
func (l *IdempotencyLRU) Add(key string) {
	if l.cache.Add(key, struct{}{}) {
		l.evictions++
	}
}

// WarmFromKeys loads keys oldest first, so the newest end up most recently
// used.
func (l *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		l.Add(key)
	}
}

// GetAllKeys returns keys from least to most recently used, the order
// WarmFromKeys expects.
func (l *IdempotencyLRU) GetAllKeys() []string {
	return l.cache.Keys()
}

func (l *IdempotencyLRU) Size() int { return l.cache.Len() }

func (l *IdempotencyLRU) Evictions() int64 { return l.evictions }
