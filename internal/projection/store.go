package projection

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/state"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ErrNotFound is returned by the point reads when a key is absent.
var ErrNotFound = errors.New("projection: not found")

// ErrGap means an output arrived out of order, usually because the core
// dropped outputs on a full projection channel.
var ErrGap = errors.New("projection: sequence gap")

// Store is the Pebble read model.
//
// Key schema:
//
//	price/{commodity hex}            PriceRecord JSON
//	market/{market id}               MarketRecord JSON
//	position/{market id}/{owner}     Position JSON
//	holding/{owner}/{market id}      empty, owner index over positions
//	balance/{account path}           int64 big-endian
//	meta/watermark                   last applied sequence, int64 big-endian
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the read model at dir. opts may be nil.
func Open(dir string, opts *pebble.Options) (*Store, error) {
	if opts == nil {
		opts = &pebble.Options{
			Cache:        pebble.NewCache(64 << 20),
			MemTableSize: 32 << 20,
			MaxOpenFiles: 1000,
		}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open read model at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var (
	prefixPrice    = []byte("price/")
	prefixMarket   = []byte("market/")
	prefixPosition = []byte("position/")
	prefixHolding  = []byte("holding/")
	prefixBalance  = []byte("balance/")
	keyWatermark   = []byte("meta/watermark")
)

func priceKey(c domain.CommodityID) []byte {
	return append(append([]byte{}, prefixPrice...), c.Hex()...)
}

func marketKey(id uuid.UUID) []byte {
	return append(append([]byte{}, prefixMarket...), id.String()...)
}

func positionPrefix(id uuid.UUID) []byte {
	return append(append(append([]byte{}, prefixPosition...), id.String()...), '/')
}

func positionKey(id uuid.UUID, owner common.Address) []byte {
	return append(positionPrefix(id), ownerHex(owner)...)
}

func holdingPrefix(owner common.Address) []byte {
	return append(append(append([]byte{}, prefixHolding...), ownerHex(owner)...), '/')
}

func holdingKey(owner common.Address, id uuid.UUID) []byte {
	return append(holdingPrefix(owner), id.String()...)
}

func balanceKey(path string) []byte {
	return append(append([]byte{}, prefixBalance...), path...)
}

func ownerHex(owner common.Address) string {
	return strings.ToLower(owner.Hex())
}

// keyUpperBound is the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func encodeInt64(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

func decodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("projection: bad int64 value of %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ============================================================================
// Writes
// ============================================================================

// Apply writes one core output and advances the watermark in a single batch.
// Outputs at or below the watermark are ignored and report false. An output
// that skips ahead of the watermark returns ErrGap and writes nothing.
func (s *Store) Apply(out *core.CoreOutput) (bool, error) {
	seq := out.Envelope.Sequence
	wm, err := s.Watermark()
	if err != nil {
		return false, err
	}
	if seq <= wm {
		return false, nil
	}
	if seq != wm+1 {
		return false, fmt.Errorf("%w: watermark %d, got %d", ErrGap, wm, seq)
	}

	b := s.db.NewBatch()
	defer b.Close()

	ch := out.Changes
	if ch.Price != nil {
		if err := setJSON(b, priceKey(ch.Price.Commodity), ch.Price); err != nil {
			return false, err
		}
	}
	if ch.Market != nil {
		if err := setJSON(b, marketKey(ch.Market.ID), ch.Market); err != nil {
			return false, err
		}
	}
	if ch.Position != nil {
		if err := setPosition(b, ch.Position); err != nil {
			return false, err
		}
	}
	for path, bal := range ch.Balances {
		if err := b.Set(balanceKey(path), encodeInt64(bal), nil); err != nil {
			return false, err
		}
	}
	if err := b.Set(keyWatermark, encodeInt64(seq), nil); err != nil {
		return false, err
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return false, fmt.Errorf("commit read model at %d: %w", seq, err)
	}
	return true, nil
}

// Reset replaces the whole read model with a core state capture.
func (s *Store) Reset(snap *core.SnapshotState) error {
	b := s.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange([]byte{0x00}, []byte{0xff}, nil); err != nil {
		return err
	}
	for i := range snap.Prices {
		if err := setJSON(b, priceKey(snap.Prices[i].Commodity), &snap.Prices[i]); err != nil {
			return err
		}
	}
	for i := range snap.Markets {
		if err := setJSON(b, marketKey(snap.Markets[i].ID), &snap.Markets[i]); err != nil {
			return err
		}
	}
	for i := range snap.Positions {
		if err := setPosition(b, &snap.Positions[i]); err != nil {
			return err
		}
	}
	for key, bal := range snap.Balances {
		if err := b.Set(balanceKey(key.AccountPath()), encodeInt64(bal), nil); err != nil {
			return err
		}
	}
	if err := b.Set(keyWatermark, encodeInt64(snap.Sequence), nil); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("reset read model at %d: %w", snap.Sequence, err)
	}
	return nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

func setPosition(b *pebble.Batch, p *state.Position) error {
	if err := setJSON(b, positionKey(p.MarketID, p.Owner), p); err != nil {
		return err
	}
	return b.Set(holdingKey(p.Owner, p.MarketID), nil, nil)
}

// ============================================================================
// Reads
// ============================================================================

// Watermark is the last applied sequence, -1 for an empty read model.
func (s *Store) Watermark() (int64, error) {
	val, closer, err := s.db.Get(keyWatermark)
	if errors.Is(err, pebble.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	defer closer.Close()
	return decodeInt64(val)
}

func (s *Store) Price(c domain.CommodityID) (state.PriceRecord, error) {
	var rec state.PriceRecord
	err := s.getJSON(priceKey(c), &rec)
	return rec, err
}

func (s *Store) Prices() ([]state.PriceRecord, error) {
	return scanJSON[state.PriceRecord](s, prefixPrice)
}

func (s *Store) Market(id uuid.UUID) (state.MarketRecord, error) {
	var rec state.MarketRecord
	err := s.getJSON(marketKey(id), &rec)
	return rec, err
}

func (s *Store) Markets() ([]state.MarketRecord, error) {
	return scanJSON[state.MarketRecord](s, prefixMarket)
}

func (s *Store) Position(id uuid.UUID, owner common.Address) (state.Position, error) {
	var p state.Position
	err := s.getJSON(positionKey(id, owner), &p)
	return p, err
}

// MarketPositions returns every position in a market, ordered by owner.
func (s *Store) MarketPositions(id uuid.UUID) ([]state.Position, error) {
	return scanJSON[state.Position](s, positionPrefix(id))
}

// OwnerPositions returns every position an owner holds, ordered by market.
func (s *Store) OwnerPositions(owner common.Address) ([]state.Position, error) {
	prefix := holdingPrefix(owner)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for iter.First(); iter.Valid(); iter.Next() {
		id, err := uuid.Parse(string(iter.Key()[len(prefix):]))
		if err != nil {
			iter.Close()
			return nil, fmt.Errorf("holding key %q: %w", iter.Key(), err)
		}
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	out := make([]state.Position, 0, len(ids))
	for _, id := range ids {
		p, err := s.Position(id, owner)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Balance returns an account balance; absent accounts are zero.
func (s *Store) Balance(path string) (int64, error) {
	val, closer, err := s.db.Get(balanceKey(path))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", path, err)
	}
	defer closer.Close()
	return decodeInt64(val)
}

// Balances returns every account balance keyed by account path.
func (s *Store) Balances() (map[string]int64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixBalance,
		UpperBound: keyUpperBound(prefixBalance),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]int64)
	for iter.First(); iter.Valid(); iter.Next() {
		bal, err := decodeInt64(iter.Value())
		if err != nil {
			return nil, err
		}
		out[string(iter.Key()[len(prefixBalance):])] = bal
	}
	return out, nil
}

func (s *Store) getJSON(key []byte, v any) error {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func scanJSON[T any](s *Store, prefix []byte) ([]T, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}
