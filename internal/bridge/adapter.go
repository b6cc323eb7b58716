// Package bridge turns inbound cross-chain transfers into ledger commands.
// Every message is deduplicated by hash before any command is submitted.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Processor applies ledger commands. *core.DeterministicCore satisfies it.
type Processor interface {
	ProcessEvent(evt event.Event) (*core.CoreOutput, error)
}

// SeenStore is the durable dedup tier, shared across restarts and replicas.
type SeenStore interface {
	Seen(ctx context.Context, id common.Hash) (bool, error)
	MarkSeen(ctx context.Context, id common.Hash) error
}

// Config parameterizes an Adapter.
type Config struct {
	// Emitter is the only accepted source contract; zero accepts any.
	Emitter       [32]byte
	DedupCapacity int
	// Now stamps the commands a message produces. Defaults to time.Now.
	Now func() time.Time
}

// Receipt reports what a message did.
type Receipt struct {
	MessageID   common.Hash
	Participant common.Address
	Duplicate   bool
	Deposited   bool
	Staked      bool
	// StakeErr is why the auto-stake failed. The deposit still stands.
	StakeErr      error
	Notifications []event.Notification
}

// Stats are the adapter's running totals.
type Stats struct {
	TotalBridged  uint64 `json:"total_bridged"`
	TotalMessages uint64 `json:"total_messages"`
	AutoStakes    uint64 `json:"auto_stakes"`
	StakeFailures uint64 `json:"stake_failures"`
	Paused        bool   `json:"paused"`
}

// Adapter is the bridge inbox. Messages are handled one at a time.
type Adapter struct {
	mu        sync.Mutex
	processor Processor
	store     SeenStore
	seen      *core.IdempotencyLRU
	emitter   [32]byte
	now       func() time.Time
	paused    atomic.Bool
	stats     Stats

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewAdapter(cfg Config, processor Processor, store SeenStore, metrics *observability.Metrics, logger zerolog.Logger) *Adapter {
	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		processor: processor,
		store:     store,
		seen:      core.NewIdempotencyLRU(capacity),
		emitter:   cfg.Emitter,
		now:       now,
		metrics:   metrics,
		logger:    logger,
	}
}

// SetPaused stops (or resumes) accepting new messages. Duplicates are still
// recognized while paused.
func (a *Adapter) SetPaused(paused bool) {
	a.paused.Store(paused)
	a.logger.Info().Bool("paused", paused).Msg("bridge pause status changed")
}

func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Paused = a.paused.Load()
	return s
}

// Receive credits the transferred amount to the sender's wallet and, when
// the message names a market, stakes it there with the same rules as a
// direct buy. A message already seen returns a Duplicate receipt and submits
// nothing.
func (a *Adapter) Receive(ctx context.Context, msg Message) (Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := msg.Hash()
	receipt := Receipt{MessageID: id, Participant: msg.Participant()}

	dup, err := a.isSeen(ctx, id)
	if err != nil {
		a.count("dedup_error")
		return receipt, fmt.Errorf("bridge dedup lookup %s: %w", id.Hex(), err)
	}
	if dup {
		a.count("duplicate")
		receipt.Duplicate = true
		return receipt, nil
	}

	if err := a.validate(msg); err != nil {
		a.count("rejected")
		return receipt, err
	}

	ts := time.Unix(a.now().Unix(), 0).UTC()

	deposit := &event.Deposit{
		DepositID:   DepositID(id),
		Participant: receipt.Participant,
		Amount:      msg.Amount,
		Source:      event.DepositSourceBridge,
		Timestamp:   ts,
	}
	out, err := a.processor.ProcessEvent(deposit)
	if err != nil {
		a.count("rejected")
		return receipt, fmt.Errorf("bridge deposit %s: %w", id.Hex(), err)
	}
	// A nil output means the core already applied this deposit; the message
	// is still marked so the durable tier catches up.
	receipt.Deposited = out != nil
	if out != nil {
		receipt.Notifications = append(receipt.Notifications, out.Notifications...)
		a.stats.TotalBridged += msg.Amount
		a.stats.TotalMessages++
	}
	a.markSeen(ctx, id)

	if msg.MarketID != nil {
		a.stake(msg, id, ts, &receipt)
	}

	a.count("accepted")
	a.logger.Info().
		Str("message_id", id.Hex()).
		Str("participant", receipt.Participant.Hex()).
		Uint64("amount", msg.Amount).
		Int64("attested_at", msg.Timestamp).
		Bool("staked", receipt.Staked).
		Msg("bridge message received")

	return receipt, nil
}

func (a *Adapter) stake(msg Message, id common.Hash, ts time.Time, receipt *Receipt) {
	order := &event.BuyShares{
		OrderID:     OrderID(id),
		Market:      *msg.MarketID,
		Participant: receipt.Participant,
		Side:        msg.Side,
		Amount:      msg.Amount,
		Timestamp:   ts,
	}
	out, err := a.processor.ProcessEvent(order)
	if err != nil {
		receipt.StakeErr = err
		a.stats.StakeFailures++
		a.count("stake_failed")
		a.logger.Warn().
			Err(err).
			Str("message_id", id.Hex()).
			Str("market_id", msg.MarketID.String()).
			Msg("bridge auto-stake failed; funds remain in wallet")
		return
	}
	receipt.Staked = out != nil
	if out != nil {
		receipt.Notifications = append(receipt.Notifications, out.Notifications...)
		a.stats.AutoStakes++
	}
}

func (a *Adapter) validate(msg Message) error {
	if a.paused.Load() {
		return domain.ErrBridgePaused
	}
	if a.emitter != ([32]byte{}) && msg.Emitter != a.emitter {
		return fmt.Errorf("%w: unexpected emitter %x", domain.ErrInvalidBridgeMessage, msg.Emitter)
	}
	if msg.Amount == 0 {
		return domain.ErrInvalidAmount
	}
	if msg.Participant() == (common.Address{}) {
		return domain.ErrInvalidParticipant
	}
	if msg.MarketID != nil && !msg.Side.Valid() {
		return domain.ErrInvalidSide
	}
	return nil
}

func (a *Adapter) isSeen(ctx context.Context, id common.Hash) (bool, error) {
	key := id.Hex()
	if a.seen.Contains(key) {
		return true, nil
	}
	if a.store == nil {
		return false, nil
	}
	seen, err := a.store.Seen(ctx, id)
	if err != nil {
		return false, err
	}
	if seen {
		a.seen.Add(key)
	}
	return seen, nil
}

func (a *Adapter) markSeen(ctx context.Context, id common.Hash) {
	a.seen.Add(id.Hex())
	if a.store == nil {
		return
	}
	if err := a.store.MarkSeen(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		// The core's deterministic command ids still absorb a redelivery.
		a.logger.Warn().Err(err).Str("message_id", id.Hex()).Msg("persist bridge dedup mark failed")
	}
}

func (a *Adapter) count(result string) {
	if a.metrics != nil {
		a.metrics.BridgeMessages.WithLabelValues(result).Inc()
	}
}
