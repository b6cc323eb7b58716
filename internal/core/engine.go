package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultGlobalCheckInterval is how often (in sequences) the zero-sum check runs.
const DefaultGlobalCheckInterval = 1000

// PayloadEncoder renders a command into the bytes stored in the event log.
// Replay decodes them with the matching ingestion parser.
type PayloadEncoder func(evt event.Event) ([]byte, error)

// Config parameterizes a DeterministicCore.
type Config struct {
	StartSequence       int64
	Publisher           common.Address // sole oracle writer
	MaxOracleAge        int64          // seconds; zero means state.MaxOracleAge
	LRUCapacity         int
	GlobalCheckInterval int64
	Encoder             PayloadEncoder
	Logger              zerolog.Logger
}

// DeterministicCore applies commands one at a time. It never reads the wall
// clock for state decisions: every timestamp is the command's own, and the
// timestamps of applied commands never decrease.
type DeterministicCore struct {
	mu sync.Mutex

	sequence          int64
	clock             int64 // timestamp of the last applied command
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	feeds             *state.PriceFeedStore
	positions         *state.PositionLedger
	markets           *state.MarketManager
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	encoder             PayloadEncoder
	globalCheckInterval int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything one applied command produced.
type CoreOutput struct {
	Envelope      *event.EventEnvelope
	Batch         *ledger.Batch
	Notifications []event.Notification
	StateDelta    []byte // canonical digest the state hash was computed over
	Changes       Changes
}

// Changes are the post-images of everything one event touched.
type Changes struct {
	Price    *state.PriceRecord
	Market   *state.MarketRecord
	Position *state.Position
	Balances map[string]int64 // account path -> balance after the event
}

// records returns the canonical bytes of the touched domain records.
func (ch *Changes) records() [][]byte {
	var out [][]byte
	if ch.Price != nil {
		out = append(out, ch.Price.CanonicalBytes())
	}
	if ch.Market != nil {
		out = append(out, ch.Market.CanonicalBytes())
	}
	if ch.Position != nil {
		out = append(out, ch.Position.CanonicalBytes())
	}
	return out
}

// effect is what a handler reports back to the pipeline.
type effect struct {
	notifications []event.Notification
	changes       Changes
	participant   *common.Address
	market        *uuid.UUID
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	journalGen := ledger.NewJournalGenerator(balanceTracker, ledger.AssetUSDC)
	feeds := state.NewPriceFeedStore(cfg.Publisher)
	positions := state.NewPositionLedger()
	markets := state.NewMarketManager(feeds, positions, journalGen, cfg.MaxOracleAge)

	interval := cfg.GlobalCheckInterval
	if interval <= 0 {
		interval = DefaultGlobalCheckInterval
	}

	return &DeterministicCore{
		sequence:            cfg.StartSequence,
		hasher:              NewStateHasher(),
		balanceTracker:      balanceTracker,
		journalGen:          journalGen,
		validator:           ledger.NewInvariantValidator(balanceTracker),
		feeds:               feeds,
		positions:           positions,
		markets:             markets,
		idempotency:         NewIdempotencyChecker(cfg.LRUCapacity, dbChecker),
		sequenceValidator:   NewSequenceValidator(),
		metrics:             metrics,
		logger:              cfg.Logger,
		encoder:             cfg.Encoder,
		globalCheckInterval: interval,
		persistChan:         persistChan,
		projectionChan:      projectionChan,
	}
}

// ProcessEvent runs the full pipeline for one command: dedup, ordering,
// dispatch, batch validation and application, hash chaining, emission.
//
// A nil output with a nil error means the command was skipped as a duplicate
// or a stale price observation. A domain error leaves every piece of state
// exactly as it was.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*CoreOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	dupTier := c.idempotency.Lookup(eventType, idempotencyKey)
	isDuplicate := dupTier != TierNone

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	if price, ok := evt.(*event.PublishPrice); ok {
		if price.FeedSequence > 0 && !isDuplicate &&
			!c.sequenceValidator.ValidatePriceSequence(price.Commodity.Hex(), price.FeedSequence) {
			c.reject(eventType, "stale_sequence")
			if c.metrics != nil {
				c.metrics.PriceSequenceStale.WithLabelValues(price.Commodity.String()).Inc()
			}
			c.logger.Debug().
				Str("commodity", price.Commodity.String()).
				Int64("feed_sequence", price.FeedSequence).
				Msg("skipping stale price observation")
			return nil, nil
		}
	} else if sourceSequence > 0 {
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, isDuplicate); err != nil {
			c.reject(eventType, "sequence")
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.reject(eventType, "duplicate")
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, dupTier).Inc()
		}
		return nil, nil
	}

	var payload []byte
	if c.encoder != nil {
		var err error
		if payload, err = c.encoder(evt); err != nil {
			c.reject(eventType, "encode")
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	// Step 3: Dispatch into state + custody, staged in one batch
	ts := evt.OccurredAt()
	if ts.Unix() < c.clock {
		c.reject(eventType, domain.ErrTimestampRegression.Code)
		return nil, fmt.Errorf("%w: command at %d, ledger clock at %d",
			domain.ErrTimestampRegression, ts.Unix(), c.clock)
	}
	ref := ledger.BatchRef{
		EventRef:  idempotencyKey,
		Sequence:  c.sequence,
		Timestamp: ts.Unix(),
	}
	if _, ok := evt.(*event.ClaimRefund); ok {
		ref.CreditType = ledger.JournalTypeRefund
	}
	c.journalGen.Begin(ref)

	eff, err := c.dispatchEvent(evt, ts.Unix())
	if err != nil {
		c.journalGen.Discard()
		reason := domain.CodeOf(err)
		if reason == "" {
			reason = "error"
		}
		c.reject(eventType, reason)
		if errors.Is(err, domain.ErrStaleOraclePrice) && c.metrics != nil {
			c.metrics.OracleStaleRejected.Inc()
		}
		return nil, err
	}
	batch := c.journalGen.Commit()

	// Step 4: Validate and apply the batch
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch after state commit: %v", err))
		}
	}

	// Step 5: Hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch, &eff.changes)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		Timestamp:      ts,
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:      envelope,
		Batch:         batch,
		Notifications: eff.notifications,
		StateDelta:    stateDigest,
		Changes:       eff.changes,
	}

	// Step 6: Post-checks
	if err := c.postCheckInvariants(eff); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	c.sequence++
	c.clock = ts.Unix()

	// Step 7: Emit. Persist blocks (backpressure), projection drops on full.
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("readmodel").Inc()
			}
		}
	}

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	if price, ok := evt.(*event.PublishPrice); ok && price.FeedSequence > 0 {
		c.sequenceValidator.Advance(PricePartition(price.Commodity.Hex()), price.FeedSequence)
	} else if sourceSequence > 0 {
		c.sequenceValidator.Advance(partition, sourceSequence)
	}

	c.recordApplied(eventType, batch, eff, start)

	return &output, nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if d, ok := evt.(*event.Deposit); ok {
		return fmt.Sprintf("deposit:%s", d.Source)
	}
	if marketID := evt.MarketID(); marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

func (c *DeterministicCore) dispatchEvent(evt event.Event, now int64) (*effect, error) {
	switch e := evt.(type) {
	case *event.PublishPrice:
		return c.handlePublishPrice(e, now)
	case *event.CreateMarket:
		return c.handleCreateMarket(e, now)
	case *event.Deposit:
		return c.handleDeposit(e)
	case *event.Withdraw:
		return c.handleWithdraw(e)
	case *event.BuyShares:
		return c.handleBuyShares(e, now)
	case *event.ResolveMarket:
		return c.handleResolveMarket(e, now)
	case *event.ClaimWinnings:
		return c.handleClaimWinnings(e)
	case *event.ClaimRefund:
		return c.handleClaimRefund(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *DeterministicCore) handlePublishPrice(e *event.PublishPrice, now int64) (*effect, error) {
	n, err := c.feeds.Publish(e.Commodity, e.Price, e.Confidence, e.Publisher, now)
	if err != nil {
		return nil, err
	}
	rec, _ := c.feeds.Read(e.Commodity)
	return &effect{
		notifications: []event.Notification{n},
		changes:       Changes{Price: &rec},
	}, nil
}

func (c *DeterministicCore) handleCreateMarket(e *event.CreateMarket, now int64) (*effect, error) {
	if e.Commodity.IsZero() {
		return nil, domain.ErrInvalidCommodity
	}
	n, err := c.markets.Create(e.Market, e.Commodity, e.ThresholdPrice, e.ExpiryTime, e.Creator, now)
	if err != nil {
		return nil, err
	}
	return c.marketOnlyEffect(e.Market, n), nil
}

func (c *DeterministicCore) handleDeposit(e *event.Deposit) (*effect, error) {
	if e.Participant == (common.Address{}) {
		return nil, domain.ErrInvalidParticipant
	}
	if err := c.journalGen.Deposit(e.Participant, e.Amount); err != nil {
		return nil, err
	}
	return &effect{
		notifications: []event.Notification{event.FundsDeposited{
			DepositID:   e.DepositID,
			Participant: e.Participant,
			Amount:      e.Amount,
			Source:      e.Source,
		}},
		participant: &e.Participant,
	}, nil
}

func (c *DeterministicCore) handleWithdraw(e *event.Withdraw) (*effect, error) {
	if e.Participant == (common.Address{}) {
		return nil, domain.ErrInvalidParticipant
	}
	if err := c.journalGen.Withdraw(e.Participant, e.Amount); err != nil {
		return nil, err
	}
	return &effect{
		notifications: []event.Notification{event.FundsWithdrawn{
			WithdrawalID: e.WithdrawalID,
			Participant:  e.Participant,
			Destination:  e.Recipient(),
			Amount:       e.Amount,
		}},
		participant: &e.Participant,
	}, nil
}

func (c *DeterministicCore) handleBuyShares(e *event.BuyShares, now int64) (*effect, error) {
	n, err := c.markets.Buy(e.Market, e.Participant, e.Side, e.Amount, now)
	if err != nil {
		return nil, err
	}
	return c.marketEffect(e.Market, e.Participant, n), nil
}

func (c *DeterministicCore) handleResolveMarket(e *event.ResolveMarket, now int64) (*effect, error) {
	n, err := c.markets.Resolve(e.Market, now)
	if err != nil {
		return nil, err
	}
	return c.marketOnlyEffect(e.Market, n), nil
}

func (c *DeterministicCore) handleClaimWinnings(e *event.ClaimWinnings) (*effect, error) {
	n, err := c.markets.Claim(e.Market, e.Participant)
	if err != nil {
		return nil, err
	}
	return c.marketEffect(e.Market, e.Participant, n), nil
}

func (c *DeterministicCore) handleClaimRefund(e *event.ClaimRefund) (*effect, error) {
	n, err := c.markets.Refund(e.Market, e.Participant)
	if err != nil {
		return nil, err
	}
	return c.marketEffect(e.Market, e.Participant, n), nil
}

// marketEffect covers the operations that touch a market and one position.
func (c *DeterministicCore) marketEffect(marketID uuid.UUID, participant common.Address, n event.Notification) *effect {
	rec := c.markets.Get(marketID).Record()
	eff := &effect{
		notifications: []event.Notification{n},
		changes:       Changes{Market: &rec},
		participant:   &participant,
		market:        &marketID,
	}
	if pos := c.positions.Get(marketID, participant); pos != nil {
		p := *pos
		eff.changes.Position = &p
	}
	return eff
}

func (c *DeterministicCore) marketOnlyEffect(marketID uuid.UUID, n event.Notification) *effect {
	rec := c.markets.Get(marketID).Record()
	return &effect{
		notifications: []event.Notification{n},
		changes:       Changes{Market: &rec},
		market:        &marketID,
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched with its new balance, sorted by path, followed
// by the touched domain records. The new balances are recorded in changes.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, changes *Changes) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*80)
	if len(accounts) > 0 {
		changes.Balances = make(map[string]int64, len(accounts))
	}

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		changes.Balances[path] = balance
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = appendInt64LE(digest, balance)
	}

	for _, rec := range changes.records() {
		digest = appendInt64LE(digest, int64(len(rec)))
		digest = append(digest, rec...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(eff *effect) error {
	if eff.participant != nil {
		if err := c.validator.ValidateWalletNonNegative(*eff.participant, ledger.AssetUSDC); err != nil {
			return fmt.Errorf("post-check wallet: %w", err)
		}
	}

	// Custody for a market always equals stakes minus payouts.
	if eff.market != nil {
		m := c.markets.Get(*eff.market)
		if err := c.validator.ValidatePoolCustody(m.ID, ledger.AssetUSDC, m.Unclaimed()); err != nil {
			return fmt.Errorf("post-check pool custody: %w", err)
		}
	}

	if c.sequence > 0 && c.sequence%c.globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordApplied(eventType string, batch *ledger.Batch, eff *effect, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
	c.metrics.DedupLRUEvictions.Set(float64(c.idempotency.Evictions()))
	c.metrics.DedupTier2Errors.Set(float64(c.idempotency.Tier2Errors()))

	for _, j := range batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}

	for _, n := range eff.notifications {
		switch n := n.(type) {
		case event.PriceUpdated:
			c.metrics.OraclePrice.WithLabelValues(n.Commodity.String()).Set(float64(n.Price))
		case event.MarketCreated:
			c.metrics.MarketsCreated.Inc()
		case event.SharesPurchased:
			c.metrics.StakeVolume.WithLabelValues(n.Side.String()).Add(float64(n.Amount))
		case event.MarketResolved:
			c.metrics.MarketsResolved.WithLabelValues(domain.SideForOutcome(n.Outcome).String()).Inc()
			c.setUnclaimed(n.Market)
		case event.WinningsClaimed:
			c.metrics.PayoutVolume.Add(float64(n.Payout))
			c.setUnclaimed(n.Market)
		case event.StakeRefunded:
			c.metrics.RefundVolume.Add(float64(n.Amount))
			c.setUnclaimed(n.Market)
		case event.FundsWithdrawn:
			c.metrics.WithdrawalVolume.Add(float64(n.Amount))
		}
	}
}

func (c *DeterministicCore) setUnclaimed(id uuid.UUID) {
	if m := c.markets.Get(id); m != nil {
		c.metrics.MarketUnclaimed.WithLabelValues(id.String()).Set(float64(m.Unclaimed()))
	}
}

// --- Reads ---
// Reads take the core lock and return copies; they never observe a command
// half-applied.

// Price returns the latest record for a commodity.
func (c *DeterministicCore) Price(commodity domain.CommodityID) (state.PriceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feeds.Read(commodity)
}

// IsPriceStale reports staleness of the commodity's record at now.
func (c *DeterministicCore) IsPriceStale(commodity domain.CommodityID, now, maxAge int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, err := c.feeds.Read(commodity)
	if err != nil {
		return false, err
	}
	return state.IsStale(rec, now, maxAge), nil
}

// Market returns a market's record.
func (c *DeterministicCore) Market(id uuid.UUID) (state.MarketRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.markets.Get(id)
	if m == nil {
		return state.MarketRecord{}, domain.ErrMarketNotFound
	}
	return m.Record(), nil
}

// Position returns a participant's position; ok is false when none exists.
func (c *DeterministicCore) Position(marketID uuid.UUID, owner common.Address) (state.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.positions.Get(marketID, owner)
	if pos == nil {
		return state.Position{}, false
	}
	return *pos, true
}

// WalletBalance returns a participant's spendable collateral.
func (c *DeterministicCore) WalletBalance(owner common.Address) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceTracker.GetWalletBalance(owner, ledger.AssetUSDC)
}

// Stats returns store-wide counters.
func (c *DeterministicCore) Stats() (commodities, markets, positions int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feeds.Len(), c.markets.Len(), c.positions.Len()
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64 // last applied sequence, -1 before the first event
	StateHash       [32]byte
	Clock           int64 // timestamp of the last applied command
	Balances        map[ledger.AccountKey]int64
	Prices          []state.PriceRecord
	Markets         []state.MarketRecord
	Positions       []state.Position
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot replaces the core's in-memory state. Events after
// snap.Sequence are then replayed through ProcessEvent.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1
	c.clock = snap.Clock
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}
	for _, rec := range snap.Prices {
		c.feeds.Restore(rec)
	}
	for _, rec := range snap.Markets {
		c.markets.Restore(rec)
	}
	for _, pos := range snap.Positions {
		c.positions.Restore(pos)
	}
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// SetDBChecker installs the event-log dedup tier. Recovery replays with it
// unset since every replayed event is already in the log.
func (c *DeterministicCore) SetDBChecker(checker DBIdempotencyChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.dbChecker = checker
}

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// Clock returns the timestamp of the last applied command. Commands dated
// earlier are rejected with TimestampRegression.
func (c *DeterministicCore) Clock() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Clock:           c.clock,
		Balances:        c.balanceTracker.Snapshot(),
		Prices:          c.feeds.Records(),
		Markets:         c.markets.All(),
		Positions:       c.positions.All(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
