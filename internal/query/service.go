package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/ledger"
	predmath "PredictLedger/internal/math"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// QueryService provides read-only access to the read model. Every response
// carries as_of_sequence, the last event the read model reflects. Journal
// history and hash-chain checks read the event log directly.
type QueryService struct {
	store   *projection.Store
	db      *sql.DB // event log; nil disables journal history and chain checks
	metrics *observability.Metrics
	now     func() time.Time
}

func NewQueryService(store *projection.Store, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{
		store:   store,
		db:      db,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the clock used to derive the expired state.
func (qs *QueryService) SetClock(now func() time.Time) {
	qs.now = now
}

// ============================================================================
// Markets
// ============================================================================

func (qs *QueryService) GetMarket(ctx context.Context, id uuid.UUID) (resp *MarketResponse, err error) {
	defer qs.observe("get_market", time.Now(), &err)

	asOf, err := qs.store.Watermark()
	if err != nil {
		return nil, err
	}
	rec, err := qs.store.Market(id)
	if errors.Is(err, projection.ErrNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	if err != nil {
		return nil, err
	}
	m := qs.marketResponse(rec, asOf)
	return &m, nil
}

func (qs *QueryService) ListMarkets(ctx context.Context, filter MarketFilter) (resp []MarketResponse, err error) {
	defer qs.observe("list_markets", time.Now(), &err)

	asOf, err := qs.store.Watermark()
	if err != nil {
		return nil, err
	}
	recs, err := qs.store.Markets()
	if err != nil {
		return nil, err
	}
	out := make([]MarketResponse, 0, len(recs))
	for _, rec := range recs {
		if filter.Commodity != nil && rec.Commodity != *filter.Commodity {
			continue
		}
		m := qs.marketResponse(rec, asOf)
		if filter.State != "" && m.State != filter.State {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (qs *QueryService) marketResponse(rec state.MarketRecord, asOf int64) MarketResponse {
	total := rec.YesPool + rec.NoPool
	st := MarketOpen
	switch {
	case rec.Resolution != nil:
		st = MarketResolved
	case qs.now().Unix() >= rec.ExpiryTime:
		st = MarketExpired
	}
	return MarketResponse{
		MarketRecord: rec,
		State:        st,
		TotalPool:    total,
		Unclaimed:    total - rec.PaidOut,
		YesOddsBps:   predmath.ImpliedOddsBps(rec.YesPool, total),
		NoOddsBps:    predmath.ImpliedOddsBps(rec.NoPool, total),
		AsOfSequence: asOf,
	}
}

// ============================================================================
// Prices
// ============================================================================

func (qs *QueryService) GetPrice(ctx context.Context, commodity domain.CommodityID) (resp *PriceResponse, err error) {
	defer qs.observe("get_price", time.Now(), &err)

	asOf, err := qs.store.Watermark()
	if err != nil {
		return nil, err
	}
	rec, err := qs.store.Price(commodity)
	if errors.Is(err, projection.ErrNotFound) {
		return nil, domain.ErrPriceNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return &PriceResponse{PriceRecord: rec, AsOfSequence: asOf}, nil
}

func (qs *QueryService) ListPrices(ctx context.Context) (resp []PriceResponse, err error) {
	defer qs.observe("list_prices", time.Now(), &err)

	asOf, err := qs.store.Watermark()
	if err != nil {
		return nil, err
	}
	recs, err := qs.store.Prices()
	if err != nil {
		return nil, err
	}
	out := make([]PriceResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, PriceResponse{PriceRecord: rec, AsOfSequence: asOf})
	}
	return out, nil
}

// ============================================================================
// Positions & balances
// ============================================================================

// GetPositions returns all positions for an owner.
func (qs *QueryService) GetPositions(ctx context.Context, owner common.Address) (resp []PositionResponse, err error) {
	defer qs.observe("get_positions", time.Now(), &err)

	asOf, err := qs.store.Watermark()
	if err != nil {
		return nil, err
	}
	positions, err := qs.store.OwnerPositions(owner)
	if err != nil {
		return nil, err
	}
	return qs.positionResponses(positions, asOf)
}

// GetMarketPositions returns every position in a market.
func (qs *QueryService) GetMarketPositions(ctx context.Context, id uuid.UUID) (resp []PositionResponse, err error) {
	defer qs.observe("get_market_positions", time.Now(), &err)

	asOf, err := qs.store.Watermark()
	if err != nil {
		return nil, err
	}
	if _, err := qs.store.Market(id); errors.Is(err, projection.ErrNotFound) {
		return nil, domain.ErrMarketNotFound
	}
	positions, err := qs.store.MarketPositions(id)
	if err != nil {
		return nil, err
	}
	return qs.positionResponses(positions, asOf)
}

func (qs *QueryService) positionResponses(positions []state.Position, asOf int64) ([]PositionResponse, error) {
	markets := make(map[uuid.UUID]state.MarketRecord)
	out := make([]PositionResponse, 0, len(positions))
	for _, p := range positions {
		rec, ok := markets[p.MarketID]
		if !ok {
			var err error
			if rec, err = qs.store.Market(p.MarketID); err != nil {
				return nil, fmt.Errorf("market %s of position: %w", p.MarketID, err)
			}
			markets[p.MarketID] = rec
		}
		amount, err := claimable(rec, p)
		if err != nil {
			return nil, err
		}
		out = append(out, PositionResponse{
			MarketID:     p.MarketID,
			Owner:        p.Owner,
			YesShares:    p.YesShares,
			NoShares:     p.NoShares,
			Claimed:      p.Claimed,
			Stake:        p.Stake(),
			Claimable:    amount,
			AsOfSequence: asOf,
		})
	}
	return out, nil
}

// claimable is what a claim on p would pay right now: the payout share of a
// winner, or the full stake when nobody backed the winning side.
func claimable(rec state.MarketRecord, p state.Position) (uint64, error) {
	if rec.Resolution == nil || p.Claimed {
		return 0, nil
	}
	side := domain.SideForOutcome(rec.Resolution.Outcome)
	winningPool := rec.NoPool
	if side == domain.SideYes {
		winningPool = rec.YesPool
	}
	if winningPool == 0 {
		return p.Stake(), nil
	}
	shares := p.Shares(side)
	if shares == 0 {
		return 0, nil
	}
	return predmath.ComputePayout(shares, winningPool, rec.YesPool+rec.NoPool)
}

// GetBalance returns an owner's wallet plus the collateral tied up in markets.
func (qs *QueryService) GetBalance(ctx context.Context, owner common.Address) (resp *BalanceResponse, err error) {
	defer qs.observe("get_balance", time.Now(), &err)

	asOf, err := qs.store.Watermark()
	if err != nil {
		return nil, err
	}
	wallet, err := qs.store.Balance(ledger.NewUserAccountKey(owner, ledger.SubTypeWallet, ledger.AssetUSDC).AccountPath())
	if err != nil {
		return nil, err
	}
	positions, err := qs.store.OwnerPositions(owner)
	if err != nil {
		return nil, err
	}
	details, err := qs.positionResponses(positions, asOf)
	if err != nil {
		return nil, err
	}

	asset, _ := ledger.GetAssetName(ledger.AssetUSDC)
	resp = &BalanceResponse{Owner: owner, Asset: asset, Wallet: wallet, AsOfSequence: asOf}
	for i, p := range positions {
		rec, err := qs.store.Market(p.MarketID)
		if err != nil {
			return nil, err
		}
		if rec.Resolution == nil {
			resp.AtStake += p.Stake()
		}
		resp.Claimable += details[i].Claimable
	}
	return resp, nil
}

// ============================================================================
// Event log
// ============================================================================

// GetJournalHistory returns journal entries touching an owner's accounts,
// newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner common.Address,
	limit int,
	beforeSequence *int64,
) (resp []JournalHistoryEntry, err error) {
	defer qs.observe("journal_history", time.Now(), &err)

	if qs.db == nil {
		return nil, errors.New("journal history: event log not configured")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	accountPrefix := fmt.Sprintf("user:%s:%%", strings.ToLower(owner.Hex()))

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain in the event log, the zero-sum of
// every asset and that each market's custody account matches its pools.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)

	report = &IntegrityReport{}
	if report.AsOfSequence, err = qs.store.Watermark(); err != nil {
		return nil, err
	}

	if qs.db != nil {
		if report.HashChainBreaks, err = qs.hashChainBreaks(ctx); err != nil {
			return nil, fmt.Errorf("hash chain: %w", err)
		}
	}

	balances, err := qs.store.Balances()
	if err != nil {
		return nil, err
	}
	sums := make(map[ledger.AssetID]int64)
	for path, bal := range balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		sums[key.AssetID] += bal
	}
	for asset, total := range sums {
		if total != 0 {
			report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
				AssetID:   uint16(asset),
				Imbalance: total,
			})
		}
	}

	markets, err := qs.store.Markets()
	if err != nil {
		return nil, err
	}
	for _, m := range markets {
		path := ledger.NewMarketAccountKey(m.ID, ledger.SubTypeMarketPool, ledger.AssetUSDC).AccountPath()
		custody := balances[path]
		expected := m.YesPool + m.NoPool - m.PaidOut
		if custody < 0 || uint64(custody) != expected {
			report.PoolMismatches = append(report.PoolMismatches, PoolMismatch{
				MarketID: m.ID,
				Custody:  custody,
				Expected: expected,
			})
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		len(report.PoolMismatches) == 0
	return report, nil
}

func (qs *QueryService) hashChainBreaks(ctx context.Context) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

// --- helpers ---

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = "error"
		code := domain.CodeOf(*err)
		if code == "" {
			code = "internal"
		}
		qs.metrics.QueryErrors.WithLabelValues(endpoint, code).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
