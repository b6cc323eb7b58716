package server

import (
	"context"
	"encoding/json"
	"fmt"

	"PredictLedger/internal/auth"
	"PredictLedger/internal/bridge"
	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// ============================================================================
// Requests & responses
// ============================================================================

// Signed is the signature block of a command that moves collateral or
// carries an authority. SignedAt is unix seconds and is part of the digest.
type Signed struct {
	SignedAt  int64         `json:"signed_at"`
	Signature hexutil.Bytes `json:"signature"`
}

// PublishPriceRequest is signed by the oracle publisher; the recovered
// address is the publisher the core checks.
type PublishPriceRequest struct {
	Commodity    domain.CommodityID `json:"commodity"`
	Price        uint64             `json:"price"`
	Confidence   uint64             `json:"confidence"`
	FeedSequence int64              `json:"feed_sequence"`
	Signed
}

type CreateMarketRequest struct {
	MarketID       uuid.UUID          `json:"market_id,omitempty"`
	Creator        common.Address     `json:"creator"`
	Commodity      domain.CommodityID `json:"commodity"`
	ThresholdPrice uint64             `json:"threshold_price"`
	ExpiryTime     int64              `json:"expiry_time"`
}

// DepositRequest is signed by the custody operator.
type DepositRequest struct {
	DepositID   uuid.UUID      `json:"deposit_id"`
	Participant common.Address `json:"participant"`
	Amount      uint64         `json:"amount"`
	Signed
}

// WithdrawRequest is signed by the participant. A zero destination pays out
// to the participant's own address.
type WithdrawRequest struct {
	WithdrawalID uuid.UUID      `json:"withdrawal_id"`
	Participant  common.Address `json:"participant"`
	Destination  common.Address `json:"destination,omitempty"`
	Amount       uint64         `json:"amount"`
	Signed
}

// BuySharesRequest is signed by the participant.
type BuySharesRequest struct {
	OrderID     uuid.UUID      `json:"order_id"`
	MarketID    uuid.UUID      `json:"market_id"`
	Participant common.Address `json:"participant"`
	Side        domain.Side    `json:"side"`
	Amount      uint64         `json:"amount"`
	Signed
}

type ResolveMarketRequest struct {
	MarketID uuid.UUID      `json:"market_id"`
	Caller   common.Address `json:"caller"`
}

type ClaimRequest struct {
	MarketID    uuid.UUID      `json:"market_id"`
	Participant common.Address `json:"participant"`
}

// Notification is one emitted notification in a command response.
type Notification struct {
	Name    string          `json:"name"`
	Scope   string          `json:"scope"`
	Payload json.RawMessage `json:"payload"`
}

// CommandResponse reports the outcome of an applied or deduplicated command.
type CommandResponse struct {
	Applied       bool           `json:"applied"`
	Sequence      int64          `json:"sequence,omitempty"`
	StateHash     string         `json:"state_hash,omitempty"`
	MarketID      *uuid.UUID     `json:"market_id,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

type MarketRequest struct {
	MarketID uuid.UUID `json:"market_id"`
}

type ListMarketsRequest struct {
	Commodity *domain.CommodityID `json:"commodity,omitempty"`
	State     string              `json:"state,omitempty"`
}

type ListMarketsResponse struct {
	Markets []query.MarketResponse `json:"markets"`
}

type PriceRequest struct {
	Commodity domain.CommodityID `json:"commodity"`
}

type ListPricesRequest struct{}

type ListPricesResponse struct {
	Prices []query.PriceResponse `json:"prices"`
}

type OwnerRequest struct {
	Owner common.Address `json:"owner"`
}

type PositionsResponse struct {
	Positions []query.PositionResponse `json:"positions"`
}

type JournalRequest struct {
	Owner          common.Address `json:"owner"`
	Limit          int            `json:"limit,omitempty"`
	BeforeSequence *int64         `json:"before_sequence,omitempty"`
}

type JournalResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

// BridgeMessageRequest is a relayed transfer, signed by the custody operator
// over the message hash. Emitter and Sender are 32-byte universal addresses
// in hex.
type BridgeMessageRequest struct {
	Emitter   hexutil.Bytes `json:"emitter"`
	Sequence  uint64        `json:"sequence"`
	Sender    hexutil.Bytes `json:"sender"`
	Amount    uint64        `json:"amount"`
	MarketID  *uuid.UUID    `json:"market_id,omitempty"`
	Side      domain.Side   `json:"side,omitempty"`
	Timestamp int64         `json:"timestamp"`
	Signed
}

type BridgeReceipt struct {
	MessageID     common.Hash    `json:"message_id"`
	Participant   common.Address `json:"participant"`
	Duplicate     bool           `json:"duplicate"`
	Deposited     bool           `json:"deposited"`
	Staked        bool           `json:"staked"`
	StakeError    string         `json:"stake_error,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

type BridgePauseRequest struct {
	Paused bool `json:"paused"`
}

type EmptyRequest struct{}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type StatusResponse struct {
	NextSequence int64        `json:"next_sequence"`
	StateHash    string       `json:"state_hash"`
	Commodities  int          `json:"commodities"`
	Markets      int          `json:"markets"`
	Positions    int          `json:"positions"`
	Bridge       bridge.Stats `json:"bridge"`
}

// ============================================================================
// Service
// ============================================================================

// CoreStatus is the read-only view of the core used by the admin surface.
type CoreStatus interface {
	GetSequence() int64
	GetStateHash() [32]byte
	Stats() (commodities, markets, positions int)
}

// Snapshotter takes an on-demand snapshot and returns its sequence.
type Snapshotter func(ctx context.Context) (int64, error)

// LedgerService implements every RPC of predictledger.v1.LedgerService. The
// gRPC and HTTP surfaces both dispatch here.
type LedgerService struct {
	commands *ingestion.CommandService
	queries  *query.QueryService
	bridge   *bridge.Adapter
	core     CoreStatus
	snapshot Snapshotter
	verifier *auth.Verifier
	operator common.Address
}

// ServiceDeps holds the service's collaborators. Bridge, Core and Snapshot
// may be nil; the RPCs that need them then fail with Unavailable. A nil
// Verifier uses the default skew window and the wall clock. With a zero
// Operator, direct deposits and relayed bridge messages are refused.
type ServiceDeps struct {
	Commands *ingestion.CommandService
	Queries  *query.QueryService
	Bridge   *bridge.Adapter
	Core     CoreStatus
	Snapshot Snapshotter
	Verifier *auth.Verifier
	Operator common.Address
}

func NewLedgerService(deps ServiceDeps) *LedgerService {
	verifier := deps.Verifier
	if verifier == nil {
		verifier = auth.NewVerifier(auth.DefaultMaxSkew, nil)
	}
	return &LedgerService{
		commands: deps.Commands,
		queries:  deps.Queries,
		bridge:   deps.Bridge,
		core:     deps.Core,
		snapshot: deps.Snapshot,
		verifier: verifier,
		operator: deps.Operator,
	}
}

// requireOperator checks a custody operator signature.
func (s *LedgerService) requireOperator(digest common.Hash, sig Signed) error {
	if s.operator == (common.Address{}) {
		return domain.ErrOperatorDisabled
	}
	return s.verifier.Require(s.operator, digest, sig.SignedAt, sig.Signature)
}

// --- commands ---

// PublishPrice requires a feed sequence so a replayed signature is skipped
// as stale.
func (s *LedgerService) PublishPrice(ctx context.Context, req *PublishPriceRequest) (*CommandResponse, error) {
	if req.FeedSequence <= 0 {
		return nil, toStatus(domain.ErrMissingCommandID)
	}
	digest := auth.PriceDigest(req.Commodity, req.Price, req.Confidence, req.FeedSequence, req.SignedAt)
	publisher, err := s.verifier.Signer(digest, req.SignedAt, req.Signature)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := s.commands.PublishPrice(publisher, req.Commodity, req.Price, req.Confidence, req.FeedSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, nil)
}

func (s *LedgerService) CreateMarket(ctx context.Context, req *CreateMarketRequest) (*CommandResponse, error) {
	id, out, err := s.commands.CreateMarket(req.MarketID, req.Creator, req.Commodity, req.ThresholdPrice, req.ExpiryTime)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, &id)
}

func (s *LedgerService) Deposit(ctx context.Context, req *DepositRequest) (*CommandResponse, error) {
	if req.DepositID == uuid.Nil {
		return nil, toStatus(domain.ErrMissingCommandID)
	}
	digest := auth.DepositDigest(req.DepositID, req.Participant, req.Amount, req.SignedAt)
	if err := s.requireOperator(digest, req.Signed); err != nil {
		return nil, toStatus(err)
	}
	out, err := s.commands.Deposit(req.DepositID, req.Participant, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, nil)
}

func (s *LedgerService) Withdraw(ctx context.Context, req *WithdrawRequest) (*CommandResponse, error) {
	if req.WithdrawalID == uuid.Nil {
		return nil, toStatus(domain.ErrMissingCommandID)
	}
	digest := auth.WithdrawalDigest(req.WithdrawalID, req.Participant, req.Destination, req.Amount, req.SignedAt)
	if err := s.verifier.Require(req.Participant, digest, req.SignedAt, req.Signature); err != nil {
		return nil, toStatus(err)
	}
	out, err := s.commands.Withdraw(req.WithdrawalID, req.Participant, req.Destination, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, nil)
}

func (s *LedgerService) BuyShares(ctx context.Context, req *BuySharesRequest) (*CommandResponse, error) {
	if req.OrderID == uuid.Nil {
		return nil, toStatus(domain.ErrMissingCommandID)
	}
	digest := auth.OrderDigest(req.OrderID, req.MarketID, req.Participant, req.Side, req.Amount, req.SignedAt)
	if err := s.verifier.Require(req.Participant, digest, req.SignedAt, req.Signature); err != nil {
		return nil, toStatus(err)
	}
	out, err := s.commands.BuyShares(req.OrderID, req.MarketID, req.Participant, req.Side, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, &req.MarketID)
}

func (s *LedgerService) ResolveMarket(ctx context.Context, req *ResolveMarketRequest) (*CommandResponse, error) {
	out, err := s.commands.ResolveMarket(req.MarketID, req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, &req.MarketID)
}

func (s *LedgerService) ClaimWinnings(ctx context.Context, req *ClaimRequest) (*CommandResponse, error) {
	out, err := s.commands.ClaimWinnings(req.MarketID, req.Participant)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, &req.MarketID)
}

func (s *LedgerService) ClaimRefund(ctx context.Context, req *ClaimRequest) (*CommandResponse, error) {
	out, err := s.commands.ClaimRefund(req.MarketID, req.Participant)
	if err != nil {
		return nil, toStatus(err)
	}
	return commandResponse(out, &req.MarketID)
}

// --- queries ---

func (s *LedgerService) GetMarket(ctx context.Context, req *MarketRequest) (*query.MarketResponse, error) {
	m, err := s.queries.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, toStatus(err)
	}
	return m, nil
}

func (s *LedgerService) ListMarkets(ctx context.Context, req *ListMarketsRequest) (*ListMarketsResponse, error) {
	markets, err := s.queries.ListMarkets(ctx, query.MarketFilter{Commodity: req.Commodity, State: req.State})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListMarketsResponse{Markets: markets}, nil
}

func (s *LedgerService) GetPrice(ctx context.Context, req *PriceRequest) (*query.PriceResponse, error) {
	p, err := s.queries.GetPrice(ctx, req.Commodity)
	if err != nil {
		return nil, toStatus(err)
	}
	return p, nil
}

func (s *LedgerService) ListPrices(ctx context.Context, _ *ListPricesRequest) (*ListPricesResponse, error) {
	prices, err := s.queries.ListPrices(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListPricesResponse{Prices: prices}, nil
}

func (s *LedgerService) GetMarketPositions(ctx context.Context, req *MarketRequest) (*PositionsResponse, error) {
	positions, err := s.queries.GetMarketPositions(ctx, req.MarketID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PositionsResponse{Positions: positions}, nil
}

func (s *LedgerService) GetPositions(ctx context.Context, req *OwnerRequest) (*PositionsResponse, error) {
	positions, err := s.queries.GetPositions(ctx, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PositionsResponse{Positions: positions}, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, req *OwnerRequest) (*query.BalanceResponse, error) {
	b, err := s.queries.GetBalance(ctx, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return b, nil
}

func (s *LedgerService) GetJournalHistory(ctx context.Context, req *JournalRequest) (*JournalResponse, error) {
	entries, err := s.queries.GetJournalHistory(ctx, req.Owner, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalResponse{Entries: entries}, nil
}

// --- bridge ---

func (s *LedgerService) ReceiveBridgeMessage(ctx context.Context, req *BridgeMessageRequest) (*BridgeReceipt, error) {
	if s.bridge == nil {
		return nil, unavailable("bridge")
	}
	msg, err := req.message()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.requireOperator(auth.BridgeDigest(msg.Hash(), req.SignedAt), req.Signed); err != nil {
		return nil, toStatus(err)
	}
	r, err := s.bridge.Receive(ctx, msg)
	if err != nil {
		return nil, toStatus(err)
	}
	receipt := &BridgeReceipt{
		MessageID:   r.MessageID,
		Participant: r.Participant,
		Duplicate:   r.Duplicate,
		Deposited:   r.Deposited,
		Staked:      r.Staked,
	}
	if r.StakeErr != nil {
		receipt.StakeError = publicMessage(r.StakeErr)
	}
	if receipt.Notifications, err = notifications(r.Notifications); err != nil {
		return nil, toStatus(err)
	}
	return receipt, nil
}

func (r *BridgeMessageRequest) message() (bridge.Message, error) {
	if len(r.Emitter) != 32 || len(r.Sender) != 32 {
		return bridge.Message{}, fmt.Errorf("%w: emitter and sender must be 32 bytes", domain.ErrInvalidBridgeMessage)
	}
	msg := bridge.Message{
		Sequence:  r.Sequence,
		Amount:    r.Amount,
		MarketID:  r.MarketID,
		Side:      r.Side,
		Timestamp: r.Timestamp,
	}
	copy(msg.Emitter[:], r.Emitter)
	copy(msg.Sender[:], r.Sender)
	return msg, nil
}

// --- admin ---

func (s *LedgerService) SetBridgePaused(ctx context.Context, req *BridgePauseRequest) (*bridge.Stats, error) {
	if s.bridge == nil {
		return nil, unavailable("bridge")
	}
	s.bridge.SetPaused(req.Paused)
	stats := s.bridge.Stats()
	return &stats, nil
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *EmptyRequest) (*query.IntegrityReport, error) {
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

func (s *LedgerService) TakeSnapshot(ctx context.Context, _ *EmptyRequest) (*SnapshotResponse, error) {
	if s.snapshot == nil {
		return nil, unavailable("snapshots")
	}
	seq, err := s.snapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (s *LedgerService) GetStatus(ctx context.Context, _ *EmptyRequest) (*StatusResponse, error) {
	if s.core == nil {
		return nil, unavailable("core status")
	}
	hash := s.core.GetStateHash()
	resp := &StatusResponse{
		NextSequence: s.core.GetSequence(),
		StateHash:    hexutil.Encode(hash[:]),
	}
	resp.Commodities, resp.Markets, resp.Positions = s.core.Stats()
	if s.bridge != nil {
		resp.Bridge = s.bridge.Stats()
	}
	return resp, nil
}

// ============================================================================
// Helpers
// ============================================================================

// commandResponse converts a core output. A nil output is a command the core
// had already applied.
func commandResponse(out *core.CoreOutput, market *uuid.UUID) (*CommandResponse, error) {
	resp := &CommandResponse{MarketID: market}
	if out == nil {
		return resp, nil
	}
	resp.Applied = true
	resp.Sequence = out.Envelope.Sequence
	resp.StateHash = hexutil.Encode(out.Envelope.StateHash[:])
	n, err := notifications(out.Notifications)
	if err != nil {
		return nil, toStatus(err)
	}
	resp.Notifications = n
	return resp, nil
}
