package event

import (
	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Notification is an observable record of a committed state change. Fields
// carry the literal values of the operation that produced it.
type Notification interface {
	// Name is the notification name used in outbound subjects.
	Name() string
	// Scope is the market id or commodity the notification belongs to.
	Scope() string
}

type PriceUpdated struct {
	Commodity  domain.CommodityID `json:"commodity"`
	Price      uint64             `json:"price"`
	Confidence uint64             `json:"confidence"`
	Timestamp  int64              `json:"timestamp"`
}

func (PriceUpdated) Name() string    { return "PriceUpdated" }
func (n PriceUpdated) Scope() string { return n.Commodity.Hex() }

type MarketCreated struct {
	Market         uuid.UUID          `json:"market_id"`
	Commodity      domain.CommodityID `json:"commodity"`
	ThresholdPrice uint64             `json:"threshold_price"`
	ExpiryTime     int64              `json:"expiry_time"`
	Creator        common.Address     `json:"creator"`
}

func (MarketCreated) Name() string    { return "MarketCreated" }
func (n MarketCreated) Scope() string { return n.Market.String() }

type FundsDeposited struct {
	DepositID   uuid.UUID      `json:"deposit_id"`
	Participant common.Address `json:"participant"`
	Amount      uint64         `json:"amount"`
	Source      string         `json:"source"`
}

func (FundsDeposited) Name() string    { return "FundsDeposited" }
func (n FundsDeposited) Scope() string { return n.Participant.Hex() }

type FundsWithdrawn struct {
	WithdrawalID uuid.UUID      `json:"withdrawal_id"`
	Participant  common.Address `json:"participant"`
	Destination  common.Address `json:"destination"`
	Amount       uint64         `json:"amount"`
}

func (FundsWithdrawn) Name() string    { return "FundsWithdrawn" }
func (n FundsWithdrawn) Scope() string { return n.Participant.Hex() }

type SharesPurchased struct {
	Market      uuid.UUID      `json:"market_id"`
	Participant common.Address `json:"participant"`
	Side        domain.Side    `json:"side"`
	Amount      uint64         `json:"amount"`
}

func (SharesPurchased) Name() string    { return "SharesPurchased" }
func (n SharesPurchased) Scope() string { return n.Market.String() }

type MarketResolved struct {
	Market         uuid.UUID `json:"market_id"`
	Outcome        bool      `json:"outcome"`
	OraclePrice    uint64    `json:"oracle_price"`
	ThresholdPrice uint64    `json:"threshold_price"`
	ResolutionTime int64     `json:"resolution_time"`
}

func (MarketResolved) Name() string    { return "MarketResolved" }
func (n MarketResolved) Scope() string { return n.Market.String() }

type WinningsClaimed struct {
	Market      uuid.UUID      `json:"market_id"`
	Participant common.Address `json:"participant"`
	Payout      uint64         `json:"payout"`
}

func (WinningsClaimed) Name() string    { return "WinningsClaimed" }
func (n WinningsClaimed) Scope() string { return n.Market.String() }

type StakeRefunded struct {
	Market      uuid.UUID      `json:"market_id"`
	Participant common.Address `json:"participant"`
	Amount      uint64         `json:"amount"`
}

func (StakeRefunded) Name() string    { return "StakeRefunded" }
func (n StakeRefunded) Scope() string { return n.Market.String() }
