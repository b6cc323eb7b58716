package ledger

import (
	"errors"
	"math"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Custody moves collateral between a participant and a market's pool. Debit
// runs once per successful stake, Credit once per successful payout or refund.
// Either call fails without side effects.
type Custody interface {
	Debit(participant common.Address, marketID uuid.UUID, amount uint64) error
	Credit(participant common.Address, marketID uuid.UUID, amount uint64) error
}

var errNoOpenBatch = errors.New("custody: no open batch")

// BatchRef identifies the event a batch is generated for.
type BatchRef struct {
	EventRef   string
	Sequence   int64
	Timestamp  int64
	CreditType JournalType // Payout or Refund
}

// JournalGenerator is the ledger-backed Custody. Transfers are staged as
// journals into the open batch and checked against committed balances plus
// everything already staged; the core applies the batch on commit.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
	assetID        AssetID

	ref     BatchRef
	open    bool
	batch   *Batch
	pending map[AccountKey]int64
}

var _ Custody = (*JournalGenerator)(nil)

func NewJournalGenerator(tracker *BalanceTracker, assetID AssetID) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
		assetID:        assetID,
		pending:        make(map[AccountKey]int64),
	}
}

// Begin opens a batch for one event. Any previously open batch is discarded.
func (jg *JournalGenerator) Begin(ref BatchRef) {
	if ref.CreditType != JournalTypeRefund {
		ref.CreditType = JournalTypePayout
	}
	jg.ref = ref
	jg.open = true
	jg.batch = &Batch{
		BatchID:   BatchIDFor(ref.EventRef),
		EventRef:  ref.EventRef,
		Sequence:  ref.Sequence,
		Timestamp: ref.Timestamp,
		Journals:  make([]Journal, 0, 1),
	}
	clear(jg.pending)
}

// Commit closes the open batch and returns it (possibly with no journals).
func (jg *JournalGenerator) Commit() *Batch {
	batch := jg.batch
	jg.Discard()
	return batch
}

// Discard drops the open batch and everything staged in it.
func (jg *JournalGenerator) Discard() {
	jg.open = false
	jg.batch = nil
	clear(jg.pending)
}

// Deposit stages external -> wallet.
func (jg *JournalGenerator) Deposit(participant common.Address, amount uint64) error {
	wallet := NewUserAccountKey(participant, SubTypeWallet, jg.assetID)
	external := NewExternalAccountKey(SubTypeExternalDeposits, jg.assetID)
	return jg.transfer(wallet, external, amount, JournalTypeDeposit, false)
}

// Withdraw stages wallet -> external. The wallet may not go negative.
func (jg *JournalGenerator) Withdraw(participant common.Address, amount uint64) error {
	wallet := NewUserAccountKey(participant, SubTypeWallet, jg.assetID)
	external := NewExternalAccountKey(SubTypeExternalWithdrawals, jg.assetID)
	return jg.transfer(external, wallet, amount, JournalTypeWithdrawal, true)
}

// Debit stages wallet -> market pool.
func (jg *JournalGenerator) Debit(participant common.Address, marketID uuid.UUID, amount uint64) error {
	wallet := NewUserAccountKey(participant, SubTypeWallet, jg.assetID)
	pool := NewMarketAccountKey(marketID, SubTypeMarketPool, jg.assetID)
	return jg.transfer(pool, wallet, amount, JournalTypeStake, true)
}

// Credit stages market pool -> wallet.
func (jg *JournalGenerator) Credit(participant common.Address, marketID uuid.UUID, amount uint64) error {
	wallet := NewUserAccountKey(participant, SubTypeWallet, jg.assetID)
	pool := NewMarketAccountKey(marketID, SubTypeMarketPool, jg.assetID)
	return jg.transfer(wallet, pool, amount, jg.ref.CreditType, true)
}

// transfer stages one journal moving amount from `from` to `to`. When
// fundedSource is set the source balance may not go negative.
func (jg *JournalGenerator) transfer(to, from AccountKey, amount uint64, jt JournalType, fundedSource bool) error {
	if !jg.open {
		return errNoOpenBatch
	}
	if amount == 0 {
		return domain.ErrInvalidAmount
	}
	if amount > math.MaxInt64 {
		return domain.ErrAmountOutOfRange
	}
	amt := int64(amount)

	if fundedSource && jg.projected(from) < amt {
		return domain.ErrInsufficientFunds
	}
	// An unfunded source runs negative; it must stay representable.
	if !fundedSource && jg.projected(from) < math.MinInt64+amt {
		return domain.ErrAmountOutOfRange
	}
	if jg.projected(to) > math.MaxInt64-amt {
		return domain.ErrAmountOutOfRange
	}

	journal := Journal{
		JournalID:     JournalIDFor(jg.batch.BatchID, len(jg.batch.Journals)),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.ref.EventRef,
		Sequence:      jg.ref.Sequence,
		DebitAccount:  to,
		CreditAccount: from,
		AssetID:       jg.assetID,
		Amount:        amt,
		JournalType:   jt,
		Timestamp:     jg.ref.Timestamp,
	}
	jg.batch.Journals = append(jg.batch.Journals, journal)
	jg.pending[to] += amt
	jg.pending[from] -= amt
	return nil
}

func (jg *JournalGenerator) projected(key AccountKey) int64 {
	return jg.balanceTracker.GetBalance(key) + jg.pending[key]
}
