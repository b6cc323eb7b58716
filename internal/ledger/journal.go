package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit    JournalType = iota // external -> wallet
	JournalTypeStake                         // wallet -> market pool
	JournalTypePayout                        // market pool -> wallet
	JournalTypeRefund                        // market pool -> wallet, no winners
	JournalTypeWithdrawal                    // wallet -> external
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeStake:
		return "stake"
	case JournalTypePayout:
		return "payout"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// batchNamespace seeds deterministic batch ids so a replayed event produces
// the same journal rows.
var batchNamespace = uuid.MustParse("6f1c0d7e-2b8a-5e43-9a1d-4c7b2e8f9a10")

// BatchIDFor derives the batch id for an event reference.
func BatchIDFor(eventRef string) uuid.UUID {
	return uuid.NewSHA1(batchNamespace, []byte(eventRef))
}

// JournalIDFor derives the id of the leg-th journal in a batch.
func JournalIDFor(batchID uuid.UUID, leg int) uuid.UUID {
	return uuid.NewSHA1(batchID, []byte(fmt.Sprintf("leg:%d", leg)))
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one positive
// amount from its credit account to its debit account, so every entry is
// balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves between assets", j.JournalID)
		}
	}

	return nil
}
