package bridge

import (
	"encoding/binary"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Message is one inbound cross-chain collateral transfer as delivered by the
// relayer. Sender is the source chain's 32-byte universal address.
type Message struct {
	Emitter  [32]byte
	Sequence uint64 // emitter nonce
	Sender   [32]byte
	Amount   uint64
	MarketID *uuid.UUID // auto-stake target, optional
	Side     domain.Side
	// Timestamp is the relayer's attestation time, unix seconds. It is logged
	// only; commands are stamped with the adapter's clock.
	Timestamp int64
}

// Hash is the message identity used for deduplication: Keccak-256 over the
// emitter, nonce and transfer payload.
func (m Message) Hash() common.Hash {
	buf := make([]byte, 0, 32+8+32+8+16+1)
	buf = append(buf, m.Emitter[:]...)
	buf = binary.BigEndian.AppendUint64(buf, m.Sequence)
	buf = append(buf, m.Sender[:]...)
	buf = binary.BigEndian.AppendUint64(buf, m.Amount)
	if m.MarketID != nil {
		buf = append(buf, m.MarketID[:]...)
		buf = append(buf, byte(m.Side))
	} else {
		buf = append(buf, make([]byte, 17)...)
	}
	return crypto.Keccak256Hash(buf)
}

// Participant resolves the sender to a local identity: the low 20 bytes of
// the universal address.
func (m Message) Participant() common.Address {
	return common.BytesToAddress(m.Sender[12:])
}

// SenderFromAddress left-pads a local address into a universal address.
func SenderFromAddress(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr[:])
	return out
}

// namespace scopes the deterministic command ids derived from message hashes.
var namespace = uuid.MustParse("5b0f4c1e-7a43-4d8e-b3f6-2f4a9e1c8d70")

// DepositID is the command id of the deposit a message produces.
func DepositID(id common.Hash) uuid.UUID {
	return uuid.NewSHA1(namespace, append(id.Bytes(), 'd'))
}

// OrderID is the command id of the auto-stake a message produces.
func OrderID(id common.Hash) uuid.UUID {
	return uuid.NewSHA1(namespace, append(id.Bytes(), 's'))
}
