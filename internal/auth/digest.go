package auth

import (
	"encoding/binary"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// digestTag separates ledger signatures from any other use of the same key.
const digestTag = "PredictLedger/v1"

// Command kinds bound into every digest.
const (
	KindPrice      = "price"
	KindDeposit    = "deposit"
	KindBridge     = "bridge"
	KindOrder      = "order"
	KindWithdrawal = "withdrawal"
)

// packer builds the digest preimage. Every field but the kind is fixed
// width, so distinct commands never share a preimage.
type packer []byte

func newPacker(kind string) packer {
	p := make(packer, 0, 128)
	p = append(p, digestTag...)
	p = append(p, byte(len(kind)))
	return append(p, kind...)
}

func (p packer) uint64(v uint64) packer          { return binary.BigEndian.AppendUint64(p, v) }
func (p packer) int64(v int64) packer            { return p.uint64(uint64(v)) }
func (p packer) address(a common.Address) packer { return append(p, a[:]...) }
func (p packer) uuid(id uuid.UUID) packer        { return append(p, id[:]...) }
func (p packer) hash(h common.Hash) packer       { return append(p, h[:]...) }

func (p packer) sum(signedAt int64) common.Hash {
	return crypto.Keccak256Hash(p.int64(signedAt))
}

// PriceDigest is what the oracle publisher signs.
func PriceDigest(commodity domain.CommodityID, price, confidence uint64, feedSequence, signedAt int64) common.Hash {
	p := newPacker(KindPrice)
	p = append(p, commodity[:]...)
	return p.uint64(price).uint64(confidence).int64(feedSequence).sum(signedAt)
}

// DepositDigest is what the custody operator signs for a direct deposit.
func DepositDigest(depositID uuid.UUID, participant common.Address, amount uint64, signedAt int64) common.Hash {
	return newPacker(KindDeposit).uuid(depositID).address(participant).uint64(amount).sum(signedAt)
}

// BridgeDigest is what the custody operator signs when relaying a message;
// messageID is the message's Hash.
func BridgeDigest(messageID common.Hash, signedAt int64) common.Hash {
	return newPacker(KindBridge).hash(messageID).sum(signedAt)
}

// OrderDigest is what a participant signs to stake from their wallet.
func OrderDigest(orderID, market uuid.UUID, participant common.Address, side domain.Side, amount uint64, signedAt int64) common.Hash {
	p := newPacker(KindOrder).uuid(orderID).uuid(market).address(participant)
	p = append(p, byte(side))
	return p.uint64(amount).sum(signedAt)
}

// WithdrawalDigest is what a participant signs to move funds out.
func WithdrawalDigest(withdrawalID uuid.UUID, participant, destination common.Address, amount uint64, signedAt int64) common.Hash {
	return newPacker(KindWithdrawal).uuid(withdrawalID).address(participant).address(destination).uint64(amount).sum(signedAt)
}
