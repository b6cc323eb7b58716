package auth

import (
	"fmt"
	"time"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxSkew bounds how far signed_at may sit from the verifier's clock.
const DefaultMaxSkew = time.Minute

// Verifier checks signed commands. A signature is valid for MaxSkew either
// side of its signed_at; command ids make replays inside that window
// duplicates.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier returns a verifier. A non-positive maxSkew selects
// DefaultMaxSkew and a nil now selects time.Now.
func NewVerifier(maxSkew time.Duration, now func() time.Time) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{maxSkew: maxSkew, now: now}
}

// Signer returns the address that signed digest at signedAt.
func (v *Verifier) Signer(digest common.Hash, signedAt int64, sig []byte) (common.Address, error) {
	if len(sig) == 0 {
		return common.Address{}, fmt.Errorf("%w: missing signature", domain.ErrInvalidSignature)
	}
	now := v.now().Unix()
	skew := int64(v.maxSkew / time.Second)
	if signedAt < now-skew || signedAt > now+skew {
		return common.Address{}, fmt.Errorf("%w: signed at %d, now %d", domain.ErrSignatureExpired, signedAt, now)
	}
	addr, err := Recover(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return addr, nil
}

// Require checks that digest was signed by want.
func (v *Verifier) Require(want common.Address, digest common.Hash, signedAt int64, sig []byte) error {
	got, err := v.Signer(digest, signedAt, sig)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: signed by %s, want %s", domain.ErrInvalidSignature, got.Hex(), want.Hex())
	}
	return nil
}
