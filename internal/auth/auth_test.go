package auth_test

import (
	"errors"
	"testing"
	"time"

	"PredictLedger/internal/auth"
	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const t0 int64 = 1_700_000_000

var maize = domain.MustCommodity("MAIZE")

func mustSigner(t *testing.T) *auth.Signer {
	t.Helper()
	s, err := auth.GenerateSigner()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return s
}

func mustSign(t *testing.T, s *auth.Signer, digest common.Hash) []byte {
	t.Helper()
	sig, err := s.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestRecover_ReturnsSigner(t *testing.T) {
	s := mustSigner(t)
	digest := auth.PriceDigest(maize, 52_000, 90, 1, t0)
	sig := mustSign(t, s, digest)

	got, err := auth.Recover(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != s.Address() {
		t.Errorf("got %s, want %s", got.Hex(), s.Address().Hex())
	}

	// Wallets commonly emit V as 27/28.
	sig[64] += 27
	if got, err = auth.Recover(digest, sig); err != nil || got != s.Address() {
		t.Errorf("legacy V: got %s %v", got.Hex(), err)
	}
}

func TestNewSigner_HexKey(t *testing.T) {
	const key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	a, err := auth.NewSigner(key)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	b, err := auth.NewSigner("0x" + key)
	if err != nil {
		t.Fatalf("prefixed: %v", err)
	}
	if a.Address() != b.Address() {
		t.Error("0x prefix changed the key")
	}
	if _, err := auth.NewSigner("zz"); err == nil {
		t.Error("expected error for a malformed key")
	}
}

func TestDigests_BindEveryField(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	base := auth.DepositDigest(id, alice, 100, t0)
	variants := map[string]common.Hash{
		"id":          auth.DepositDigest(uuid.New(), alice, 100, t0),
		"participant": auth.DepositDigest(id, bob, 100, t0),
		"amount":      auth.DepositDigest(id, alice, 101, t0),
		"signed_at":   auth.DepositDigest(id, alice, 100, t0+1),
		"kind":        auth.WithdrawalDigest(id, alice, common.Address{}, 100, t0),
	}
	for name, d := range variants {
		if d == base {
			t.Errorf("%s does not change the digest", name)
		}
	}

	yes := auth.OrderDigest(id, id, alice, domain.SideYes, 5, t0)
	if no := auth.OrderDigest(id, id, alice, domain.SideNo, 5, t0); yes == no {
		t.Error("side does not change the order digest")
	}
}

func TestVerifier_Require(t *testing.T) {
	publisher := mustSigner(t)
	forger := mustSigner(t)
	v := auth.NewVerifier(30*time.Second, func() time.Time { return time.Unix(t0, 0) })
	digest := auth.PriceDigest(maize, 52_000, 90, 1, t0)

	if err := v.Require(publisher.Address(), digest, t0, mustSign(t, publisher, digest)); err != nil {
		t.Fatalf("valid signature: %v", err)
	}
	if err := v.Require(publisher.Address(), digest, t0, mustSign(t, forger, digest)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("forged: got %v, want InvalidSignature", err)
	}
	if err := v.Require(publisher.Address(), digest, t0, nil); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("unsigned: got %v, want InvalidSignature", err)
	}
	if err := v.Require(publisher.Address(), digest, t0, []byte{1, 2, 3}); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("short signature: got %v, want InvalidSignature", err)
	}

	// A signature over different fields recovers to some other address.
	other := auth.PriceDigest(maize, 99_000, 90, 1, t0)
	if err := v.Require(publisher.Address(), other, t0, mustSign(t, publisher, digest)); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Errorf("tampered: got %v, want InvalidSignature", err)
	}
}

func TestVerifier_SkewWindow(t *testing.T) {
	s := mustSigner(t)
	v := auth.NewVerifier(30*time.Second, func() time.Time { return time.Unix(t0, 0) })

	for _, signedAt := range []int64{t0 - 30, t0 + 30} {
		d := auth.BridgeDigest(common.Hash{1}, signedAt)
		if err := v.Require(s.Address(), d, signedAt, mustSign(t, s, d)); err != nil {
			t.Errorf("signed at %d: %v", signedAt, err)
		}
	}
	for _, signedAt := range []int64{t0 - 31, t0 + 31} {
		d := auth.BridgeDigest(common.Hash{1}, signedAt)
		if err := v.Require(s.Address(), d, signedAt, mustSign(t, s, d)); !errors.Is(err, domain.ErrSignatureExpired) {
			t.Errorf("signed at %d: got %v, want SignatureExpired", signedAt, err)
		}
	}
}
