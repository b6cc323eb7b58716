package state_test

import (
	"errors"
	"testing"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"pgregory.net/rapid"
)

// Property 1: after resolution, every winner can claim exactly once, payouts
// never exceed the total pool, and custody pays out exactly what the market
// records as paid.
func TestProperty_ClaimsConserveThePool(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		feeds := state.NewPriceFeedStore(publisher)
		positions := state.NewPositionLedger()
		custody := &fakeCustody{}
		markets := state.NewMarketManager(feeds, positions, custody, state.MaxOracleAge)

		id := uuid.New()
		threshold := rapid.Uint64Range(1, 100_000).Draw(t, "threshold")
		if _, err := markets.Create(id, maize, threshold, expiry, creator, t0); err != nil {
			t.Fatalf("create: %v", err)
		}

		n := rapid.IntRange(1, 12).Draw(t, "participants")
		participants := make([]common.Address, n)
		for i := range participants {
			participants[i] = common.BytesToAddress([]byte{0xaa, byte(i + 1)})
			buys := rapid.IntRange(1, 3).Draw(t, "buys")
			for b := 0; b < buys; b++ {
				side := domain.SideNo
				if rapid.Bool().Draw(t, "yes") {
					side = domain.SideYes
				}
				amount := rapid.Uint64Range(1, 1_000_000_000).Draw(t, "amount")
				if _, err := markets.Buy(id, participants[i], side, amount, t0+int64(b)); err != nil {
					t.Fatalf("buy: %v", err)
				}
			}
		}

		price := rapid.Uint64Range(1, 200_000).Draw(t, "price")
		if _, err := feeds.Publish(maize, price, 90, publisher, expiry); err != nil {
			t.Fatalf("publish: %v", err)
		}
		res, err := markets.Resolve(id, expiry)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if res.Outcome != (price >= threshold) {
			t.Fatalf("outcome %v for price %d threshold %d", res.Outcome, price, threshold)
		}

		m := markets.Get(id)
		var paid uint64
		for _, p := range participants {
			c, err := markets.Claim(id, p)
			switch {
			case err == nil:
				paid += c.Payout
				if _, again := markets.Claim(id, p); !errors.Is(again, domain.ErrAlreadyClaimed) {
					t.Fatalf("second claim: got %v, want AlreadyClaimed", again)
				}
			case errors.Is(err, domain.ErrNoWinningShares):
				r, rerr := markets.Refund(id, p)
				if rerr == nil {
					paid += r.Amount
				}
			default:
				t.Fatalf("claim: %v", err)
			}
		}

		if paid > m.TotalPool() {
			t.Fatalf("paid %d exceeds pool %d", paid, m.TotalPool())
		}
		if paid != m.PaidOut {
			t.Fatalf("paid %d, market records %d", paid, m.PaidOut)
		}
		var credited uint64
		for _, c := range custody.credits {
			credited += c.amount
		}
		if credited != paid {
			t.Fatalf("custody credited %d, want %d", credited, paid)
		}
	})
}
