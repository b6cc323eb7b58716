package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PredictLedger/internal/auth"
	"PredictLedger/internal/bridge"
	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/query"
	"PredictLedger/internal/server"
	"PredictLedger/internal/testutil"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const t0 int64 = 1_700_000_000

var (
	marketID = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	maize    = domain.MustCommodity("MAIZE")

	publisherKey = mustKey(1)
	operatorKey  = mustKey(2)
	aliceKey     = mustKey(3)
	bobKey       = mustKey(4)
)

func mustKey(n int) *auth.Signer {
	s, err := auth.NewSigner(fmt.Sprintf("%064x", n))
	if err != nil {
		panic(err)
	}
	return s
}

// fixture wires a core, its read model and the service. Projection is
// drained synchronously before reads.
type fixture struct {
	core    *core.DeterministicCore
	store   *projection.Store
	projCh  chan core.CoreOutput
	adapter *bridge.Adapter
	srv     *server.GRPCServer
	handler http.Handler
	now     int64
	snaps   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{projCh: make(chan core.CoreOutput, 256), now: t0}

	store, err := projection.Open("readmodel", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("open read model: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	f.store = store

	f.core = core.NewDeterministicCore(core.Config{Publisher: publisherKey.Address()}, nil, f.projCh, nil, nil)
	clock := func() time.Time { return time.Unix(f.now, 0) }

	qs := query.NewQueryService(store, nil, nil)
	qs.SetClock(clock)
	f.adapter = bridge.NewAdapter(bridge.Config{Now: clock}, f.core, nil, nil, zerolog.Nop())

	svc := server.NewLedgerService(server.ServiceDeps{
		Commands: ingestion.NewCommandService(f.core, clock),
		Queries:  qs,
		Bridge:   f.adapter,
		Core:     f.core,
		Snapshot: func(context.Context) (int64, error) {
			f.snaps++
			return f.core.GetSequence() - 1, nil
		},
		Verifier: auth.NewVerifier(time.Minute, clock),
		Operator: operatorKey.Address(),
	})
	f.srv = server.NewGRPCServer("", "", svc, nil, zerolog.Nop())
	if f.handler, err = f.srv.Handler(); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return f
}

// project applies everything the core emitted so far to the read model.
func (f *fixture) project(t *testing.T) {
	t.Helper()
	for {
		select {
		case out := <-f.projCh:
			if _, err := f.store.Apply(&out); err != nil {
				t.Fatalf("project: %v", err)
			}
		default:
			return
		}
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, out
}

func (f *fixture) mustDo(t *testing.T, method, path string, body any) map[string]any {
	t.Helper()
	code, out := f.do(t, method, path, body)
	if code != http.StatusOK {
		t.Fatalf("%s %s: status %d body %v", method, path, code, out)
	}
	return out
}

func alice() string { return aliceKey.Address().Hex() }
func bob() string   { return bobKey.Address().Hex() }

func sign(t *testing.T, s *auth.Signer, digest common.Hash) string {
	t.Helper()
	sig, err := s.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return hexutil.Encode(sig)
}

// depositBody is a direct deposit signed by the operator.
func (f *fixture) depositBody(t *testing.T, id uuid.UUID, who common.Address, amount uint64) map[string]any {
	t.Helper()
	return map[string]any{
		"deposit_id": id, "participant": who.Hex(), "amount": amount,
		"signed_at": f.now, "signature": sign(t, operatorKey, auth.DepositDigest(id, who, amount, f.now)),
	}
}

// orderBody is a stake signed by the participant.
func (f *fixture) orderBody(t *testing.T, who *auth.Signer, market uuid.UUID, side domain.Side, amount uint64) map[string]any {
	t.Helper()
	id := uuid.New()
	return map[string]any{
		"order_id": id, "participant": who.Address().Hex(), "side": side.String(), "amount": amount,
		"signed_at": f.now, "signature": sign(t, who, auth.OrderDigest(id, market, who.Address(), side, amount, f.now)),
	}
}

// priceBody is a MAIZE publication signed by signer.
func (f *fixture) priceBody(t *testing.T, signer *auth.Signer, price uint64, seq int64) map[string]any {
	t.Helper()
	return map[string]any{
		"commodity": "MAIZE", "price": price, "confidence": 90, "feed_sequence": seq,
		"signed_at": f.now, "signature": sign(t, signer, auth.PriceDigest(maize, price, 90, seq, f.now)),
	}
}

// openMarket creates the market and stakes alice YES 300, bob NO 100.
func (f *fixture) openMarket(t *testing.T) {
	t.Helper()
	f.mustDo(t, "POST", "/v1/markets", map[string]any{
		"market_id": marketID, "creator": alice(), "commodity": "MAIZE",
		"threshold_price": 50_000, "expiry_time": t0 + 100,
	})
	f.mustDo(t, "POST", "/v1/deposits", f.depositBody(t, uuid.New(), aliceKey.Address(), 1_000))
	f.mustDo(t, "POST", "/v1/deposits", f.depositBody(t, uuid.New(), bobKey.Address(), 1_000))
	f.mustDo(t, "POST", "/v1/markets/"+marketID.String()+"/orders", f.orderBody(t, aliceKey, marketID, domain.SideYes, 300))
	f.mustDo(t, "POST", "/v1/markets/"+marketID.String()+"/orders", f.orderBody(t, bobKey, marketID, domain.SideNo, 100))
}

// ============================================================================
// HTTP surface
// ============================================================================

func TestHTTP_MarketLifecycle(t *testing.T) {
	f := newFixture(t)
	f.openMarket(t)

	f.now = t0 + 150
	price := f.mustDo(t, "POST", "/v1/prices", f.priceBody(t, publisherKey, 51_000, 1))
	if price["applied"] != true {
		t.Fatalf("price not applied: %v", price)
	}

	f.now = t0 + 160
	res := f.mustDo(t, "POST", "/v1/markets/"+marketID.String()+"/resolve", map[string]any{"caller": bob()})
	notes := res["notifications"].([]any)
	if len(notes) != 1 || notes[0].(map[string]any)["name"] != "MarketResolved" {
		t.Fatalf("resolve notifications: %v", notes)
	}

	claim := f.mustDo(t, "POST", "/v1/markets/"+marketID.String()+"/claim", map[string]any{"participant": alice()})
	payload := claim["notifications"].([]any)[0].(map[string]any)["payload"].(map[string]any)
	if payload["payout"] != float64(400) {
		t.Errorf("payout: got %v, want 400", payload["payout"])
	}

	f.project(t)
	bal := f.mustDo(t, "GET", "/v1/participants/"+alice()+"/balance", nil)
	if bal["wallet"] != float64(1_100) || bal["claimable"] != float64(0) {
		t.Errorf("alice balance: %v", bal)
	}
	m := f.mustDo(t, "GET", "/v1/markets/"+marketID.String(), nil)
	if m["state"] != query.MarketResolved || m["unclaimed"] != float64(0) {
		t.Errorf("market: %v", m)
	}
	list := f.mustDo(t, "GET", "/v1/markets?commodity=MAIZE&state=resolved", nil)
	if got := len(list["markets"].([]any)); got != 1 {
		t.Errorf("filtered markets: got %d, want 1", got)
	}
	positions := f.mustDo(t, "GET", "/v1/markets/"+marketID.String()+"/positions", nil)
	if got := len(positions["positions"].([]any)); got != 2 {
		t.Errorf("market positions: got %d, want 2", got)
	}
}

func TestHTTP_DuplicateCommandIsNotReapplied(t *testing.T) {
	f := newFixture(t)
	body := f.depositBody(t, uuid.NewSHA1(uuid.Nil, []byte("d")), aliceKey.Address(), 50)

	if out := f.mustDo(t, "POST", "/v1/deposits", body); out["applied"] != true {
		t.Fatalf("first deposit: %v", out)
	}
	// A replayed signature inside the skew window is a duplicate.
	f.now += 10
	if out := f.mustDo(t, "POST", "/v1/deposits", body); out["applied"] != false {
		t.Errorf("duplicate deposit applied: %v", out)
	}
	if got := f.core.WalletBalance(aliceKey.Address()); got != 50 {
		t.Errorf("wallet: got %d, want 50", got)
	}
}

func TestHTTP_PublishRequiresPublisherSignature(t *testing.T) {
	f := newFixture(t)

	unsigned := map[string]any{"commodity": "MAIZE", "price": 60_000, "confidence": 90, "feed_sequence": 1, "signed_at": f.now}
	if code, out := f.do(t, "POST", "/v1/prices", unsigned); code != http.StatusForbidden || out["error"] != "InvalidSignature" {
		t.Errorf("unsigned: got %d %v", code, out)
	}

	// Claiming the publisher's address does not help a forged signature.
	forged := f.priceBody(t, bobKey, 60_000, 1)
	forged["publisher"] = publisherKey.Address().Hex()
	if code, out := f.do(t, "POST", "/v1/prices", forged); code != http.StatusForbidden || out["error"] != "Unauthorized" {
		t.Errorf("forged: got %d %v", code, out)
	}

	// A valid signature does not cover altered fields.
	tampered := f.priceBody(t, publisherKey, 60_000, 1)
	tampered["price"] = 1
	if code, out := f.do(t, "POST", "/v1/prices", tampered); code != http.StatusForbidden {
		t.Errorf("tampered: got %d %v", code, out)
	}

	stale := f.priceBody(t, publisherKey, 60_000, 1)
	f.now += 61
	if code, out := f.do(t, "POST", "/v1/prices", stale); code != http.StatusForbidden || out["error"] != "SignatureExpired" {
		t.Errorf("expired: got %d %v", code, out)
	}

	if _, err := f.core.Price(maize); err == nil {
		t.Fatal("a rejected publication reached the feed")
	}
	if out := f.mustDo(t, "POST", "/v1/prices", f.priceBody(t, publisherKey, 60_000, 1)); out["applied"] != true {
		t.Errorf("signed publish: %v", out)
	}
}

func TestHTTP_DepositRequiresOperatorSignature(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	who := aliceKey.Address()

	unsigned := map[string]any{"deposit_id": id, "participant": alice(), "amount": 1_000_000}
	if code, out := f.do(t, "POST", "/v1/deposits", unsigned); code != http.StatusForbidden || out["error"] != "InvalidSignature" {
		t.Errorf("unsigned: got %d %v", code, out)
	}

	// Participants cannot credit themselves.
	self := f.depositBody(t, id, who, 1_000_000)
	self["signature"] = sign(t, aliceKey, auth.DepositDigest(id, who, 1_000_000, f.now))
	if code, out := f.do(t, "POST", "/v1/deposits", self); code != http.StatusForbidden || out["error"] != "InvalidSignature" {
		t.Errorf("self-signed: got %d %v", code, out)
	}

	noID := f.depositBody(t, uuid.Nil, who, 10)
	if code, out := f.do(t, "POST", "/v1/deposits", noID); code != http.StatusBadRequest || out["error"] != "MissingCommandID" {
		t.Errorf("missing id: got %d %v", code, out)
	}
	if got := f.core.WalletBalance(who); got != 0 {
		t.Errorf("wallet: got %d, want 0", got)
	}
}

func TestHTTP_OrderAndWithdrawalSignedByParticipant(t *testing.T) {
	f := newFixture(t)
	f.openMarket(t)

	// Bob cannot spend alice's wallet.
	theft := f.orderBody(t, bobKey, marketID, domain.SideNo, 100)
	theft["participant"] = alice()
	if code, out := f.do(t, "POST", "/v1/markets/"+marketID.String()+"/orders", theft); code != http.StatusForbidden || out["error"] != "InvalidSignature" {
		t.Errorf("order for another wallet: got %d %v", code, out)
	}

	withdraw := func(s *auth.Signer, owner common.Address, amount uint64) map[string]any {
		id := uuid.New()
		return map[string]any{
			"withdrawal_id": id, "participant": owner.Hex(), "amount": amount,
			"signed_at": f.now, "signature": sign(t, s, auth.WithdrawalDigest(id, owner, common.Address{}, amount, f.now)),
		}
	}
	if code, out := f.do(t, "POST", "/v1/withdrawals", withdraw(bobKey, aliceKey.Address(), 700)); code != http.StatusForbidden {
		t.Errorf("withdraw for another wallet: got %d %v", code, out)
	}
	if code, out := f.do(t, "POST", "/v1/withdrawals", withdraw(aliceKey, aliceKey.Address(), 701)); code != http.StatusBadRequest || out["error"] != "InsufficientFunds" {
		t.Errorf("overdraw: got %d %v", code, out)
	}

	out := f.mustDo(t, "POST", "/v1/withdrawals", withdraw(aliceKey, aliceKey.Address(), 700))
	if note := out["notifications"].([]any)[0].(map[string]any); note["name"] != "FundsWithdrawn" {
		t.Errorf("notification: %v", note)
	}
	if got := f.core.WalletBalance(aliceKey.Address()); got != 0 {
		t.Errorf("alice wallet: got %d, want 0", got)
	}
}

func TestHTTP_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	f.openMarket(t)
	mkt := "/v1/markets/" + marketID.String()
	unknown := uuid.New()

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"unknown market", "POST", "/v1/markets/" + unknown.String() + "/orders",
			f.orderBody(t, aliceKey, unknown, domain.SideYes, 1), http.StatusNotFound, "MarketNotFound"},
		{"bad side", "POST", mkt + "/orders",
			`{"participant":"` + alice() + `","side":"MAYBE","amount":1}`, http.StatusBadRequest, "InvalidSide"},
		{"not the publisher", "POST", "/v1/prices",
			f.priceBody(t, bobKey, 1, 1), http.StatusForbidden, "Unauthorized"},
		{"not expired", "POST", mkt + "/resolve",
			map[string]any{"caller": bob()}, http.StatusBadRequest, "MarketNotExpired"},
		{"insufficient funds", "POST", mkt + "/orders",
			f.orderBody(t, aliceKey, marketID, domain.SideYes, 5_000), http.StatusBadRequest, "InsufficientFunds"},
		{"market exists", "POST", "/v1/markets",
			map[string]any{"market_id": marketID, "creator": alice(), "commodity": "MAIZE", "threshold_price": 1, "expiry_time": t0 + 100},
			http.StatusConflict, "MarketExists"},
		{"malformed market id", "GET", "/v1/markets/not-a-uuid", nil, http.StatusBadRequest, "InvalidArgument"},
		{"malformed body", "POST", "/v1/deposits", `{"amount":`, http.StatusBadRequest, "InvalidArgument"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, out := f.do(t, tc.method, tc.path, tc.body)
			if code != tc.wantStatus {
				t.Errorf("status: got %d, want %d (%v)", code, tc.wantStatus, out)
			}
			if out["error"] != tc.wantError {
				t.Errorf("error: got %v, want %s", out["error"], tc.wantError)
			}
			if msg, _ := out["message"].(string); msg == "" {
				t.Error("message missing")
			}
		})
	}
}

func TestHTTP_BridgeAndAdmin(t *testing.T) {
	f := newFixture(t)
	f.openMarket(t)

	sender := make([]byte, 32)
	copy(sender[12:], testutil.Bob.Bytes())
	relay := func(seq uint64, signer *auth.Signer) map[string]any {
		mid := marketID
		m := bridge.Message{Sequence: seq, Sender: bridge.SenderFromAddress(testutil.Bob), Amount: 250, MarketID: &mid, Side: domain.SideYes}
		return map[string]any{
			"emitter":   hexutil.Encode(make([]byte, 32)),
			"sequence":  seq,
			"sender":    hexutil.Encode(sender),
			"amount":    250,
			"market_id": marketID,
			"side":      "YES",
			"timestamp": t0 + 10,
			"signed_at": f.now,
			"signature": sign(t, signer, auth.BridgeDigest(m.Hash(), f.now)),
		}
	}
	msg := relay(1, operatorKey)

	if code, out := f.do(t, "POST", "/v1/bridge/messages", relay(1, bobKey)); code != http.StatusForbidden || out["error"] != "InvalidSignature" {
		t.Fatalf("relay not signed by the operator: got %d %v", code, out)
	}
	r := f.mustDo(t, "POST", "/v1/bridge/messages", msg)
	if r["deposited"] != true || r["staked"] != true {
		t.Fatalf("receipt: %v", r)
	}
	if r = f.mustDo(t, "POST", "/v1/bridge/messages", msg); r["duplicate"] != true {
		t.Errorf("redelivery: %v", r)
	}

	stats := f.mustDo(t, "POST", "/v1/admin/bridge/pause", map[string]any{"paused": true})
	if stats["paused"] != true || stats["total_bridged"] != float64(250) {
		t.Errorf("stats: %v", stats)
	}
	if code, out := f.do(t, "POST", "/v1/bridge/messages", relay(2, operatorKey)); code != http.StatusBadRequest || out["error"] != "BridgePaused" {
		t.Errorf("paused: got %d %v", code, out)
	}

	f.project(t)
	if report := f.mustDo(t, "GET", "/v1/admin/integrity", nil); report["is_healthy"] != true {
		t.Errorf("integrity: %v", report)
	}
	st := f.mustDo(t, "GET", "/v1/admin/status", nil)
	if st["markets"] != float64(1) || !strings.HasPrefix(st["state_hash"].(string), "0x") {
		t.Errorf("status: %v", st)
	}
	if snap := f.mustDo(t, "POST", "/v1/admin/snapshot", nil); snap["sequence"] != float64(f.core.GetSequence()-1) || f.snaps != 1 {
		t.Errorf("snapshot: %v (%d calls)", snap, f.snaps)
	}
}

func TestHTTP_Healthz(t *testing.T) {
	f := newFixture(t)
	if code, out := f.do(t, "GET", "/healthz", nil); code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("healthz: got %d %v", code, out)
	}
}

// ============================================================================
// gRPC surface
// ============================================================================

func dial(t *testing.T, f *fixture) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.srv.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func method(name string) string { return "/" + server.ServiceName + "/" + name }

func TestGRPC_CommandsAndErrors(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)
	ctx := context.Background()

	var created server.CommandResponse
	err := conn.Invoke(ctx, method("CreateMarket"), &server.CreateMarketRequest{
		Creator:        testutil.Alice,
		ThresholdPrice: 50_000,
		ExpiryTime:     t0 + 100,
		Commodity:      domain.MustCommodity("MAIZE"),
	}, &created)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	if !created.Applied || created.MarketID == nil || *created.MarketID == uuid.Nil {
		t.Fatalf("created: %+v", created)
	}

	var resolved server.CommandResponse
	err = conn.Invoke(ctx, method("ResolveMarket"), &server.ResolveMarketRequest{MarketID: *created.MarketID, Caller: testutil.Bob}, &resolved)
	st, _ := status.FromError(err)
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("resolve before expiry: got %v, want FailedPrecondition", err)
	}
	var info *errdetails.ErrorInfo
	for _, d := range st.Details() {
		if ei, ok := d.(*errdetails.ErrorInfo); ok {
			info = ei
		}
	}
	if info == nil || info.Reason != "MarketNotExpired" {
		t.Errorf("error info: got %v", info)
	}

	f.project(t)
	var m query.MarketResponse
	if err := conn.Invoke(ctx, method("GetMarket"), &server.MarketRequest{MarketID: *created.MarketID}, &m); err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.ThresholdPrice != 50_000 || m.State != query.MarketOpen {
		t.Errorf("market: %+v", m)
	}

	err = conn.Invoke(ctx, method("GetMarket"), &server.MarketRequest{MarketID: uuid.New()}, &m)
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown market: got %v, want NotFound", err)
	}
}

func TestGRPC_InternalErrorsAreOpaque(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	// No event log is configured, so journal history fails internally.
	var resp server.JournalResponse
	err := conn.Invoke(context.Background(), method("GetJournalHistory"), &server.JournalRequest{Owner: testutil.Alice}, &resp)
	st, _ := status.FromError(err)
	if st.Code() != codes.Internal || st.Message() != "internal error" {
		t.Errorf("got %v, want opaque internal error", err)
	}
}
