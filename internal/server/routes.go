package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// binder fills request fields from path and query parameters after the body
// has been decoded.
type binder[Req any] func(r *http.Request, params map[string]string, req *Req) error

func handle[Req any, Resp any](svc *LedgerService, call func(*LedgerService, context.Context, *Req) (*Resp, error), bind binder[Req]) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if r.Method == http.MethodPost {
			if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
				writeError(w, decodeError(err))
				return
			}
		}
		if bind != nil {
			if err := bind(r, params, req); err != nil {
				writeError(w, err)
				return
			}
		}
		resp, err := call(svc, r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func registerRoutes(mux *runtime.ServeMux, svc *LedgerService) error {
	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		// Oracle
		{"POST", "/v1/prices", handle(svc, (*LedgerService).PublishPrice, nil)},
		{"GET", "/v1/prices", handle(svc, (*LedgerService).ListPrices, nil)},
		{"GET", "/v1/prices/{commodity}", handle(svc, (*LedgerService).GetPrice, func(_ *http.Request, p map[string]string, req *PriceRequest) (err error) {
			req.Commodity, err = commodityParam(p["commodity"])
			return err
		})},

		// Markets
		{"POST", "/v1/markets", handle(svc, (*LedgerService).CreateMarket, nil)},
		{"GET", "/v1/markets", handle(svc, (*LedgerService).ListMarkets, bindListMarkets)},
		{"GET", "/v1/markets/{market_id}", handle(svc, (*LedgerService).GetMarket, func(_ *http.Request, p map[string]string, req *MarketRequest) (err error) {
			req.MarketID, err = marketParam(p)
			return err
		})},
		{"GET", "/v1/markets/{market_id}/positions", handle(svc, (*LedgerService).GetMarketPositions, func(_ *http.Request, p map[string]string, req *MarketRequest) (err error) {
			req.MarketID, err = marketParam(p)
			return err
		})},
		{"POST", "/v1/markets/{market_id}/orders", handle(svc, (*LedgerService).BuyShares, func(_ *http.Request, p map[string]string, req *BuySharesRequest) (err error) {
			req.MarketID, err = marketParam(p)
			return err
		})},
		{"POST", "/v1/markets/{market_id}/resolve", handle(svc, (*LedgerService).ResolveMarket, func(_ *http.Request, p map[string]string, req *ResolveMarketRequest) (err error) {
			req.MarketID, err = marketParam(p)
			return err
		})},
		{"POST", "/v1/markets/{market_id}/claim", handle(svc, (*LedgerService).ClaimWinnings, bindClaim)},
		{"POST", "/v1/markets/{market_id}/refund", handle(svc, (*LedgerService).ClaimRefund, bindClaim)},

		// Custody
		{"POST", "/v1/deposits", handle(svc, (*LedgerService).Deposit, nil)},
		{"POST", "/v1/withdrawals", handle(svc, (*LedgerService).Withdraw, nil)},
		{"GET", "/v1/participants/{owner}/balance", handle(svc, (*LedgerService).GetBalance, bindOwner)},
		{"GET", "/v1/participants/{owner}/positions", handle(svc, (*LedgerService).GetPositions, bindOwner)},
		{"GET", "/v1/participants/{owner}/journal", handle(svc, (*LedgerService).GetJournalHistory, bindJournal)},

		// Bridge
		{"POST", "/v1/bridge/messages", handle(svc, (*LedgerService).ReceiveBridgeMessage, nil)},

		// Admin
		{"POST", "/v1/admin/bridge/pause", handle(svc, (*LedgerService).SetBridgePaused, nil)},
		{"GET", "/v1/admin/integrity", handle(svc, (*LedgerService).VerifyIntegrity, nil)},
		{"POST", "/v1/admin/snapshot", handle(svc, (*LedgerService).TakeSnapshot, nil)},
		{"GET", "/v1/admin/status", handle(svc, (*LedgerService).GetStatus, nil)},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return err
		}
	}
	return nil
}

func bindListMarkets(r *http.Request, _ map[string]string, req *ListMarketsRequest) error {
	q := r.URL.Query()
	if c := q.Get("commodity"); c != "" {
		id, err := commodityParam(c)
		if err != nil {
			return err
		}
		req.Commodity = &id
	}
	req.State = q.Get("state")
	return nil
}

func bindClaim(_ *http.Request, p map[string]string, req *ClaimRequest) (err error) {
	req.MarketID, err = marketParam(p)
	return err
}

func bindOwner(_ *http.Request, p map[string]string, req *OwnerRequest) (err error) {
	req.Owner, err = ownerParam(p)
	return err
}

func bindJournal(r *http.Request, p map[string]string, req *JournalRequest) (err error) {
	if req.Owner, err = ownerParam(p); err != nil {
		return err
	}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			return status.Error(codes.InvalidArgument, "invalid limit")
		}
	}
	if v := q.Get("before"); v != "" {
		before, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return status.Error(codes.InvalidArgument, "invalid before")
		}
		req.BeforeSequence = &before
	}
	return nil
}

func marketParam(p map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(p["market_id"])
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, "invalid market_id")
	}
	return id, nil
}

func ownerParam(p map[string]string) (common.Address, error) {
	s := p["owner"]
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Error(codes.InvalidArgument, "invalid owner")
	}
	return common.HexToAddress(s), nil
}

func commodityParam(s string) (domain.CommodityID, error) {
	id, err := domain.ParseCommodityID(s)
	if err != nil {
		return domain.CommodityID{}, status.Error(codes.InvalidArgument, "invalid commodity")
	}
	return id, nil
}
