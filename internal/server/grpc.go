package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "predictledger.v1.LedgerService"

// jsonCodec carries LedgerService messages as JSON. Clients select it with
// the "json" content subtype; health and reflection keep protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ============================================================================
// Service descriptor
// ============================================================================

func unary[Req any, Resp any](method string, call func(*LedgerService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, decodeError(err)
			}
			s := srv.(*LedgerService)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary("PublishPrice", (*LedgerService).PublishPrice),
		unary("CreateMarket", (*LedgerService).CreateMarket),
		unary("Deposit", (*LedgerService).Deposit),
		unary("Withdraw", (*LedgerService).Withdraw),
		unary("BuyShares", (*LedgerService).BuyShares),
		unary("ResolveMarket", (*LedgerService).ResolveMarket),
		unary("ClaimWinnings", (*LedgerService).ClaimWinnings),
		unary("ClaimRefund", (*LedgerService).ClaimRefund),
		unary("GetMarket", (*LedgerService).GetMarket),
		unary("ListMarkets", (*LedgerService).ListMarkets),
		unary("GetPrice", (*LedgerService).GetPrice),
		unary("ListPrices", (*LedgerService).ListPrices),
		unary("GetMarketPositions", (*LedgerService).GetMarketPositions),
		unary("GetPositions", (*LedgerService).GetPositions),
		unary("GetBalance", (*LedgerService).GetBalance),
		unary("GetJournalHistory", (*LedgerService).GetJournalHistory),
		unary("ReceiveBridgeMessage", (*LedgerService).ReceiveBridgeMessage),
		unary("SetBridgePaused", (*LedgerService).SetBridgePaused),
		unary("VerifyIntegrity", (*LedgerService).VerifyIntegrity),
		unary("TakeSnapshot", (*LedgerService).TakeSnapshot),
		unary("GetStatus", (*LedgerService).GetStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "predictledger/v1/ledger.json",
}

// decodeError keeps domain validation failures raised while decoding (an
// unknown side, a malformed commodity) and reports the rest as bad input.
func decodeError(err error) error {
	if domain.KindOf(err) != domain.KindUnknown {
		return toStatus(err)
	}
	return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
}

// ============================================================================
// Server
// ============================================================================

// GRPCServer serves LedgerService over gRPC and HTTP/JSON.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	service       *LedgerService
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

func NewGRPCServer(grpcAddr, httpAddr string, service *LedgerService, hc *observability.HealthChecker, logger zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ledgerServiceDesc, service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		service:       service,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: hc,
		logger:        logger,
	}
}

// StartGRPC serves gRPC until ctx is done.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.Serve(ctx, lis)
}

// Serve serves gRPC on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the HTTP/JSON API and health endpoints until ctx is done.
func (s *GRPCServer) StartHTTP(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the HTTP surface: the JSON API on a gateway mux plus the
// health endpoints.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := registerRoutes(mux, s.service); err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}
