package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeForKind maps a domain error kind onto a gRPC code.
func codeForKind(k domain.Kind) codes.Code {
	switch k {
	case domain.KindValidation:
		return codes.InvalidArgument
	case domain.KindAuthorization:
		return codes.PermissionDenied
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindState, domain.KindArithmetic, domain.KindCustody:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// errorDomain tags the ErrorInfo detail attached to domain errors.
const errorDomain = "predictledger"

// toStatus converts err into a gRPC status error. Domain errors carry their
// code and static reason, plus an ErrorInfo detail with the code; anything
// else is reported as an opaque internal error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var de *domain.Error
	if !errors.As(err, &de) {
		return status.Error(codes.Internal, "internal error")
	}
	code := codeForKind(de.Kind)
	if errors.Is(err, domain.ErrMarketExists) {
		code = codes.AlreadyExists
	}
	st := status.New(code, de.Code+": "+de.Reason)
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: de.Code, Domain: errorDomain}); derr == nil {
		st = detailed
	}
	return st.Err()
}

// domainCode extracts the domain code attached by toStatus.
func domainCode(st *status.Status) (string, bool) {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.Domain == errorDomain {
			return info.Reason, true
		}
	}
	return "", false
}

func unavailable(what string) error {
	return status.Errorf(codes.Unavailable, "%s not configured", what)
}

// publicMessage is the caller-facing text of err.
func publicMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Code + ": " + de.Reason
	}
	return "internal error"
}

func notifications(ns []event.Notification) ([]Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	out := make([]Notification, 0, len(ns))
	for _, n := range ns {
		payload, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", n.Name(), err)
		}
		out = append(out, Notification{Name: n.Name(), Scope: n.Scope(), Payload: payload})
	}
	return out, nil
}

// httpError is the JSON error body of the HTTP surface.
type httpError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError renders err as {"error","message"} with the HTTP status that
// corresponds to its gRPC code.
func writeError(w http.ResponseWriter, err error) {
	st, _ := status.FromError(toStatus(err))
	body := httpError{Error: st.Code().String(), Message: st.Message()}
	if code, ok := domainCode(st); ok {
		body.Error = code
		if _, reason, found := strings.Cut(st.Message(), ": "); found {
			body.Message = reason
		}
	}
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
