package domain

import "errors"

// Kind classifies a domain error for callers that map errors onto transport
// status codes. Every rejected operation leaves state untouched regardless of
// kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindArithmetic
	KindNotFound
	KindCustody
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindArithmetic:
		return "arithmetic"
	case KindNotFound:
		return "not_found"
	case KindCustody:
		return "custody"
	default:
		return "unknown"
	}
}

// Error is a static, caller-facing domain error. Reason never carries
// internal state.
type Error struct {
	Kind   Kind
	Code   string
	Reason string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Reason
}

func newErr(kind Kind, code, reason string) *Error {
	return &Error{Kind: kind, Code: code, Reason: reason}
}

// Validation errors.
var (
	ErrInvalidPrice         = newErr(KindValidation, "InvalidPrice", "price must be greater than 0")
	ErrInvalidConfidence    = newErr(KindValidation, "InvalidConfidence", "confidence must be between 1-100")
	ErrInvalidAmount        = newErr(KindValidation, "InvalidAmount", "amount must be greater than 0")
	ErrInvalidExpiryTime    = newErr(KindValidation, "InvalidExpiryTime", "expiry time must be in the future")
	ErrInvalidSide          = newErr(KindValidation, "InvalidSide", "side must be YES or NO")
	ErrTimestampRegression  = newErr(KindValidation, "TimestampRegression", "timestamp precedes the last applied timestamp")
	ErrInvalidParticipant   = newErr(KindValidation, "InvalidParticipant", "participant address must be non-zero")
	ErrInvalidCommodity     = newErr(KindValidation, "InvalidCommodity", "commodity id must be non-zero")
	ErrInvalidBridgeMessage = newErr(KindValidation, "InvalidBridgeMessage", "bridge message is malformed")
	ErrMissingCommandID     = newErr(KindValidation, "MissingCommandID", "signed commands must carry a command id")
)

// Authorization errors.
var (
	ErrUnauthorized     = newErr(KindAuthorization, "Unauthorized", "caller is not the registered publisher")
	ErrInvalidSignature = newErr(KindAuthorization, "InvalidSignature", "command is not signed by the required key")
	ErrSignatureExpired = newErr(KindAuthorization, "SignatureExpired", "signature timestamp is outside the accepted window")
	ErrOperatorDisabled = newErr(KindAuthorization, "OperatorDisabled", "no custody operator is configured")
)

// State errors.
var (
	ErrMarketResolved      = newErr(KindState, "MarketResolved", "market is already resolved")
	ErrMarketExpired       = newErr(KindState, "MarketExpired", "market has expired")
	ErrMarketNotExpired    = newErr(KindState, "MarketNotExpired", "market has not expired yet")
	ErrAlreadyResolved     = newErr(KindState, "AlreadyResolved", "market already resolved")
	ErrMarketNotResolved   = newErr(KindState, "MarketNotResolved", "market not resolved yet")
	ErrAlreadyClaimed      = newErr(KindState, "AlreadyClaimed", "winnings already claimed")
	ErrPriceNotInitialized = newErr(KindState, "PriceNotInitialized", "price not initialized for this commodity")
	ErrStaleOraclePrice    = newErr(KindState, "StaleOraclePrice", "oracle price is stale")
	ErrMarketExists        = newErr(KindState, "MarketExists", "market id already in use")
	ErrRefundUnavailable   = newErr(KindState, "RefundUnavailable", "market has winners; stakes are not refundable")
	ErrBridgePaused        = newErr(KindState, "BridgePaused", "bridge is paused")
)

// Arithmetic errors. Overflow fails closed.
var (
	ErrInvalidPool     = newErr(KindArithmetic, "InvalidPool", "winning pool is empty")
	ErrInvalidPayout   = newErr(KindArithmetic, "InvalidPayout", "payout rounds to zero")
	ErrNoWinningShares = newErr(KindArithmetic, "NoWinningShares", "no winning shares")
	ErrPayoutOverflow  = newErr(KindArithmetic, "PayoutOverflow", "payout exceeds representable range")
	ErrPoolOverflow    = newErr(KindArithmetic, "PoolOverflow", "pool total exceeds representable range")
	ErrNothingToRefund = newErr(KindArithmetic, "NothingToRefund", "no stake to refund")
)

// Lookup errors.
var (
	ErrMarketNotFound = newErr(KindNotFound, "MarketNotFound", "market does not exist")
)

// Custody errors.
var (
	ErrInsufficientFunds = newErr(KindCustody, "InsufficientFunds", "wallet balance cannot cover the debit")
	ErrAmountOutOfRange  = newErr(KindCustody, "AmountOutOfRange", "amount exceeds ledger range")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, or "" when err
// is not a domain error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
