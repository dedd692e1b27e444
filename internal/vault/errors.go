package vault

import "errors"

// Category sentinels. Every operational error wraps exactly one of these so
// callers can classify failures with errors.Is without matching individual
// reasons.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrAllowance     = errors.New("allowance error")
	ErrArithmetic    = errors.New("arithmetic error")
)

var (
	// ValidationError reasons.
	ErrFeeTooHigh          = wrap("fee fraction exceeds 100%", ErrValidation)
	ErrZeroSeed            = wrap("initial seed deposit must be non-zero", ErrValidation)
	ErrZeroShares          = wrap("deposit rounds to zero shares", ErrValidation)
	ErrZeroAssets          = wrap("redeem rounds to zero assets", ErrValidation)
	ErrZeroAddress         = wrap("zero recipient address", ErrValidation)
	ErrZeroAmount          = wrap("missing or non-positive amount", ErrValidation)
	ErrFeeExceedsClaimable = wrap("amount exceeds claimable fees", ErrValidation)
	ErrRescueProtected     = wrap("cannot rescue the wrapped asset", ErrValidation)
	ErrAlreadyInitialized  = wrap("vault already initialized", ErrValidation)
	ErrNotInitialized      = wrap("vault not initialized", ErrValidation)

	// AuthorizationError reasons.
	ErrBadSignature    = wrap("recovered signer mismatch", ErrAuthorization)
	ErrDeadlineExpired = wrap("signature deadline expired", ErrAuthorization)
	ErrBadNonce        = wrap("signature nonce is not current", ErrAuthorization)

	// AllowanceError reasons.
	ErrInsufficientAllowance = wrap("insufficient share allowance", ErrAllowance)

	// ArithmeticError reasons.
	ErrBalanceDecreased   = wrap("external balance fell below last snapshot", ErrArithmetic)
	ErrBalanceUnderflow   = wrap("vault balance underflow", ErrArithmetic)
	ErrInsufficientShares = wrap("burn exceeds share balance", ErrArithmetic)
)

// wrap builds a named reason that errors.Is-matches both itself and its
// category sentinel.
func wrap(msg string, kind error) error {
	return &reason{msg: msg, kind: kind}
}

type reason struct {
	msg  string
	kind error
}

func (r *reason) Error() string { return r.msg }

func (r *reason) Unwrap() error { return r.kind }
