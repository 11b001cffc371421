package pool

import "errors"

var (
	// ErrUnauthorized is returned when the caller fails an access-control check
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCurrency is returned for currency symbols missing from the registry
	ErrInvalidCurrency = errors.New("invalid currency")
	// ErrDuplicateKey is returned when an identifier is already taken
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInsufficientLiquidity is returned when open offers cannot cover a swap
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrDepositTooSmall is returned when an offer deposit is below the minimum
	ErrDepositTooSmall = errors.New("deposit below minimum")
	// ErrInvalidAmount is returned for non-positive swap amounts
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidIdentity is returned for empty role identities
	ErrInvalidIdentity = errors.New("identity required")
	// ErrNotFound is returned when an offer or swap does not exist
	ErrNotFound = errors.New("not found")
)
