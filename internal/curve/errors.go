package curve

import "errors"

var (
	// ErrOutOfRange signals a tick, bit position, or price outside its valid domain.
	ErrOutOfRange = errors.New("out of range")
	// ErrOverflow signals fixed-point arithmetic that would exceed the representable width.
	ErrOverflow = errors.New("fixed-point overflow")
	// ErrNoLiquidity signals a swap step requested at zero liquidity.
	ErrNoLiquidity = errors.New("no liquidity")
	// ErrInsufficientLiquidity signals a price move that cannot be satisfied by current liquidity.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)
