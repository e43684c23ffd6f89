package curve

import (
	"fmt"
	"math/big"
)

// feeDenominator expresses fee rates in hundredths of a basis point (pips).
var feeDenominator = big.NewInt(1_000_000)

// SwapStep is the outcome of one bounded execution step between the current
// price and a target boundary.
type SwapStep struct {
	// SqrtPriceNextX96 is where the price lands: the target for a full step,
	// short of it for a partial one.
	SqrtPriceNextX96 *big.Int
	// AmountIn is the input consumed by this step, excluding the fee.
	AmountIn *big.Int
	// AmountOut is the output produced by this step.
	AmountOut *big.Int
	// FeeAmount is the fee charged on top of AmountIn.
	FeeAmount *big.Int
}

// ComputeSwapStep executes a single swap step against constant liquidity.
// Direction is inferred from the target price relative to the current one.
// amountRemaining is always non-negative; exactIn selects whether it is input
// still to spend (fee withheld up front) or output still owed (fee added on
// top of the computed input). The returned price never crosses the target and
// no amount is ever negative.
func ComputeSwapStep(sqrtPCurrentX96, sqrtPTargetX96, liquidity, amountRemaining *big.Int, feePips uint32, exactIn bool) (SwapStep, error) {
	if liquidity == nil || liquidity.Sign() == 0 {
		return SwapStep{}, fmt.Errorf("%w: swap step at zero liquidity", ErrNoLiquidity)
	}
	if liquidity.Sign() < 0 {
		return SwapStep{}, fmt.Errorf("%w: negative liquidity", ErrOutOfRange)
	}
	if amountRemaining == nil || amountRemaining.Sign() < 0 {
		return SwapStep{}, fmt.Errorf("%w: remaining amount must be non-negative", ErrOutOfRange)
	}
	if uint64(feePips) >= feeDenominator.Uint64() {
		return SwapStep{}, fmt.Errorf("%w: fee %d pips", ErrOutOfRange, feePips)
	}

	zeroForOne := sqrtPCurrentX96.Cmp(sqrtPTargetX96) >= 0
	fee := big.NewInt(int64(feePips))
	feeComplement := new(big.Int).Sub(feeDenominator, fee)

	var (
		next      *big.Int
		amountIn  *big.Int
		amountOut *big.Int
		err       error
	)

	if exactIn {
		remainingLessFee := mulDiv(amountRemaining, feeComplement, feeDenominator)
		if zeroForOne {
			amountIn, err = Amount0Delta(sqrtPTargetX96, sqrtPCurrentX96, liquidity, true)
		} else {
			amountIn = Amount1Delta(sqrtPCurrentX96, sqrtPTargetX96, liquidity, true)
		}
		if err != nil {
			return SwapStep{}, err
		}
		if remainingLessFee.Cmp(amountIn) >= 0 {
			next = new(big.Int).Set(sqrtPTargetX96)
		} else {
			next, err = NextSqrtPriceFromInput(sqrtPCurrentX96, liquidity, remainingLessFee, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	} else {
		if zeroForOne {
			amountOut = Amount1Delta(sqrtPTargetX96, sqrtPCurrentX96, liquidity, false)
		} else {
			amountOut, err = Amount0Delta(sqrtPCurrentX96, sqrtPTargetX96, liquidity, false)
			if err != nil {
				return SwapStep{}, err
			}
		}
		if amountRemaining.Cmp(amountOut) >= 0 {
			next = new(big.Int).Set(sqrtPTargetX96)
		} else {
			next, err = NextSqrtPriceFromOutput(sqrtPCurrentX96, liquidity, amountRemaining, zeroForOne)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	full := next.Cmp(sqrtPTargetX96) == 0

	// Recompute the side not pinned by the step mode from the actual price move.
	if zeroForOne {
		if !(full && exactIn) {
			amountIn, err = Amount0Delta(next, sqrtPCurrentX96, liquidity, true)
			if err != nil {
				return SwapStep{}, err
			}
		}
		if !(full && !exactIn) {
			amountOut = Amount1Delta(next, sqrtPCurrentX96, liquidity, false)
		}
	} else {
		if !(full && exactIn) {
			amountIn = Amount1Delta(sqrtPCurrentX96, next, liquidity, true)
		}
		if !(full && !exactIn) {
			amountOut, err = Amount0Delta(sqrtPCurrentX96, next, liquidity, false)
			if err != nil {
				return SwapStep{}, err
			}
		}
	}

	// Rounding must never hand out more than the caller asked for.
	if !exactIn && amountOut.Cmp(amountRemaining) > 0 {
		amountOut = new(big.Int).Set(amountRemaining)
	}

	feeAmount := new(big.Int)
	if exactIn && !full {
		// Partial step consumes the whole remaining amount; whatever the
		// price move did not absorb is the fee.
		feeAmount.Sub(amountRemaining, amountIn)
	} else {
		feeAmount.Set(mulDivRoundingUp(amountIn, fee, feeComplement))
	}

	return SwapStep{
		SqrtPriceNextX96: next,
		AmountIn:         amountIn,
		AmountOut:        amountOut,
		FeeAmount:        feeAmount,
	}, nil
}
