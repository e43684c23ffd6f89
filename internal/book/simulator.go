package book

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"poolPricer/internal/curve"
)

// SwapResult is the outcome of a simulated trade: the computed counter-amount
// and the pool state the trade would leave behind. The raw amount is the
// contract; callers wanting a unit price derive it themselves.
type SwapResult struct {
	// Amount is the output produced (exact-input) or the input required
	// including fees (exact-output).
	Amount *big.Int
	// SqrtPriceX96, Tick, and Liquidity describe the end state of the walk.
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int
}

// QuoteResult is one entry of a batch pricing call. Entries fail
// independently; Err set means Amount is nil.
type QuoteResult struct {
	Amount *big.Int
	Err    error
}

// SimulateExactInput walks the book tick by tick and returns the output
// amount produced by spending exactly amountIn. zeroForOne means token0 in,
// token1 out (price moves down). The book is read-only throughout; a trade
// that cannot be filled within the modeled range is
// curve.ErrInsufficientLiquidity.
func SimulateExactInput(b *Book, amountIn *big.Int, zeroForOne bool) (SwapResult, error) {
	return simulate(b, amountIn, zeroForOne, true)
}

// SimulateExactOutput walks the book tick by tick and returns the input
// amount (fees included) required to produce exactly amountOut.
func SimulateExactOutput(b *Book, amountOut *big.Int, zeroForOne bool) (SwapResult, error) {
	return simulate(b, amountOut, zeroForOne, false)
}

func simulate(b *Book, amount *big.Int, zeroForOne, exactIn bool) (SwapResult, error) {
	if b == nil {
		return SwapResult{}, fmt.Errorf("%w: nil book", curve.ErrInsufficientLiquidity)
	}
	if amount == nil || amount.Sign() <= 0 {
		return SwapResult{}, fmt.Errorf("%w: amount must be positive", curve.ErrOutOfRange)
	}

	remaining := new(big.Int).Set(amount)
	accumulated := new(big.Int)
	sqrtPrice := b.SqrtPriceX96()
	tick := b.currentTick
	liquidity := b.Liquidity()

	// Each iteration either exhausts the remaining amount or crosses one
	// boundary, so the walk is bounded by the tick count.
	maxSteps := len(b.ticks) + 1
	for step := 0; step < maxSteps && remaining.Sign() > 0; step++ {
		nextPos, ok := b.nextBoundary(tick, zeroForOne)
		if !ok {
			// No boundary left in the trade direction; the range ends at the
			// global tick bound.
			if liquidity.Sign() == 0 {
				return SwapResult{}, fmt.Errorf("%w: no liquidity beyond tick %d",
					curve.ErrInsufficientLiquidity, tick)
			}
			limit := curve.MaxTick
			if zeroForOne {
				limit = curve.MinTick
			}
			targetPrice, err := curve.SqrtPriceAtTick(limit)
			if err != nil {
				return SwapResult{}, err
			}
			consumed, err := applyStep(b, &sqrtPrice, liquidity, remaining, accumulated, targetPrice, exactIn)
			if err != nil {
				return SwapResult{}, err
			}
			if !consumed {
				return SwapResult{}, fmt.Errorf("%w: range exhausted at tick %d",
					curve.ErrInsufficientLiquidity, limit)
			}
			// The price moved inside the outermost range; pin the tick to it.
			tick, err = curve.TickAtSqrtPrice(sqrtPrice)
			if err != nil {
				return SwapResult{}, err
			}
			break
		}

		boundary := b.ticks[nextPos]
		targetPrice, err := curve.SqrtPriceAtTick(boundary.Index)
		if err != nil {
			return SwapResult{}, err
		}

		if liquidity.Sign() == 0 {
			// Nothing to trade against in this range; hop straight to the
			// boundary instead of dividing by zero in the stepper.
			sqrtPrice = targetPrice
			liquidity, tick = crossTick(liquidity, boundary, zeroForOne)
			continue
		}

		consumed, err := applyStep(b, &sqrtPrice, liquidity, remaining, accumulated, targetPrice, exactIn)
		if err != nil {
			return SwapResult{}, err
		}

		if sqrtPrice.Cmp(targetPrice) == 0 {
			liquidity, tick = crossTick(liquidity, boundary, zeroForOne)
		} else if !consumed {
			return SwapResult{}, fmt.Errorf("%w: step made no progress at tick %d",
				curve.ErrInsufficientLiquidity, tick)
		} else {
			// Stopped inside the range; pin the tick to the final price.
			tick, err = curve.TickAtSqrtPrice(sqrtPrice)
			if err != nil {
				return SwapResult{}, err
			}
		}
	}

	if remaining.Sign() > 0 {
		return SwapResult{}, fmt.Errorf("%w: %s of %s unfilled",
			curve.ErrInsufficientLiquidity, remaining, amount)
	}

	return SwapResult{
		Amount:       accumulated,
		SqrtPriceX96: sqrtPrice,
		Tick:         tick,
		Liquidity:    liquidity,
	}, nil
}

// applyStep runs one swap step toward targetPrice, updating the price,
// remaining, and accumulated totals in place. It reports whether the step
// consumed any of the remaining amount.
func applyStep(b *Book, sqrtPrice **big.Int, liquidity, remaining, accumulated, targetPrice *big.Int, exactIn bool) (bool, error) {
	step, err := curve.ComputeSwapStep(*sqrtPrice, targetPrice, liquidity, remaining, b.feePips, exactIn)
	if err != nil {
		return false, err
	}
	*sqrtPrice = step.SqrtPriceNextX96

	if exactIn {
		spent := new(big.Int).Add(step.AmountIn, step.FeeAmount)
		if spent.Cmp(remaining) > 0 {
			spent.Set(remaining)
		}
		remaining.Sub(remaining, spent)
		accumulated.Add(accumulated, step.AmountOut)
		return spent.Sign() > 0 || step.AmountOut.Sign() > 0, nil
	}

	remaining.Sub(remaining, step.AmountOut)
	accumulated.Add(accumulated, step.AmountIn)
	accumulated.Add(accumulated, step.FeeAmount)
	return step.AmountOut.Sign() > 0, nil
}

// nextBoundary returns the position of the next tick in the trade direction:
// moving down, the greatest tick with index <= current; moving up, the
// smallest with index > current.
func (b *Book) nextBoundary(currentTick int32, zeroForOne bool) (int, bool) {
	if zeroForOne {
		pos := sort.Search(len(b.ticks), func(i int) bool { return b.ticks[i].Index > currentTick })
		if pos == 0 {
			return 0, false
		}
		return pos - 1, true
	}
	pos := sort.Search(len(b.ticks), func(i int) bool { return b.ticks[i].Index > currentTick })
	if pos == len(b.ticks) {
		return 0, false
	}
	return pos, true
}

// crossTick applies a boundary's liquidity delta for the trade direction and
// returns the liquidity and tick after the crossing. Downward crossings apply
// the negated delta; liquidity clamps at zero rather than going negative on
// inconsistent state.
func crossTick(liquidity *big.Int, boundary Tick, zeroForOne bool) (*big.Int, int32) {
	delta := boundary.LiquidityNet
	if zeroForOne {
		delta = new(big.Int).Neg(delta)
	}
	next := new(big.Int).Add(liquidity, delta)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	if zeroForOne {
		return next, boundary.Index - 1
	}
	return next, boundary.Index
}

// PriceSell prices a batch of exact-input trades selling tokenIn into the
// pool. Entries are independent: a failure on one does not abort the others.
func PriceSell(b *Book, tokenIn string, amountsIn []*big.Int) ([]QuoteResult, error) {
	zeroForOne, err := directionFor(b, tokenIn)
	if err != nil {
		return nil, err
	}
	results := make([]QuoteResult, len(amountsIn))
	for i, amountIn := range amountsIn {
		res, err := SimulateExactInput(b, amountIn, zeroForOne)
		if err != nil {
			results[i] = QuoteResult{Err: err}
			continue
		}
		results[i] = QuoteResult{Amount: res.Amount}
	}
	return results, nil
}

// PriceBuy prices a batch of exact-output trades buying tokenOut from the
// pool, returning the required input per entry.
func PriceBuy(b *Book, tokenOut string, amountsOut []*big.Int) ([]QuoteResult, error) {
	outZeroForOne, err := directionFor(b, tokenOut)
	if err != nil {
		return nil, err
	}
	// Buying tokenOut means the opposite token flows in.
	zeroForOne := !outZeroForOne
	results := make([]QuoteResult, len(amountsOut))
	for i, amountOut := range amountsOut {
		res, err := SimulateExactOutput(b, amountOut, zeroForOne)
		if err != nil {
			results[i] = QuoteResult{Err: err}
			continue
		}
		results[i] = QuoteResult{Amount: res.Amount}
	}
	return results, nil
}

func directionFor(b *Book, token string) (bool, error) {
	switch strings.ToLower(token) {
	case b.token0:
		return true, nil
	case b.token1:
		return false, nil
	default:
		return false, fmt.Errorf("token %s is not in pair %s/%s", token, b.token0, b.token1)
	}
}
