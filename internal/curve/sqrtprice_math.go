package curve

import (
	"fmt"
	"math/big"
)

var (
	// Q96 is 2^96, the scaling factor of the Q64.96 sqrt price.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	// q96Resolution is the number of fractional bits in the Q64.96 format.
	q96Resolution = uint(96)

	bigOne = big.NewInt(1)
)

// NextSqrtPriceFromInput returns the sqrt price after adding amountIn of one
// token at constant liquidity. zeroForOne selects which token moves: token0
// input pushes the price down, token1 input pushes it up. Zero liquidity is
// ErrInsufficientLiquidity; an unrepresentable result is ErrOverflow.
func NextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96 == nil || sqrtPX96.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sqrt price must be positive", ErrOutOfRange)
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: next price at zero liquidity", ErrInsufficientLiquidity)
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative input amount", ErrOutOfRange)
	}

	if zeroForOne {
		return nextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the sqrt price after removing amountOut of
// one token at constant liquidity. zeroForOne is the trade direction as in
// NextSqrtPriceFromInput; the output token is the opposite side.
func NextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96 == nil || sqrtPX96.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sqrt price must be positive", ErrOutOfRange)
	}
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: next price at zero liquidity", ErrInsufficientLiquidity)
	}
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative output amount", ErrOutOfRange)
	}

	if zeroForOne {
		return nextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountOut, false)
}

// Amount0Delta returns the token0 amount between two sqrt prices at the given
// liquidity: L * 2^96 * (sqrtB - sqrtA) / (sqrtA * sqrtB).
func Amount0Delta(sqrtAX96, sqrtBX96, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtAX96.Cmp(sqrtBX96) > 0 {
		sqrtAX96, sqrtBX96 = sqrtBX96, sqrtAX96
	}
	if sqrtAX96.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sqrt price must be positive", ErrOutOfRange)
	}

	numerator1 := new(big.Int).Lsh(liquidity, q96Resolution)
	numerator2 := new(big.Int).Sub(sqrtBX96, sqrtAX96)

	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtBX96), sqrtAX96), nil
	}
	out := mulDiv(numerator1, numerator2, sqrtBX96)
	return out.Div(out, sqrtAX96), nil
}

// Amount1Delta returns the token1 amount between two sqrt prices at the given
// liquidity: L * (sqrtB - sqrtA) / 2^96.
func Amount1Delta(sqrtAX96, sqrtBX96, liquidity *big.Int, roundUp bool) *big.Int {
	if sqrtAX96.Cmp(sqrtBX96) > 0 {
		sqrtAX96, sqrtBX96 = sqrtBX96, sqrtAX96
	}

	diff := new(big.Int).Sub(sqrtBX96, sqrtAX96)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, Q96)
	}
	return mulDiv(liquidity, diff, Q96)
}

// nextSqrtPriceFromAmount0RoundingUp solves liquidity / (liquidity/sqrtP + amount)
// for an added (add=true) or removed (add=false) token0 amount. Rounds up so
// the pool never undercharges.
func nextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}

	numerator1 := new(big.Int).Lsh(liquidity, q96Resolution)
	product := new(big.Int).Mul(amount, sqrtPX96)

	if add {
		denominator := new(big.Int).Add(numerator1, product)
		return mulDivRoundingUp(numerator1, sqrtPX96, denominator), nil
	}

	if numerator1.Cmp(product) <= 0 {
		// Removing this much token0 would push the price past the
		// representable range.
		return nil, fmt.Errorf("%w: amount0 removal exceeds reserves", ErrOverflow)
	}
	denominator := new(big.Int).Sub(numerator1, product)
	next := mulDivRoundingUp(numerator1, sqrtPX96, denominator)
	if next.BitLen() > 160 {
		return nil, fmt.Errorf("%w: sqrt price exceeds 160 bits", ErrOverflow)
	}
	return next, nil
}

// nextSqrtPriceFromAmount1RoundingDown solves sqrtP +/- amount * 2^96 / liquidity.
// Rounds down so the pool never undercharges.
func nextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if add {
		quotient := mulDiv(amount, Q96, liquidity)
		next := new(big.Int).Add(sqrtPX96, quotient)
		if next.BitLen() > 160 {
			return nil, fmt.Errorf("%w: sqrt price exceeds 160 bits", ErrOverflow)
		}
		return next, nil
	}

	quotient := mulDivRoundingUp(amount, Q96, liquidity)
	if sqrtPX96.Cmp(quotient) <= 0 {
		return nil, fmt.Errorf("%w: amount1 removal exceeds reserves", ErrOverflow)
	}
	return new(big.Int).Sub(sqrtPX96, quotient), nil
}

func mulDiv(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Div(product, denominator)
}

func mulDivRoundingUp(a, b, denominator *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	out, rem := new(big.Int).DivMod(product, denominator, new(big.Int))
	if rem.Sign() > 0 {
		out.Add(out, bigOne)
	}
	return out
}

func divRoundingUp(a, b *big.Int) *big.Int {
	out, rem := new(big.Int).DivMod(a, b, new(big.Int))
	if rem.Sign() > 0 {
		out.Add(out, bigOne)
	}
	return out
}
