package curve

import (
	"errors"
	"math/big"
	"testing"
)

func TestNextSqrtPriceFromInput(t *testing.T) {
	price := new(big.Int).Set(Q96)
	liquidity := big.NewInt(1000)
	amount := big.NewInt(1000)

	// token1 in pushes the price up by amount * 2^96 / liquidity.
	up, err := NextSqrtPriceFromInput(price, liquidity, amount, false)
	if err != nil {
		t.Fatalf("next price up: %v", err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 97)
	if up.Cmp(want) != 0 {
		t.Fatalf("next price up = %s, want %s", up, want)
	}

	// token0 in pushes the price down to L*2^96*P / (L*2^96 + amount*P).
	down, err := NextSqrtPriceFromInput(price, liquidity, amount, true)
	if err != nil {
		t.Fatalf("next price down: %v", err)
	}
	want = new(big.Int).Lsh(big.NewInt(1), 95)
	if down.Cmp(want) != 0 {
		t.Fatalf("next price down = %s, want %s", down, want)
	}

	// Zero input leaves the price unchanged.
	same, err := NextSqrtPriceFromInput(price, liquidity, big.NewInt(0), true)
	if err != nil {
		t.Fatalf("next price zero amount: %v", err)
	}
	if same.Cmp(price) != 0 {
		t.Fatalf("zero input moved the price: %s", same)
	}
}

func TestNextSqrtPriceFromInputErrors(t *testing.T) {
	price := new(big.Int).Set(Q96)

	if _, err := NextSqrtPriceFromInput(price, big.NewInt(0), big.NewInt(1), true); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("zero liquidity: expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := NextSqrtPriceFromInput(big.NewInt(0), big.NewInt(1), big.NewInt(1), true); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("zero price: expected ErrOutOfRange, got %v", err)
	}
	if _, err := NextSqrtPriceFromInput(price, big.NewInt(1), big.NewInt(-1), true); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("negative amount: expected ErrOutOfRange, got %v", err)
	}
}

func TestNextSqrtPriceFromOutput(t *testing.T) {
	price := new(big.Int).Set(Q96)
	liquidity := big.NewInt(1000)

	// Taking token1 out moves the price down.
	down, err := NextSqrtPriceFromOutput(price, liquidity, big.NewInt(500), true)
	if err != nil {
		t.Fatalf("next price down: %v", err)
	}
	if down.Cmp(price) >= 0 {
		t.Fatalf("output of token1 did not reduce the price: %s", down)
	}

	// Taking out more token1 than the range holds is an overflow.
	if _, err := NextSqrtPriceFromOutput(price, liquidity, big.NewInt(1001), true); !errors.Is(err, ErrOverflow) {
		t.Fatalf("excess output: expected ErrOverflow, got %v", err)
	}

	if _, err := NextSqrtPriceFromOutput(price, big.NewInt(0), big.NewInt(1), true); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("zero liquidity: expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestAmountDeltas(t *testing.T) {
	a := new(big.Int).Set(Q96)
	b := new(big.Int).Lsh(big.NewInt(1), 97)
	liquidity := big.NewInt(1000)

	amount1 := Amount1Delta(a, b, liquidity, false)
	if amount1.String() != "1000" {
		t.Fatalf("amount1 = %s, want 1000", amount1)
	}

	amount0, err := Amount0Delta(a, b, liquidity, false)
	if err != nil {
		t.Fatalf("amount0: %v", err)
	}
	if amount0.String() != "500" {
		t.Fatalf("amount0 = %s, want 500", amount0)
	}

	// Argument order must not matter.
	swapped, err := Amount0Delta(b, a, liquidity, false)
	if err != nil {
		t.Fatalf("amount0 swapped: %v", err)
	}
	if swapped.Cmp(amount0) != 0 {
		t.Fatalf("amount0 order dependent: %s vs %s", swapped, amount0)
	}

	// Rounding up never returns less than rounding down.
	roundedUp, err := Amount0Delta(a, b, liquidity, true)
	if err != nil {
		t.Fatalf("amount0 round up: %v", err)
	}
	if roundedUp.Cmp(amount0) < 0 {
		t.Fatalf("round up below round down: %s < %s", roundedUp, amount0)
	}
}
