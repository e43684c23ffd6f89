package book

import (
	"errors"
	"math/big"
	"testing"

	"poolPricer/internal/curve"
	"poolPricer/internal/model"
)

func meta(block uint64) model.EventMeta {
	return model.EventMeta{BlockNumber: block, TxHash: "0xabc", LogIndex: 0, Timestamp: 1700000000}
}

func initializedBook(t *testing.T, tick int32, fee uint32) *Book {
	t.Helper()
	b, err := Apply(nil, model.InitializeEvent{EventMeta: meta(100), Tick: tick, FeePips: fee})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return b
}

func TestApplyInitialize(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	if b.CurrentTick() != 0 {
		t.Fatalf("tick = %d", b.CurrentTick())
	}
	if b.FeePips() != 3000 {
		t.Fatalf("fee = %d", b.FeePips())
	}
	if b.Liquidity().Sign() != 0 {
		t.Fatalf("fresh pool has liquidity %s", b.Liquidity())
	}
	if b.Block() != 100 {
		t.Fatalf("block = %d", b.Block())
	}

	// No price in the event: derived from the tick.
	want, err := curve.SqrtPriceAtTick(0)
	if err != nil {
		t.Fatalf("price at tick 0: %v", err)
	}
	if b.SqrtPriceX96().Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", b.SqrtPriceX96(), want)
	}
}

func TestApplyInitializeRejections(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	// Double initialize.
	if _, err := Apply(b, model.InitializeEvent{EventMeta: meta(101), Tick: 5, FeePips: 3000}); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("double initialize: expected ErrMalformedEvent, got %v", err)
	}

	// Tick out of bounds.
	if _, err := Apply(nil, model.InitializeEvent{EventMeta: meta(101), Tick: curve.MaxTick + 1, FeePips: 3000}); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("tick out of bounds: expected ErrMalformedEvent, got %v", err)
	}

	// Fee at the denominator.
	if _, err := Apply(nil, model.InitializeEvent{EventMeta: meta(101), Tick: 0, FeePips: 1_000_000}); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("fee too high: expected ErrMalformedEvent, got %v", err)
	}
}

func TestApplyMintInRange(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	amount := big.NewInt(1_000_000)
	next, err := Apply(b, model.MintEvent{EventMeta: meta(101), BottomTick: -100, TopTick: 100, Amount: amount})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if next.Liquidity().Cmp(amount) != 0 {
		t.Fatalf("active liquidity = %s, want %s", next.Liquidity(), amount)
	}
	if next.TickCount() != 2 {
		t.Fatalf("tick count = %d", next.TickCount())
	}

	bottom := next.TickAt(0)
	top := next.TickAt(1)
	if bottom.Index != -100 || bottom.LiquidityNet.Cmp(amount) != 0 || bottom.Upper {
		t.Fatalf("bottom entry: %+v", bottom)
	}
	if top.Index != 100 || top.LiquidityNet.Cmp(new(big.Int).Neg(amount)) != 0 || !top.Upper {
		t.Fatalf("top entry: %+v", top)
	}

	// Sum of deltas up to the current tick matches stored liquidity.
	if next.liquidityAt(next.CurrentTick()).Cmp(next.Liquidity()) != 0 {
		t.Fatalf("tick deltas inconsistent with stored liquidity")
	}

	// The previous snapshot is untouched.
	if b.TickCount() != 0 || b.Liquidity().Sign() != 0 {
		t.Fatalf("previous snapshot mutated")
	}
}

func TestApplyMintOutOfRange(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	next, err := Apply(b, model.MintEvent{EventMeta: meta(101), BottomTick: 200, TopTick: 300, Amount: big.NewInt(500)})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if next.Liquidity().Sign() != 0 {
		t.Fatalf("out-of-range mint changed active liquidity: %s", next.Liquidity())
	}
	if next.TickCount() != 2 {
		t.Fatalf("tick count = %d", next.TickCount())
	}
}

func TestApplyBurnReversesMint(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	amount := big.NewInt(1_000_000)
	minted, err := Apply(b, model.MintEvent{EventMeta: meta(101), BottomTick: -100, TopTick: 100, Amount: amount})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	burned, err := Apply(minted, model.BurnEvent{EventMeta: meta(102), BottomTick: -100, TopTick: 100, Amount: amount})
	if err != nil {
		t.Fatalf("burn: %v", err)
	}

	if burned.Liquidity().Sign() != 0 {
		t.Fatalf("liquidity after full burn: %s", burned.Liquidity())
	}
	// Exact-zero nets are removed outright.
	if burned.TickCount() != 0 {
		t.Fatalf("tick entries left after full burn: %d", burned.TickCount())
	}
}

func TestApplyBurnExceedsLiquidity(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	minted, err := Apply(b, model.MintEvent{EventMeta: meta(101), BottomTick: -100, TopTick: 100, Amount: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err = Apply(minted, model.BurnEvent{EventMeta: meta(102), BottomTick: -100, TopTick: 100, Amount: big.NewInt(2000)})
	if !errors.Is(err, curve.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}

	// The failed burn left no partial tick update behind.
	if minted.TickCount() != 2 || minted.Liquidity().Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("failed burn mutated the snapshot")
	}
}

func TestApplyPositionEventRejections(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	cases := []struct {
		name string
		ev   model.PoolEvent
	}{
		{"inverted range", model.MintEvent{EventMeta: meta(101), BottomTick: 100, TopTick: -100, Amount: big.NewInt(1)}},
		{"empty range", model.MintEvent{EventMeta: meta(101), BottomTick: 50, TopTick: 50, Amount: big.NewInt(1)}},
		{"below bounds", model.MintEvent{EventMeta: meta(101), BottomTick: curve.MinTick - 1, TopTick: 0, Amount: big.NewInt(1)}},
		{"negative amount", model.BurnEvent{EventMeta: meta(101), BottomTick: -10, TopTick: 10, Amount: big.NewInt(-5)}},
		{"nil amount", model.MintEvent{EventMeta: meta(101), BottomTick: -10, TopTick: 10, Amount: nil}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Apply(b, tc.ev); !errors.Is(err, model.ErrMalformedEvent) {
				t.Fatalf("expected ErrMalformedEvent, got %v", err)
			}
		})
	}

	// Any non-initialize event on an uninitialized pool is malformed.
	if _, err := Apply(nil, model.MintEvent{EventMeta: meta(101), BottomTick: -10, TopTick: 10, Amount: big.NewInt(1)}); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("mint on nil book: expected ErrMalformedEvent, got %v", err)
	}
	if _, err := Apply(nil, model.SwapEvent{EventMeta: meta(101), Tick: 0, Liquidity: big.NewInt(1)}); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("swap on nil book: expected ErrMalformedEvent, got %v", err)
	}
}

func TestApplySwap(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	minted, err := Apply(b, model.MintEvent{EventMeta: meta(101), BottomTick: -100, TopTick: 100, Amount: big.NewInt(1_000_000)})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	price, err := curve.SqrtPriceAtTick(-50)
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	swapped, err := Apply(minted, model.SwapEvent{
		EventMeta:    meta(102),
		Tick:         -50,
		Liquidity:    big.NewInt(1_000_000),
		SqrtPriceX96: price,
	})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	if swapped.CurrentTick() != -50 {
		t.Fatalf("tick = %d", swapped.CurrentTick())
	}
	if swapped.SqrtPriceX96().Cmp(price) != 0 {
		t.Fatalf("price not taken from the event")
	}
	if swapped.Block() != 102 {
		t.Fatalf("block = %d", swapped.Block())
	}
	// Tick boundaries are untouched by swaps.
	if swapped.TickCount() != minted.TickCount() {
		t.Fatalf("swap changed tick entries")
	}
}

func TestApplyChangeFee(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	next, err := Apply(b, model.ChangeFeeEvent{EventMeta: meta(101), FeePips: 500})
	if err != nil {
		t.Fatalf("change fee: %v", err)
	}
	if next.FeePips() != 500 {
		t.Fatalf("fee = %d", next.FeePips())
	}
	if b.FeePips() != 3000 {
		t.Fatalf("previous snapshot mutated")
	}

	if _, err := Apply(b, model.ChangeFeeEvent{EventMeta: meta(101), FeePips: 1_000_000}); !errors.Is(err, model.ErrMalformedEvent) {
		t.Fatalf("fee at denominator: expected ErrMalformedEvent, got %v", err)
	}
}

func TestUpsertTickOverlap(t *testing.T) {
	b := initializedBook(t, 0, 3000)

	// Two positions sharing a boundary accumulate their nets.
	first, err := Apply(b, model.MintEvent{EventMeta: meta(101), BottomTick: -100, TopTick: 100, Amount: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	second, err := Apply(first, model.MintEvent{EventMeta: meta(102), BottomTick: 100, TopTick: 200, Amount: big.NewInt(400)})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	pos, ok := second.FindTick(100)
	if !ok {
		t.Fatalf("shared boundary missing")
	}
	// -1000 from the first position's top, +400 from the second's bottom.
	if second.TickAt(pos).LiquidityNet.Cmp(big.NewInt(-600)) != 0 {
		t.Fatalf("shared boundary net = %s, want -600", second.TickAt(pos).LiquidityNet)
	}

	// Ticks stay strictly ascending.
	for i := 1; i < second.TickCount(); i++ {
		if second.TickAt(i).Index <= second.TickAt(i-1).Index {
			t.Fatalf("ticks out of order at %d", i)
		}
	}
}
