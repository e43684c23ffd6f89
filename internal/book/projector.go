package book

import (
	"fmt"
	"math/big"

	"poolPricer/internal/curve"
	"poolPricer/internal/model"
)

// Apply projects one decoded pool event onto the previous snapshot and
// returns the next one. prev is never mutated; prev == nil means the pool has
// not been initialized yet, so only an InitializeEvent is valid. Events whose
// payload violates the book's invariants are model.ErrMalformedEvent, leaving
// the previous snapshot in force.
func Apply(prev *Book, ev model.PoolEvent) (*Book, error) {
	switch e := ev.(type) {
	case model.InitializeEvent:
		return applyInitialize(prev, e)
	case model.MintEvent:
		return applyMint(prev, e)
	case model.BurnEvent:
		return applyBurn(prev, e)
	case model.SwapEvent:
		return applySwap(prev, e)
	case model.ChangeFeeEvent:
		return applyChangeFee(prev, e)
	default:
		return nil, fmt.Errorf("%w: unhandled event %T", model.ErrMalformedEvent, ev)
	}
}

func applyInitialize(prev *Book, ev model.InitializeEvent) (*Book, error) {
	if prev != nil {
		return nil, fmt.Errorf("%w: initialize on an initialized pool", model.ErrMalformedEvent)
	}
	if ev.Tick < curve.MinTick || ev.Tick > curve.MaxTick {
		return nil, fmt.Errorf("%w: initialize tick %d", model.ErrMalformedEvent, ev.Tick)
	}
	if ev.FeePips >= 1_000_000 {
		return nil, fmt.Errorf("%w: fee %d pips", model.ErrMalformedEvent, ev.FeePips)
	}

	price := ev.SqrtPriceX96
	if price == nil || price.Sign() <= 0 {
		derived, err := curve.SqrtPriceAtTick(ev.Tick)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
		}
		price = derived
	}

	return &Book{
		feePips:      ev.FeePips,
		currentTick:  ev.Tick,
		liquidity:    new(big.Int),
		sqrtPriceX96: new(big.Int).Set(price),
		block:        ev.BlockNumber,
		ticks:        nil,
	}, nil
}

func applyMint(prev *Book, ev model.MintEvent) (*Book, error) {
	if err := checkPositionEvent(prev, ev.BottomTick, ev.TopTick, ev.Amount); err != nil {
		return nil, err
	}

	next := prev.clone(ev.BlockNumber)
	if ev.Amount.Sign() == 0 {
		return next, nil
	}

	neg := new(big.Int).Neg(ev.Amount)
	next.ticks = upsertTick(next.ticks, ev.BottomTick, ev.Amount, false)
	next.ticks = upsertTick(next.ticks, ev.TopTick, neg, true)

	// Liquidity minted around the current price is active immediately.
	if ev.BottomTick <= next.currentTick && next.currentTick < ev.TopTick {
		next.liquidity = new(big.Int).Add(next.liquidity, ev.Amount)
	}
	return next, nil
}

func applyBurn(prev *Book, ev model.BurnEvent) (*Book, error) {
	if err := checkPositionEvent(prev, ev.BottomTick, ev.TopTick, ev.Amount); err != nil {
		return nil, err
	}

	next := prev.clone(ev.BlockNumber)
	if ev.Amount.Sign() == 0 {
		return next, nil
	}

	if ev.BottomTick <= next.currentTick && next.currentTick < ev.TopTick {
		if next.liquidity.Cmp(ev.Amount) < 0 {
			return nil, fmt.Errorf("%w: burn %s exceeds active liquidity %s",
				curve.ErrInsufficientLiquidity, ev.Amount, next.liquidity)
		}
		next.liquidity = new(big.Int).Sub(next.liquidity, ev.Amount)
	}

	neg := new(big.Int).Neg(ev.Amount)
	next.ticks = upsertTick(next.ticks, ev.BottomTick, neg, false)
	next.ticks = upsertTick(next.ticks, ev.TopTick, ev.Amount, true)
	return next, nil
}

func applySwap(prev *Book, ev model.SwapEvent) (*Book, error) {
	if prev == nil {
		return nil, fmt.Errorf("%w: swap on an uninitialized pool", model.ErrMalformedEvent)
	}
	if ev.Tick < curve.MinTick || ev.Tick > curve.MaxTick {
		return nil, fmt.Errorf("%w: swap tick %d", model.ErrMalformedEvent, ev.Tick)
	}
	if ev.Liquidity == nil || ev.Liquidity.Sign() < 0 {
		return nil, fmt.Errorf("%w: swap liquidity", model.ErrMalformedEvent)
	}

	// The event is authoritative post-trade state; the chain already applied
	// every tick crossing, so never re-derive from tick deltas.
	next := prev.clone(ev.BlockNumber)
	next.currentTick = ev.Tick
	next.liquidity = new(big.Int).Set(ev.Liquidity)
	if ev.SqrtPriceX96 != nil && ev.SqrtPriceX96.Sign() > 0 {
		next.sqrtPriceX96 = new(big.Int).Set(ev.SqrtPriceX96)
	} else {
		price, err := curve.SqrtPriceAtTick(ev.Tick)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrMalformedEvent, err)
		}
		next.sqrtPriceX96 = price
	}
	return next, nil
}

func applyChangeFee(prev *Book, ev model.ChangeFeeEvent) (*Book, error) {
	if prev == nil {
		return nil, fmt.Errorf("%w: fee change on an uninitialized pool", model.ErrMalformedEvent)
	}
	if ev.FeePips >= 1_000_000 {
		return nil, fmt.Errorf("%w: fee %d pips", model.ErrMalformedEvent, ev.FeePips)
	}
	next := prev.clone(ev.BlockNumber)
	next.feePips = ev.FeePips
	return next, nil
}

func checkPositionEvent(prev *Book, bottom, top int32, amount *big.Int) error {
	if prev == nil {
		return fmt.Errorf("%w: position change on an uninitialized pool", model.ErrMalformedEvent)
	}
	if bottom >= top {
		return fmt.Errorf("%w: tick range [%d, %d)", model.ErrMalformedEvent, bottom, top)
	}
	if bottom < curve.MinTick || top > curve.MaxTick {
		return fmt.Errorf("%w: tick range [%d, %d) out of bounds", model.ErrMalformedEvent, bottom, top)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative liquidity amount", model.ErrMalformedEvent)
	}
	return nil
}

// clone copies the book shell for a copy-on-write transition. The tick slice
// is shared until upsertTick replaces it.
func (b *Book) clone(block uint64) *Book {
	next := *b
	next.block = block
	return &next
}

// upsertTick accumulates delta into the boundary at index, inserting a new
// entry or dropping one whose net reaches exactly zero. The input slice is
// never mutated; the result is always a fresh slice.
func upsertTick(ticks []Tick, index int32, delta *big.Int, upper bool) []Tick {
	pos := 0
	for pos < len(ticks) && ticks[pos].Index < index {
		pos++
	}

	if pos < len(ticks) && ticks[pos].Index == index {
		net := new(big.Int).Add(ticks[pos].LiquidityNet, delta)
		if net.Sign() == 0 {
			out := make([]Tick, 0, len(ticks)-1)
			out = append(out, ticks[:pos]...)
			out = append(out, ticks[pos+1:]...)
			return out
		}
		out := make([]Tick, len(ticks))
		copy(out, ticks)
		out[pos].LiquidityNet = net
		return out
	}

	if delta.Sign() == 0 {
		out := make([]Tick, len(ticks))
		copy(out, ticks)
		return out
	}

	out := make([]Tick, 0, len(ticks)+1)
	out = append(out, ticks[:pos]...)
	out = append(out, Tick{Index: index, LiquidityNet: new(big.Int).Set(delta), Upper: upper})
	out = append(out, ticks[pos:]...)
	return out
}
