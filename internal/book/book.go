package book

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"poolPricer/internal/curve"
	"poolPricer/internal/model"
)

// ErrInvalidSnapshot signals recovery data that fails structural invariants.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Tick is one price boundary: the signed change to aggregate liquidity when
// the price crosses it moving upward. Upper records which side of a position
// created the entry.
type Tick struct {
	Index        int32
	LiquidityNet *big.Int
	Upper        bool
}

// Book is an immutable pool snapshot: tick boundaries strictly ascending by
// unique index, the current tick and aggregate liquidity, the fee rate, and
// the block the state is valid at. Projector transitions always allocate a
// new Book, so a snapshot can serve concurrent pricing calls without locking.
type Book struct {
	token0       string
	token1       string
	feePips      uint32
	currentTick  int32
	liquidity    *big.Int
	sqrtPriceX96 *big.Int
	block        uint64
	ticks        []Tick
}

// Token0 returns the pool's token0 address.
func (b *Book) Token0() string { return b.token0 }

// Token1 returns the pool's token1 address.
func (b *Book) Token1() string { return b.token1 }

// FeePips returns the swap fee in hundredths of a basis point.
func (b *Book) FeePips() uint32 { return b.feePips }

// CurrentTick returns the tick the current price lies in.
func (b *Book) CurrentTick() int32 { return b.currentTick }

// Liquidity returns the aggregate liquidity active at the current price.
func (b *Book) Liquidity() *big.Int { return new(big.Int).Set(b.liquidity) }

// SqrtPriceX96 returns the current Q64.96 sqrt price.
func (b *Book) SqrtPriceX96() *big.Int { return new(big.Int).Set(b.sqrtPriceX96) }

// Block returns the block number this snapshot is valid at.
func (b *Book) Block() uint64 { return b.block }

// TickCount returns the number of tick boundaries.
func (b *Book) TickCount() int { return len(b.ticks) }

// TickAt returns the tick at position i in ascending index order.
func (b *Book) TickAt(i int) Tick {
	t := b.ticks[i]
	t.LiquidityNet = new(big.Int).Set(t.LiquidityNet)
	return t
}

// FindTick returns the position of the tick with the given index, or the
// insertion position and false when absent.
func (b *Book) FindTick(index int32) (int, bool) {
	pos := sort.Search(len(b.ticks), func(i int) bool { return b.ticks[i].Index >= index })
	return pos, pos < len(b.ticks) && b.ticks[pos].Index == index
}

// NewBookFromSnapshot validates a wholesale snapshot and builds a Book from
// it. Ticks must be strictly ascending with unique indices and every index
// within the global tick bounds; anything else is ErrInvalidSnapshot.
func NewBookFromSnapshot(snap model.Snapshot) (*Book, error) {
	liquidity, err := snapshotAmount(snap.Liquidity, "liquidity")
	if err != nil {
		return nil, err
	}
	if snap.CurrentTick < curve.MinTick || snap.CurrentTick > curve.MaxTick {
		return nil, fmt.Errorf("%w: current tick %d", ErrInvalidSnapshot, snap.CurrentTick)
	}

	ticks := make([]Tick, 0, len(snap.Ticks))
	for i, st := range snap.Ticks {
		if st.TickIndex < curve.MinTick || st.TickIndex > curve.MaxTick {
			return nil, fmt.Errorf("%w: tick index %d", ErrInvalidSnapshot, st.TickIndex)
		}
		if i > 0 && st.TickIndex <= snap.Ticks[i-1].TickIndex {
			return nil, fmt.Errorf("%w: ticks not strictly ascending at index %d", ErrInvalidSnapshot, st.TickIndex)
		}
		net, ok := new(big.Int).SetString(st.LiquidityNet, 10)
		if !ok {
			return nil, fmt.Errorf("%w: liquidity net %q", ErrInvalidSnapshot, st.LiquidityNet)
		}
		if net.Sign() == 0 {
			// Zero-net boundaries carry no information; drop them on intake.
			continue
		}
		ticks = append(ticks, Tick{Index: st.TickIndex, LiquidityNet: net, Upper: st.Upper})
	}

	sqrtPrice, err := snapshotPrice(snap.SqrtPriceX96, snap.CurrentTick)
	if err != nil {
		return nil, err
	}

	return &Book{
		token0:       strings.ToLower(snap.Token0),
		token1:       strings.ToLower(snap.Token1),
		feePips:      snap.FeePips,
		currentTick:  snap.CurrentTick,
		liquidity:    liquidity,
		sqrtPriceX96: sqrtPrice,
		block:        snap.Block,
		ticks:        ticks,
	}, nil
}

// WithTokens returns a copy of the Book carrying the pool's token pair.
// Initialize events do not name the tokens, so the registry attaches them
// from pool metadata.
func (b *Book) WithTokens(token0, token1 string) *Book {
	next := *b
	next.token0 = strings.ToLower(token0)
	next.token1 = strings.ToLower(token1)
	return &next
}

// Snapshot converts the Book back into its wire representation.
func (b *Book) Snapshot(chainID uint64, poolAddress string) model.Snapshot {
	ticks := make([]model.SnapshotTick, 0, len(b.ticks))
	for _, t := range b.ticks {
		ticks = append(ticks, model.SnapshotTick{
			TickIndex:    t.Index,
			LiquidityNet: t.LiquidityNet.String(),
			Upper:        t.Upper,
		})
	}
	return model.Snapshot{
		ChainID:      chainID,
		PoolAddress:  poolAddress,
		Token0:       b.token0,
		Token1:       b.token1,
		FeePips:      b.feePips,
		CurrentTick:  b.currentTick,
		Liquidity:    b.liquidity.String(),
		SqrtPriceX96: b.sqrtPriceX96.String(),
		Block:        b.block,
		Ticks:        ticks,
	}
}

// liquidityAt returns the aggregate liquidity implied by summing tick deltas
// up to and including the given tick. Projection keeps the stored liquidity
// equal to liquidityAt(currentTick); tests assert it.
func (b *Book) liquidityAt(tick int32) *big.Int {
	sum := new(big.Int)
	for _, t := range b.ticks {
		if t.Index > tick {
			break
		}
		sum.Add(sum, t.LiquidityNet)
	}
	return sum
}

func snapshotAmount(value, field string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidSnapshot, field)
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidSnapshot, field, value)
	}
	return parsed, nil
}

func snapshotPrice(value string, currentTick int32) (*big.Int, error) {
	if value == "" {
		// Older snapshot sources omit the price; the tick pins it.
		price, err := curve.SqrtPriceAtTick(currentTick)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		return price, nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, fmt.Errorf("%w: sqrt price %q", ErrInvalidSnapshot, value)
	}
	return parsed, nil
}
