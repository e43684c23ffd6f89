package curve

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick index the Q64.96 price representation supports.
	MinTick int32 = -887272
	// MaxTick is the highest tick index the Q64.96 price representation supports.
	MaxTick int32 = 887272
)

var (
	// MinSqrtPrice is SqrtPriceAtTick(MinTick).
	MinSqrtPrice = big.NewInt(4295128739)
	// MaxSqrtPrice is SqrtPriceAtTick(MaxTick).
	MaxSqrtPrice = mustBigDec("1461446703485210103287273052203988822378723970342")
)

var (
	one128     = mustU256("0x100000000000000000000000000000000")
	maskLow32  = mustU256("0xffffffff")
	maxUint256 = mustU256("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

	// sqrtRatios[i] is sqrt(1.0001)^(2^i) as a Q128.128 value. The ladder lets
	// SqrtPriceAtTick compose sqrt(1.0001)^|tick| from the set bits of |tick|.
	sqrtRatios = [20]*uint256.Int{
		mustU256("0xfffcb933bd6fad37aa2d162d1a594001"),
		mustU256("0xfff97272373d413259a46990580e213a"),
		mustU256("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		mustU256("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		mustU256("0xffcb9843d60f6159c9db58835c926644"),
		mustU256("0xff973b41fa98c081472e6896dfb254c0"),
		mustU256("0xff2ea16466c96a3843ec78b326b52861"),
		mustU256("0xfe5dee046a99a2a811c461f1969c3053"),
		mustU256("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		mustU256("0xf987a7253ac413176f2b074cf7815e54"),
		mustU256("0xf3392b0822b70005940c7a398e4b70f3"),
		mustU256("0xe7159475a2c29b7443b29c7fa6e889d9"),
		mustU256("0xd097f3bdfd2022b8845ad8f792aa5825"),
		mustU256("0xa9f746462d870fdf8a65dc1f90e061e5"),
		mustU256("0x70d869a156d2a1b890bb3df62baf32f7"),
		mustU256("0x31be135f97d08fd981231505542fcfa6"),
		mustU256("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		mustU256("0x5d6af8dedb81196699c329225ee604"),
		mustU256("0x2216e584f5fa1ea926041bedfe98"),
		mustU256("0x48a170391f7dc42444e8fa2"),
	}

	logSqrt10001Magic = mustU256("0x3627a301d71055774c85")
	tickLowMagic      = mustU256("0x28f6481ab7f045a5af012a19d003aaa")
	tickHighMagic     = mustU256("0xdb2df09e81959a81455e260799a0632f")
)

// SqrtPriceAtTick returns sqrt(1.0001^tick) * 2^96 as a Q64.96 value.
// Ticks outside [MinTick, MaxTick] are ErrOutOfRange; the bounds exist so the
// result never overflows 160 bits.
func SqrtPriceAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: tick %d", ErrOutOfRange, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatios[0])
	} else {
		ratio.Set(one128)
	}
	for bit := 1; bit < len(sqrtRatios); bit++ {
		if absTick&(1<<uint(bit)) != 0 {
			ratio.Mul(ratio, sqrtRatios[bit])
			ratio.Rsh(ratio, 128)
		}
	}

	// The ladder computes sqrt(1.0001)^-|tick|; invert for positive ticks.
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Q128.128 down to Q64.96, rounding up so the round trip through
	// TickAtSqrtPrice lands on the same tick.
	rem := new(uint256.Int).And(ratio, maskLow32)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.Add(ratio, uint256.NewInt(1))
	}
	return ratio.ToBig(), nil
}

// TickAtSqrtPrice returns the greatest tick t such that
// SqrtPriceAtTick(t) <= sqrtPriceX96. Prices outside
// [MinSqrtPrice, MaxSqrtPrice) are ErrOutOfRange.
func TickAtSqrtPrice(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtPrice) < 0 || sqrtPriceX96.Cmp(MaxSqrtPrice) >= 0 {
		return 0, fmt.Errorf("%w: sqrt price %v", ErrOutOfRange, sqrtPriceX96)
	}

	price, overflow := uint256.FromBig(sqrtPriceX96)
	if overflow {
		return 0, fmt.Errorf("%w: sqrt price exceeds 256 bits", ErrOutOfRange)
	}

	// Work in Q128.128 and seed the log2 estimate from the highest set bit.
	x128 := new(uint256.Int).Lsh(price, 32)
	msb, err := HighestSetBit(x128.ToBig())
	if err != nil {
		return 0, err
	}

	r := new(uint256.Int)
	if msb >= 128 {
		r.Rsh(x128, msb-127)
	} else {
		r.Lsh(x128, 127-msb)
	}

	// log2 as a signed Q64.64; refine 14 fractional bits by repeated squaring.
	log2 := new(uint256.Int).Lsh(
		new(uint256.Int).Sub(uint256.NewInt(uint64(msb)), uint256.NewInt(128)), 64)
	for i := uint(0); i < 14; i++ {
		r.Mul(r, r)
		r.Rsh(r, 127)
		f := new(uint256.Int).Rsh(r, 128)
		log2.Or(log2, new(uint256.Int).Lsh(f, 63-i))
		r.Rsh(r, uint(f.Uint64()))
	}

	// Change of base from log2 to log_sqrt(1.0001), then bracket the candidate
	// ticks and pick by direct comparison against SqrtPriceAtTick.
	logSqrt10001 := new(uint256.Int).Mul(log2, logSqrt10001Magic)

	tickLow := int32(int64(new(uint256.Int).SRsh(
		new(uint256.Int).Sub(logSqrt10001, tickLowMagic), 128).Uint64()))
	tickHigh := int32(int64(new(uint256.Int).SRsh(
		new(uint256.Int).Add(logSqrt10001, tickHighMagic), 128).Uint64()))

	if tickLow == tickHigh {
		return tickLow, nil
	}

	highPrice, err := SqrtPriceAtTick(tickHigh)
	if err != nil {
		return 0, err
	}
	if highPrice.Cmp(sqrtPriceX96) <= 0 {
		return tickHigh, nil
	}
	return tickLow, nil
}

func mustU256(hex string) *uint256.Int {
	v, err := uint256.FromHex(hex)
	if err != nil {
		panic(err)
	}
	return v
}

func mustBigDec(dec string) *big.Int {
	v, ok := new(big.Int).SetString(dec, 10)
	if !ok {
		panic("invalid decimal constant: " + dec)
	}
	return v
}
