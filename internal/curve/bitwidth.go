package curve

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// msbThresholds are the shift amounts for the binary search over bit widths.
var msbThresholds = [8]uint{128, 64, 32, 16, 8, 4, 2, 1}

// HighestSetBit returns the 0-based index of the most significant set bit of x,
// so HighestSetBit(1) = 0 and HighestSetBit(2^128) = 128. x must satisfy
// 1 <= x <= 2^256-1; anything else is ErrOutOfRange, never a clamped result.
func HighestSetBit(x *big.Int) (uint, error) {
	if x == nil || x.Sign() <= 0 {
		return 0, fmt.Errorf("%w: highest set bit of non-positive value", ErrOutOfRange)
	}
	v, overflow := uint256.FromBig(x)
	if overflow {
		return 0, fmt.Errorf("%w: value exceeds 256 bits", ErrOutOfRange)
	}

	work := new(uint256.Int).Set(v)
	var msb uint
	for _, shift := range msbThresholds {
		threshold := new(uint256.Int).Lsh(uint256.NewInt(1), shift)
		if work.Cmp(threshold) >= 0 {
			work.Rsh(work, shift)
			msb += shift
		}
	}
	return msb, nil
}
