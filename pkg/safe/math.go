// Package safe provides int64 arithmetic that panics instead of silently
// wrapping. Money and quantity math goes through these helpers; a wrapped
// balance is a corrupted book, and halting beats trading on garbage.
package safe

import (
	"math"
	"math/bits"
)

// SafeAdd returns a+b, panicking on overflow.
func SafeAdd(a, b int64) int64 {
	sum := a + b
	// Same-sign operands wrapping flip the sign of the result.
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return sum
}

// SafeSub returns a-b, panicking on overflow.
func SafeSub(a, b int64) int64 {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return diff
}

// SafeMul returns a*b, panicking on overflow. The product is formed as a
// 128-bit magnitude so every overflowing pair is caught, including the
// asymmetric MinInt64 edge.
func SafeMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	neg := (a < 0) != (b < 0)

	hi, lo := bits.Mul64(absU64(a), absU64(b))
	limit := uint64(math.MaxInt64)
	if neg {
		limit++ // |MinInt64| = MaxInt64 + 1
	}
	if hi != 0 || lo > limit {
		panic("CORE_SAFE_MUL_OVERFLOW")
	}
	if neg {
		return -int64(lo)
	}
	return int64(lo)
}

// SafeDiv returns a/b, panicking on division by zero and on the single
// overflowing quotient MinInt64/-1.
func SafeDiv(a, b int64) int64 {
	if b == 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	if a == math.MinInt64 && b == -1 {
		panic("CORE_SAFE_DIV_OVERFLOW")
	}
	return a / b
}

func absU64(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
