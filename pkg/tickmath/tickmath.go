// Package tickmath implements the pure, deterministic V3 concentrated-liquidity
// math: tick/sqrt-price conversion, liquidity/amount conversion, and tick-spacing
// alignment. No I/O, no allocation beyond big.Int/big.Float.
//
// Grounded on the canonical Uniswap V3 core TickMath.sol / periphery
// LiquidityAmounts.sol bit-shift ladder; pkg/util's wrapper names delegate
// here.
package tickmath

import (
	"fmt"
	"math"
	"math/big"
)

const (
	// MinTick and MaxTick bound the domain of valid ticks.
	MinTick = -887272
	MaxTick = 887272
)

// Q96 is 2^96, the fixed-point scale of a sqrt-price.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// AlignMode selects which direction alignToSpacing rounds toward.
type AlignMode int

const (
	Floor AlignMode = iota
	Ceil
)

// Error is returned for out-of-domain or malformed tick ranges.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("tickmath: %s: %s", e.Kind, e.Msg) }

func invalidTickRange(msg string) error {
	return &Error{Kind: "InvalidTickRange", Msg: msg}
}

var ladderRatios = [19]string{
	"fffcb933bd6fad37aa2d162d1a594001",
	"fff97272373d413259a46990580e213a",
	"fff2e50f5f656932ef12357cf3c7fdcc",
	"ffe5caca7e10e4e61c3624eaa0941cd0",
	"ffcb9843d60f6159c9db58835c926644",
	"ff973b41fa98c081472e6896dfb254c0",
	"ff2ea16466c96a3843ec78b326b52861",
	"fe5dee046a99a2a811c461f1969c3053",
	"fcbe86c7900a88aedcffc83b479aa3a4",
	"f987a7253ac413176f2b074cf7815e54",
	"f3392b0822b70005940c7a398e4b70f3",
	"e7159475a2c29b7443b29c7fa6e889d9",
	"d097f3bdfd2022b8845ad8f792aa5825",
	"a9f746462d870fdf8a65dc1f90e061e5",
	"70d869a156d2a1b890bb3df62baf32f7",
	"31be135f97d08fd981231505542fcfa6",
	"09aa508b5b7a84e1c677de54f3e99bc9",
	"05d6af8dedb81196699c329225ee604",
	"02216e584f5fa1ea926041bedfe98",
}

var ladder [19]*big.Int

func init() {
	for i, s := range ladderRatios {
		v, ok := new(big.Int).SetString(s, 16)
		if !ok {
			panic("tickmath: bad ladder constant")
		}
		ladder[i] = v
	}
}

// SqrtRatioAtTick computes sqrt(1.0001^tick) * 2^96 using the canonical
// bit-shift ladder (ported from Uniswap V3's TickMath.sol). The ladder yields
// the ratio for -|tick|; positive ticks are handled by inverting that result.
func SqrtRatioAtTick(tick int) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, invalidTickRange(fmt.Sprintf("tick %d out of domain [%d,%d]", tick, MinTick, MaxTick))
	}

	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	var ratio *big.Int
	if absTick&0x1 != 0 {
		ratio = new(big.Int).Set(ladder[0])
	} else {
		ratio = new(big.Int).Lsh(big.NewInt(1), 128)
	}

	masks := [18]int{0x2, 0x4, 0x8, 0x10, 0x20, 0x40, 0x80, 0x100, 0x200,
		0x400, 0x800, 0x1000, 0x2000, 0x4000, 0x8000, 0x10000, 0x20000, 0x40000}

	for i, mask := range masks {
		if absTick&mask != 0 {
			ratio.Mul(ratio, ladder[i+1])
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		maxU256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
		ratio = new(big.Int).Div(maxU256, ratio)
	}

	// Q128.128 -> Q128.96, rounding up.
	shifted := new(big.Int).Rsh(ratio, 32)
	rem := new(big.Int).Mod(ratio, new(big.Int).Lsh(big.NewInt(1), 32))
	if rem.Sign() != 0 {
		shifted.Add(shifted, big.NewInt(1))
	}
	return shifted, nil
}

// TickAtSqrtRatio approximates the tick for a given sqrt-price via
// round(log(p)/log(1.0001)). Diagnostic only.
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) int {
	price := new(big.Float).Quo(
		new(big.Float).SetInt(sqrtPriceX96),
		new(big.Float).SetInt(Q96),
	)
	priceF, _ := price.Float64()
	if priceF <= 0 {
		return MinTick
	}
	logPrice := math.Log(priceF * priceF)
	tick := logPrice / math.Log(1.0001)
	return int(math.Round(tick))
}

func normalizeBand(sqrtA, sqrtB *big.Int) (*big.Int, *big.Int) {
	if sqrtA.Cmp(sqrtB) > 0 {
		return sqrtB, sqrtA
	}
	return sqrtA, sqrtB
}

// GetAmountsForLiquidity returns the (amount0, amount1) a given liquidity L
// occupies at current price sqrtX within band [sqrtA, sqrtB] (unordered on
// input; normalized internally).
func GetAmountsForLiquidity(sqrtX, sqrtA, sqrtB, liquidity *big.Int) (amount0, amount1 *big.Int) {
	sqrtA, sqrtB = normalizeBand(sqrtA, sqrtB)

	switch {
	case sqrtX.Cmp(sqrtA) <= 0:
		return amount0ForLiquidity(sqrtA, sqrtB, liquidity), big.NewInt(0)
	case sqrtX.Cmp(sqrtB) < 0:
		return amount0ForLiquidity(sqrtX, sqrtB, liquidity), amount1ForLiquidity(sqrtA, sqrtX, liquidity)
	default:
		return big.NewInt(0), amount1ForLiquidity(sqrtA, sqrtB, liquidity)
	}
}

func amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	sqrtA, sqrtB = normalizeBand(sqrtA, sqrtB)
	if sqrtA.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Lsh(liquidity, 96)
	numerator.Mul(numerator, new(big.Int).Sub(sqrtB, sqrtA))
	numerator.Div(numerator, sqrtB)
	return numerator.Div(numerator, sqrtA)
}

func amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	sqrtA, sqrtB = normalizeBand(sqrtA, sqrtB)
	out := new(big.Int).Mul(liquidity, new(big.Int).Sub(sqrtB, sqrtA))
	return out.Div(out, Q96)
}

// GetLiquidityForAmount0 returns the liquidity that consumes exactly amount0
// of the band's token0 side.
func GetLiquidityForAmount0(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	sqrtA, sqrtB = normalizeBand(sqrtA, sqrtB)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() == 0 {
		return big.NewInt(0)
	}
	intermediate := new(big.Int).Mul(sqrtA, sqrtB)
	intermediate.Div(intermediate, Q96)
	l := new(big.Int).Mul(amount0, intermediate)
	return l.Div(l, diff)
}

// GetLiquidityForAmount1 returns the liquidity that consumes exactly amount1
// of the band's token1 side.
func GetLiquidityForAmount1(sqrtA, sqrtB, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = normalizeBand(sqrtA, sqrtB)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() == 0 {
		return big.NewInt(0)
	}
	l := new(big.Int).Mul(amount1, Q96)
	return l.Div(l, diff)
}

// GetLiquidityForAmounts picks the binding side: below the band only amount0
// matters, above only amount1, inside the minimum of the two candidates.
func GetLiquidityForAmounts(sqrtX, sqrtA, sqrtB, amount0, amount1 *big.Int) *big.Int {
	sqrtA, sqrtB = normalizeBand(sqrtA, sqrtB)

	switch {
	case sqrtX.Cmp(sqrtA) <= 0:
		return GetLiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtX.Cmp(sqrtB) < 0:
		l0 := GetLiquidityForAmount0(sqrtX, sqrtB, amount0)
		l1 := GetLiquidityForAmount1(sqrtA, sqrtX, amount1)
		if l0.Cmp(l1) < 0 {
			return l0
		}
		return l1
	default:
		return GetLiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

// AlignToSpacing rounds tick to the nearest multiple of spacing in the
// direction given by mode.
func AlignToSpacing(tick, spacing int, mode AlignMode) int {
	if spacing <= 0 {
		return tick
	}
	q := tick / spacing
	r := tick % spacing
	if r == 0 {
		return tick
	}
	switch mode {
	case Floor:
		if tick < 0 {
			return (q - 1) * spacing
		}
		return q * spacing
	default: // Ceil
		if tick < 0 {
			return q * spacing
		}
		return (q + 1) * spacing
	}
}

var feeTierSpacing = map[int]int{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

// TickSpacingForFee returns the fixed tick-spacing for a supported fee tier.
func TickSpacingForFee(fee int) (int, error) {
	spacing, ok := feeTierSpacing[fee]
	if !ok {
		return 0, invalidTickRange(fmt.Sprintf("unsupported fee tier %d", fee))
	}
	return spacing, nil
}

// ValidateRange rejects a band whose bounds are out of order or out of
// domain.
func ValidateRange(tickLower, tickUpper int) error {
	if tickLower >= tickUpper {
		return invalidTickRange(fmt.Sprintf("tickLower %d >= tickUpper %d", tickLower, tickUpper))
	}
	if tickLower < MinTick || tickUpper > MaxTick {
		return invalidTickRange(fmt.Sprintf("band [%d,%d] exceeds domain [%d,%d]", tickLower, tickUpper, MinTick, MaxTick))
	}
	return nil
}
