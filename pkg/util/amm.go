// Package util provides the helper API (tick/price conversion, ABI loading,
// gas accounting) that the rest of the codebase and its tests call by these
// names. The tick and liquidity helpers delegate to pkg/tickmath, which holds
// the canonical V3 math.
package util

import (
	"math/big"

	"github.com/blackholelabs/lpstrategy/pkg/tickmath"
)

// TickToSqrtPriceX96 is a panic-free convenience wrapper around
// tickmath.SqrtRatioAtTick for callers that already know the tick is in
// domain (pool reads, not user input).
func TickToSqrtPriceX96(tick int) *big.Int {
	sqrtPrice, err := tickmath.SqrtRatioAtTick(tick)
	if err != nil {
		return big.NewInt(0)
	}
	return sqrtPrice
}

// ComputeAmounts picks (amount0, amount1, liquidity) for the largest position
// that fits within amount0Max/amount1Max at the given price and band.
func ComputeAmounts(sqrtPriceX96 *big.Int, tick, tickLower, tickUpper int, amount0Max, amount1Max *big.Int) (*big.Int, *big.Int, *big.Int) {
	sqrtA := TickToSqrtPriceX96(tickLower)
	sqrtB := TickToSqrtPriceX96(tickUpper)

	liquidity := tickmath.GetLiquidityForAmounts(sqrtPriceX96, sqrtA, sqrtB, amount0Max, amount1Max)
	amount0, amount1 := tickmath.GetAmountsForLiquidity(sqrtPriceX96, sqrtA, sqrtB, liquidity)
	return amount0, amount1, liquidity
}

// CalculateTokenAmountsFromLiquidity returns the (amount0, amount1) a known
// liquidity value occupies at sqrtPriceX96 within [tickLower, tickUpper].
func CalculateTokenAmountsFromLiquidity(liquidity, sqrtPriceX96 *big.Int, tickLower, tickUpper int32) (*big.Int, *big.Int, error) {
	if err := tickmath.ValidateRange(int(tickLower), int(tickUpper)); err != nil {
		return nil, nil, err
	}
	sqrtA := TickToSqrtPriceX96(int(tickLower))
	sqrtB := TickToSqrtPriceX96(int(tickUpper))
	amount0, amount1 := tickmath.GetAmountsForLiquidity(sqrtPriceX96, sqrtA, sqrtB, liquidity)
	return amount0, amount1, nil
}

// CalculateTickBounds centers a band of rangeWidth*tickSpacing ticks on
// currentTick, aligned to tickSpacing.
func CalculateTickBounds(currentTick int32, rangeWidth, tickSpacing int) (int32, int32, error) {
	if rangeWidth <= 0 {
		return 0, 0, tickmath.ValidateRange(0, 0)
	}
	center := tickmath.AlignToSpacing(int(currentTick), tickSpacing, tickmath.Floor)
	half := (rangeWidth / 2) * tickSpacing
	tickLower := center - half
	tickUpper := center + half
	if rangeWidth%2 != 0 {
		tickUpper += tickSpacing
	}
	if err := tickmath.ValidateRange(tickLower, tickUpper); err != nil {
		return 0, 0, err
	}
	return int32(tickLower), int32(tickUpper), nil
}
