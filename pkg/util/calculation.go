package util

import (
	"errors"
	"math/big"

	"github.com/blackholelabs/lpstrategy/pkg/tickmath"
)

// SqrtPriceToPrice converts a Q96 sqrt-price into the raw token1-per-token0
// price as a big.Float: (sqrtPriceX96 / 2^96)^2.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	ratio := new(big.Float).Quo(
		new(big.Float).SetInt(sqrtPriceX96),
		new(big.Float).SetInt(tickmath.Q96),
	)
	return new(big.Float).Mul(ratio, ratio)
}

// CalculateRebalanceAmounts compares two raw token balances against a 50/50
// split at the current price and reports which side is in surplus and by how
// much (in that side's own raw units). tokenToSwap is 0 for the token0 side,
// 1 for token1, -1 if already balanced.
func CalculateRebalanceAmounts(token0Balance, token1Balance, sqrtPriceX96 *big.Int) (int, *big.Int, error) {
	if token0Balance == nil || token1Balance == nil || sqrtPriceX96 == nil {
		return 0, nil, errors.New("calculateRebalanceAmounts: nil argument")
	}

	price := SqrtPriceToPrice(sqrtPriceX96) // token1 raw per token0 raw
	token0ValueInToken1 := new(big.Float).Mul(new(big.Float).SetInt(token0Balance), price)
	token1Value := new(big.Float).SetInt(token1Balance)

	total := new(big.Float).Add(token0ValueInToken1, token1Value)
	half := new(big.Float).Quo(total, big.NewFloat(2))

	if token1Value.Cmp(half) > 0 {
		diff := new(big.Float).Sub(token1Value, half)
		swapAmount, _ := diff.Int(nil)
		return 1, swapAmount, nil
	}
	if token0ValueInToken1.Cmp(half) > 0 {
		diffInToken1 := new(big.Float).Sub(token0ValueInToken1, half)
		if price.Sign() == 0 {
			return 0, big.NewInt(0), errors.New("calculateRebalanceAmounts: zero price")
		}
		diffInToken0 := new(big.Float).Quo(diffInToken1, price)
		swapAmount, _ := diffInToken0.Int(nil)
		return 0, swapAmount, nil
	}
	return -1, big.NewInt(0), nil
}

// CalculateMinAmount applies a slippage percentage to a desired amount,
// floored at zero.
func CalculateMinAmount(amount *big.Int, slippagePct int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if slippagePct < 0 {
		slippagePct = 0
	}
	if slippagePct > 100 {
		slippagePct = 100
	}
	numerator := new(big.Int).Mul(amount, big.NewInt(int64(100-slippagePct)))
	return numerator.Div(numerator, big.NewInt(100))
}
