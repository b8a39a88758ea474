package scheduler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// priceToken1PerToken0 derives the token1-per-token0 exchange rate from a
// sqrt-price-Q96 sample as a big.Rat: price = (sqrtPriceX96 / 2^96)^2.
func priceToken1PerToken0(sqrtPriceX96 *big.Int) *big.Rat {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return big.NewRat(0, 1)
	}
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	sqrtPrice := new(big.Rat).SetFrac(sqrtPriceX96, q96)
	return new(big.Rat).Mul(sqrtPrice, sqrtPrice)
}

// convertToBase folds (amount0, amount1) into one figure using the last
// observed pool price. When the base currency is one of the pool tokens, the
// other side is converted into it through the pool price. When it is neither
// (scenario-1), the result is the token1-denominated total; it is not
// converted into the base currency.
func convertToBase(state *strategy.InstanceState, amount0, amount1 *big.Int) *big.Int {
	base := common.HexToAddress(state.BaseCurrency)
	price := priceToken1PerToken0(state.Market.SqrtPriceX96)

	total := new(big.Rat)
	switch base {
	case state.Config.Pool.Token0:
		total.SetInt(amount0)
		if price.Sign() > 0 {
			total.Add(total, new(big.Rat).Quo(new(big.Rat).SetInt(amount1), price))
		}
	case state.Config.Pool.Token1:
		total.SetInt(amount1)
		total.Add(total, new(big.Rat).Mul(new(big.Rat).SetInt(amount0), price))
	default:
		// Scenario-1 with an external default base: without a direct quote
		// for either side against the configured base, report the
		// token1-denominated total as the closest available proxy.
		total.SetInt(amount1)
		total.Add(total, new(big.Rat).Mul(new(big.Rat).SetInt(amount0), price))
	}

	out := new(big.Int).Quo(total.Num(), total.Denom())
	return out
}

// gasCostInBase sums the GasCost of every transaction recorded against an
// instance so far, in wei of the chain's native gas token. The sum is not
// converted into the instance's base currency.
func gasCostInBase(state *strategy.InstanceState) *big.Int {
	total := big.NewInt(0)
	for _, tx := range state.Txs {
		if tx.GasCost != nil {
			total.Add(total, tx.GasCost)
		}
	}
	return total
}
