package strategy

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FeeTier is one of the supported Uniswap V3 / Algebra fee tiers; each maps
// to a fixed tick-spacing in pkg/tickmath.
type FeeTier uint32

const (
	Fee100   FeeTier = 100
	Fee500   FeeTier = 500
	Fee3000  FeeTier = 3000
	Fee10000 FeeTier = 10000
)

// PoolConfig is immutable per instance: which pool, which two tokens, which
// fee tier. Invariant: the pool address must resolve on-chain to exactly
// this (token0, token1, fee) triple — ChainClient.poolState enforces that at
// Prepare time, not here.
type PoolConfig struct {
	Pool    common.Address
	Token0  common.Address
	Token1  common.Address
	Fee     FeeTier
	Factory common.Address
}

// ExitToken selects which side of the pool a force-exit should end up
// holding.
type ExitToken int

const (
	ExitToken0 ExitToken = iota
	ExitToken1
	ExitTokenNoPreference
)

// StrategyConfig is immutable after an instance is created.
type StrategyConfig struct {
	Pool PoolConfig

	// InputToken must equal Pool.Token0 or Pool.Token1.
	InputToken common.Address
	// InputAmount is positive, in InputToken's natural (smallest) units.
	InputAmount *big.Int

	// LowerPercent/UpperPercent are signed percentages of the current price,
	// translated to (tickLower, tickUpper). LowerPercent must be < UpperPercent.
	LowerPercent float64
	UpperPercent float64

	// SwapSlippagePct bounds the external-aggregator swap slippage, percent, <= 1.
	SwapSlippagePct float64
	// LiquiditySlippagePct bounds mint slippage; internally clamped to <= 99.9.
	LiquiditySlippagePct float64
	// SwapBufferPct is extra bought on a swap to cover quote drift.
	SwapBufferPct float64

	// MonitorTimeout is how long the tick may stay out of range before
	// auto-exit.
	MonitorTimeout time.Duration
	// MonitorInterval is the polling cadence for Stage 4.
	MonitorInterval time.Duration

	ExitToken ExitToken

	// BaseCurrencyOverride, if non-zero, forces the base currency instead of
	// inferring it from RecognizedQuoteTokens.
	BaseCurrencyOverride common.Address

	// WaitForStability, StabilityThreshold and StabilityIntervals are carried
	// with the config but not read: `reset` is not gated on a StabilityWindow.
	WaitForStability   bool
	StabilityThreshold float64
	StabilityIntervals int

	CircuitBreakerWindow    time.Duration
	CircuitBreakerThreshold int
}

// Validate rejects a config that would make scheduling or tick math
// impossible before any RPC call is spent on it.
func (c *StrategyConfig) Validate() error {
	if c.InputAmount == nil || c.InputAmount.Sign() <= 0 {
		return NewError(KindInvalidConfig, nil, map[string]any{"reason": "inputAmount must be positive"})
	}
	if c.InputToken != c.Pool.Token0 && c.InputToken != c.Pool.Token1 {
		return NewError(KindInvalidConfig, nil, map[string]any{"reason": "inputToken must equal pool token0 or token1"})
	}
	if c.LowerPercent >= c.UpperPercent {
		return NewError(KindInvalidTickRange, nil, map[string]any{"lowerPercent": c.LowerPercent, "upperPercent": c.UpperPercent})
	}
	if c.SwapSlippagePct <= 0 || c.SwapSlippagePct > 1 {
		return NewError(KindInvalidConfig, nil, map[string]any{"reason": "swapSlippagePct must be in (0,1]"})
	}
	if c.LiquiditySlippagePct <= 0 || c.LiquiditySlippagePct > 99.9 {
		return NewError(KindInvalidConfig, nil, map[string]any{"reason": "liquiditySlippagePct must be in (0,99.9]"})
	}
	if c.MonitorTimeout <= 0 {
		return NewError(KindInvalidConfig, nil, map[string]any{"reason": "monitorTimeout must be positive"})
	}
	return nil
}

// RecognizedQuoteTokens is the fixed set of base-currency candidates,
// addresses supplied by configuration and defaulted to the chain's
// canonical USDT/USDC/WBNB addresses.
type RecognizedQuoteTokens struct {
	USDT common.Address
	USDC common.Address
	WBNB common.Address
}

func (r RecognizedQuoteTokens) isRecognized(token common.Address) bool {
	return token == r.USDT || token == r.USDC || token == r.WBNB
}

// Scenario is the cost-basis accounting mode for a pool's token pair.
type Scenario int

const (
	// Scenario1 is dual-non-base: neither token0 nor token1 is a recognized
	// quote token (pairs where both are recognized also land here).
	Scenario1 Scenario = iota
	// Scenario2 is one-side-is-base: exactly one of token0/token1 is a
	// recognized quote token.
	Scenario2
)

// ClassifyBaseCurrency identifies the base currency and classifies the pair
// into a cost-basis Scenario: at most one of token0/token1 is in the
// recognized quote set. For the dual-non-base case, an unset defaultBase
// (the zero address, meaning no override was configured) falls back to
// USDT as the policy default.
func ClassifyBaseCurrency(token0, token1 common.Address, recognized RecognizedQuoteTokens, defaultBase common.Address) (Scenario, common.Address) {
	t0Recognized := recognized.isRecognized(token0)
	t1Recognized := recognized.isRecognized(token1)

	switch {
	case t0Recognized && !t1Recognized:
		return Scenario2, token0
	case t1Recognized && !t0Recognized:
		return Scenario2, token1
	default:
		if defaultBase == (common.Address{}) {
			return Scenario1, recognized.USDT
		}
		return Scenario1, defaultBase
	}
}
