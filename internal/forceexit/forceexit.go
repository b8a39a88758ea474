// Package forceexit implements a single privileged operation,
// executeForceExit, safe to call on any live instance and idempotent once
// the position is already closed: decrease-then-collect-then-burn against a
// position the wallet holds, with a deadline/partial-result contract on top.
package forceexit

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackholelabs/lpstrategy/internal/chainclient"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/internal/swaprouter"
)

const maxRetries = 3

// Step names one sub-step of the force-exit sequence, used both to report
// which steps a partial result completed and to log progress.
type Step string

const (
	StepDecrease Step = "decreaseLiquidity"
	StepCollect  Step = "collect"
	StepBurn     Step = "burn"
	StepSwap     Step = "swapExcessToExitToken"
)

// Result is the outcome of executeForceExit, complete or partial.
type Result struct {
	Completed  []Step
	Amount0Out *big.Int
	Amount1Out *big.Int
	TimedOut   bool
}

// Manager executes force exits against a single instance's position. It
// reports raw token amounts recovered on-chain; converting them to base
// currency and publishing position.closed is the caller's job (it is the
// caller, not Manager, that knows the instance's live price snapshot).
type Manager struct {
	chain  *chainclient.ChainClient
	router *swaprouter.SwapRouter
}

// New builds a Manager bound to one instance's ChainClient and SwapRouter.
func New(chain *chainclient.ChainClient, router *swaprouter.SwapRouter) *Manager {
	return &Manager{chain: chain, router: router}
}

// ExecuteForceExit runs the decrease/collect/burn sequence (or just burn, if
// the position is already empty), then routes any excess side to the
// configured exit token, bounding the whole operation by deadline.
func (m *Manager) ExecuteForceExit(ctx context.Context, state *strategy.InstanceState, deadline time.Time) (*Result, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	result := &Result{Amount0Out: big.NewInt(0), Amount1Out: big.NewInt(0)}

	if state.Position == nil || state.Position.TokenID == nil {
		return result, nil
	}

	if state.Position.Liquidity != nil && state.Position.Liquidity.Sign() > 0 {
		if err := m.decreaseCollectBurn(ctx, state, result); err != nil {
			if ctx.Err() != nil {
				result.TimedOut = true
				return result, strategy.NewError(strategy.KindForceExitTimedOut, err, map[string]any{"completed": result.Completed})
			}
			return result, err
		}
	} else if err := m.burnWithRetry(ctx, state.Position.TokenID, result); err != nil {
		// liquidity is already zero: nothing left to decrease or collect,
		// only the burn remains.
		if ctx.Err() != nil {
			result.TimedOut = true
			return result, strategy.NewError(strategy.KindForceExitTimedOut, err, map[string]any{"completed": result.Completed})
		}
		return result, err
	}

	if state.Config.ExitToken != strategy.ExitTokenNoPreference {
		m.swapExcessToExitToken(ctx, state, result)
	}

	return result, nil
}

// decreaseCollectBurn submits decreaseLiquidity, collect, and burn as one
// atomic multicall so a position can never be left decreased-but-uncollected
// or collected-but-unburned; a failed attempt is safe to retry in full since
// nothing on-chain has changed.
func (m *Manager) decreaseCollectBurn(ctx context.Context, state *strategy.InstanceState, result *Result) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		collected, err := m.chain.DecreaseCollectBurn(ctx, chainclient.DecreaseCollectBurnParams{
			TokenID:    state.Position.TokenID,
			Liquidity:  state.Position.Liquidity,
			Amount0Min: big.NewInt(0),
			Amount1Min: big.NewInt(0),
			Deadline:   big.NewInt(time.Now().Add(time.Hour).Unix()),
			Recipient:  m.chain.Owner(),
		})
		if err == nil {
			result.Completed = append(result.Completed, StepDecrease, StepCollect, StepBurn)
			result.Amount0Out, result.Amount1Out = collected.Amount0, collected.Amount1
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (m *Manager) burnWithRetry(ctx context.Context, tokenID *big.Int, result *Result) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if _, err := m.chain.Burn(ctx, tokenID); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}
		result.Completed = append(result.Completed, StepBurn)
		return nil
	}
	return lastErr
}

func (m *Manager) swapExcessToExitToken(ctx context.Context, state *strategy.InstanceState, result *Result) {
	var from, to common.Address
	var amount *big.Int
	switch state.Config.ExitToken {
	case strategy.ExitToken0:
		from, to, amount = state.Config.Pool.Token1, state.Config.Pool.Token0, result.Amount1Out
	case strategy.ExitToken1:
		from, to, amount = state.Config.Pool.Token0, state.Config.Pool.Token1, result.Amount0Out
	default:
		return
	}
	if amount == nil || amount.Sign() <= 0 {
		return
	}

	swapResult, err := m.router.SwapExact(ctx, []swaprouter.Route{{From: from, To: to}}, amount, big.NewInt(0), m.chain.Owner(), time.Now().Add(time.Minute))
	if err != nil {
		return // best-effort: a failed sweep does not fail the force exit
	}
	result.Completed = append(result.Completed, StepSwap)
	if to == state.Config.Pool.Token0 {
		result.Amount0Out.Add(result.Amount0Out, swapResult.AmountOut)
		result.Amount1Out = big.NewInt(0)
	} else {
		result.Amount1Out.Add(result.Amount1Out, swapResult.AmountOut)
		result.Amount0Out = big.NewInt(0)
	}
}

