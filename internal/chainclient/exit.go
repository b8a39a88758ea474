package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// DecreaseLiquidityParams mirrors
// NonfungiblePositionManager.decreaseLiquidity.
type DecreaseLiquidityParams struct {
	TokenID    *big.Int
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
}

// CollectParams mirrors NonfungiblePositionManager.collect, requesting the
// maximum collectable amount of both tokens by convention (amount max uint128).
type CollectParams struct {
	TokenID     *big.Int
	Recipient   common.Address
	Amount0Max  *big.Int
	Amount1Max  *big.Int
}

// DecreaseLiquidity removes liquidity from a position without burning the
// NFT or collecting the freed tokens — callers always follow with Collect.
func (c *ChainClient) DecreaseLiquidity(ctx context.Context, p DecreaseLiquidityParams) (*types.TxReceipt, error) {
	hash, err := c.posMgr.Send(types.Standard, nil, c.signer, "decreaseLiquidity", p.TokenID, p.Liquidity, p.Amount0Min, p.Amount1Min, p.Deadline)
	if err != nil {
		return nil, strategy.NewError(strategy.KindForceExitTimedOut, err, map[string]any{"tokenId": p.TokenID.String()})
	}
	receipt, err := c.tl.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, strategy.NewError(strategy.KindRpcTransient, err, map[string]any{"tx": hash.Hex()})
	}
	if !receipt.Succeeded() {
		return receipt, strategy.NewError(strategy.KindForceExitTimedOut, fmt.Errorf("decreaseLiquidity reverted"), map[string]any{"tx": hash.Hex()})
	}
	return receipt, nil
}

// CollectResult is a confirmed collect's receipt plus the actual amounts it
// swept, recovered from the Collect event rather than assumed from the
// request.
type CollectResult struct {
	Receipt *types.TxReceipt
	Amount0 *big.Int
	Amount1 *big.Int
}

// Collect sweeps the owed token0/token1 (freed by a prior DecreaseLiquidity,
// plus any accrued fees) to recipient, returning the actual swept amounts.
func (c *ChainClient) Collect(ctx context.Context, p CollectParams) (*CollectResult, error) {
	hash, err := c.posMgr.Send(types.Standard, nil, c.signer, "collect", p.TokenID, p.Recipient, p.Amount0Max, p.Amount1Max)
	if err != nil {
		return nil, strategy.NewError(strategy.KindForceExitTimedOut, err, map[string]any{"tokenId": p.TokenID.String()})
	}
	receipt, err := c.tl.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, strategy.NewError(strategy.KindRpcTransient, err, map[string]any{"tx": hash.Hex()})
	}
	if !receipt.Succeeded() {
		return &CollectResult{Receipt: receipt}, strategy.NewError(strategy.KindForceExitTimedOut, fmt.Errorf("collect reverted"), map[string]any{"tx": hash.Hex()})
	}

	amount0, amount1 := big.NewInt(0), big.NewInt(0)
	if raw, err := c.rawReceipt(ctx, hash); err == nil {
		if eventsJSON, err := c.posMgr.ParseReceipt(raw); err == nil {
			amount0, amount1 = amountsFromCollectEvent(eventsJSON)
		}
	}
	return &CollectResult{Receipt: receipt, Amount0: amount0, Amount1: amount1}, nil
}

// amountsFromCollectEvent reads Collect(tokenId, recipient, amount0,
// amount1) out of an already-parsed events JSON, the same ladder-rung shape
// mint.go's parseMintEvents uses for IncreaseLiquidity.
func amountsFromCollectEvent(eventsJSON string) (*big.Int, *big.Int) {
	var events []parsedEvent
	if err := json.Unmarshal([]byte(eventsJSON), &events); err != nil {
		return big.NewInt(0), big.NewInt(0)
	}
	for _, e := range events {
		if e.EventName != "Collect" {
			continue
		}
		a0, ok0 := bigFromParam(e.Parameter["amount0"])
		a1, ok1 := bigFromParam(e.Parameter["amount1"])
		if ok0 && ok1 {
			return a0, a1
		}
	}
	return big.NewInt(0), big.NewInt(0)
}

// Burn destroys the position NFT once its liquidity and tokens-owed are both
// zero; the position manager enforces that invariant on-chain.
func (c *ChainClient) Burn(ctx context.Context, tokenID *big.Int) (*types.TxReceipt, error) {
	hash, err := c.posMgr.Send(types.Standard, nil, c.signer, "burn", tokenID)
	if err != nil {
		return nil, strategy.NewError(strategy.KindForceExitTimedOut, err, map[string]any{"tokenId": tokenID.String()})
	}
	receipt, err := c.tl.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, strategy.NewError(strategy.KindRpcTransient, err, map[string]any{"tx": hash.Hex()})
	}
	if !receipt.Succeeded() {
		return receipt, strategy.NewError(strategy.KindForceExitTimedOut, fmt.Errorf("burn reverted"), map[string]any{"tx": hash.Hex()})
	}
	return receipt, nil
}

// MaxUint128 is the conventional "collect everything owed" sentinel used as
// Amount0Max/Amount1Max.
var MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// DecreaseCollectBurnParams bundles the arguments for closing a position's
// liquidity in one shot: decreaseLiquidity, collect, and burn packed into a
// single multicall.
type DecreaseCollectBurnParams struct {
	TokenID    *big.Int
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
	Recipient  common.Address
}

// DecreaseCollectBurn submits decreaseLiquidity, collect, and burn as a
// single multicall against the position manager, combining the dependent
// calls into one transaction: either all three apply, or the whole call reverts,
// so a position can never be left decreased-but-not-collected.
func (c *ChainClient) DecreaseCollectBurn(ctx context.Context, p DecreaseCollectBurnParams) (*CollectResult, error) {
	decreaseData, err := c.posMgr.Abi().Pack("decreaseLiquidity", p.TokenID, p.Liquidity, p.Amount0Min, p.Amount1Min, p.Deadline)
	if err != nil {
		return nil, fmt.Errorf("packing decreaseLiquidity: %w", err)
	}
	collectData, err := c.posMgr.Abi().Pack("collect", p.TokenID, p.Recipient, MaxUint128, MaxUint128)
	if err != nil {
		return nil, fmt.Errorf("packing collect: %w", err)
	}
	burnData, err := c.posMgr.Abi().Pack("burn", p.TokenID)
	if err != nil {
		return nil, fmt.Errorf("packing burn: %w", err)
	}

	hash, err := c.posMgr.Send(types.Standard, nil, c.signer, "multicall", [][]byte{decreaseData, collectData, burnData})
	if err != nil {
		return nil, strategy.NewError(strategy.KindForceExitTimedOut, err, map[string]any{"tokenId": p.TokenID.String()})
	}
	receipt, err := c.tl.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, strategy.NewError(strategy.KindRpcTransient, err, map[string]any{"tx": hash.Hex()})
	}
	if !receipt.Succeeded() {
		return &CollectResult{Receipt: receipt}, strategy.NewError(strategy.KindForceExitTimedOut, fmt.Errorf("multicall (decrease/collect/burn) reverted"), map[string]any{"tx": hash.Hex()})
	}

	amount0, amount1 := big.NewInt(0), big.NewInt(0)
	if raw, err := c.rawReceipt(ctx, hash); err == nil {
		if eventsJSON, err := c.posMgr.ParseReceipt(raw); err == nil {
			amount0, amount1 = amountsFromCollectEvent(eventsJSON)
		}
	}
	return &CollectResult{Receipt: receipt, Amount0: amount0, Amount1: amount1}, nil
}
