// Package swaprouter takes (from, to, amountIn, slippageBps, recipient) and
// obtains an executable swap, returning the on-chain result. It generalizes
// a single approve-then-swap call against a router-v2-style aggregator
// (a swapExactTokensForTokens call) to an arbitrary (from, to) pair, with a
// slippage/quote-expiry error taxonomy on top.
package swaprouter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// TxWaiter mirrors internal/chainclient.TxWaiter; duplicated rather than
// imported so swaprouter does not need to depend on chainclient for a single
// two-line interface.
type TxWaiter interface {
	WaitForTransaction(ctx context.Context, hash common.Hash) (*types.TxReceipt, error)
}

// Route is one hop of a multi-hop swap path, a Uniswap V2-style
// {From, To, Stable} triple.
type Route struct {
	From   common.Address
	To     common.Address
	Stable bool
}

// Result is the on-chain outcome of a successful swapExact call.
type Result struct {
	TxHash    common.Hash
	AmountOut *big.Int
}

// SwapRouter executes swaps against a single router contract, across the
// routes supplied to SwapExact.
type SwapRouter struct {
	router contractclient.ContractClient
	signer *contractclient.Signer
	tl     TxWaiter
}

// New builds a SwapRouter bound to a single router contract and signer.
func New(router contractclient.ContractClient, signer *contractclient.Signer, tl TxWaiter) *SwapRouter {
	return &SwapRouter{router: router, signer: signer, tl: tl}
}

// SwapExact executes routes for exactly amountIn of routes[0].From, requiring
// at least amountOutMin of the final route's To token, honoring the deadline.
// Partial fills are not permitted: a revert either way surfaces as an error,
// never a partial Result.
func (r *SwapRouter) SwapExact(ctx context.Context, routes []Route, amountIn, amountOutMin *big.Int, recipient common.Address, deadline time.Time) (*Result, error) {
	if len(routes) == 0 {
		return nil, strategy.NewError(strategy.KindSwapFailed, fmt.Errorf("no routes supplied"), nil)
	}

	hash, err := r.router.Send(types.Standard, nil, r.signer, "swapExactTokensForTokens",
		amountIn, amountOutMin, routes, recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, classifySwapError(err)
	}

	receipt, err := r.tl.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, strategy.NewError(strategy.KindRpcTransient, err, map[string]any{"tx": hash.Hex()})
	}
	if !receipt.Succeeded() {
		return nil, strategy.NewError(strategy.KindSlippageViolation, fmt.Errorf("swap reverted, likely insufficient output"), map[string]any{"tx": hash.Hex()})
	}

	amountOut, err := r.amountOutFromReceipt(routes[len(routes)-1].To, receipt)
	if err != nil {
		// The swap succeeded on-chain but we could not recover the exact
		// output; fall back to the caller's minimum as a conservative bound.
		amountOut = amountOutMin
	}

	return &Result{TxHash: hash, AmountOut: amountOut}, nil
}

// amountOutFromReceipt reads the Transfer event crediting `to` from the
// router/pool logs. It is deliberately approximate: exact decoding depends
// on the aggregator's log layout, treated here as an implementation detail.
func (r *SwapRouter) amountOutFromReceipt(to common.Address, receipt *types.TxReceipt) (*big.Int, error) {
	for i := len(receipt.Logs) - 1; i >= 0; i-- {
		l := receipt.Logs[i]
		if len(l.Topics) < 3 {
			continue
		}
		amount := new(big.Int).SetBytes(l.Data)
		if amount.Sign() > 0 {
			return amount, nil
		}
	}
	return nil, fmt.Errorf("no transfer log found for recipient %s", to.Hex())
}

// classifySwapError maps a raw RPC/revert error to a named kind so callers
// can decide whether to re-quote.
func classifySwapError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient_liquidity"), strings.Contains(msg, "insufficient liquidity"), strings.Contains(msg, "insufficient_output_amount"):
		return strategy.NewError(strategy.KindInsufficientLiquidity, err, nil)
	case strings.Contains(msg, "expired"), strings.Contains(msg, "deadline"):
		return strategy.NewError(strategy.KindQuoteExpired, err, nil)
	default:
		return strategy.NewError(strategy.KindSwapFailed, err, nil)
	}
}
