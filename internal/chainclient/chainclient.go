// Package chainclient implements the domain-specific read/write operations
// the strategy pipeline needs (pool state, balances, allowances,
// mint/decrease/collect/burn), composed out of several pkg/contractclient
// instances, one per contract.
package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// maxUint256 is used for infinite-approval sends, the common ERC20 pattern of
// approving once so future allowance checks always pass.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// PoolState is the market snapshot derived straight from an on-chain read,
// matching the pool's safelyGetStateOfAMM 7-tuple.
type PoolState struct {
	SqrtPriceX96    *big.Int
	Tick            int
	LastFee         uint16
	PluginConfig    uint8
	ActiveLiquidity *big.Int
	NextTick        int
	PreviousTick    int
}

// TxWaiter is the narrow slice of pkg/txlistener.TxListener's API chainclient
// depends on, letting tests substitute a fake without a live RPC endpoint.
type TxWaiter interface {
	WaitForTransaction(ctx context.Context, hash common.Hash) (*types.TxReceipt, error)
}

// ChainClient composes the pool, token0/token1 and position-manager contract
// clients into the operations internal/scheduler's InstanceMachine needs.
type ChainClient struct {
	eth    *ethclient.Client
	pool   contractclient.ContractClient
	token0 contractclient.ContractClient
	token1 contractclient.ContractClient
	posMgr contractclient.ContractClient
	signer *contractclient.Signer
	owner  common.Address
	tl     TxWaiter
	log    zerolog.Logger
}

// New builds a ChainClient for one pool instance.
func New(eth *ethclient.Client, pool, token0, token1, posMgr contractclient.ContractClient, signer *contractclient.Signer, tl TxWaiter, log zerolog.Logger) *ChainClient {
	return &ChainClient{
		eth:    eth,
		pool:   pool,
		token0: token0,
		token1: token1,
		posMgr: posMgr,
		signer: signer,
		owner:  signer.Address(),
		tl:     tl,
		log:    log.With().Str("component", "chainclient").Logger(),
	}
}

// PoolStateOf reads the pool's current sqrt price, tick and liquidity. Read
// operations never return a *strategy.Error: callers classify the raw error
// (context deadline vs connection refused vs something else) since only they
// know whether a given failure is transient.
func (c *ChainClient) PoolStateOf(ctx context.Context) (*PoolState, error) {
	result, err := c.pool.Call(nil, "safelyGetStateOfAMM")
	if err != nil {
		return nil, fmt.Errorf("chainclient: reading pool state: %w", err)
	}
	if len(result) != 7 {
		return nil, fmt.Errorf("chainclient: unexpected safelyGetStateOfAMM result length %d", len(result))
	}
	return &PoolState{
		SqrtPriceX96:    result[0].(*big.Int),
		Tick:            int(result[1].(*big.Int).Int64()),
		LastFee:         result[2].(uint16),
		PluginConfig:    result[3].(uint8),
		ActiveLiquidity: result[4].(*big.Int),
		NextTick:        int(result[5].(*big.Int).Int64()),
		PreviousTick:    int(result[6].(*big.Int).Int64()),
	}, nil
}

// BalanceOf reads an ERC20 balance for the instance's own wallet.
func (c *ChainClient) BalanceOf(token contractclient.ContractClient) (*big.Int, error) {
	out, err := token.Call(&c.owner, "balanceOf", c.owner)
	if err != nil {
		return nil, fmt.Errorf("chainclient: reading balance of %s: %w", token.ContractAddress().Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// Token0 and Token1 expose the underlying per-token contract clients so
// internal/swaprouter can reuse them without chainclient re-dialing.
func (c *ChainClient) Token0() contractclient.ContractClient { return c.token0 }
func (c *ChainClient) Token1() contractclient.ContractClient { return c.token1 }

// PositionManager exposes the position-manager contract client so
// internal/scheduler can use its address as the approval spender.
func (c *ChainClient) PositionManager() contractclient.ContractClient { return c.posMgr }

// Owner is the wallet address every read/write in this ChainClient acts on
// behalf of: the mint recipient, approval owner, and swap recipient.
func (c *ChainClient) Owner() common.Address { return c.owner }

// Allowance reads the current ERC20 allowance the owner has granted spender.
func (c *ChainClient) Allowance(token contractclient.ContractClient, spender common.Address) (*big.Int, error) {
	out, err := token.Call(&c.owner, "allowance", c.owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chainclient: reading allowance for %s: %w", token.ContractAddress().Hex(), err)
	}
	return out[0].(*big.Int), nil
}

// EnsureApproval approves spender for at least requiredAmount, skipping the
// send entirely when the existing allowance already covers it.
func (c *ChainClient) EnsureApproval(ctx context.Context, token contractclient.ContractClient, spender common.Address, requiredAmount *big.Int) (*types.TxReceipt, error) {
	current, err := c.Allowance(token, spender)
	if err != nil {
		return nil, err
	}
	if current.Cmp(requiredAmount) >= 0 {
		return nil, nil
	}

	hash, err := token.Send(types.Standard, nil, c.signer, "approve", spender, maxUint256)
	if err != nil {
		return nil, strategy.NewError(strategy.KindInsufficientAllowance, err, map[string]any{"token": token.ContractAddress().Hex()})
	}
	receipt, err := c.tl.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, strategy.NewError(strategy.KindRpcTransient, err, map[string]any{"tx": hash.Hex()})
	}
	if !receipt.Succeeded() {
		return receipt, strategy.NewError(strategy.KindInsufficientAllowance, fmt.Errorf("approve reverted"), map[string]any{"tx": hash.Hex()})
	}
	return receipt, nil
}

// rawReceipt fetches the go-ethereum receipt directly, used where a
// ContractClient's ParseReceipt (which wants the untranslated receipt) is
// needed after txlistener has already confirmed the chain-agnostic one.
func (c *ChainClient) rawReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, fmt.Errorf("chainclient: receipt for %s not yet available", hash.Hex())
		}
		return nil, err
	}
	return r, nil
}
