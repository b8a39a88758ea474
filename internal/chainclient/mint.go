package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// MintParams mirrors NonfungiblePositionManager.MintParams, the ABI shape
// pkg/types already carries.
type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	Deployer       common.Address
	TickLower      int
	TickUpper      int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

// Mint submits the mint transaction, awaits its receipt, and recovers the
// minted position's token ID.
func (c *ChainClient) Mint(ctx context.Context, p MintParams) (*strategy.Position, *types.TxReceipt, error) {
	hash, err := c.posMgr.Send(types.Standard, nil, c.signer, "mint", struct {
		Token0         common.Address
		Token1         common.Address
		Deployer       common.Address
		TickLower      *big.Int
		TickUpper      *big.Int
		Amount0Desired *big.Int
		Amount1Desired *big.Int
		Amount0Min     *big.Int
		Amount1Min     *big.Int
		Recipient      common.Address
		Deadline       *big.Int
	}{
		Token0:         p.Token0,
		Token1:         p.Token1,
		Deployer:       p.Deployer,
		TickLower:      big.NewInt(int64(p.TickLower)),
		TickUpper:      big.NewInt(int64(p.TickUpper)),
		Amount0Desired: p.Amount0Desired,
		Amount1Desired: p.Amount1Desired,
		Amount0Min:     p.Amount0Min,
		Amount1Min:     p.Amount1Min,
		Recipient:      p.Recipient,
		Deadline:       p.Deadline,
	})
	if err != nil {
		return nil, nil, strategy.NewError(strategy.KindMintFailed, err, nil)
	}

	receipt, err := c.tl.WaitForTransaction(ctx, hash)
	if err != nil {
		return nil, nil, strategy.NewError(strategy.KindRpcTransient, err, map[string]any{"tx": hash.Hex()})
	}
	if !receipt.Succeeded() {
		return nil, receipt, strategy.NewError(strategy.KindMintFailed, fmt.Errorf("mint transaction reverted"), map[string]any{"tx": hash.Hex()})
	}

	tokenID, liquidity, amount0, amount1, err := c.extractMintResult(ctx, hash)
	if err != nil {
		return nil, receipt, strategy.NewError(strategy.KindMintFailed, err, map[string]any{"tx": hash.Hex(), "reason": "could not recover tokenId"})
	}

	pos := &strategy.Position{
		TokenID:   tokenID,
		TickLower: p.TickLower,
		TickUpper: p.TickUpper,
		Liquidity: liquidity,
		Amount0:   amount0,
		Amount1:   amount1,
		MintedAt:  time.Now(),
	}
	return pos, receipt, nil
}

// parsedEvent mirrors the {EventName, Parameter} shape
// pkg/contractclient.Client.ParseReceipt emits.
type parsedEvent struct {
	EventName string         `json:"EventName"`
	Parameter map[string]any `json:"Parameter"`
}

// extractMintResult recovers (tokenId, liquidity, amount0, amount1) from the
// mint receipt's logs, trying three event sources in order of reliability:
//
//  1. IncreaseLiquidity(tokenId, liquidity, amount0, amount1) — emitted by
//     NonfungiblePositionManager on every mint, carries everything we need
//     in one shot.
//  2. Transfer(from=0x0, to, tokenId) — the ERC721 mint event; always present
//     but doesn't carry liquidity/amounts, so those are returned as zero.
//  3. A supply-counter read as a last resort when neither event is found in
//     the receipt (e.g. a proxy contract re-emits logs this ABI can't
//     decode) — only tokenId is recoverable this way.
//
// Step 2 alone recovers only the tokenId; steps 1 and 3 are this codebase's
// addition since mint receipts in practice carry the richer
// IncreaseLiquidity event.
func (c *ChainClient) extractMintResult(ctx context.Context, hash common.Hash) (tokenID, liquidity, amount0, amount1 *big.Int, err error) {
	raw, err := c.rawReceipt(ctx, hash)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	eventsJSON, err := c.posMgr.ParseReceipt(raw)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("parsing mint receipt: %w", err)
	}
	return c.parseMintEvents(eventsJSON)
}

// parseMintEvents runs the tokenId-recovery ladder over an already-parsed
// events JSON string, separated from extractMintResult so it is testable
// without a live receipt fetch.
func (c *ChainClient) parseMintEvents(eventsJSON string) (tokenID, liquidity, amount0, amount1 *big.Int, err error) {
	var events []parsedEvent
	if err := json.Unmarshal([]byte(eventsJSON), &events); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("decoding parsed mint events: %w", err)
	}

	for _, e := range events {
		if e.EventName != "IncreaseLiquidity" {
			continue
		}
		id, ok := bigFromParam(e.Parameter["tokenId"])
		if !ok {
			continue
		}
		l, _ := bigFromParam(e.Parameter["liquidity"])
		a0, _ := bigFromParam(e.Parameter["amount0"])
		a1, _ := bigFromParam(e.Parameter["amount1"])
		return id, zeroIfNil(l), zeroIfNil(a0), zeroIfNil(a1), nil
	}

	for _, e := range events {
		if e.EventName != "Transfer" {
			continue
		}
		from, _ := e.Parameter["from"].(string)
		if !isZeroAddress(from) {
			continue
		}
		id, ok := bigFromParam(e.Parameter["tokenId"])
		if !ok {
			continue
		}
		return id, big.NewInt(0), big.NewInt(0), big.NewInt(0), nil
	}

	supply, err := c.posMgr.Call(nil, "totalSupply")
	if err != nil || len(supply) == 0 {
		return nil, nil, nil, nil, fmt.Errorf("no IncreaseLiquidity or Transfer event in mint receipt, and totalSupply fallback failed: %v", err)
	}
	id, ok := supply[0].(*big.Int)
	if !ok {
		return nil, nil, nil, nil, fmt.Errorf("totalSupply fallback returned unexpected type %T", supply[0])
	}
	return id, big.NewInt(0), big.NewInt(0), big.NewInt(0), nil
}

func isZeroAddress(hex string) bool {
	return hex == (common.Address{}).Hex() || hex == "0x0000000000000000000000000000000000000000"
}

func bigFromParam(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		return x, true
	case string:
		return new(big.Int).SetString(x, 10)
	case float64:
		return big.NewInt(int64(x)), true
	default:
		return nil, false
	}
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
