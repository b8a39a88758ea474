package chainclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PositionInfo is the subset of NonfungiblePositionManager.positions(tokenId)
// recovery needs to decide whether a minted position is still live.
type PositionInfo struct {
	Token0    common.Address
	Token1    common.Address
	Fee       uint32
	TickLower int
	TickUpper int
	Liquidity *big.Int
}

// PositionOf reads a minted position's current on-chain state. The
// NonfungiblePositionManager ABI's positions() returns a 12-tuple (nonce,
// operator, token0, token1, fee, tickLower, tickUpper, liquidity,
// feeGrowthInside0LastX128, feeGrowthInside1LastX128, tokensOwed0,
// tokensOwed1); only the fields recovery needs are extracted here.
func (c *ChainClient) PositionOf(ctx context.Context, tokenID *big.Int) (*PositionInfo, error) {
	result, err := c.posMgr.Call(&c.owner, "positions", tokenID)
	if err != nil {
		return nil, fmt.Errorf("chainclient: reading position %s: %w", tokenID.String(), err)
	}
	if len(result) < 8 {
		return nil, fmt.Errorf("chainclient: unexpected positions() result length %d", len(result))
	}
	return &PositionInfo{
		Token0:    result[2].(common.Address),
		Token1:    result[3].(common.Address),
		Fee:       result[4].(uint32),
		TickLower: int(result[5].(*big.Int).Int64()),
		TickUpper: int(result[6].(*big.Int).Int64()),
		Liquidity: result[7].(*big.Int),
	}, nil
}

// OwnerOf returns the current owner of a position NFT, an ownership check
// run before acting on a tokenId.
func (c *ChainClient) OwnerOf(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	result, err := c.posMgr.Call(&c.owner, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, fmt.Errorf("chainclient: reading owner of %s: %w", tokenID.String(), err)
	}
	return result[0].(common.Address), nil
}

// NFTBalance and TokenOfOwnerByIndex follow the ERC721Enumerable convention
// the position manager implements, letting recovery enumerate the wallet's
// currently-held positions when a crash left no tokenId recorded in state
// (e.g. killed after mint submit, before receipt).
func (c *ChainClient) NFTBalance(ctx context.Context) (*big.Int, error) {
	result, err := c.posMgr.Call(&c.owner, "balanceOf", c.owner)
	if err != nil {
		return nil, fmt.Errorf("chainclient: reading NFT balance: %w", err)
	}
	return result[0].(*big.Int), nil
}

func (c *ChainClient) TokenOfOwnerByIndex(ctx context.Context, index uint64) (*big.Int, error) {
	result, err := c.posMgr.Call(&c.owner, "tokenOfOwnerByIndex", c.owner, new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("chainclient: reading owned token at index %d: %w", index, err)
	}
	return result[0].(*big.Int), nil
}
