package chainclient

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// fakeClient is a minimal contractclient.ContractClient test double.
type fakeClient struct {
	address    common.Address
	callResult []any
	callErr    error
	sendHash   common.Hash
	sendErr    error
	parseJSON  string
	parseErr   error
}

func (f *fakeClient) Call(from *common.Address, method string, args ...any) ([]any, error) {
	return f.callResult, f.callErr
}
func (f *fakeClient) Send(mode types.SendMode, gasLimit *uint64, signer *contractclient.Signer, method string, args ...any) (common.Hash, error) {
	return f.sendHash, f.sendErr
}
func (f *fakeClient) ContractAddress() common.Address { return f.address }
func (f *fakeClient) Abi() abi.ABI                     { return abi.ABI{} }
func (f *fakeClient) ParseReceipt(receipt *gethtypes.Receipt) (string, error) {
	return f.parseJSON, f.parseErr
}
func (f *fakeClient) TransactionData(ctx context.Context, hash common.Hash) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) DecodeTransaction(data []byte) (*contractclient.DecodedTransaction, error) {
	return nil, nil
}
func (f *fakeClient) Receipt(ctx context.Context, hash common.Hash) (*types.TxReceipt, error) {
	return nil, nil
}

type fakeWaiter struct {
	receipt *types.TxReceipt
	err     error
}

func (w *fakeWaiter) WaitForTransaction(ctx context.Context, hash common.Hash) (*types.TxReceipt, error) {
	return w.receipt, w.err
}

func TestPoolStateOf(t *testing.T) {
	pool := &fakeClient{
		callResult: []any{
			big.NewInt(1 << 60),
			big.NewInt(100),
			uint16(500),
			uint8(1),
			big.NewInt(123456),
			big.NewInt(200),
			big.NewInt(0),
		},
	}
	c := &ChainClient{pool: pool}
	state, err := c.PoolStateOf(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, state.Tick)
	assert.Equal(t, uint16(500), state.LastFee)
}

func TestPoolStateOf_WrongArity(t *testing.T) {
	pool := &fakeClient{callResult: []any{big.NewInt(1)}}
	c := &ChainClient{pool: pool}
	_, err := c.PoolStateOf(context.Background())
	assert.Error(t, err)
}

func TestEnsureApproval_SkipsWhenAllowanceSufficient(t *testing.T) {
	token := &fakeClient{callResult: []any{big.NewInt(1000)}}
	c := &ChainClient{token0: token}
	owner := common.HexToAddress("0xabc")
	c.owner = owner

	receipt, err := c.EnsureApproval(context.Background(), token, common.HexToAddress("0xspender"), big.NewInt(500))
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestEnsureApproval_SendsWhenInsufficient(t *testing.T) {
	token := &fakeClient{
		callResult: []any{big.NewInt(0)},
		sendHash:   common.HexToHash("0x01"),
	}
	c := &ChainClient{
		token0: token,
		tl:     &fakeWaiter{receipt: &types.TxReceipt{Status: "0x1"}},
	}
	receipt, err := c.EnsureApproval(context.Background(), token, common.HexToAddress("0xspender"), big.NewInt(500))
	require.NoError(t, err)
	require.NotNil(t, receipt)
}

func TestEnsureApproval_RevertedApprovalIsError(t *testing.T) {
	token := &fakeClient{
		callResult: []any{big.NewInt(0)},
		sendHash:   common.HexToHash("0x01"),
	}
	c := &ChainClient{
		token0: token,
		tl:     &fakeWaiter{receipt: &types.TxReceipt{Status: "0x0"}},
	}
	_, err := c.EnsureApproval(context.Background(), token, common.HexToAddress("0xspender"), big.NewInt(500))
	require.Error(t, err)
	assert.Equal(t, strategy.KindInsufficientAllowance, strategy.KindOf(err))
}

func TestParseMintEvents_PreferIncreaseLiquidity(t *testing.T) {
	posMgr := &fakeClient{}
	c := &ChainClient{posMgr: posMgr}
	id, liquidity, a0, a1, err := c.parseMintEvents(`[{"EventName":"IncreaseLiquidity","Parameter":{"tokenId":"42","liquidity":"1000","amount0":"10","amount1":"20"}}]`)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), id)
	assert.Equal(t, big.NewInt(1000), liquidity)
	assert.Equal(t, big.NewInt(10), a0)
	assert.Equal(t, big.NewInt(20), a1)
}

func TestParseMintEvents_FallsBackToTransfer(t *testing.T) {
	posMgr := &fakeClient{}
	c := &ChainClient{posMgr: posMgr}
	id, _, _, _, err := c.parseMintEvents(`[{"EventName":"Transfer","Parameter":{"from":"0x0000000000000000000000000000000000000000","to":"0xabc","tokenId":"7"}}]`)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), id)
}

func TestParseMintEvents_FallsBackToSupplyCounter(t *testing.T) {
	posMgr := &fakeClient{callResult: []any{big.NewInt(99)}}
	c := &ChainClient{posMgr: posMgr}
	id, _, _, _, err := c.parseMintEvents(`[]`)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(99), id)
}

func TestParseMintEvents_NoEventsAndNoSupplyFails(t *testing.T) {
	posMgr := &fakeClient{callErr: errors.New("no totalSupply method")}
	c := &ChainClient{posMgr: posMgr}
	_, _, _, _, err := c.parseMintEvents(`[]`)
	assert.Error(t, err)
}
