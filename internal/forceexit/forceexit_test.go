package forceexit

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/lpstrategy/internal/chainclient"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/internal/swaprouter"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// fakeContractClient is the same minimal double internal/chainclient's and
// internal/scheduler's own test files use.
type fakeContractClient struct {
	address  common.Address
	sendHash common.Hash
	sendErr  error
}

func (f *fakeContractClient) Call(from *common.Address, method string, args ...any) ([]any, error) {
	return nil, nil
}
func (f *fakeContractClient) Send(mode types.SendMode, gasLimit *uint64, signer *contractclient.Signer, method string, args ...any) (common.Hash, error) {
	return f.sendHash, f.sendErr
}
func (f *fakeContractClient) ContractAddress() common.Address { return f.address }
func (f *fakeContractClient) Abi() abi.ABI                     { return abi.ABI{} }
func (f *fakeContractClient) ParseReceipt(receipt *gethtypes.Receipt) (string, error) {
	return "[]", nil
}
func (f *fakeContractClient) TransactionData(ctx context.Context, hash common.Hash) ([]byte, error) {
	return nil, nil
}
func (f *fakeContractClient) DecodeTransaction(data []byte) (*contractclient.DecodedTransaction, error) {
	return nil, nil
}
func (f *fakeContractClient) Receipt(ctx context.Context, hash common.Hash) (*types.TxReceipt, error) {
	return nil, nil
}

type fakeWaiter struct {
	receipt *types.TxReceipt
	err     error
}

func (w *fakeWaiter) WaitForTransaction(ctx context.Context, hash common.Hash) (*types.TxReceipt, error) {
	return w.receipt, w.err
}

func newTestManager(posMgr *fakeContractClient, waiter *fakeWaiter, router *fakeContractClient) *Manager {
	signer := &contractclient.Signer{}
	chain := chainclient.New(nil, nil, nil, nil, posMgr, signer, waiter, zerolog.Nop())
	swr := swaprouter.New(router, signer, waiter)
	return New(chain, swr)
}

func testState(tokenID *big.Int, liquidity *big.Int) *strategy.InstanceState {
	token0 := common.HexToAddress("0x1000000000000000000000000000000000000000")
	token1 := common.HexToAddress("0x2000000000000000000000000000000000000000")
	cfg := strategy.StrategyConfig{
		Pool:      strategy.PoolConfig{Token0: token0, Token1: token1, Fee: strategy.Fee3000},
		ExitToken: strategy.ExitTokenNoPreference,
	}
	state := strategy.NewInstanceState(cfg)
	if tokenID != nil {
		state.Position = &strategy.Position{TokenID: tokenID, Liquidity: liquidity}
	}
	return state
}

func TestExecuteForceExit_NoPositionIsNoop(t *testing.T) {
	m := newTestManager(&fakeContractClient{}, &fakeWaiter{}, &fakeContractClient{})
	state := testState(nil, nil)

	result, err := m.ExecuteForceExit(context.Background(), state, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Completed)
	assert.Equal(t, 0, result.Amount0Out.Sign())
}

func TestExecuteForceExit_ZeroLiquidityBurnsDirectly(t *testing.T) {
	posMgr := &fakeContractClient{sendHash: common.HexToHash("0x01")}
	waiter := &fakeWaiter{receipt: &types.TxReceipt{Status: "0x1", TxHash: "0x01"}}
	m := newTestManager(posMgr, waiter, &fakeContractClient{})

	state := testState(big.NewInt(42), big.NewInt(0))
	result, err := m.ExecuteForceExit(context.Background(), state, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []Step{StepBurn}, result.Completed)
}

func TestExecuteForceExit_DecreaseSendFailurePropagates(t *testing.T) {
	posMgr := &fakeContractClient{sendErr: errors.New("rpc refused")}
	waiter := &fakeWaiter{}
	m := newTestManager(posMgr, waiter, &fakeContractClient{})

	state := testState(big.NewInt(42), big.NewInt(1000))
	result, err := m.ExecuteForceExit(context.Background(), state, time.Now().Add(time.Minute))
	assert.Error(t, err)
	assert.Empty(t, result.Completed)
}

func TestExecuteForceExit_ExpiredDeadlineReportsTimedOut(t *testing.T) {
	posMgr := &fakeContractClient{sendErr: errors.New("rpc refused")}
	waiter := &fakeWaiter{}
	m := newTestManager(posMgr, waiter, &fakeContractClient{})

	state := testState(big.NewInt(42), big.NewInt(1000))
	result, err := m.ExecuteForceExit(context.Background(), state, time.Now().Add(-time.Minute))
	require.Error(t, err)
	assert.Equal(t, strategy.KindForceExitTimedOut, strategy.KindOf(err))
	assert.True(t, result.TimedOut)
}

func TestExecuteForceExit_BurnFailsAfterRetriesPropagatesError(t *testing.T) {
	posMgr := &fakeContractClient{sendErr: errors.New("always reverts")}
	waiter := &fakeWaiter{}
	m := newTestManager(posMgr, waiter, &fakeContractClient{})

	state := testState(big.NewInt(42), big.NewInt(0))
	_, err := m.ExecuteForceExit(context.Background(), state, time.Now().Add(time.Minute))
	assert.Error(t, err)
}

func TestSwapExcessToExitToken_RoutesRemainderAndZeroesOtherSide(t *testing.T) {
	router := &fakeContractClient{sendHash: common.HexToHash("0x09")}
	waiter := &fakeWaiter{receipt: &types.TxReceipt{
		Status: "0x1",
		Logs:   []types.Log{{Topics: []string{"t0", "t1", "t2"}, Data: big.NewInt(500).Bytes()}},
	}}
	m := newTestManager(&fakeContractClient{}, waiter, router)

	state := testState(big.NewInt(1), big.NewInt(0))
	state.Config.ExitToken = strategy.ExitToken0
	result := &Result{Amount0Out: big.NewInt(0), Amount1Out: big.NewInt(300)}

	m.swapExcessToExitToken(context.Background(), state, result)
	assert.Equal(t, []Step{StepSwap}, result.Completed)
	assert.Equal(t, big.NewInt(500), result.Amount0Out)
	assert.Equal(t, big.NewInt(0), result.Amount1Out)
}

func TestSwapExcessToExitToken_NoPreferenceIsNoop(t *testing.T) {
	m := newTestManager(&fakeContractClient{}, &fakeWaiter{}, &fakeContractClient{})
	state := testState(big.NewInt(1), big.NewInt(0))
	state.Config.ExitToken = strategy.ExitTokenNoPreference
	result := &Result{Amount0Out: big.NewInt(0), Amount1Out: big.NewInt(300)}

	m.swapExcessToExitToken(context.Background(), state, result)
	assert.Empty(t, result.Completed)
	assert.Equal(t, big.NewInt(300), result.Amount1Out)
}

func TestSwapExcessToExitToken_ZeroAmountIsNoop(t *testing.T) {
	m := newTestManager(&fakeContractClient{}, &fakeWaiter{}, &fakeContractClient{})
	state := testState(big.NewInt(1), big.NewInt(0))
	state.Config.ExitToken = strategy.ExitToken1
	result := &Result{Amount0Out: big.NewInt(0), Amount1Out: big.NewInt(0)}

	m.swapExcessToExitToken(context.Background(), state, result)
	assert.Empty(t, result.Completed)
}
