package scheduler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/lpstrategy/internal/chainclient"
	"github.com/blackholelabs/lpstrategy/internal/eventbus"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/internal/swaprouter"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// fakeContractClient is a minimal contractclient.ContractClient double, the
// same shape internal/chainclient's and internal/swaprouter's own test
// files use.
type fakeContractClient struct {
	address    common.Address
	callResult []any
	callErr    error
	sendHash   common.Hash
	sendErr    error
}

func (f *fakeContractClient) Call(from *common.Address, method string, args ...any) ([]any, error) {
	return f.callResult, f.callErr
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

// fakeView is an in-memory strategy.SchedulerView double recording every
// call, so tests can assert on persistence/publish/tx-log side effects
// without a real Scheduler.
type fakeView struct {
	persisted []*strategy.InstanceState
	published []strategy.StateChangeEvent
	txs       []strategy.TxRecord
}

func (v *fakeView) Persist(ctx context.Context, state *strategy.InstanceState) error {
	v.persisted = append(v.persisted, state)
	return nil
}
func (v *fakeView) Publish(event strategy.StateChangeEvent) {
	v.published = append(v.published, event)
}
func (v *fakeView) RecordTx(ctx context.Context, instanceID uuid.UUID, tx strategy.TxRecord) error {
	v.txs = append(v.txs, tx)
	return nil
}

func testConfig() strategy.StrategyConfig {
	token0 := common.HexToAddress("0x1000000000000000000000000000000000000000")
	token1 := common.HexToAddress("0x2000000000000000000000000000000000000000")
	return strategy.StrategyConfig{
		Pool: strategy.PoolConfig{
			Token0: token0,
			Token1: token1,
			Fee:    strategy.Fee3000,
		},
		InputToken:           token0,
		InputAmount:          big.NewInt(1_000_000),
		LowerPercent:         -0.1,
		UpperPercent:         0.1,
		SwapSlippagePct:      0.5,
		LiquiditySlippagePct: 1,
		SwapBufferPct:        1,
		MonitorTimeout:       time.Minute,
		MonitorInterval:      time.Second,
	}
}

func newTestMachine(t *testing.T, token0, token1 *fakeContractClient, router *fakeContractClient, waiter *fakeWaiter) (*InstanceMachine, *fakeView) {
	t.Helper()
	signer := &contractclient.Signer{}
	chain := chainclient.New(nil, nil, token0, token1, &fakeContractClient{}, signer, waiter, zerolog.Nop())
	swr := swaprouter.New(router, signer, waiter)

	cfg := testConfig()
	state := strategy.NewInstanceState(cfg)
	state.Position = &strategy.Position{
		TickLower: -600,
		TickUpper: 600,
		Amount0:   big.NewInt(1_000_000),
		Amount1:   big.NewInt(1_000_000),
	}

	view := &fakeView{}
	bus := eventbus.New(10, zerolog.Nop())
	m := NewInstanceMachine(state, chain, swr, nil, view, bus, zerolog.Nop())
	return m, view
}

func TestStageBalanceAndApprove_SwapsShortfallAndApproves(t *testing.T) {
	token0 := &fakeContractClient{callResult: []any{big.NewInt(0)}} // balance=0, allowance=0
	token1 := &fakeContractClient{callResult: []any{big.NewInt(0)}}
	router := &fakeContractClient{sendHash: common.HexToHash("0x01")}
	waiter := &fakeWaiter{receipt: &types.TxReceipt{Status: "0x1", TxHash: "0x01"}}

	m, view := newTestMachine(t, token0, token1, router, waiter)
	token0.sendHash = common.HexToHash("0x02")
	token1.sendHash = common.HexToHash("0x03")

	err := m.stageBalanceAndApprove(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, view.txs)
	assert.Len(t, m.state.Swaps, 2)
}

func TestStageBalanceAndApprove_SkipsWhenAlreadyFunded(t *testing.T) {
	token0 := &fakeContractClient{callResult: []any{big.NewInt(10_000_000)}} // ample balance/allowance
	token1 := &fakeContractClient{callResult: []any{big.NewInt(10_000_000)}}
	router := &fakeContractClient{}
	waiter := &fakeWaiter{receipt: &types.TxReceipt{Status: "0x1"}}

	m, _ := newTestMachine(t, token0, token1, router, waiter)
	err := m.stageBalanceAndApprove(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.state.Swaps)
}

func TestDynamicSlippage_BaseCaseNoDrift(t *testing.T) {
	// deltaTick == 0 adds the 0.25 "no observed drift" penalty.
	assert.InDelta(t, 1.25, dynamicSlippage(1, 0), 1e-9)
}

func TestDynamicSlippage_ScalesWithDrift(t *testing.T) {
	assert.InDelta(t, 1.05, dynamicSlippage(1, 50), 1e-9)
	assert.InDelta(t, 1.05, dynamicSlippage(1, -50), 1e-9)
}

func TestDynamicSlippage_ClampedTo99_9(t *testing.T) {
	assert.Equal(t, 99.9, dynamicSlippage(99, 5000))
}

func TestTickAtPercent_ZeroIsNoOp(t *testing.T) {
	assert.Equal(t, 1000, tickAtPercent(1000, 0))
}

func TestTickAtPercent_PositiveMovesUp(t *testing.T) {
	assert.Greater(t, tickAtPercent(1000, 0.05), 1000)
}

func TestTickAtPercent_NegativeMovesDown(t *testing.T) {
	assert.Less(t, tickAtPercent(1000, -0.05), 1000)
}

func TestMinusSlippageFloat_ReducesByPercent(t *testing.T) {
	out := minusSlippageFloat(big.NewInt(1000), 10)
	assert.Equal(t, big.NewInt(900), out)
}

func TestMinusSlippageFloat_FlooredAtZero(t *testing.T) {
	out := minusSlippageFloat(big.NewInt(1000), 150)
	assert.Equal(t, big.NewInt(0), out)
}

func TestApplyBufferPct_AddsBuffer(t *testing.T) {
	out := applyBufferPct(big.NewInt(1000), 5)
	assert.Equal(t, big.NewInt(1050), out)
}

func TestApplyBufferPct_ZeroBufferIsNoOp(t *testing.T) {
	out := applyBufferPct(big.NewInt(1000), 0)
	assert.Equal(t, big.NewInt(1000), out)
}

func TestUtilizationFraction_HalfUsed(t *testing.T) {
	assert.InDelta(t, 0.5, utilizationFraction(big.NewInt(100), big.NewInt(50)), 1e-9)
}

func TestUtilizationFraction_ZeroDesiredIsZero(t *testing.T) {
	assert.Equal(t, 0.0, utilizationFraction(big.NewInt(0), big.NewInt(50)))
}

func TestCostBasis_SumsBaseCurrencySwapsAndSkipsNonBaseInput(t *testing.T) {
	cfg := testConfig()
	state := strategy.NewInstanceState(cfg)
	state.BaseCurrency = cfg.Pool.Token1.Hex()
	state.Swaps = []strategy.SwapRecord{
		{TokenIn: cfg.Pool.Token1.Hex(), AmountIn: big.NewInt(500)},
		{TokenIn: cfg.Pool.Token0.Hex(), AmountIn: big.NewInt(999)},
	}
	m := &InstanceMachine{state: state}
	assert.Equal(t, big.NewInt(500), m.costBasis())
}
