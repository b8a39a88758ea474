package scheduler

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blackholelabs/lpstrategy/internal/chainclient"
	"github.com/blackholelabs/lpstrategy/internal/eventbus"
	"github.com/blackholelabs/lpstrategy/internal/forceexit"
	"github.com/blackholelabs/lpstrategy/internal/gasoracle"
	"github.com/blackholelabs/lpstrategy/internal/pnltracker"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/internal/swaprouter"
	"github.com/blackholelabs/lpstrategy/pkg/contractclient"
	"github.com/blackholelabs/lpstrategy/pkg/tickmath"
)

// prepareSampleInterval separates Prepare's two slot0 reads.
const prepareSampleInterval = 2 * time.Second

// balanceEpsilon is the small epsilon allowed before a side is considered
// short, during balance-and-approve.
var balanceEpsilon = big.NewInt(1)

// InstanceMachine runs one per live strategy, executing the prepare ->
// balance&approve -> mint -> monitor -> exit pipeline against a borrowed
// *strategy.InstanceState it is the sole writer of while live.
type InstanceMachine struct {
	state *strategy.InstanceState

	chain  *chainclient.ChainClient
	router *swaprouter.SwapRouter
	gas    *gasoracle.Oracle
	view   strategy.SchedulerView
	bus    *eventbus.Bus

	breaker *strategy.CircuitBreaker
	log     zerolog.Logger

	// prepareDeltaTick is the drift observed between Stage 1's two slot0
	// samples, consumed by Stage 3 for dynamic slippage (and logged); the
	// mint's gas limit and gas price are not derived from it.
	prepareDeltaTick int

	// stateMu guards appends to state.Swaps from the two concurrent
	// ensureSide goroutines in stageBalanceAndApprove; every other stage
	// runs sequentially and needs no locking of its own.
	stateMu sync.Mutex
}

// NewInstanceMachine builds a machine bound to one instance's state and
// on-chain dependencies.
func NewInstanceMachine(state *strategy.InstanceState, chain *chainclient.ChainClient, router *swaprouter.SwapRouter, gas *gasoracle.Oracle, view strategy.SchedulerView, bus *eventbus.Bus, log zerolog.Logger) *InstanceMachine {
	window := state.Config.CircuitBreakerWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	threshold := state.Config.CircuitBreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	return &InstanceMachine{
		state:   state,
		chain:   chain,
		router:  router,
		gas:     gas,
		view:    view,
		bus:     bus,
		breaker: strategy.NewCircuitBreaker(window, threshold),
		log:     log.With().Str("component", "instance").Str("instance", state.ID.String()).Logger(),
	}
}

// Run drives the instance through as much of the pipeline as its current
// status allows before blocking indefinitely (Monitor) or returning (every
// other terminal/paused outcome).
func (m *InstanceMachine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return m.pause(ctx)
		}

		switch m.state.Status {
		case strategy.StatusInitialized:
			if err := m.transition(ctx, strategy.StatusPreparing, strategy.StagePrepare); err != nil {
				return err
			}
		case strategy.StatusPreparing:
			if err := m.stagePrepare(ctx); err != nil {
				return m.fail(ctx, err)
			}
			if err := m.transition(ctx, strategy.StatusRunning, strategy.StageBalanceAndApprove); err != nil {
				return err
			}
		case strategy.StatusRunning:
			if err := m.stageBalanceAndApprove(ctx); err != nil {
				return m.fail(ctx, err)
			}
			if err := m.stageMint(ctx); err != nil {
				return m.fail(ctx, err)
			}
			if err := m.transition(ctx, strategy.StatusMonitoring, strategy.StageMonitor); err != nil {
				return err
			}
		case strategy.StatusMonitoring:
			err := m.stageMonitor(ctx)
			if err != nil {
				return m.fail(ctx, err)
			}
			return nil
		default:
			return nil
		}
	}
}

func (m *InstanceMachine) transition(ctx context.Context, status strategy.Status, stage strategy.Stage) error {
	m.state.Status = status
	m.state.Stage = stage
	m.state.UpdatedAt = time.Now()
	if err := m.view.Persist(ctx, m.state); err != nil {
		return fmt.Errorf("instance: persisting transition to %s: %w", status, err)
	}
	m.view.Publish(strategy.StateChangeEvent{Kind: strategy.EventUpdate, InstanceID: m.state.ID, State: m.state})
	return nil
}

// pause handles a cancellation delivered between stages:
// Preparing/Running/Monitoring become Paused; anything else is left as-is (it was never live).
func (m *InstanceMachine) pause(ctx context.Context) error {
	if m.state.Status == strategy.StatusRunning || m.state.Status == strategy.StatusMonitoring || m.state.Status == strategy.StatusPreparing {
		m.state.Status = strategy.StatusPaused
		_ = m.view.Persist(context.Background(), m.state)
		m.view.Publish(strategy.StateChangeEvent{Kind: strategy.EventUpdate, InstanceID: m.state.ID, State: m.state})
	}
	return nil
}

// fail classifies err, records it against the CircuitBreaker, and parks the
// instance in Error. The caller always returns immediately after this.
func (m *InstanceMachine) fail(ctx context.Context, err error) error {
	kind := strategy.KindOf(err)
	critical := !kind.Retryable() && kind != strategy.KindForceExitTimedOut
	m.breaker.RecordError(critical)

	m.state.Status = strategy.StatusError
	m.state.LastError = err.Error()
	m.state.ErrorCount++
	m.state.UpdatedAt = time.Now()
	_ = m.view.Persist(context.Background(), m.state)
	m.view.Publish(strategy.StateChangeEvent{Kind: strategy.EventUpdate, InstanceID: m.state.ID, State: m.state})
	return err
}

// stagePrepare runs two slot0 reads, tick-range derivation, and
// required-amount computation.
func (m *InstanceMachine) stagePrepare(ctx context.Context) error {
	cfg := m.state.Config
	spacing, err := tickmath.TickSpacingForFee(int(cfg.Pool.Fee))
	if err != nil {
		return strategy.NewError(strategy.KindInvalidConfig, err, nil)
	}

	first, err := m.samplePool(ctx)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(prepareSampleInterval):
	}

	final, err := m.samplePool(ctx)
	if err != nil {
		return err
	}
	m.prepareDeltaTick = final.Tick - first.Tick

	tickLower := tickmath.AlignToSpacing(tickAtPercent(final.Tick, cfg.LowerPercent), spacing, tickmath.Floor)
	tickUpper := tickmath.AlignToSpacing(tickAtPercent(final.Tick, cfg.UpperPercent), spacing, tickmath.Ceil)
	if err := tickmath.ValidateRange(tickLower, tickUpper); err != nil {
		return strategy.NewError(strategy.KindInvalidTickRange, err, map[string]any{"tickLower": tickLower, "tickUpper": tickUpper})
	}

	sqrtX, err := tickmath.SqrtRatioAtTick(final.Tick)
	if err != nil {
		return strategy.NewError(strategy.KindInvalidTickRange, err, nil)
	}
	sqrtA, err := tickmath.SqrtRatioAtTick(tickLower)
	if err != nil {
		return strategy.NewError(strategy.KindInvalidTickRange, err, nil)
	}
	sqrtB, err := tickmath.SqrtRatioAtTick(tickUpper)
	if err != nil {
		return strategy.NewError(strategy.KindInvalidTickRange, err, nil)
	}

	var liquidity *big.Int
	if cfg.InputToken == cfg.Pool.Token0 {
		liquidity = tickmath.GetLiquidityForAmount0(sqrtA, sqrtB, cfg.InputAmount)
	} else {
		liquidity = tickmath.GetLiquidityForAmount1(sqrtA, sqrtB, cfg.InputAmount)
	}
	amount0, amount1 := tickmath.GetAmountsForLiquidity(sqrtX, sqrtA, sqrtB, liquidity)

	m.state.Position = &strategy.Position{
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: liquidity,
		Amount0:   amount0,
		Amount1:   amount1,
	}
	return nil
}

func (m *InstanceMachine) samplePool(ctx context.Context) (*chainclient.PoolState, error) {
	state, err := m.chain.PoolStateOf(ctx)
	if err != nil {
		return nil, strategy.NewError(strategy.KindRpcTransient, err, nil)
	}
	m.state.Market = strategy.MarketSnapshot{
		SqrtPriceX96: state.SqrtPriceX96,
		Tick:         state.Tick,
		ObservedAt:   time.Now(),
	}
	return state, nil
}

// tickAtPercent approximates the tick offset corresponding to a signed
// percentage price move from currentTick (pct = -5 means -5%), using
// tick = ln(1+pct/100)/ln(1.0001).
func tickAtPercent(currentTick int, pct float64) int {
	if pct == 0 {
		return currentTick
	}
	delta := math.Log(1+pct/100) / math.Log(1.0001)
	return currentTick + int(math.Round(delta))
}

// stageBalanceAndApprove: for each side whose required amount exceeds the
// current balance, swap the shortfall (plus buffer); for each side whose
// allowance is insufficient, approve. Both sides run concurrently; within
// one side, swap always precedes approve.
func (m *InstanceMachine) stageBalanceAndApprove(ctx context.Context) error {
	cfg := m.state.Config
	pos := m.state.Position

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.ensureSide(gctx, m.chain.Token0(), cfg.Pool.Token1, cfg.Pool.Token0, pos.Amount0) })
	g.Go(func() error { return m.ensureSide(gctx, m.chain.Token1(), cfg.Pool.Token0, cfg.Pool.Token1, pos.Amount1) })
	return g.Wait()
}

func (m *InstanceMachine) ensureSide(ctx context.Context, token contractclient.ContractClient, otherToken, thisToken common.Address, required *big.Int) error {
	if required == nil || required.Sign() <= 0 {
		return nil
	}

	balance, err := m.chain.BalanceOf(token)
	if err != nil {
		return strategy.NewError(strategy.KindRpcTransient, err, nil)
	}

	shortfall := new(big.Int).Sub(required, balance)
	if shortfall.Cmp(balanceEpsilon) > 0 {
		buffered := applyBufferPct(shortfall, m.state.Config.SwapBufferPct)
		route := swaprouter.Route{From: otherToken, To: thisToken}
		amountOutMin := minusSlippage(buffered, m.state.Config.SwapSlippagePct)
		result, err := m.router.SwapExact(ctx, []swaprouter.Route{route}, buffered, amountOutMin, m.signerAddress(), time.Now().Add(5*time.Minute))
		if err != nil {
			return err
		}
		m.stateMu.Lock()
		m.state.Swaps = append(m.state.Swaps, strategy.SwapRecord{
			TxHash:     result.TxHash.Hex(),
			TokenIn:    otherToken.Hex(),
			TokenOut:   thisToken.Hex(),
			AmountIn:   buffered,
			AmountOut:  result.AmountOut,
			ExecutedAt: time.Now(),
		})
		m.stateMu.Unlock()
		m.recordTx(ctx, strategy.TxRecord{
			TxHash: result.TxHash.Hex(), Kind: "swap", Status: "0x1", Stage: strategy.StageBalanceAndApprove, CreatedAt: time.Now(),
		})
	}

	receipt, err := m.chain.EnsureApproval(ctx, token, m.posMgrAddress(), required)
	if err != nil {
		return err
	}
	if receipt != nil {
		m.recordTx(ctx, strategy.TxRecord{
			TxHash: receipt.TxHash, Kind: "approve", Status: receipt.Status, GasCost: receipt.GasCost(), Stage: strategy.StageBalanceAndApprove, CreatedAt: time.Now(),
		})
	}
	return nil
}

// recordTx appends tx to the instance's own durable Txs history and, best
// effort, to the optional out-of-process TxLog. The in-state slice is what
// gasCostInBase and the persisted snapshot rely on; TxLog is a secondary,
// queryable copy that may be absent.
func (m *InstanceMachine) recordTx(ctx context.Context, tx strategy.TxRecord) {
	m.stateMu.Lock()
	m.state.Txs = append(m.state.Txs, tx)
	m.stateMu.Unlock()
	_ = m.view.RecordTx(ctx, m.state.ID, tx)
}

// stageMint computes dynamic slippage, builds MintParams, submits the mint,
// and extracts the authoritative minted amounts from the result.
func (m *InstanceMachine) stageMint(ctx context.Context) error {
	cfg := m.state.Config
	pos := m.state.Position

	slippage := dynamicSlippage(cfg.LiquiditySlippagePct, m.prepareDeltaTick)

	gwei := m.gas.CurrentGwei(ctx)
	m.log.Info().Float64("gasGwei", gwei).Int("deltaTick", m.prepareDeltaTick).Float64("slippagePct", slippage).Msg("minting position")

	amount0Min := minusSlippageFloat(pos.Amount0, slippage)
	amount1Min := minusSlippageFloat(pos.Amount1, slippage)

	newPos, receipt, err := m.chain.Mint(ctx, chainclient.MintParams{
		Token0:         cfg.Pool.Token0,
		Token1:         cfg.Pool.Token1,
		Deployer:       cfg.Pool.Factory,
		TickLower:      pos.TickLower,
		TickUpper:      pos.TickUpper,
		Amount0Desired: pos.Amount0,
		Amount1Desired: pos.Amount1,
		Amount0Min:     amount0Min,
		Amount1Min:     amount1Min,
		Recipient:      m.signerAddress(),
		Deadline:       big.NewInt(time.Now().Add(10 * time.Minute).Unix()),
	})
	if err != nil {
		return err
	}

	m.logCapitalUtilization(pos, newPos)
	m.state.Position = newPos

	if receipt != nil {
		m.recordTx(ctx, strategy.TxRecord{
			TxHash: receipt.TxHash, Kind: "mint", Status: receipt.Status, GasCost: receipt.GasCost(), Stage: strategy.StageMint, CreatedAt: time.Now(),
		})
	}

	baseSpent := m.costBasis()
	m.bus.Publish("position.created", pnltracker.PositionCreated{
		InstanceID: m.state.ID,
		Scenario:   m.state.Scenario,
		BaseSpent:  baseSpent,
	})
	return nil
}

// logCapitalUtilization reports what fraction of the desired amounts the
// mint actually used, a diagnostic line logged once the mint receipt is in.
func (m *InstanceMachine) logCapitalUtilization(desired, actual *strategy.Position) {
	util0, util1 := utilizationFraction(desired.Amount0, actual.Amount0), utilizationFraction(desired.Amount1, actual.Amount1)
	m.log.Info().Float64("utilization0", util0).Float64("utilization1", util1).Msg("mint capital utilization")
}

func utilizationFraction(desired, actual *big.Int) float64 {
	if desired == nil || desired.Sign() == 0 || actual == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(actual), new(big.Float).SetInt(desired))
	v, _ := f.Float64()
	return v
}

// costBasis sums the base-currency amount spent across every swap recorded
// during BalanceAndApprove, plus any input directly supplied in the base
// currency (the one-side-is-base scenario).
func (m *InstanceMachine) costBasis() *big.Int {
	total := big.NewInt(0)
	for _, swap := range m.state.Swaps {
		if swap.TokenIn == m.state.BaseCurrency {
			total.Add(total, swap.AmountIn)
		}
	}
	if m.state.Config.InputToken.Hex() == m.state.BaseCurrency {
		total.Add(total, m.state.Config.InputAmount)
	}
	return total
}

// stageMonitor polls the tick at a steady cadence, tracking
// out-of-range-since, and exits gracefully once the out-of-range window
// exceeds the configured timeout.
func (m *InstanceMachine) stageMonitor(ctx context.Context) error {
	interval := m.state.Config.MonitorInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			state, err := m.samplePool(ctx)
			if err != nil {
				return err
			}
			m.bus.Publish("pool.tick", m.state.Market)

			pos := m.state.Position
			if pos.InRange(state.Tick) {
				pos.OutOfRange = false
				pos.OutOfRangeSince = time.Time{}
				continue
			}

			pos.OutOfRange = true
			if pos.OutOfRangeSince.IsZero() {
				pos.OutOfRangeSince = time.Now()
				continue
			}
			if time.Since(pos.OutOfRangeSince) >= m.state.Config.MonitorTimeout {
				return m.exitGracefully(ctx, "out-of-range-timeout")
			}
		}
	}
}

// exitGracefully runs the same steps as ForceExitManager but with a distinct
// exit reason, under a fixed two-minute deadline.
func (m *InstanceMachine) exitGracefully(ctx context.Context, reason string) error {
	mgr := forceexit.New(m.chain, m.router)
	deadline := time.Now().Add(2 * time.Minute)
	result, err := mgr.ExecuteForceExit(ctx, m.state, deadline)
	if err != nil {
		return err
	}

	gasCostBase := m.gasCostInBase()
	baseReceived := convertToBase(m.state, result.Amount0Out, result.Amount1Out)
	m.bus.Publish("position.closed", pnltracker.PositionClosed{
		InstanceID:   m.state.ID,
		BaseReceived: baseReceived,
		GasCostBase:  gasCostBase,
	})

	m.state.Status = strategy.StatusExited
	m.state.ExitReason = reason
	m.state.Position = nil
	_ = m.view.Persist(ctx, m.state)
	m.view.Publish(strategy.StateChangeEvent{Kind: strategy.EventUpdate, InstanceID: m.state.ID, State: m.state})
	return nil
}

// gasCostInBase sums the GasCost field of every recorded transaction; it is
// already wei of the chain's native gas token, reported as-is (native gas
// token and base currency coincide for every recognized quote token on the
// target chain).
func (m *InstanceMachine) gasCostInBase() *big.Int {
	return gasCostInBase(m.state)
}

func (m *InstanceMachine) signerAddress() common.Address {
	return m.chain.Owner()
}

func (m *InstanceMachine) posMgrAddress() common.Address {
	return m.chain.PositionManager().ContractAddress()
}

// applyBufferPct adds bufferPct percent on top of shortfall.
func applyBufferPct(shortfall *big.Int, bufferPct float64) *big.Int {
	if bufferPct <= 0 {
		return new(big.Int).Set(shortfall)
	}
	f := new(big.Float).SetInt(shortfall)
	f.Mul(f, big.NewFloat(1+bufferPct/100))
	out, _ := f.Int(nil)
	return out
}

// minusSlippage reduces amount by pct percent (e.g. 1 means 1%), floored at 0.
func minusSlippage(amount *big.Int, pct float64) *big.Int {
	return minusSlippageFloat(amount, pct)
}

// minusSlippageFloat reduces amount by pct percent (e.g. 1 means 1%), floored at 0.
func minusSlippageFloat(amount *big.Int, pct float64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	f := new(big.Float).SetInt(amount)
	f.Mul(f, big.NewFloat(1-pct/100))
	out, _ := f.Int(nil)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// dynamicSlippage computes base + min(|deltaTick| x 0.001, 2) + (0.25 if
// deltaTick = 0), clamped to 99.9.
func dynamicSlippage(basePct float64, deltaTick int) float64 {
	abs := deltaTick
	if abs < 0 {
		abs = -abs
	}
	slippage := basePct + math.Min(float64(abs)*0.001, 2)
	if deltaTick == 0 {
		slippage += 0.25
	}
	if slippage > 99.9 {
		slippage = 99.9
	}
	return slippage
}
