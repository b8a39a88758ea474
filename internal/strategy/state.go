package strategy

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle stage of one running instance.
type Status string

const (
	StatusInitialized Status = "Initialized"
	StatusPreparing   Status = "Preparing"
	StatusRunning     Status = "Running"
	StatusMonitoring  Status = "Monitoring"
	StatusPaused      Status = "Paused"
	StatusCompleted   Status = "Completed"
	StatusExited      Status = "Exited"
	StatusError       Status = "Error"
)

// Stage names the five pipeline steps an instance moves through on its way
// from Initialized to Monitoring.
type Stage string

const (
	StagePrepare          Stage = "Prepare"
	StageBalanceAndApprove Stage = "BalanceAndApprove"
	StageMint             Stage = "Mint"
	StageMonitor          Stage = "Monitor"
	StageExit             Stage = "Exit"
)

// MarketSnapshot is the pool state an instance last observed, used both to
// decide whether the position is in range and to render strategy:update.
type MarketSnapshot struct {
	SqrtPriceX96 *big.Int
	Tick         int
	ObservedAt   time.Time
}

// Position is the minted NFT position an instance is managing, once Stage 3
// completes.
type Position struct {
	TokenID    *big.Int
	TickLower  int
	TickUpper  int
	Liquidity  *big.Int
	Amount0    *big.Int
	Amount1    *big.Int
	MintedAt   time.Time
	OutOfRange bool
	// OutOfRangeSince is zero when the position is in range; it is set the
	// first tick observation that falls outside [TickLower, TickUpper) and
	// cleared the moment the tick re-enters.
	OutOfRangeSince time.Time
}

// SwapRecord is one aggregator swap executed during BalanceAndApprove.
type SwapRecord struct {
	TxHash     string
	TokenIn    string
	TokenOut   string
	AmountIn   *big.Int
	AmountOut  *big.Int
	ExecutedAt time.Time
}

// TxRecord is one on-chain write this instance submitted, independent of its
// domain meaning (mint, approve, swap, decrease, collect, burn).
type TxRecord struct {
	TxHash    string
	Kind      string
	Status    string
	GasCost   *big.Int
	Stage     Stage
	CreatedAt time.Time
}

// InstanceState is the full mutable record of one running strategy instance.
// It is the unit persisted by internal/store and rehydrated by
// internal/scheduler's recovery path.
type InstanceState struct {
	ID     uuid.UUID
	Config StrategyConfig

	Status Status
	Stage  Stage
	// Progress is a 0-100 hint for the current stage, rendered in
	// strategy:progress; it carries no scheduling meaning.
	Progress int

	Scenario    Scenario
	BaseCurrency string

	Market   MarketSnapshot
	Position *Position

	Swaps []SwapRecord
	Txs   []TxRecord

	// ErrorCount/LastError track the most recent failure for diagnostics;
	// every failure recorded here has parked the instance in Error.
	ErrorCount int
	LastError  string

	ExitReason string

	// RecoveryAttempts counts how many times Scheduler startup recovery has
	// tried to resume this instance, bounded by Dependencies.RecoveryBudget.
	RecoveryAttempts int

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastPersisted time.Time
}

// NewInstanceState builds a fresh, Initialized instance with a random ID.
func NewInstanceState(cfg StrategyConfig) *InstanceState {
	now := timeNow()
	return &InstanceState{
		ID:        uuid.New(),
		Config:    cfg,
		Status:    StatusInitialized,
		Stage:     StagePrepare,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// timeNow exists so tests can't accidentally depend on wall-clock precision
// beyond "monotonic enough to order two calls"; production always uses
// time.Now.
var timeNow = time.Now

// IsTerminal reports whether the instance will never process another stage
// transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExited, StatusError:
		return true
	default:
		return false
	}
}

// InRange reports whether tick falls within [TickLower, TickUpper), the same
// half-open convention ticks use throughout pkg/tickmath.
func (p *Position) InRange(tick int) bool {
	return tick >= p.TickLower && tick < p.TickUpper
}
