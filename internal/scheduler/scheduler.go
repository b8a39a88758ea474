// Package scheduler owns the set of strategy instances
// (create/start/stop/reset/delete/forceExit/get/list/subscribe) and drives
// each one's InstanceMachine, supporting an arbitrary number of concurrently
// live instances, each with its own ChainClient/SwapRouter built from its
// own PoolConfig.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blackholelabs/lpstrategy/internal/chainclient"
	"github.com/blackholelabs/lpstrategy/internal/eventbus"
	"github.com/blackholelabs/lpstrategy/internal/forceexit"
	"github.com/blackholelabs/lpstrategy/internal/gasoracle"
	"github.com/blackholelabs/lpstrategy/internal/pnltracker"
	"github.com/blackholelabs/lpstrategy/internal/store"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
	"github.com/blackholelabs/lpstrategy/internal/swaprouter"
)

// InstanceDeps is everything a single instance's ChainClient/SwapRouter
// needs, built from its PoolConfig. The Scheduler never dials RPC itself; it
// asks Factory for a ready-made pair per instance, keeping the Scheduler
// agnostic of go-ethereum wiring details via constructor injection.
type InstanceDeps struct {
	Chain  *chainclient.ChainClient
	Router *swaprouter.SwapRouter
}

// Factory builds the on-chain dependencies for one instance's pool config.
type Factory func(cfg strategy.StrategyConfig) (InstanceDeps, error)

// Dependencies is everything shared across every instance the Scheduler
// runs.
type Dependencies struct {
	Store      *store.Store
	TxLog      *store.TxLog
	Bus        *eventbus.Bus
	PnL        *pnltracker.Tracker
	Gas        *gasoracle.Oracle
	Recognized strategy.RecognizedQuoteTokens
	NewDeps    Factory

	// RecoveryBudget bounds how many times a single instance may be
	// recovered at startup before it is parked in Error.
	RecoveryBudget int
	// StopGrace bounds how long `stop` waits for a machine to exit its
	// current stage before the Scheduler gives up waiting. It does not
	// force-kill the goroutine: in-flight transactions are never cancelled
	// client-side.
	StopGrace time.Duration

	Log zerolog.Logger
}

// entry is the Scheduler's bookkeeping for one instance: its state plus the
// machinery needed to run and stop it.
type entry struct {
	mu      sync.Mutex
	state   *strategy.InstanceState
	cancel  context.CancelFunc
	done    chan struct{}
	machine *InstanceMachine
}

// Scheduler is the process-wide owner of every InstanceState, implementing
// strategy.SchedulerView for the InstanceMachines it runs.
type Scheduler struct {
	deps Dependencies

	mu        sync.RWMutex
	instances map[uuid.UUID]*entry

	subscriptions struct {
		mu   sync.Mutex
		byID map[eventbus.SubscriptionID][]eventbus.SubscriptionID
	}
}

// New builds a Scheduler with no instances loaded; call RecoverAll to
// rehydrate persisted instances at process startup.
func New(deps Dependencies) *Scheduler {
	if deps.RecoveryBudget <= 0 {
		deps.RecoveryBudget = 3
	}
	if deps.StopGrace <= 0 {
		deps.StopGrace = 10 * time.Second
	}
	s := &Scheduler{
		deps:      deps,
		instances: make(map[uuid.UUID]*entry),
	}
	s.subscriptions.byID = make(map[eventbus.SubscriptionID][]eventbus.SubscriptionID)
	return s
}

// Persist implements strategy.SchedulerView.
func (s *Scheduler) Persist(ctx context.Context, state *strategy.InstanceState) error {
	return s.deps.Store.Persist(state)
}

// Publish implements strategy.SchedulerView.
func (s *Scheduler) Publish(event strategy.StateChangeEvent) {
	s.deps.Bus.Publish(string(event.Kind), event)
}

// RecordTx implements strategy.SchedulerView. TxLog is optional (nil when no
// MySQL DSN is configured); in that case the append-only history lives only
// in the instance's own persisted Txs slice.
func (s *Scheduler) RecordTx(ctx context.Context, instanceID uuid.UUID, tx strategy.TxRecord) error {
	if s.deps.TxLog == nil {
		return nil
	}
	return s.deps.TxLog.AppendTx(instanceID, tx)
}

// Create validates cfg, classifies its scenario/base currency, persists a
// fresh Initialized instance, and returns its id. It does not start it.
func (s *Scheduler) Create(ctx context.Context, cfg strategy.StrategyConfig) (uuid.UUID, error) {
	if err := cfg.Validate(); err != nil {
		return uuid.Nil, err
	}

	defaultBase := cfg.BaseCurrencyOverride
	scenario, base := strategy.ClassifyBaseCurrency(cfg.Pool.Token0, cfg.Pool.Token1, s.deps.Recognized, defaultBase)

	state := strategy.NewInstanceState(cfg)
	state.Scenario = scenario
	state.BaseCurrency = base.Hex()

	s.mu.Lock()
	s.instances[state.ID] = &entry{state: state}
	s.mu.Unlock()

	if err := s.deps.Store.Persist(state); err != nil {
		return uuid.Nil, fmt.Errorf("scheduler: persisting new instance: %w", err)
	}
	s.broadcastListUpdate(state)
	return state.ID, nil
}

// Start launches an instance's InstanceMachine. Valid from Initialized,
// Paused (resuming at Monitoring if a position exists, else Preparing), or
// Error (only after an explicit reset has run).
func (s *Scheduler) Start(ctx context.Context, id uuid.UUID) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine != nil && e.state.Status != strategy.StatusPaused {
		return strategy.NewError(strategy.KindInstanceBusy, nil, map[string]any{"id": id})
	}

	switch e.state.Status {
	case strategy.StatusInitialized:
		e.state.Status = strategy.StatusPreparing
		e.state.Stage = strategy.StagePrepare
	case strategy.StatusPaused:
		if e.state.Position != nil && e.state.Position.TokenID != nil {
			e.state.Status = strategy.StatusMonitoring
			e.state.Stage = strategy.StageMonitor
		} else {
			e.state.Status = strategy.StatusPreparing
			e.state.Stage = strategy.StagePrepare
		}
	default:
		return strategy.NewError(strategy.KindInstanceBusy, nil, map[string]any{"id": id, "status": e.state.Status})
	}

	if err := s.launch(e); err != nil {
		return err
	}
	return s.deps.Store.Persist(e.state)
}

// launch builds this instance's on-chain dependencies, wires a fresh
// InstanceMachine, and runs it in its own goroutine. Callers hold e.mu and
// have already set e.state.Status/Stage to the desired resume point.
func (s *Scheduler) launch(e *entry) error {
	deps, err := s.deps.NewDeps(e.state.Config)
	if err != nil {
		return fmt.Errorf("scheduler: building instance dependencies: %w", err)
	}

	machine := NewInstanceMachine(e.state, deps.Chain, deps.Router, s.deps.Gas, s, s.deps.Bus, s.deps.Log)
	runCtx, cancel := context.WithCancel(context.Background())
	e.machine = machine
	e.cancel = cancel
	e.done = make(chan struct{})

	id := e.state.ID
	go func() {
		defer close(e.done)
		if err := machine.Run(runCtx); err != nil {
			s.deps.Log.Warn().Err(err).Str("instance", id.String()).Msg("instance machine exited with error")
		}
	}()

	return nil
}

// Stop requests a live instance pause at its next cancellation checkpoint
// and waits up to StopGrace for it to actually do so.
func (s *Scheduler) Stop(ctx context.Context, id uuid.UUID) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return strategy.NewError(strategy.KindInstanceBusy, nil, map[string]any{"id": id, "reason": "not running"})
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(s.deps.StopGrace):
	case <-ctx.Done():
	}
	return nil
}

// Reset clears an Error instance's last error, drops its machine (so the next
// Start builds a fresh CircuitBreaker) and returns it to Initialized at once;
// no StabilityWindow is consulted.
func (s *Scheduler) Reset(ctx context.Context, id uuid.UUID) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine != nil && e.state.Status != strategy.StatusError && e.state.Status != strategy.StatusPaused {
		return strategy.NewError(strategy.KindInstanceBusy, nil, map[string]any{"id": id, "status": e.state.Status})
	}

	e.state.Status = strategy.StatusInitialized
	e.state.Stage = strategy.StagePrepare
	e.state.LastError = ""
	e.state.ErrorCount = 0
	e.machine = nil
	e.cancel = nil

	return s.deps.Store.Persist(e.state)
}

// Delete removes an instance's record. It fails with InstanceBusy unless the
// instance is in a non-live terminal state.
func (s *Scheduler) Delete(ctx context.Context, id uuid.UUID) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if !e.state.Status.IsTerminal() {
		e.mu.Unlock()
		return strategy.NewError(strategy.KindInstanceBusy, nil, map[string]any{"id": id, "status": e.state.Status})
	}
	e.mu.Unlock()

	if err := s.deps.Store.Delete(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.instances, id)
	s.mu.Unlock()

	s.deps.Bus.Publish(string(strategy.EventDeleted), strategy.StateChangeEvent{Kind: strategy.EventDeleted, InstanceID: id})
	return nil
}

// ForceExit cancels any live machine and runs ForceExitManager against the
// instance directly, independent of the machine's own pipeline position.
func (s *Scheduler) ForceExit(ctx context.Context, id uuid.UUID, deadline time.Time) (*forceexit.Result, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	state := e.state
	e.mu.Unlock()

	if e.done != nil {
		select {
		case <-e.done:
		case <-time.After(s.deps.StopGrace):
		}
	}

	deps, err := s.deps.NewDeps(state.Config)
	if err != nil {
		return nil, fmt.Errorf("scheduler: building force-exit dependencies: %w", err)
	}
	mgr := forceexit.New(deps.Chain, deps.Router)

	result, err := mgr.ExecuteForceExit(ctx, state, deadline)

	e.mu.Lock()
	defer e.mu.Unlock()
	state.ExitReason = "force-exit"
	if err != nil {
		state.Status = strategy.StatusError
		state.LastError = err.Error()
	} else {
		baseReceived := convertToBase(state, result.Amount0Out, result.Amount1Out)
		s.deps.Bus.Publish("position.closed", pnltracker.PositionClosed{
			InstanceID:   state.ID,
			BaseReceived: baseReceived,
			GasCostBase:  gasCostInBase(state),
		})
		state.Status = strategy.StatusExited
		state.Position = nil
	}
	e.machine = nil
	e.cancel = nil
	_ = s.deps.Store.Persist(state)
	s.broadcastListUpdate(state)
	return result, err
}

// Get returns the current state of one instance.
func (s *Scheduler) Get(id uuid.UUID) (*strategy.InstanceState, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// List returns the current state of every known instance.
func (s *Scheduler) List() []*strategy.InstanceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*strategy.InstanceState, 0, len(s.instances))
	for _, e := range s.instances {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	return out
}

// Subscribe relays every strategy:* event concerning one instance onto a
// channel, for the Presenter's per-instance WebSocket stream.
func (s *Scheduler) Subscribe(id uuid.UUID) (eventbus.SubscriptionID, <-chan strategy.StateChangeEvent) {
	ch := make(chan strategy.StateChangeEvent, 32)
	var subIDs []eventbus.SubscriptionID
	handler := func(e eventbus.Event) {
		event, ok := e.Payload.(strategy.StateChangeEvent)
		if !ok || event.InstanceID != id {
			return
		}
		select {
		case ch <- event:
		default:
		}
	}
	for _, topic := range []strategy.StateChangeEventKind{strategy.EventUpdate, strategy.EventProgress, strategy.EventListUpdate, strategy.EventDeleted} {
		subIDs = append(subIDs, s.deps.Bus.Subscribe(string(topic), handler))
	}
	// The first subscription id is the handle callers use to unsubscribe
	// all four at once via UnsubscribeAll.
	s.subscriptions.mu.Lock()
	s.subscriptions.byID[subIDs[0]] = subIDs
	s.subscriptions.mu.Unlock()
	return subIDs[0], ch
}

// UnsubscribeAll tears down every underlying eventbus subscription a
// Subscribe call registered under handle, the counterpart the Presenter's
// WebSocket stream calls when a client disconnects.
func (s *Scheduler) UnsubscribeAll(handle eventbus.SubscriptionID) {
	s.subscriptions.mu.Lock()
	subIDs, ok := s.subscriptions.byID[handle]
	delete(s.subscriptions.byID, handle)
	s.subscriptions.mu.Unlock()
	if !ok {
		return
	}
	for i, topic := range []strategy.StateChangeEventKind{strategy.EventUpdate, strategy.EventProgress, strategy.EventListUpdate, strategy.EventDeleted} {
		s.deps.Bus.Unsubscribe(string(topic), subIDs[i])
	}
}

func (s *Scheduler) lookup(id uuid.UUID) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.instances[id]
	if !ok {
		return nil, strategy.NewError(strategy.KindInvalidConfig, fmt.Errorf("unknown instance %s", id), nil)
	}
	return e, nil
}

func (s *Scheduler) broadcastListUpdate(state *strategy.InstanceState) {
	s.deps.Bus.Publish(string(strategy.EventListUpdate), strategy.StateChangeEvent{
		Kind:       strategy.EventListUpdate,
		InstanceID: state.ID,
		State:      state,
	})
}
