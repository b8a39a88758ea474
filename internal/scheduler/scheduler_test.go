package scheduler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/lpstrategy/internal/eventbus"
	"github.com/blackholelabs/lpstrategy/internal/store"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// erroringFactory never succeeds, so any test that accidentally reaches
// Start/ForceExit's live-wiring path fails loudly with a plain error
// instead of risking a goroutine panic from half-built fakes.
func erroringFactory(cfg strategy.StrategyConfig) (InstanceDeps, error) {
	return InstanceDeps{}, errors.New("factory not wired in this test")
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(dir)
	require.NoError(t, err)
	bus := eventbus.New(10, zerolog.Nop())

	return New(Dependencies{
		Store:          st,
		Bus:            bus,
		NewDeps:        erroringFactory,
		RecoveryBudget: 3,
		StopGrace:      50 * time.Millisecond,
		Log:            zerolog.Nop(),
	})
}

func TestCreate_ValidConfigPersistsInitialized(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	state, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusInitialized, state.Status)
}

func TestCreate_InvalidConfigRejected(t *testing.T) {
	s := newTestScheduler(t)
	cfg := testConfig()
	cfg.InputAmount = big.NewInt(0)
	_, err := s.Create(context.Background(), cfg)
	assert.Error(t, err)
}

func TestGet_UnknownInstanceErrors(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.Get(mustRandomID())
	assert.Error(t, err)
	assert.Equal(t, strategy.KindInvalidConfig, strategy.KindOf(err))
}

func TestList_ReturnsEveryCreatedInstance(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)
	_, err = s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	assert.Len(t, s.List(), 2)
}

func TestStart_PropagatesFactoryError(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	err = s.Start(context.Background(), id)
	assert.Error(t, err)

	s.mu.RLock()
	e := s.instances[id]
	s.mu.RUnlock()
	assert.Nil(t, e.machine)
}

func TestStart_RejectsAlreadyBusyInstance(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	s.mu.RLock()
	e := s.instances[id]
	s.mu.RUnlock()
	e.machine = &InstanceMachine{}
	e.state.Status = strategy.StatusRunning

	err = s.Start(context.Background(), id)
	assert.Equal(t, strategy.KindInstanceBusy, strategy.KindOf(err))
}

func TestDelete_RejectsNonTerminalInstance(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	err = s.Delete(context.Background(), id)
	assert.Equal(t, strategy.KindInstanceBusy, strategy.KindOf(err))
}

func TestDelete_RemovesTerminalInstance(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	state, err := s.Get(id)
	require.NoError(t, err)
	state.Status = strategy.StatusExited

	require.NoError(t, s.Delete(context.Background(), id))
	_, err = s.Get(id)
	assert.Error(t, err)
}

func TestReset_ClearsErrorState(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	state, err := s.Get(id)
	require.NoError(t, err)
	state.Status = strategy.StatusError
	state.LastError = "boom"
	state.ErrorCount = 2

	require.NoError(t, s.Reset(context.Background(), id))
	assert.Equal(t, strategy.StatusInitialized, state.Status)
	assert.Equal(t, "", state.LastError)
	assert.Equal(t, 0, state.ErrorCount)
}

func TestSubscribe_DeliversMatchingInstanceEvents(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	_, ch := s.Subscribe(id)
	s.deps.Bus.Publish(string(strategy.EventUpdate), strategy.StateChangeEvent{
		Kind: strategy.EventUpdate, InstanceID: id,
	})

	select {
	case evt := <-ch:
		assert.Equal(t, id, evt.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("expected a subscribed event")
	}
}

func TestSubscribe_IgnoresOtherInstanceEvents(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	_, ch := s.Subscribe(id)
	s.deps.Bus.Publish(string(strategy.EventUpdate), strategy.StateChangeEvent{
		Kind: strategy.EventUpdate, InstanceID: mustRandomID(),
	})

	select {
	case <-ch:
		t.Fatal("did not expect an event for a different instance")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestForceExit_PropagatesFactoryError(t *testing.T) {
	s := newTestScheduler(t)
	id, err := s.Create(context.Background(), testConfig())
	require.NoError(t, err)

	_, err = s.ForceExit(context.Background(), id, time.Now().Add(time.Minute))
	assert.Error(t, err)
}

func TestRecoverable_FiltersByStatusAndAge(t *testing.T) {
	fresh := &strategy.InstanceState{Status: strategy.StatusMonitoring, LastPersisted: time.Now()}
	assert.True(t, recoverable(fresh))

	stale := &strategy.InstanceState{Status: strategy.StatusMonitoring, LastPersisted: time.Now().Add(-48 * time.Hour)}
	assert.False(t, recoverable(stale))

	terminal := &strategy.InstanceState{Status: strategy.StatusExited, LastPersisted: time.Now()}
	assert.False(t, recoverable(terminal))
}

func TestRecoverAll_LoadsPersistedInstancesWithoutLaunchingNonRecoverable(t *testing.T) {
	s := newTestScheduler(t)

	cfg := testConfig()
	completed := strategy.NewInstanceState(cfg)
	completed.Status = strategy.StatusCompleted
	require.NoError(t, s.deps.Store.Persist(completed))

	// Monitoring is recoverable-by-status, but the test scheduler's factory
	// always errors, so RecoverAll should log and move on rather than fail.
	monitoring := strategy.NewInstanceState(cfg)
	monitoring.Status = strategy.StatusMonitoring
	require.NoError(t, s.deps.Store.Persist(monitoring))

	require.NoError(t, s.RecoverAll(context.Background()))

	assert.Len(t, s.List(), 2)
	e, err := s.Get(completed.ID)
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusCompleted, e.Status)
}

func TestRecoverOne_BudgetExhaustedParksInError(t *testing.T) {
	s := newTestScheduler(t)
	s.deps.RecoveryBudget = 1

	cfg := testConfig()
	state := strategy.NewInstanceState(cfg)
	state.Status = strategy.StatusPreparing
	state.RecoveryAttempts = 1

	err := s.recoverOne(context.Background(), state)
	require.Error(t, err)
	assert.Equal(t, strategy.KindRecoveryBudgetExhausted, strategy.KindOf(err))
	assert.Equal(t, strategy.StatusError, state.Status)
	assert.Equal(t, "recovery-budget-exhausted", state.LastError)
}

func mustRandomID() (id [16]byte) {
	addr := common.HexToAddress("0xdeadbeef")
	copy(id[:], addr.Bytes())
	return id
}
