package store

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

func newTestState() *strategy.InstanceState {
	s := strategy.NewInstanceState(strategy.StrategyConfig{
		InputAmount: big.NewInt(1),
	})
	s.Status = strategy.StatusRunning
	return s
}

func TestPersistAndLoad(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	state := newTestState()
	require.NoError(t, s.Persist(state))

	loaded, err := s.Load(state.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ID, loaded.ID)
	assert.Equal(t, strategy.StatusRunning, loaded.Status)
	assert.False(t, loaded.LastPersisted.IsZero())
}

func TestLoadAll(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	a, b := newTestState(), newTestState()
	require.NoError(t, s.Persist(a))
	require.NoError(t, s.Persist(b))

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	state := newTestState()
	require.NoError(t, s.Persist(state))
	require.NoError(t, s.Delete(state.ID))

	_, err = s.Load(state.ID)
	assert.Error(t, err)

	all, err := s.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeleteUnknownInstanceIsNoop(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Delete(newTestState().ID))
}
