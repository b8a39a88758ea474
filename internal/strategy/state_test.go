package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInstanceState_Defaults(t *testing.T) {
	cfg := validConfig()
	s := NewInstanceState(cfg)

	require.NotEmpty(t, s.ID)
	assert.Equal(t, StatusInitialized, s.Status)
	assert.Equal(t, StagePrepare, s.Stage)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Equal(t, s.CreatedAt, s.UpdatedAt)
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusExited.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusMonitoring.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestPosition_InRange(t *testing.T) {
	p := &Position{TickLower: -100, TickUpper: 100}
	assert.True(t, p.InRange(0))
	assert.True(t, p.InRange(-100))
	assert.False(t, p.InRange(100))
	assert.False(t, p.InRange(-101))
	assert.False(t, p.InRange(200))
}
