package pnltracker

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackholelabs/lpstrategy/internal/eventbus"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

func TestNetProfit_ZeroWhenOpen(t *testing.T) {
	r := Record{BaseSpent: big.NewInt(100), BaseReceived: big.NewInt(0), GasCostBase: big.NewInt(0)}
	assert.Equal(t, big.NewInt(0), r.NetProfit())
}

func TestNetProfit_ComputesAfterClose(t *testing.T) {
	r := Record{
		Closed:       true,
		BaseSpent:    big.NewInt(1000),
		BaseReceived: big.NewInt(1200),
		GasCostBase:  big.NewInt(50),
	}
	assert.Equal(t, big.NewInt(150), r.NetProfit())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestTracker_LifecycleThroughEvents(t *testing.T) {
	bus := eventbus.New(10, zerolog.Nop())
	tracker := New(bus)

	id := uuid.New()
	bus.Publish("position.created", PositionCreated{
		InstanceID: id,
		Scenario:   strategy.Scenario2,
		BaseSpent:  big.NewInt(1000),
	})

	waitFor(t, func() bool {
		_, ok := tracker.Detail(id)
		return ok
	})

	detail, ok := tracker.Detail(id)
	require.True(t, ok)
	assert.False(t, detail.Closed)

	bus.Publish("position.closed", PositionClosed{
		InstanceID:   id,
		BaseReceived: big.NewInt(1300),
		GasCostBase:  big.NewInt(20),
	})

	waitFor(t, func() bool {
		d, _ := tracker.Detail(id)
		return d.Closed
	})

	detail, _ = tracker.Detail(id)
	assert.Equal(t, big.NewInt(280), detail.NetProfit())

	summary := tracker.Aggregate()
	assert.Equal(t, 1, summary.InstanceCount)
	assert.Equal(t, 1, summary.ClosedCount)
	assert.Equal(t, big.NewInt(280), summary.TotalNetProfit)

	closedList := tracker.ClosedInstances()
	require.Len(t, closedList, 1)
	assert.Equal(t, id, closedList[0].InstanceID)
}

func TestTracker_ClosedWithoutCreatedStillRecorded(t *testing.T) {
	bus := eventbus.New(10, zerolog.Nop())
	tracker := New(bus)

	id := uuid.New()
	bus.Publish("position.closed", PositionClosed{
		InstanceID:   id,
		BaseReceived: big.NewInt(500),
		GasCostBase:  big.NewInt(10),
	})

	waitFor(t, func() bool {
		d, ok := tracker.Detail(id)
		return ok && d.Closed
	})

	detail, _ := tracker.Detail(id)
	assert.Equal(t, big.NewInt(490), detail.NetProfit())
}
