// Package pnltracker subscribes to position.created / position.closed
// events, reconstructs cost basis in the instance's base currency, and
// exposes per-instance and aggregate P&L. It never mutates instance state —
// it is a read-path projection over the event log: it records, it never
// drives the strategy.
package pnltracker

import (
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/blackholelabs/lpstrategy/internal/eventbus"
	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// PositionCreated is the position.created event payload.
type PositionCreated struct {
	InstanceID uuid.UUID
	Scenario   strategy.Scenario
	// BaseSpent is the cost basis in base-currency units: for scenario-1,
	// the sum of the two prior swaps' base-currency spend; for scenario-2,
	// the base spent acquiring the non-base side plus any base provided
	// directly to the LP.
	BaseSpent *big.Int
}

// PositionClosed is the position.closed event payload.
type PositionClosed struct {
	InstanceID uuid.UUID
	// BaseReceived is totalOut_base: returned amounts plus any subsequent
	// forced-exit swap outputs, all converted to base currency.
	BaseReceived *big.Int
	GasCostBase  *big.Int
}

// Record is one instance's accumulated cost-basis ledger.
type Record struct {
	InstanceID   uuid.UUID
	Scenario     strategy.Scenario
	BaseSpent    *big.Int
	BaseReceived *big.Int
	GasCostBase  *big.Int
	Closed       bool
}

// NetProfit is totalOut_base - totalIn_base - gasCost_base, zero until the
// instance has closed.
func (r Record) NetProfit() *big.Int {
	if !r.Closed {
		return big.NewInt(0)
	}
	profit := new(big.Int).Sub(r.BaseReceived, r.BaseSpent)
	return profit.Sub(profit, r.GasCostBase)
}

// Tracker accumulates Records by subscribing to the shared EventBus.
type Tracker struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

// New builds a Tracker and subscribes it to position.created/position.closed
// on bus.
func New(bus *eventbus.Bus) *Tracker {
	t := &Tracker{records: make(map[uuid.UUID]*Record)}
	bus.Subscribe("position.created", t.onCreated)
	bus.Subscribe("position.closed", t.onClosed)
	return t
}

func (t *Tracker) onCreated(e eventbus.Event) {
	created, ok := e.Payload.(PositionCreated)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[created.InstanceID] = &Record{
		InstanceID:   created.InstanceID,
		Scenario:     created.Scenario,
		BaseSpent:    new(big.Int).Set(created.BaseSpent),
		BaseReceived: big.NewInt(0),
		GasCostBase:  big.NewInt(0),
	}
}

func (t *Tracker) onClosed(e eventbus.Event) {
	closed, ok := e.Payload.(PositionClosed)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[closed.InstanceID]
	if !ok {
		// position.closed with no matching position.created: still record
		// what we can rather than silently dropping it, since this read
		// path must never lie about what it has observed.
		record = &Record{InstanceID: closed.InstanceID, BaseSpent: big.NewInt(0)}
		t.records[closed.InstanceID] = record
	}
	record.BaseReceived = new(big.Int).Set(closed.BaseReceived)
	record.GasCostBase = new(big.Int).Set(closed.GasCostBase)
	record.Closed = true
}

// Detail returns the current record for one instance.
func (t *Tracker) Detail(instanceID uuid.UUID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[instanceID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Summary is the aggregate P&L across every instance the tracker has seen.
type Summary struct {
	InstanceCount int
	ClosedCount   int
	TotalNetProfit *big.Int
}

// Aggregate summarizes every instance observed so far.
func (t *Tracker) Aggregate() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	summary := Summary{TotalNetProfit: big.NewInt(0)}
	for _, r := range t.records {
		summary.InstanceCount++
		if r.Closed {
			summary.ClosedCount++
			summary.TotalNetProfit.Add(summary.TotalNetProfit, r.NetProfit())
		}
	}
	return summary
}

// All returns the current record for every instance the tracker has
// observed, open or closed, for the Presenter's `/profit-loss/all` route.
func (t *Tracker) All() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	return out
}

// ClosedInstances returns the lifecycle report for every closed instance.
func (t *Tracker) ClosedInstances() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Record
	for _, r := range t.records {
		if r.Closed {
			out = append(out, *r)
		}
	}
	return out
}
