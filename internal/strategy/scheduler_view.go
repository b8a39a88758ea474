package strategy

import (
	"context"

	"github.com/google/uuid"
)

// SchedulerView is the only thing an InstanceMachine (internal/scheduler) is
// allowed to know about its owning Scheduler. Without it, instance.go would
// import scheduler.go's package for callbacks and scheduler.go would import
// instance.go to run them — a cycle. InstanceMachine depends on this
// interface instead; Scheduler (which already depends on InstanceMachine)
// implements it.
type SchedulerView interface {
	// Persist durably saves the given state, overwriting any prior snapshot
	// for the same ID.
	Persist(ctx context.Context, state *InstanceState) error

	// Publish broadcasts a state change to subscribers (the Presenter's
	// WebSocket hub), fire-and-forget.
	Publish(event StateChangeEvent)

	// RecordTx appends a TxRecord to durable history, independent of the
	// in-memory InstanceState slice, so history survives a crash between
	// submission and the next full Persist.
	RecordTx(ctx context.Context, instanceID uuid.UUID, tx TxRecord) error
}

// StateChangeEventKind distinguishes the four WebSocket event types the
// Presenter's event stream delivers.
type StateChangeEventKind string

const (
	EventUpdate       StateChangeEventKind = "strategy:update"
	EventProgress     StateChangeEventKind = "strategy:progress"
	EventListUpdate   StateChangeEventKind = "strategy:list_update"
	EventDeleted      StateChangeEventKind = "strategy:deleted"
)

// StateChangeEvent is the payload published on every state transition.
type StateChangeEvent struct {
	Kind       StateChangeEventKind
	InstanceID uuid.UUID
	State      *InstanceState
}
