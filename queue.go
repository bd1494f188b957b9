package alarmd

import (
	"time"
)

// Queue is the event store consumed by the server. Implementations hand
// out borrowed *AlarmEvent pointers; the server mutates them freely during
// an evaluation pass and uses the Set* methods for changes that must mark
// the queue dirty.
//
// Events carrying EventDisabled are invisible to the state-directed
// queries (QueryByState, CountByState) but remain stored and reachable by
// cookie and by the generic Query.
type Queue interface {
	// AddEvent stores a new event and assigns it a fresh cookie.
	AddEvent(ev *AlarmEvent) (Cookie, error)

	// GetEvent returns the stored event for cookie, disabled or not.
	GetEvent(cookie Cookie) (*AlarmEvent, bool)

	// DeleteEvent removes the event for cookie, reporting whether it
	// existed.
	DeleteEvent(cookie Cookie) bool

	// QueryByState returns the cookies of enabled events currently in
	// state, in ascending cookie order.
	QueryByState(state State) []Cookie

	// CountByState counts enabled events currently in state.
	CountByState(state State) int

	// Query returns cookies in [lo, hi] (zero hi means no upper bound)
	// whose flags masked by mask equal flags, filtered by application
	// id when appID is non-empty. Ascending cookie order.
	Query(lo, hi Cookie, mask, flags EventFlags, appID string) []Cookie

	// SetEventState moves ev to state and marks the queue dirty when
	// the state actually changed.
	SetEventState(ev *AlarmEvent, state State)

	// SetEventTrigger updates the trigger time and marks the queue
	// dirty when it actually changed.
	SetEventTrigger(ev *AlarmEvent, trigger time.Time)

	// SetEventFlags replaces the event flags and marks the queue dirty
	// when they actually changed.
	SetEventFlags(ev *AlarmEvent, flags EventFlags)

	// DefaultSnooze is the queue-wide snooze interval used by events
	// without their own override.
	DefaultSnooze() time.Duration
	SetDefaultSnooze(d time.Duration)

	// Dirty reports whether any event changed state or trigger since
	// the last ClearDirty. The server's fixpoint loop runs on it.
	Dirty() bool
	ClearDirty()

	// CleanupDeleted drops every event in StateDeleted from the store.
	CleanupDeleted()

	// Save persists the queue contents now.
	Save() error
}
