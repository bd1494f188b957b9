package server

import "math"

// Flags is the daemon status register. It tracks peer availability, the
// boot phase and pending time-change work. Bits are set and cleared by
// the bus adapters and consumed during evaluation passes.
type Flags uint32

const (
	// FlagConnected is set while an internet connection is available.
	FlagConnected Flags = 1 << iota

	// FlagStartup is set for the first evaluation after daemon start.
	FlagStartup

	FlagDialogUp
	FlagDialogWasDown
	FlagClockUp
	FlagClockWasDown
	FlagPowerUp
	FlagPowerWasDown
	FlagStatusbarUp
	FlagStatusbarWasDown

	// FlagTZChanged marks a timezone change that queued events have
	// not been re-evaluated against yet.
	FlagTZChanged

	// FlagClockChanged marks an externally reported system time change.
	FlagClockChanged

	FlagClockMovedForward
	FlagClockMovedBack

	// FlagActDead and FlagDesktopUp describe the device boot phase.
	FlagActDead
	FlagDesktopUp

	// FlagTimeChangePending is set once a time or timezone change has
	// been handled and the outbound broadcast is still owed.
	FlagTimeChangePending

	// FlagPowerupPending is set when a dialog response carried the
	// powerup bit and the device state manager has not been asked to
	// boot up yet.
	FlagPowerupPending
)

// statusRegister holds the live status bits plus a debug overlay. The
// effective value is (fake & mask) | (real & ~mask); the overlay lets
// test tooling force individual bits without touching the real state.
// Not safe for concurrent use, callers hold the engine lock.
type statusRegister struct {
	real Flags
	mask Flags
	fake Flags

	onChange func()
}

func (r *statusRegister) Get() Flags {
	return (r.fake & r.mask) | (r.real &^ r.mask)
}

// Set clears clr and sets set in the real register and reports a change
// when the effective value differs.
func (r *statusRegister) Set(clr, set Flags) {
	prev := r.Get()
	r.real &^= clr
	r.real |= set
	if r.Get() != prev && r.onChange != nil {
		r.onChange()
	}
}

// Clear clears bits without reporting a change. Used by the evaluation
// pass itself to consume flags it is currently acting on.
func (r *statusRegister) Clear(clr Flags) {
	r.real &^= clr
}

// Override adjusts the debug overlay and returns the effective value.
func (r *statusRegister) Override(maskSet, maskClr, fakeSet, fakeClr Flags) Flags {
	prev := r.Get()
	r.mask |= maskSet
	r.mask &^= maskClr
	r.fake |= fakeSet
	r.fake &^= fakeClr
	if r.Get() != prev && r.onChange != nil {
		r.onChange()
	}
	return r.Get()
}

// noAlarmTime is the nearest-trigger sentinel for "no alarm queued".
const noAlarmTime = int64(math.MaxInt64)

// statusSeconds is the seconds-to-trigger sentinel broadcast when no
// alarm of a class is queued or the delay does not fit the wire type.
const statusSeconds = int32(9999)

// queueState summarizes the queue for the outbound status broadcast:
// the number of active alarm dialogs and the unix time of the nearest
// trigger per boot class. Broadcasts go out only when the whole
// summary differs from the previously sent one.
type queueState struct {
	alarms  int32
	desktop int64
	actdead int64
	noBoot  int64
}

func emptyQueueState() queueState {
	return queueState{desktop: noAlarmTime, actdead: noAlarmTime, noBoot: noAlarmTime}
}

// filt keeps the smaller of *acc and v.
func filt(acc *int64, v int64) {
	if v < *acc {
		*acc = v
	}
}

// secondsTo converts a nearest-trigger unix time into the wire
// representation: 0 for past triggers, the sentinel for none.
func secondsTo(trigger, now int64) int32 {
	switch {
	case trigger == noAlarmTime:
		return statusSeconds
	case trigger < now:
		return 0
	case trigger-now > math.MaxInt32:
		return statusSeconds
	default:
		return int32(trigger - now)
	}
}
