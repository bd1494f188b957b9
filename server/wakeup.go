package server

import "time"

// wakeupClamp bounds how far ahead the software timer is armed. Far
// future alarms get re-examined well before then, and a clamped wakeup
// simply triggers another evaluation that re-arms the timer.
const wakeupClamp = 14 * 24 * time.Hour

// wakeupScheduler arms a single software timer for the nearest queued
// trigger. All fields are accessed under the engine lock; the timer
// callback only posts an evaluation request and never touches state,
// so each evaluation pass cancels and re-arms from scratch.
type wakeupScheduler struct {
	deadline time.Time
	timer    *time.Timer

	// fire posts an evaluation request. Runs on the timer goroutine.
	fire func()
}

func (w *wakeupScheduler) request(now, t time.Time) {
	if clamp := now.Add(wakeupClamp); t.After(clamp) {
		t = clamp
	}
	if !w.deadline.IsZero() && !t.Before(w.deadline) {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.deadline = t
	if d := t.Sub(now); d > 0 {
		w.timer = time.AfterFunc(d, w.fire)
	} else {
		w.fire()
	}
}

func (w *wakeupScheduler) cancel() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.deadline = time.Time{}
}
