package alarmd

import (
	"time"
)

// BumpTime returns base + skip*N for the smallest integer N that puts the
// result strictly after target.
func BumpTime(base, target time.Time, skip time.Duration) time.Time {
	if skip <= 0 {
		return target
	}
	if target.Before(base) {
		add := base.Sub(target) % skip
		if add == 0 {
			add = skip
		}
		return target.Add(add)
	}
	return target.Add(skip - target.Sub(base)%skip)
}

// NextTrigger computes the next firing time for ev, at or after now.
//
// known carries a pre-computed absolute alarm time; when it is zero the
// time is built from the event template: a fully qualified template
// converts directly, anything else goes through recurrence-mask alignment
// with the specified fields as constraints.
//
// For recurring events the computed time is a lower bound: a fixed
// interval bumps it past now by whole interval multiples, recurrence rules
// take the minimum over all rule alignments strictly after it.
//
// The zero time and false are returned when the event has no valid firing
// time at or after now.
func NextTrigger(now, known time.Time, ev *AlarmEvent, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	t := known

	if t.IsZero() {
		if ev.Template.FullyQualified() {
			t = ev.Template.Time(loc)
		} else {
			t = ev.Template.Rule().Align(now, loc)
		}
	}

	if ev.IsRecurring() {
		if ev.RecurInterval > 0 {
			if !t.After(now) {
				t = BumpTime(t, now, ev.RecurInterval)
			}
		} else {
			if t.Before(now) {
				t = now
			}
			var next time.Time
			for i := range ev.Recurrences {
				trg := ev.Recurrences[i].Next(t, loc)
				if trg.IsZero() || !trg.After(t) {
					continue
				}
				if next.IsZero() || trg.Before(next) {
					next = trg
				}
			}
			if !next.IsZero() {
				t = next
			}
		}
	}

	if t.IsZero() || t.Before(now) {
		return time.Time{}, false
	}
	return t, true
}
