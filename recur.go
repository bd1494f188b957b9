package alarmd

import (
	"time"

	"github.com/teambition/rrule-go"
)

// alignHorizonYears bounds the search for the next matching instant. A
// rule with no occurrence inside the horizon (February 30th and friends)
// yields no next trigger.
const alignHorizonYears = 4

// RecurrenceRule constrains repeated occurrences with one bitmask per
// broken-down time field. A zero mask leaves the field unconstrained.
// Alignment works at minute resolution; seconds are dropped.
type RecurrenceRule struct {
	MinuteMask uint64 `json:"minute_mask,omitempty"` // bits 0..59
	HourMask   uint32 `json:"hour_mask,omitempty"`   // bits 0..23
	MdayMask   uint32 `json:"mday_mask,omitempty"`   // bits 1..31
	WdayMask   uint32 `json:"wday_mask,omitempty"`   // bits 0..6, Sunday = 0
	MonthMask  uint32 `json:"month_mask,omitempty"`  // bits 1..12
}

// Empty reports whether every field is unconstrained.
func (r RecurrenceRule) Empty() bool {
	return r == RecurrenceRule{}
}

// Validate rejects masks with bits outside the legal field ranges.
func (r RecurrenceRule) Validate() error {
	switch {
	case r.MinuteMask>>60 != 0:
		return Errorf(ErrInvalid, "minute mask out of range")
	case r.HourMask>>24 != 0:
		return Errorf(ErrInvalid, "hour mask out of range")
	case r.MdayMask&1 != 0:
		return Errorf(ErrInvalid, "day-of-month mask out of range")
	case r.WdayMask>>7 != 0:
		return Errorf(ErrInvalid, "weekday mask out of range")
	case r.MonthMask&^uint32(0x1ffe) != 0:
		return Errorf(ErrInvalid, "month mask out of range")
	}
	return nil
}

// Align returns the first instant at or after t that matches every mask,
// or the zero time when none exists inside the alignment horizon.
func (r RecurrenceRule) Align(t time.Time, loc *time.Location) time.Time {
	return r.after(t, loc, true)
}

// Next returns the first instant strictly after t that matches every mask,
// or the zero time when none exists inside the alignment horizon.
func (r RecurrenceRule) Next(t time.Time, loc *time.Location) time.Time {
	return r.after(t, loc, false)
}

func (r RecurrenceRule) after(t time.Time, loc *time.Location, inc bool) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc).Truncate(time.Minute)

	opt := rrule.ROption{
		Freq:    rrule.MINUTELY,
		Dtstart: t,
		Until:   t.AddDate(alignHorizonYears, 0, 0),
	}
	if r.MinuteMask != 0 {
		opt.Byminute = maskBits(uint64(r.MinuteMask), 60)
	}
	if r.HourMask != 0 {
		opt.Byhour = maskBits(uint64(r.HourMask), 24)
	}
	if r.MdayMask != 0 {
		opt.Bymonthday = maskBits(uint64(r.MdayMask), 32)
	}
	if r.MonthMask != 0 {
		opt.Bymonth = maskBits(uint64(r.MonthMask), 13)
	}
	if r.WdayMask != 0 {
		weekdays := [7]rrule.Weekday{
			rrule.SU, rrule.MO, rrule.TU, rrule.WE,
			rrule.TH, rrule.FR, rrule.SA,
		}
		for d := 0; d < 7; d++ {
			if r.WdayMask&(1<<uint(d)) != 0 {
				opt.Byweekday = append(opt.Byweekday, weekdays[d])
			}
		}
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return time.Time{}
	}
	return rule.After(t, inc)
}

func maskBits(mask uint64, lim int) []int {
	var bits []int
	for i := 0; i < lim; i++ {
		if mask&(1<<uint(i)) != 0 {
			bits = append(bits, i)
		}
	}
	return bits
}
