package server

import "testing"

func TestStatusRegisterChangeReporting(t *testing.T) {
	changes := 0
	r := statusRegister{onChange: func() { changes++ }}

	r.Set(0, FlagConnected)
	if changes != 1 {
		t.Fatalf("wrong change count: %d", changes)
	}
	if r.Get()&FlagConnected == 0 {
		t.Fatal("flag not set")
	}

	// setting an already set bit is not a change
	r.Set(0, FlagConnected)
	if changes != 1 {
		t.Errorf("redundant set reported: %d", changes)
	}

	// Clear consumes bits silently
	r.Clear(FlagConnected)
	if changes != 1 {
		t.Errorf("clear reported a change: %d", changes)
	}
	if r.Get()&FlagConnected != 0 {
		t.Error("flag not cleared")
	}
}

func TestStatusRegisterOverride(t *testing.T) {
	changes := 0
	r := statusRegister{onChange: func() { changes++ }}
	r.Set(0, FlagDesktopUp)

	// mask a bit to a fake value, the real bit is untouched
	got := r.Override(FlagDesktopUp, 0, 0, FlagDesktopUp)
	if got&FlagDesktopUp != 0 {
		t.Error("override did not hide real bit")
	}

	got = r.Override(0, FlagDesktopUp, 0, 0)
	if got&FlagDesktopUp == 0 {
		t.Error("real bit lost after removing override")
	}
}

func TestSecondsTo(t *testing.T) {
	const now = int64(100000)
	tests := []struct {
		name    string
		trigger int64
		want    int32
	}{
		{name: "none queued", trigger: noAlarmTime, want: statusSeconds},
		{name: "in the past", trigger: now - 10, want: 0},
		{name: "in the future", trigger: now + 120, want: 120},
		{name: "out of range", trigger: now + 1<<40, want: statusSeconds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := secondsTo(tt.trigger, now); got != tt.want {
				t.Errorf("wrong delay\ngot:  %d\nwant: %d", got, tt.want)
			}
		})
	}
}
