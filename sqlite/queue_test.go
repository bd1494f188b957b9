package sqlite_test

import (
	"path/filepath"
	"testing"
	"time"

	"bsid.es/alarmd"
	asqlite "bsid.es/alarmd/sqlite"
)

func TestQueueRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := asqlite.OpenQueue(path)
	if err != nil {
		t.Fatal(err)
	}

	trigger := time.Date(2026, time.September, 1, 8, 30, 0, 0, time.UTC)
	ev := &alarmd.AlarmEvent{
		Title:     "wake up",
		AppID:     "clock",
		AlarmTime: trigger,
		Flags:     alarmd.EventBoot | alarmd.EventShowIcon,
		Trigger:   trigger,
		Response:  -1,
		State:     alarmd.StateQueued,
		Actions: []alarmd.Action{
			{Label: "Stop", Flags: alarmd.ActionWhenResponded},
		},
	}
	cookie, err := q.AddEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	q.SetDefaultSnooze(5 * time.Minute)

	if err := q.Save(); err != nil {
		t.Fatal(err)
	}
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	q, err = asqlite.OpenQueue(path)
	if err != nil {
		t.Fatal(err)
	}
	defer q.Close()

	if q.Dirty() {
		t.Error("queue dirty right after load")
	}
	if got, want := q.DefaultSnooze(), 5*time.Minute; got != want {
		t.Errorf("wrong snooze\ngot:  %v\nwant: %v", got, want)
	}

	got, ok := q.GetEvent(cookie)
	if !ok {
		t.Fatalf("event %d not restored", cookie)
	}
	if got.Title != ev.Title || got.AppID != ev.AppID {
		t.Errorf("wrong event\ngot:  %q/%q\nwant: %q/%q", got.Title, got.AppID, ev.Title, ev.AppID)
	}
	if got.State != alarmd.StateQueued {
		t.Errorf("wrong state\ngot:  %v\nwant: %v", got.State, alarmd.StateQueued)
	}
	if !got.Trigger.Equal(trigger) {
		t.Errorf("wrong trigger\ngot:  %v\nwant: %v", got.Trigger, trigger)
	}
	if len(got.Actions) != 1 || got.Actions[0].Label != "Stop" {
		t.Errorf("actions not restored: %+v", got.Actions)
	}

	// cookies keep ascending past restored events
	next, err := q.AddEvent(&alarmd.AlarmEvent{Title: "second", AlarmTime: trigger, Trigger: trigger})
	if err != nil {
		t.Fatal(err)
	}
	if next <= cookie {
		t.Errorf("cookie not ascending\ngot:  %d\nwant: > %d", next, cookie)
	}
}
