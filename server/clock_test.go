package server

import (
	"testing"
	"time"
)

func TestClockCheckSeedsStable(t *testing.T) {
	var c clockCheck

	stable, forw, back := c.stable(time.Unix(100000, 0), time.Hour, false)
	if !stable || forw || back {
		t.Errorf("first observation: stable=%v forw=%v back=%v", stable, forw, back)
	}
}

func TestClockCheckIgnoresJitter(t *testing.T) {
	var c clockCheck
	wall := time.Unix(100000, 0)
	mono := time.Hour

	c.stable(wall, mono, false)

	// one second of drift stays under the jitter threshold
	wall = wall.Add(11 * time.Second)
	mono += 10 * time.Second
	stable, forw, back := c.stable(wall, mono, false)
	if !stable || forw || back {
		t.Errorf("drift under jitter: stable=%v forw=%v back=%v", stable, forw, back)
	}
}

func TestClockCheckDetectsJump(t *testing.T) {
	var c clockCheck
	wall := time.Unix(100000, 0)
	mono := time.Hour

	c.stable(wall, mono, false)

	// the clock jumps one hour ahead
	wall = wall.Add(time.Hour)
	if stable, _, _ := c.stable(wall, mono, false); stable {
		t.Fatal("jump not detected")
	}

	// still inside the stabilization window
	wall = wall.Add(time.Second)
	mono += time.Second
	if stable, _, _ := c.stable(wall, mono, false); stable {
		t.Fatal("stable inside the settle window")
	}

	// settled: the movement is classified as a forward jump
	wall = wall.Add(clockSettle)
	mono += clockSettle
	stable, forw, back := c.stable(wall, mono, false)
	if !stable || !forw || back {
		t.Fatalf("after settling: stable=%v forw=%v back=%v", stable, forw, back)
	}
	if got := c.takeForwDelta(); got != time.Hour {
		t.Errorf("wrong forward delta\ngot:  %v\nwant: %v", got, time.Hour)
	}
	if got := c.takeForwDelta(); got != 0 {
		t.Errorf("forward delta not consumed: %v", got)
	}
}

func TestClockCheckBackwardJump(t *testing.T) {
	var c clockCheck
	wall := time.Unix(100000, 0)
	mono := time.Hour

	c.stable(wall, mono, false)

	wall = wall.Add(-30 * time.Minute)
	c.stable(wall, mono, false)

	wall = wall.Add(clockSettle + time.Second)
	mono += clockSettle + time.Second
	stable, forw, back := c.stable(wall, mono, false)
	if !stable || forw || !back {
		t.Fatalf("after settling: stable=%v forw=%v back=%v", stable, forw, back)
	}
	if got := c.takeBackDelta(); got != -30*time.Minute {
		t.Errorf("wrong backward delta\ngot:  %v\nwant: %v", got, -30*time.Minute)
	}
}

func TestClockCheckSmallJumpNotRescheduled(t *testing.T) {
	var c clockCheck
	wall := time.Unix(100000, 0)
	mono := time.Hour

	c.stable(wall, mono, false)

	// over the jitter threshold but under the reschedule threshold
	wall = wall.Add(4 * time.Second)
	if stable, _, _ := c.stable(wall, mono, false); stable {
		t.Fatal("jump not detected")
	}

	wall = wall.Add(clockSettle + time.Second)
	mono += clockSettle + time.Second
	stable, forw, back := c.stable(wall, mono, false)
	if !stable || forw || back {
		t.Errorf("small jump: stable=%v forw=%v back=%v", stable, forw, back)
	}
}

func TestClockCheckReportedChange(t *testing.T) {
	var c clockCheck
	wall := time.Unix(100000, 0)
	mono := time.Hour

	c.stable(wall, mono, false)

	// an external notification holds scheduling even without drift
	if stable, _, _ := c.stable(wall, mono, true); stable {
		t.Fatal("reported change ignored")
	}

	wall = wall.Add(clockSettle + time.Second)
	mono += clockSettle + time.Second
	if stable, _, _ := c.stable(wall, mono, false); !stable {
		t.Fatal("not stable after settling")
	}
}
