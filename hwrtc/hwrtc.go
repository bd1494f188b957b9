// Package hwrtc programs the hardware real-time-clock wakeup alarm
// through the kernel sysfs wakealarm attribute. The wakeup powers the
// device up for alarms that must boot it.
package hwrtc

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"bsid.es/alarmd"
	"bsid.es/alarmd/server"
)

// DefaultDevice is the wakealarm attribute of the first RTC.
const DefaultDevice = "/sys/class/rtc/rtc0/wakealarm"

type Clock struct {
	// Path of the wakealarm attribute. DefaultDevice when empty.
	Path string
	Log  zerolog.Logger
}

var _ server.RTC = (*Clock)(nil)

func (c *Clock) device() string {
	if c.Path != "" {
		return c.Path
	}
	return DefaultDevice
}

// SetWakeup programs the RTC to wake the device at t. The kernel rejects
// a new alarm while one is armed, so the attribute is cleared first.
func (c *Clock) SetWakeup(t time.Time, enabled bool) error {
	if err := c.write("0"); err != nil {
		return err
	}
	if !enabled {
		c.Log.Debug().Msg("rtc wakeup cleared")
		return nil
	}
	if err := c.write(strconv.FormatInt(t.Unix(), 10)); err != nil {
		return err
	}
	c.Log.Debug().Time("wakeup", t).Msg("rtc wakeup armed")
	return nil
}

func (c *Clock) write(val string) error {
	if err := os.WriteFile(c.device(), []byte(val), 0o644); err != nil {
		return alarmd.Errorf(alarmd.ErrUnavailable, "rtc %s: %v", c.device(), err)
	}
	return nil
}
