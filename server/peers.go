// Package server implements the alarm daemon scheduling core: the event
// state machine, the clock stability detector, the wakeup scheduler and
// the persistence debouncer. External collaborators (the dialog service,
// the message bus, the hardware clock) are reached through the interfaces
// in this file; the dbusif and hwrtc packages provide the production
// implementations.
package server

import (
	"time"

	"bsid.es/alarmd"
)

// DialogService presents alarm dialogs to the user and reports results
// back through Engine.DialogAck and Engine.DialogResponse.
type DialogService interface {
	AddDialog(cookies []alarmd.Cookie) error
	CancelDialog(cookies []alarmd.Cookie) error
}

// CommandRunner executes an exec action's command line.
type CommandRunner interface {
	RunCommand(cmd string)
}

// BusMessage is the payload of a message-bus action. An empty Service
// means the message is broadcast as a signal instead of a method call.
type BusMessage struct {
	Service   string
	Path      string
	Interface string
	Member    string
	Args      []any
	SystemBus bool
	AutoStart bool
}

// MessageSender delivers bus actions.
type MessageSender interface {
	SendMessage(msg BusMessage) error
}

// PowerControl asks the device state manager to boot up from acting dead.
type PowerControl interface {
	RequestPowerup() error
}

// RTC programs the hardware real-time-clock wakeup alarm.
type RTC interface {
	SetWakeup(t time.Time, enabled bool) error
}

// Broadcaster emits the daemon's outbound status signals.
type Broadcaster interface {
	// QueueStatus carries the number of active alarm dialogs and the
	// seconds until the nearest desktop-boot, acting-dead-boot and
	// non-booting alarms.
	QueueStatus(active, desktop, actdead, noBoot int32)

	// TimeChangeHandled signals that a clock or timezone change has
	// been fully processed.
	TimeChangeHandled()

	// ShowIcon toggles the statusbar alarm icon.
	ShowIcon(show bool)
}

type nopDialog struct{}

func (nopDialog) AddDialog([]alarmd.Cookie) error    { return nil }
func (nopDialog) CancelDialog([]alarmd.Cookie) error { return nil }

type nopRunner struct{}

func (nopRunner) RunCommand(string) {}

type nopSender struct{}

func (nopSender) SendMessage(BusMessage) error { return nil }

type nopPower struct{}

func (nopPower) RequestPowerup() error { return nil }

type nopRTC struct{}

func (nopRTC) SetWakeup(time.Time, bool) error { return nil }

type nopBroadcaster struct{}

func (nopBroadcaster) QueueStatus(int32, int32, int32, int32) {}
func (nopBroadcaster) TimeChangeHandled()                     {}
func (nopBroadcaster) ShowIcon(bool)                          {}
