package dbusif

import (
	"github.com/godbus/dbus/v5"

	"bsid.es/alarmd"
	"bsid.es/alarmd/server"
)

// Peer calls are fire-and-forget: the engine holds its lock while they
// run, and the classic protocol carries results back through separate
// method calls (ack/rsp) rather than replies.

func cookieVec(cookies []alarmd.Cookie) []int32 {
	vec := make([]int32, len(cookies))
	for i, c := range cookies {
		vec[i] = int32(c)
	}
	return vec
}

// dialogClient asks the system UI to open and close alarm dialogs.
type dialogClient struct {
	s *Server
}

func (d *dialogClient) AddDialog(cookies []alarmd.Cookie) error {
	obj := d.s.system.Object(dialogService, dialogPath)
	call := obj.Go(dialogInterface+".alarm_open", dbus.FlagNoReplyExpected, nil, cookieVec(cookies))
	return call.Err
}

func (d *dialogClient) CancelDialog(cookies []alarmd.Cookie) error {
	obj := d.s.system.Object(dialogService, dialogPath)
	call := obj.Go(dialogInterface+".alarm_close", dbus.FlagNoReplyExpected, nil, cookieVec(cookies))
	return call.Err
}

// powerClient asks the device state manager to boot up to the desktop.
type powerClient struct {
	s *Server
}

func (p *powerClient) RequestPowerup() error {
	obj := p.s.system.Object(powerService, powerPath)
	call := obj.Go(powerInterface+".req_powerup", dbus.FlagNoReplyExpected, nil)
	return call.Err
}

// messageSender delivers event bus actions: a method call when the
// action names a destination service, a broadcast signal otherwise.
type messageSender struct {
	s *Server
}

func (m *messageSender) SendMessage(msg server.BusMessage) error {
	conn := m.s.session
	if msg.SystemBus {
		conn = m.s.system
	}

	if msg.Service == "" {
		name := msg.Interface + "." + msg.Member
		return conn.Emit(dbus.ObjectPath(msg.Path), name, msg.Args...)
	}

	flags := dbus.FlagNoReplyExpected
	if !msg.AutoStart {
		flags |= dbus.FlagNoAutoStart
	}
	obj := conn.Object(msg.Service, dbus.ObjectPath(msg.Path))
	call := obj.Go(msg.Interface+"."+msg.Member, flags, nil, msg.Args...)
	return call.Err
}

// broadcaster emits the daemon status signals. Queue status and time
// change go to both buses so that system side peers can follow them.
type broadcaster struct {
	s *Server
}

func (b *broadcaster) emit(member string, args ...any) {
	name := Interface + "." + member
	if err := b.s.session.Emit(Path, name, args...); err != nil {
		b.s.log.Error().Err(err).Str("signal", member).Msg("broadcast failed")
	}
	if b.s.system != b.s.session {
		if err := b.s.system.Emit(Path, name, args...); err != nil {
			b.s.log.Error().Err(err).Str("signal", member).Msg("broadcast failed")
		}
	}
}

func (b *broadcaster) QueueStatus(active, desktop, actdead, noBoot int32) {
	b.emit(queueStatusSignal, active, desktop, actdead, noBoot)
}

func (b *broadcaster) TimeChangeHandled() {
	b.emit(timeChangeSignal)
}

func (b *broadcaster) ShowIcon(show bool) {
	member := statusbarInterface + ".alarm_hide"
	if show {
		member = statusbarInterface + ".alarm_show"
	}
	obj := b.s.session.Object(statusbarService, statusbarPath)
	if call := obj.Go(member, dbus.FlagNoReplyExpected, nil); call.Err != nil {
		b.s.log.Error().Err(call.Err).Bool("show", show).Msg("statusbar call failed")
	}
}
