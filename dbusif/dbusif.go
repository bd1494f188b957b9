// Package dbusif exposes the alarm daemon on the message bus and tracks
// the peer services the scheduling engine depends on. The daemon owns a
// well-known name on the session bus; peers (system UI dialogs, the
// clock daemon, the device state manager, the statusbar) live on the
// system bus on a device, or all on the session bus in development.
package dbusif

import (
	"context"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"bsid.es/alarmd"
	"bsid.es/alarmd/server"
)

const (
	Service   = "es.bsid.alarmd"
	Path      = dbus.ObjectPath("/es/bsid/alarmd")
	Interface = "es.bsid.alarmd"

	// outbound signals
	queueStatusSignal = "queue_status_ind"
	timeChangeSignal  = "time_change_ind"
)

// Peer services.
const (
	dialogService   = "es.bsid.systemui"
	dialogPath      = dbus.ObjectPath("/es/bsid/systemui")
	dialogInterface = "es.bsid.systemui"

	clockService   = "es.bsid.clockd"
	clockInterface = "es.bsid.clockd"
	clockSignal    = "time_changed"

	powerService   = "es.bsid.dsme"
	powerPath      = dbus.ObjectPath("/es/bsid/dsme")
	powerInterface = "es.bsid.dsme"

	statusbarService   = "es.bsid.statusbar"
	statusbarPath      = dbus.ObjectPath("/es/bsid/statusbar")
	statusbarInterface = "es.bsid.statusbar"
)

// actDeadFile exists while the device runs in acting dead mode.
const actDeadFile = "/tmp/ACT_DEAD"

// Config wires a Server to its engine and buses.
type Config struct {
	Engine *server.Engine
	Log    zerolog.Logger

	// SessionOnly keeps peer traffic on the session bus. Used in
	// development where no system bus peers exist.
	SessionOnly bool
}

// Server is the bus-facing half of the daemon.
type Server struct {
	engine *server.Engine
	log    zerolog.Logger

	session *dbus.Conn
	system  *dbus.Conn

	signals chan *dbus.Signal
}

var peerFlags = map[string][2]server.Flags{
	dialogService:    {server.FlagDialogUp, server.FlagDialogWasDown},
	clockService:     {server.FlagClockUp, server.FlagClockWasDown},
	powerService:     {server.FlagPowerUp, server.FlagPowerWasDown},
	statusbarService: {server.FlagStatusbarUp, server.FlagStatusbarWasDown},
}

// Open connects to the buses, claims the daemon name and subscribes to
// peer presence and clock change signals. Run must be called to start
// dispatching.
func Open(cfg Config) (*Server, error) {
	session, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, alarmd.Errorf(alarmd.ErrUnavailable, "session bus: %v", err)
	}

	system := session
	if !cfg.SessionOnly {
		system, err = dbus.ConnectSystemBus()
		if err != nil {
			session.Close()
			return nil, alarmd.Errorf(alarmd.ErrUnavailable, "system bus: %v", err)
		}
	}

	s := &Server{
		engine:  cfg.Engine,
		log:     cfg.Log,
		session: session,
		system:  system,
		signals: make(chan *dbus.Signal, 64),
	}

	reply, err := session.RequestName(Service, dbus.NameFlagDoNotQueue)
	if err == nil && reply != dbus.RequestNameReplyPrimaryOwner {
		err = alarmd.Errorf(alarmd.ErrUnavailable, "name %s already taken", Service)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := s.export(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.Close()
		return nil, err
	}

	s.engine.SetFlags(0, s.probe())
	return s, nil
}

func (s *Server) Close() error {
	err := s.session.Close()
	if s.system != s.session {
		if cerr := s.system.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Engine collaborator implementations backed by this server.
func (s *Server) Dialog() server.DialogService  { return &dialogClient{s} }
func (s *Server) Sender() server.MessageSender  { return &messageSender{s} }
func (s *Server) Power() server.PowerControl    { return &powerClient{s} }
func (s *Server) Broadcast() server.Broadcaster { return &broadcaster{s} }

// subscribe registers for NameOwnerChanged of each peer and for clock
// change notifications.
func (s *Server) subscribe() error {
	for name := range peerFlags {
		err := s.system.AddMatchSignal(
			dbus.WithMatchSender("org.freedesktop.DBus"),
			dbus.WithMatchInterface("org.freedesktop.DBus"),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg(0, name),
		)
		if err != nil {
			return alarmd.Errorf(alarmd.ErrUnavailable, "watch %s: %v", name, err)
		}
	}

	err := s.system.AddMatchSignal(
		dbus.WithMatchInterface(clockInterface),
		dbus.WithMatchMember(clockSignal),
	)
	if err != nil {
		return alarmd.Errorf(alarmd.ErrUnavailable, "watch clock: %v", err)
	}

	s.system.Signal(s.signals)
	if s.session != s.system {
		s.session.Signal(s.signals)
	}
	return nil
}

// probe determines initial peer presence and the device boot phase.
func (s *Server) probe() server.Flags {
	var flags server.Flags
	for name, bits := range peerFlags {
		var owner string
		err := s.system.BusObject().
			Call("org.freedesktop.DBus.GetNameOwner", 0, name).
			Store(&owner)
		if err == nil && owner != "" {
			flags |= bits[0]
		}
	}

	if _, err := os.Stat(actDeadFile); err == nil {
		s.log.Info().Msg("device is in acting dead mode")
		flags |= server.FlagActDead
	} else {
		flags |= server.FlagDesktopUp
	}
	return flags
}

// Run dispatches incoming bus signals until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-s.signals:
			if !ok {
				return alarmd.Errorf(alarmd.ErrUnavailable, "bus connection lost")
			}
			s.handleSignal(sig)
		}
	}
}

func (s *Server) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		if len(sig.Body) != 3 {
			return
		}
		name, _ := sig.Body[0].(string)
		owner, _ := sig.Body[2].(string)
		s.peerChanged(name, owner != "")

	case clockInterface + "." + clockSignal:
		clockChanged := false
		if len(sig.Body) > 0 {
			if clk, ok := sig.Body[0].(int32); ok {
				clockChanged = clk != 0
			}
		}
		s.log.Info().Bool("clock", clockChanged).Msg("time change notification")
		s.engine.NotifyTimeChange(clockChanged)
	}
}

func (s *Server) peerChanged(name string, up bool) {
	bits, ok := peerFlags[name]
	if !ok {
		return
	}
	s.log.Info().Str("peer", name).Bool("up", up).Msg("peer presence changed")
	if up {
		s.engine.SetFlags(0, bits[0])
	} else {
		s.engine.SetFlags(bits[0], bits[1])
	}
}
