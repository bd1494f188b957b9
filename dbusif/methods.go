package dbusif

import (
	"time"

	"github.com/godbus/dbus/v5"

	"bsid.es/alarmd"
	"bsid.es/alarmd/server"
)

// busError maps application errors onto named bus errors so that
// clients can tell invalid requests from daemon failures.
func busError(err error) *dbus.Error {
	name := Interface + ".error." + string(alarmd.ErrorCode(err))
	return dbus.NewError(name, []any{alarmd.ErrorDescription(err)})
}

// export publishes the daemon method table. Member names follow the
// classic alarm daemon protocol.
func (s *Server) export() error {
	table := map[string]any{
		"add":        s.handleAdd,
		"update":     s.handleUpdate,
		"del":        s.handleDel,
		"get":        s.handleGet,
		"query":      s.handleQuery,
		"snooze_get": s.handleSnoozeGet,
		"snooze_set": s.handleSnoozeSet,
		"ack":        s.handleAck,
		"rsp":        s.handleRsp,
		"set_debug":  s.handleSetDebug,
	}
	if err := s.session.ExportMethodTable(table, Path, Interface); err != nil {
		return alarmd.Errorf(alarmd.ErrInternal, "export methods: %v", err)
	}
	// dialog callbacks and powerup responses may arrive on either bus
	if s.system != s.session {
		cb := map[string]any{
			"ack": s.handleAck,
			"rsp": s.handleRsp,
		}
		if err := s.system.ExportMethodTable(cb, Path, Interface); err != nil {
			return alarmd.Errorf(alarmd.ErrInternal, "export callbacks: %v", err)
		}
	}
	return nil
}

func (s *Server) handleAdd(w EventWire) (int32, *dbus.Error) {
	cookie, err := s.engine.AddEvent(eventFromWire(w))
	if err != nil {
		s.log.Warn().Err(err).Str("app", w.AppID).Msg("add rejected")
		return 0, busError(err)
	}
	return int32(cookie), nil
}

func (s *Server) handleUpdate(w EventWire) (int32, *dbus.Error) {
	cookie, err := s.engine.UpdateEvent(eventFromWire(w))
	if err != nil {
		s.log.Warn().Err(err).Int32("cookie", w.Cookie).Msg("update rejected")
		return 0, busError(err)
	}
	return int32(cookie), nil
}

func (s *Server) handleDel(cookie int32) (bool, *dbus.Error) {
	return s.engine.DeleteEvent(alarmd.Cookie(cookie)), nil
}

func (s *Server) handleGet(cookie int32) (EventWire, *dbus.Error) {
	ev, ok := s.engine.GetEvent(alarmd.Cookie(cookie))
	if !ok {
		err := alarmd.Errorf(alarmd.ErrNotFound, "no event %d", cookie)
		return EventWire{}, busError(err)
	}
	return eventToWire(ev), nil
}

func (s *Server) handleQuery(lo, hi int32, mask, flags uint32, appID string) ([]int32, *dbus.Error) {
	cookies := s.engine.QueryEvents(
		alarmd.Cookie(lo), alarmd.Cookie(hi),
		alarmd.EventFlags(mask), alarmd.EventFlags(flags),
		appID,
	)
	vec := make([]int32, len(cookies))
	for i, c := range cookies {
		vec[i] = int32(c)
	}
	return vec, nil
}

func (s *Server) handleSnoozeGet() (uint32, *dbus.Error) {
	return uint32(s.engine.DefaultSnooze() / time.Second), nil
}

func (s *Server) handleSnoozeSet(secs uint32) (bool, *dbus.Error) {
	s.engine.SetDefaultSnooze(time.Duration(secs) * time.Second)
	return true, nil
}

func (s *Server) handleAck(cookies []int32) *dbus.Error {
	vec := make([]alarmd.Cookie, len(cookies))
	for i, c := range cookies {
		vec[i] = alarmd.Cookie(c)
	}
	s.engine.DialogAck(vec)
	return nil
}

func (s *Server) handleRsp(cookie, button int32) (bool, *dbus.Error) {
	return s.engine.DialogResponse(alarmd.Cookie(cookie), button), nil
}

func (s *Server) handleSetDebug(maskSet, maskClr, fakeSet, fakeClr uint32) (uint32, *dbus.Error) {
	got := s.engine.OverrideFlags(
		server.Flags(maskSet), server.Flags(maskClr),
		server.Flags(fakeSet), server.Flags(fakeClr),
	)
	return uint32(got), nil
}
