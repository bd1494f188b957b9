package server

import (
	"strings"

	"bsid.es/alarmd"
)

// cookieTag is the exec command placeholder replaced with the event
// cookie when the action carries the add-cookie flag.
const cookieTag = "[COOKIE]"

// runStateActions runs every action of ev whose trigger mask includes
// when. Snooze actions change the event state synchronously so that the
// surrounding state handler can observe the transition.
func (e *Engine) runStateActions(ev *alarmd.AlarmEvent, when alarmd.ActionFlags) {
	for i := range ev.Actions {
		if ev.Actions[i].When()&when != 0 {
			e.runAction(ev, &ev.Actions[i])
		}
	}
}

// runResponseActions runs the actions bound to the dialog button the
// user pressed.
func (e *Engine) runResponseActions(ev *alarmd.AlarmEvent) {
	if ev.Response < 0 || int(ev.Response) >= len(ev.Actions) {
		return
	}
	act := &ev.Actions[ev.Response]
	if act.When()&alarmd.ActionWhenResponded != 0 {
		e.runAction(ev, act)
	}
}

func (e *Engine) runAction(ev *alarmd.AlarmEvent, act *alarmd.Action) {
	switch act.Type() {
	case alarmd.ActionTypeSnooze:
		e.queue.SetEventState(ev, alarmd.StateSnoozed)

	case alarmd.ActionTypeDisable:
		e.queue.SetEventFlags(ev, ev.Flags|alarmd.EventDisabled)
		e.log.Info().Int32("cookie", int32(ev.Cookie)).Msg("event disabled by action")

	case alarmd.ActionTypeExec:
		cmd := act.ExecCommand
		if cmd == "" {
			break
		}
		if act.Flags&alarmd.ActionExecAddCookie != 0 {
			cookie := ev.Cookie.String()
			if strings.Contains(cmd, cookieTag) {
				cmd = strings.Replace(cmd, cookieTag, cookie, 1)
			} else {
				cmd = cmd + " " + cookie
			}
		}
		e.runner.RunCommand(cmd)

	case alarmd.ActionTypeBus:
		args := act.BusArgs
		if act.Flags&alarmd.ActionBusAddCookie != 0 {
			args = append(append([]any(nil), args...), int32(ev.Cookie))
		}
		msg := BusMessage{
			Service:   act.BusService,
			Path:      act.BusPath,
			Interface: act.BusInterface,
			Member:    act.BusName,
			Args:      args,
			SystemBus: act.Flags&alarmd.ActionBusSystemBus != 0,
			AutoStart: act.Flags&alarmd.ActionBusAutoStart != 0,
		}
		if err := e.sender.SendMessage(msg); err != nil {
			e.log.Error().Err(err).
				Int32("cookie", int32(ev.Cookie)).
				Str("member", act.BusName).
				Msg("bus action failed")
		}
	}
}
