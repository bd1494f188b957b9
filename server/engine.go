package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bsid.es/alarmd"
)

const (
	// missedLimit is how late a queued alarm may fire normally. Later
	// than this it goes through the missed handling instead.
	missedLimit = 59 * time.Second

	// powerupCompensation is how much earlier than the nearest booting
	// alarm the hardware clock wakes the device so that it is up by
	// trigger time.
	powerupCompensation = 60 * time.Second

	// rtcMinLead is the closest the hardware wakeup may be programmed.
	rtcMinLead = 60 * time.Second

	// postponeWindow is the lateness beyond which postpone-flagged
	// missed alarms move to the next day.
	postponeWindow = 24 * time.Hour

	// retryDelay paces re-evaluation attempts while the clock settles.
	retryDelay = time.Second
)

// PowerupButtonBit marks a dialog response whose action requires booting
// the device to the desktop. The bit is stripped from the button index
// and turned into a powerup request towards the device state manager.
const PowerupButtonBit int32 = 1 << 30

// Options configures an Engine. Queue is required, every other field
// falls back to a no-op default (Time to the system clock).
type Options struct {
	Queue alarmd.Queue
	Time  TimeSource
	Log   zerolog.Logger

	Dialog    DialogService
	Runner    CommandRunner
	Sender    MessageSender
	Power     PowerControl
	RTC       RTC
	Broadcast Broadcaster
}

// Engine is the alarm scheduling core. All event state lives in the
// queue; the engine owns the evaluation loop that drives every queued
// event to a fixpoint state after each external stimulus (bus requests,
// peer availability edges, timer wakeups, time changes).
//
// Engine methods are safe for concurrent use. State transitions happen
// only inside evaluation passes; the public methods record the stimulus
// and post an evaluation request.
type Engine struct {
	mu    sync.Mutex
	queue alarmd.Queue
	time  TimeSource
	log   zerolog.Logger

	dialog    DialogService
	runner    CommandRunner
	sender    MessageSender
	power     PowerControl
	rtc       RTC
	broadcast Broadcaster

	status statusRegister
	clock  clockCheck
	wakeup wakeupScheduler
	saver  saver

	// now is the wall time the current evaluation pass runs against.
	now time.Time

	qsCurr, qsPrev       queueState
	iconsCurr, iconsPrev int

	tzCurr, tzPrev   string
	dstCurr, dstPrev bool

	rtcArmed time.Time

	reqCh        chan struct{}
	retryPending bool

	locs map[string]*time.Location
}

func New(opts Options) *Engine {
	e := &Engine{
		queue:     opts.Queue,
		time:      opts.Time,
		log:       opts.Log,
		dialog:    opts.Dialog,
		runner:    opts.Runner,
		sender:    opts.Sender,
		power:     opts.Power,
		rtc:       opts.RTC,
		broadcast: opts.Broadcast,
		reqCh:     make(chan struct{}, 1),
		locs:      make(map[string]*time.Location),
	}
	if e.time == nil {
		e.time = NewSystemTime()
	}
	if e.dialog == nil {
		e.dialog = nopDialog{}
	}
	if e.runner == nil {
		e.runner = nopRunner{}
	}
	if e.sender == nil {
		e.sender = nopSender{}
	}
	if e.power == nil {
		e.power = nopPower{}
	}
	if e.rtc == nil {
		e.rtc = nopRTC{}
	}
	if e.broadcast == nil {
		e.broadcast = nopBroadcaster{}
	}

	e.status.onChange = e.RequestRethink
	e.status.real = FlagStartup |
		FlagDialogWasDown | FlagClockWasDown |
		FlagPowerWasDown | FlagStatusbarWasDown
	e.wakeup.fire = e.RequestRethink
	e.saver = saver{delay: saveDelay, save: e.saveQueue}

	e.qsPrev = emptyQueueState()
	e.qsPrev.alarms = -1
	e.iconsPrev = -1

	e.tzCurr, e.dstCurr = e.time.Timezone()
	e.tzPrev, e.dstPrev = e.tzCurr, e.dstCurr

	return e
}

// AttachPeers installs bus-backed collaborators after construction, nil
// arguments keep the current implementation. Called once during startup
// before Run.
func (e *Engine) AttachPeers(dialog DialogService, sender MessageSender, power PowerControl, broadcast Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dialog != nil {
		e.dialog = dialog
	}
	if sender != nil {
		e.sender = sender
	}
	if power != nil {
		e.power = power
	}
	if broadcast != nil {
		e.broadcast = broadcast
	}
}

// Run drives evaluation passes until ctx is cancelled, then flushes any
// pending queue changes.
func (e *Engine) Run(ctx context.Context) {
	e.RequestRethink()
	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.wakeup.cancel()
			e.mu.Unlock()
			e.saver.forced()
			return
		case <-e.reqCh:
			e.evaluate()
		}
	}
}

// RequestRethink posts an evaluation request. Requests made while one is
// pending coalesce. Safe to call from any goroutine.
func (e *Engine) RequestRethink() {
	select {
	case e.reqCh <- struct{}{}:
	default:
	}
}

// saveQueue runs on the saver timer goroutine or a forced-save caller.
// Handlers mutate stored events under e.mu, so the snapshot the store
// takes has to serialize with them.
func (e *Engine) saveQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persistQueue()
}

// persistQueue flushes the queue. Callers hold e.mu.
func (e *Engine) persistQueue() {
	if err := e.queue.Save(); err != nil {
		e.log.Error().Err(err).Msg("queue save failed")
	}
}

// ForceSave flushes the queue immediately, bypassing the debounce.
func (e *Engine) ForceSave() {
	e.saver.forced()
}

// scheduleRetry arms a one-shot re-evaluation while the clock settles.
func (e *Engine) scheduleRetry() {
	if e.retryPending {
		return
	}
	e.retryPending = true
	time.AfterFunc(retryDelay, func() {
		e.mu.Lock()
		e.retryPending = false
		e.mu.Unlock()
		e.RequestRethink()
	})
}

// loc resolves an event timezone name, falling back to the system zone
// on failure or when tz is empty.
func (e *Engine) loc(tz string) *time.Location {
	if tz == "" {
		return e.time.Location()
	}
	if loc, ok := e.locs[tz]; ok {
		return loc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.log.Warn().Str("tz", tz).Err(err).Msg("unknown timezone, using system zone")
		loc = e.time.Location()
	}
	e.locs[tz] = loc
	return loc
}

func (e *Engine) eventLoc(ev *alarmd.AlarmEvent) *time.Location {
	return e.loc(ev.Timezone)
}

// evaluate runs one full evaluation: clock stability check, time-change
// handling, the state machine fixpoint loop, peer edge bookkeeping and
// the outbound broadcasts. Idempotent when nothing changed.
func (e *Engine) evaluate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	wall := e.time.Wall()
	mono := e.time.Monotonic()

	reported := e.status.Get()&FlagClockChanged != 0
	e.status.Clear(FlagClockChanged)

	stable, forw, back := e.clock.stable(wall, mono, reported)
	if forw {
		e.status.Set(0, FlagClockMovedForward|FlagTimeChangePending)
	}
	if back {
		e.status.Set(0, FlagClockMovedBack|FlagTimeChangePending)
	}
	if !stable {
		e.status.Set(0, FlagTimeChangePending)
		e.wakeup.cancel()
		e.qsPrev = emptyQueueState()
		e.qsPrev.alarms = -1
		e.scheduleRetry()
		return
	}

	e.now = wall

	e.rethinkBackInTime()
	e.rethinkForwInTime()
	e.rethinkTimezone()

	e.saver.cancel()
	e.wakeup.cancel()

	changed := false
	for {
		e.queue.ClearDirty()
		e.qsCurr = emptyQueueState()
		e.iconsCurr = 0

		e.rethinkNew()
		e.rethinkWaitConn()
		e.rethinkQueued()
		e.rethinkMissed()
		e.rethinkPostponed()

		e.rethinkLimbo()
		e.rethinkTriggered()
		e.rethinkWaitSysUI()
		e.rethinkSysUIReq()
		e.rethinkSysUIAck()
		e.rethinkSysUIRsp()

		e.rethinkSnoozed()
		e.rethinkServed()
		e.rethinkRecurring()
		e.rethinkDeleted()

		e.queue.CleanupDeleted()

		if !e.queue.Dirty() {
			break
		}
		changed = true
	}

	e.qsCurr.alarms += int32(e.queue.CountByState(alarmd.StateWaitSysUI) +
		e.queue.CountByState(alarmd.StateSysUIReq) +
		e.queue.CountByState(alarmd.StateSysUIAck))

	e.syncPeerEdges()
	e.flushPowerup()
	e.syncQueueState(wall)
	e.broadcastTimeChange()

	if e.status.Get()&FlagStartup != 0 {
		e.status.Clear(FlagStartup)
		e.log.Info().Msg("initial evaluation complete")
	}
	if changed {
		e.saver.request()
	}
}

/* ------------------------------------------------------------------------ *
 * state handlers, one per event state
 * ------------------------------------------------------------------------ */

func (e *Engine) rethinkNew() {
	connected := e.status.Get()&FlagConnected != 0
	for _, c := range e.queue.QueryByState(alarmd.StateNew) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}
		if ev.Flags&alarmd.EventConnected != 0 && !connected {
			e.queue.SetEventState(ev, alarmd.StateWaitConn)
			continue
		}
		e.queue.SetEventState(ev, alarmd.StateQueued)
		e.runStateActions(ev, alarmd.ActionWhenQueued)
	}
}

func (e *Engine) rethinkWaitConn() {
	if e.status.Get()&FlagConnected == 0 {
		return
	}
	for _, c := range e.queue.QueryByState(alarmd.StateWaitConn) {
		if ev, ok := e.queue.GetEvent(c); ok {
			e.queue.SetEventState(ev, alarmd.StateNew)
		}
	}
}

func (e *Engine) rethinkQueued() {
	now := e.now
	connected := e.status.Get()&FlagConnected != 0

	tsw := noAlarmTime // nearest software wakeup
	thw := noAlarmTime // nearest hardware (booting) wakeup

	for _, c := range e.queue.QueryByState(alarmd.StateQueued) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		if ev.Flags&alarmd.EventConnected != 0 && !connected {
			e.queue.SetEventState(ev, alarmd.StateWaitConn)
			continue
		}

		if ev.Trigger.After(now) {
			boot := ev.BootMask()
			trg := ev.Trigger.Unix()
			switch {
			case boot&alarmd.EventBoot != 0:
				filt(&e.qsCurr.desktop, trg)
			case boot&alarmd.EventActDead != 0:
				filt(&e.qsCurr.actdead, trg)
			default:
				filt(&e.qsCurr.noBoot, trg)
			}
			if ev.Flags&alarmd.EventShowIcon != 0 {
				e.iconsCurr++
			}
			continue
		}

		// missed for some reason, power off for example
		if now.Sub(ev.Trigger) > missedLimit {
			e.queue.SetEventState(ev, alarmd.StateMissed)
			continue
		}

		e.queue.SetEventState(ev, alarmd.StateLimbo)
	}

	filt(&thw, e.qsCurr.desktop)
	filt(&thw, e.qsCurr.actdead)
	filt(&tsw, thw)
	filt(&tsw, e.qsCurr.noBoot)

	if tsw != noAlarmTime {
		e.wakeup.request(now, time.Unix(tsw, 0))
	}
	e.armRTC(now, thw)
}

// armRTC programs the hardware wakeup for the nearest booting alarm,
// compensated for boot time and clamped to the minimum lead. A previous
// wakeup is cleared when no booting alarm remains.
func (e *Engine) armRTC(now time.Time, thw int64) {
	if thw == noAlarmTime {
		if e.rtcArmed.IsZero() {
			return
		}
		if err := e.rtc.SetWakeup(time.Time{}, false); err != nil {
			e.log.Error().Err(err).Msg("rtc wakeup clear failed")
			return
		}
		e.rtcArmed = time.Time{}
		return
	}

	trg := time.Unix(thw, 0).Add(-powerupCompensation)
	if lim := now.Add(rtcMinLead); trg.Before(lim) {
		trg = lim
	}
	trg = trg.UTC().Truncate(time.Second)

	if trg.Equal(e.rtcArmed) {
		return
	}
	if err := e.rtc.SetWakeup(trg, true); err != nil {
		e.log.Error().Err(err).Time("wakeup", trg).Msg("rtc wakeup set failed")
		return
	}
	e.rtcArmed = trg
}

func (e *Engine) rethinkMissed() {
	for _, c := range e.queue.QueryByState(alarmd.StateMissed) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		e.runStateActions(ev, alarmd.ActionWhenDelayed)

		switch {
		case ev.Flags&alarmd.EventRunDelayed != 0:
			e.queue.SetEventState(ev, alarmd.StateLimbo)

		case ev.Flags&alarmd.EventPostponeDelayed != 0:
			e.queue.SetEventState(ev, alarmd.StatePostponed)

		case ev.Flags&alarmd.EventDisableDelayed != 0:
			// the event becomes invisible to the state machine once
			// the disabled flag is set, no state transfer required
			e.queue.SetEventFlags(ev, ev.Flags|alarmd.EventDisabled)
			e.runStateActions(ev, alarmd.ActionWhenDisabled)

		default:
			e.queue.SetEventState(ev, alarmd.StateServed)
		}
	}
}

func (e *Engine) rethinkPostponed() {
	now := e.now
	for _, c := range e.queue.QueryByState(alarmd.StatePostponed) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		snooze := ev.Snooze(e.queue.DefaultSnooze())

		// trigger anyway if less than one day late
		if now.Sub(ev.Trigger)-snooze < postponeWindow {
			e.queue.SetEventState(ev, alarmd.StateLimbo)
			continue
		}

		// otherwise autosnooze by one day, padded to the snooze grid
		add := now.Add(postponeWindow).Sub(ev.Trigger)
		if pad := add % snooze; pad != 0 {
			add = add - pad + snooze
		}
		e.queue.SetEventTrigger(ev, ev.Trigger.Add(add))
		e.queue.SetEventState(ev, alarmd.StateNew)
	}
}

func (e *Engine) rethinkLimbo() {
	flags := e.status.Get()
	switch {
	case flags&FlagActDead != 0:
		// in acting dead only alarms flagged for it pass the limbo
		for _, c := range e.queue.QueryByState(alarmd.StateLimbo) {
			ev, ok := e.queue.GetEvent(c)
			if !ok {
				continue
			}
			if ev.Flags&alarmd.EventActDead != 0 {
				e.queue.SetEventState(ev, alarmd.StateTriggered)
			}
		}
	case flags&FlagDesktopUp != 0:
		for _, c := range e.queue.QueryByState(alarmd.StateLimbo) {
			if ev, ok := e.queue.GetEvent(c); ok {
				e.queue.SetEventState(ev, alarmd.StateTriggered)
			}
		}
	}
}

func (e *Engine) rethinkTriggered() {
	for _, c := range e.queue.QueryByState(alarmd.StateTriggered) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		e.runStateActions(ev, alarmd.ActionWhenTriggered)

		switch {
		case len(ev.Buttons()) > 0:
			// transfer control to the dialog service
			e.queue.SetEventState(ev, alarmd.StateWaitSysUI)
		case ev.State == alarmd.StateSnoozed:
			// a triggered action snoozed the event, stay snoozed
		default:
			e.queue.SetEventState(ev, alarmd.StateServed)
		}
	}
}

func (e *Engine) rethinkWaitSysUI() {
	if e.status.Get()&FlagDialogUp == 0 {
		return
	}
	var batch []alarmd.Cookie
	for _, c := range e.queue.QueryByState(alarmd.StateWaitSysUI) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}
		e.queue.SetEventState(ev, alarmd.StateSysUIReq)
		batch = append(batch, c)
	}
	if len(batch) > 0 {
		if err := e.dialog.AddDialog(batch); err != nil {
			e.log.Error().Err(err).Msg("dialog add failed")
		}
	}
}

// Transitions SysUIReq -> SysUIAck and SysUIAck -> SysUIRsp happen via
// DialogAck and DialogResponse; the handlers below only roll events back
// when the dialog service goes away.

func (e *Engine) rethinkSysUIReq() {
	e.rollbackDialog(alarmd.StateSysUIReq)
}

func (e *Engine) rethinkSysUIAck() {
	e.rollbackDialog(alarmd.StateSysUIAck)
}

func (e *Engine) rollbackDialog(state alarmd.State) {
	if e.status.Get()&FlagDialogUp != 0 {
		return
	}
	for _, c := range e.queue.QueryByState(state) {
		if ev, ok := e.queue.GetEvent(c); ok {
			e.queue.SetEventState(ev, alarmd.StateWaitSysUI)
		}
	}
}

func (e *Engine) rethinkSysUIRsp() {
	for _, c := range e.queue.QueryByState(alarmd.StateSysUIRsp) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}
		e.runResponseActions(ev)
		if ev.State != alarmd.StateSnoozed {
			e.queue.SetEventState(ev, alarmd.StateServed)
		}
	}
}

func (e *Engine) rethinkSnoozed() {
	now := e.now
	for _, c := range e.queue.QueryByState(alarmd.StateSnoozed) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		snooze := ev.Snooze(e.queue.DefaultSnooze())
		curr := alarmd.BumpTime(ev.Trigger, now, snooze)

		// remember the pre-snooze trigger so recurrence math stays
		// anchored to the original schedule
		if ev.SnoozeBase.IsZero() {
			ev.SnoozeBase = ev.Trigger
		}

		e.queue.SetEventTrigger(ev, curr)
		e.queue.SetEventState(ev, alarmd.StateNew)
	}
}

func (e *Engine) rethinkServed() {
	for _, c := range e.queue.QueryByState(alarmd.StateServed) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}
		if ev.IsRecurring() {
			e.queue.SetEventState(ev, alarmd.StateRecurring)
		} else {
			e.queue.SetEventState(ev, alarmd.StateDeleted)
		}
	}
}

func (e *Engine) rethinkRecurring() {
	now := e.now
	for _, c := range e.queue.QueryByState(alarmd.StateRecurring) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		// recurrence is computed from the pre-snooze trigger
		prev := ev.Trigger
		if !ev.SnoozeBase.IsZero() {
			prev = ev.SnoozeBase
			ev.SnoozeBase = time.Time{}
		}

		if ev.RecurCount > 0 {
			ev.RecurCount--
		}

		var curr time.Time
		if ev.RecurCount != 0 {
			if ev.RecurInterval > 0 {
				curr = alarmd.BumpTime(prev, now, ev.RecurInterval)
			} else {
				loc := e.eventLoc(ev)
				for i := range ev.Recurrences {
					t := ev.Recurrences[i].Next(now, loc)
					if !t.IsZero() && (curr.IsZero() || t.Before(curr)) {
						curr = t
					}
				}
			}
		}

		if !curr.IsZero() {
			e.queue.SetEventTrigger(ev, curr)
			e.queue.SetEventState(ev, alarmd.StateNew)
		} else {
			e.queue.SetEventState(ev, alarmd.StateDeleted)
		}
	}
}

func (e *Engine) rethinkDeleted() {
	var batch []alarmd.Cookie
	for _, c := range e.queue.QueryByState(alarmd.StateDeleted) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}
		e.runStateActions(ev, alarmd.ActionWhenDeleted)
		batch = append(batch, c)
	}
	if len(batch) > 0 {
		if err := e.dialog.CancelDialog(batch); err != nil {
			e.log.Error().Err(err).Msg("dialog cancel failed")
		}
	}
}

/* ------------------------------------------------------------------------ *
 * time change handling
 * ------------------------------------------------------------------------ */

func (e *Engine) rethinkTimezone() {
	if e.status.Get()&FlagTZChanged == 0 {
		return
	}
	e.status.Clear(FlagTZChanged)
	e.status.Set(0, FlagTimeChangePending)
	e.log.Info().Str("from", e.tzPrev).Str("to", e.tzCurr).Msg("timezone changed")
	e.tzPrev, e.dstPrev = e.tzCurr, e.dstCurr

	now := e.now
	for _, c := range e.queue.QueryByState(alarmd.StateQueued) {
		ev, ok := e.queue.GetEvent(c)
		if !ok || ev.IsSnoozed() {
			continue
		}

		// only alarms using broken-down time in the system zone move
		if !ev.AlarmTime.IsZero() || ev.Timezone != "" {
			continue
		}

		use, valid := alarmd.NextTrigger(now, time.Time{}, ev, e.time.Location())
		if valid && !use.Equal(ev.Trigger) {
			e.queue.SetEventTrigger(ev, use)
			e.queue.SetEventState(ev, alarmd.StateNew)
		}
	}
}

func (e *Engine) rethinkBackInTime() {
	if e.status.Get()&FlagClockMovedBack == 0 {
		return
	}
	e.status.Clear(FlagClockMovedBack)
	add := e.clock.takeBackDelta()
	e.log.Info().Dur("delta", add).Msg("clock moved backwards")

	now := e.now
	for _, c := range e.queue.QueryByState(alarmd.StateQueued) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		// snoozed alarms keep their relative delay
		if ev.IsSnoozed() {
			e.queue.SetEventTrigger(ev, ev.Trigger.Add(add))
			e.queue.SetEventState(ev, alarmd.StateNew)
			continue
		}

		if ev.Flags&alarmd.EventBackReschedule == 0 {
			continue
		}

		if ev.IsRecurring() {
			// keep the occurrence budget neutral over clock moves
			if ev.RecurCount > 0 {
				ev.RecurCount++
			}
			e.queue.SetEventState(ev, alarmd.StateRecurring)
		} else if ev.AlarmTime.IsZero() {
			use, valid := alarmd.NextTrigger(now, time.Time{}, ev, e.eventLoc(ev))
			if valid {
				e.queue.SetEventTrigger(ev, use)
			}
			e.queue.SetEventState(ev, alarmd.StateNew)
		}
	}
}

func (e *Engine) rethinkForwInTime() {
	if e.status.Get()&FlagClockMovedForward == 0 {
		return
	}
	e.status.Clear(FlagClockMovedForward)
	add := e.clock.takeForwDelta()
	e.log.Info().Dur("delta", add).Msg("clock moved forwards")

	now := e.now
	for _, c := range e.queue.QueryByState(alarmd.StateQueued) {
		ev, ok := e.queue.GetEvent(c)
		if !ok {
			continue
		}

		if ev.IsSnoozed() {
			e.queue.SetEventTrigger(ev, ev.Trigger.Add(add))
			e.queue.SetEventState(ev, alarmd.StateNew)
			continue
		}

		if ev.IsRecurring() && !ev.Trigger.After(now) {
			if ev.RecurCount > 0 {
				ev.RecurCount++
			}
			e.queue.SetEventState(ev, alarmd.StateRecurring)
		}
	}
}

/* ------------------------------------------------------------------------ *
 * post-loop synchronization
 * ------------------------------------------------------------------------ */

// syncPeerEdges consumes down-to-up transitions of the peer services
// recorded since the last pass.
func (e *Engine) syncPeerEdges() {
	flags := e.status.Get()

	if flags&(FlagClockUp|FlagClockWasDown) == FlagClockUp|FlagClockWasDown {
		e.status.Clear(FlagClockWasDown)
		e.time.Resync()
		e.readTimeState()
		if e.tzCurr != e.tzPrev || e.dstCurr != e.dstPrev {
			e.status.Set(0, FlagTZChanged)
		}
	}

	if flags&(FlagPowerUp|FlagPowerWasDown) == FlagPowerUp|FlagPowerWasDown {
		e.status.Clear(FlagPowerWasDown)
		e.qsPrev = emptyQueueState()
		e.qsPrev.alarms = -1
	}

	if flags&(FlagStatusbarUp|FlagStatusbarWasDown) == FlagStatusbarUp|FlagStatusbarWasDown {
		e.status.Clear(FlagStatusbarWasDown)
		e.iconsPrev = -1
	}

	if flags&(FlagDialogUp|FlagDialogWasDown) == FlagDialogUp|FlagDialogWasDown {
		// dialog handover handled by the state machine itself
		e.status.Clear(FlagDialogWasDown)
	}
}

func (e *Engine) readTimeState() {
	e.tzCurr, e.dstCurr = e.time.Timezone()
}

// flushPowerup forwards a pending powerup request once the device state
// manager is reachable, persisting the queue first so the boot does not
// lose state.
func (e *Engine) flushPowerup() {
	if e.status.Get()&FlagPowerupPending == 0 {
		return
	}
	if e.status.Get()&FlagPowerUp == 0 {
		e.log.Warn().Msg("powerup request pending but device state manager is down")
		return
	}
	e.status.Clear(FlagPowerupPending)
	e.log.Info().Msg("sending powerup request")
	e.saver.cancel()
	e.persistQueue()
	if err := e.power.RequestPowerup(); err != nil {
		e.log.Error().Err(err).Msg("powerup request failed")
	}
}

func (e *Engine) syncQueueState(wall time.Time) {
	if e.status.Get()&FlagStatusbarUp != 0 && e.iconsPrev != e.iconsCurr {
		if e.iconsCurr > 0 {
			if e.iconsPrev <= 0 {
				e.broadcast.ShowIcon(true)
			}
		} else {
			e.broadcast.ShowIcon(false)
		}
		e.iconsPrev = e.iconsCurr
	}

	if e.qsCurr != e.qsPrev {
		now := wall.Unix()
		e.broadcast.QueueStatus(
			e.qsCurr.alarms,
			secondsTo(e.qsCurr.desktop, now),
			secondsTo(e.qsCurr.actdead, now),
			secondsTo(e.qsCurr.noBoot, now),
		)
		e.qsPrev = e.qsCurr
	}
}

func (e *Engine) broadcastTimeChange() {
	if e.status.Get()&FlagTimeChangePending == 0 {
		return
	}
	e.status.Clear(FlagTimeChangePending)
	e.broadcast.TimeChangeHandled()
}

/* ------------------------------------------------------------------------ *
 * public API, called by the bus adapters
 * ------------------------------------------------------------------------ */

// prepEvent resets the server-owned bookkeeping of a client-supplied
// event and computes its first trigger time.
func (e *Engine) prepEvent(ev *alarmd.AlarmEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	ev.Cookie = 0
	ev.Trigger = time.Time{}
	ev.SnoozeBase = time.Time{}
	ev.Response = -1
	ev.State = alarmd.StateNew

	// canonicalize the unlimited occurrence budget so that zero only
	// ever means an exhausted countdown
	if ev.RecurCount <= 0 {
		ev.RecurCount = -1
	}

	now := e.time.Wall()
	trigger, valid := alarmd.NextTrigger(now, ev.AlarmTime, ev, e.eventLoc(ev))
	if !valid {
		return alarmd.Errorf(alarmd.ErrInvalid, "event has no valid trigger time")
	}
	ev.Trigger = trigger
	return nil
}

// AddEvent validates and queues a new event, returning its cookie.
func (e *Engine) AddEvent(ev *alarmd.AlarmEvent) (alarmd.Cookie, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.prepEvent(ev); err != nil {
		return 0, err
	}
	cookie, err := e.queue.AddEvent(ev)
	if err != nil {
		return 0, err
	}
	e.log.Info().
		Int32("cookie", int32(cookie)).
		Time("trigger", ev.Trigger).
		Str("app", ev.AppID).
		Msg("event added")
	e.saver.request()
	e.RequestRethink()
	return cookie, nil
}

// UpdateEvent replaces the event identified by ev.Cookie with a fresh
// copy of ev, re-running trigger computation from scratch.
func (e *Engine) UpdateEvent(ev *alarmd.AlarmEvent) (alarmd.Cookie, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := ev.Cookie
	if err := e.prepEvent(ev); err != nil {
		return 0, err
	}
	if old > 0 {
		e.queue.DeleteEvent(old)
	}
	cookie, err := e.queue.AddEvent(ev)
	if err != nil {
		return 0, err
	}
	e.log.Info().
		Int32("old", int32(old)).
		Int32("cookie", int32(cookie)).
		Msg("event updated")
	e.saver.request()
	e.RequestRethink()
	return cookie, nil
}

// DeleteEvent marks the event for deletion. Deleted-state actions run
// and the entry is dropped during the next evaluation pass.
func (e *Engine) DeleteEvent(cookie alarmd.Cookie) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, ok := e.queue.GetEvent(cookie)
	if !ok {
		return false
	}
	e.queue.SetEventState(ev, alarmd.StateDeleted)
	e.saver.request()
	e.RequestRethink()
	return true
}

// GetEvent returns a snapshot of the stored event.
func (e *Engine) GetEvent(cookie alarmd.Cookie) (*alarmd.AlarmEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, ok := e.queue.GetEvent(cookie)
	if !ok {
		return nil, false
	}
	return ev.Clone(), true
}

// QueryEvents returns cookies of events in the trigger window [lo, hi]
// whose flags match mask/flags, filtered by application id.
func (e *Engine) QueryEvents(lo, hi alarmd.Cookie, mask, flags alarmd.EventFlags, appID string) []alarmd.Cookie {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Query(lo, hi, mask, flags, appID)
}

// DefaultSnooze returns the queue-wide snooze interval.
func (e *Engine) DefaultSnooze() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.DefaultSnooze()
}

// SetDefaultSnooze changes the queue-wide snooze interval. Values below
// the minimum reset it to the built-in default.
func (e *Engine) SetDefaultSnooze(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.SetDefaultSnooze(d)
	e.saver.request()
}

// DialogAck records that the dialog service accepted the given dialog
// requests.
func (e *Engine) DialogAck(cookies []alarmd.Cookie) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range cookies {
		ev, ok := e.queue.GetEvent(c)
		if !ok || ev.State != alarmd.StateSysUIReq {
			continue
		}
		e.queue.SetEventState(ev, alarmd.StateSysUIAck)
	}
	e.RequestRethink()
}

// DialogResponse records the button the user pressed for an alarm
// dialog. A set PowerupButtonBit additionally schedules a powerup
// request.
func (e *Engine) DialogResponse(cookie alarmd.Cookie, button int32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	powerup := button&PowerupButtonBit != 0
	button &^= PowerupButtonBit

	ev, ok := e.queue.GetEvent(cookie)
	if !ok {
		return false
	}
	// WaitSysUI is accepted too: the dialog peer may have restarted
	// between showing the alarm and delivering the press, rolling the
	// event back.
	switch ev.State {
	case alarmd.StateWaitSysUI, alarmd.StateSysUIReq, alarmd.StateSysUIAck:
	default:
		return false
	}

	ev.Response = button
	e.queue.SetEventState(ev, alarmd.StateSysUIRsp)
	if powerup {
		e.status.Set(0, FlagPowerupPending)
	}
	e.RequestRethink()
	return true
}

// SetFlags adjusts the daemon status register. An effective change
// triggers an evaluation pass.
func (e *Engine) SetFlags(clr, set Flags) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.Set(clr, set)
}

// Flags returns the effective status register value.
func (e *Engine) Flags() Flags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Get()
}

// OverrideFlags adjusts the debug overlay of the status register and
// returns the effective value. Used by the debug bus method.
func (e *Engine) OverrideFlags(maskSet, maskClr, fakeSet, fakeClr Flags) Flags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status.Override(maskSet, maskClr, fakeSet, fakeClr)
}

// NotifyTimeChange records an externally announced time or timezone
// change, typically from the system clock daemon.
func (e *Engine) NotifyTimeChange(clockChanged bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set := FlagTimeChangePending
	e.time.Resync()
	e.readTimeState()
	if e.tzCurr != e.tzPrev || e.dstCurr != e.dstPrev {
		set |= FlagTZChanged
	}
	if clockChanged {
		set |= FlagClockChanged
	}
	e.status.Set(0, set)
	e.RequestRethink()
}
