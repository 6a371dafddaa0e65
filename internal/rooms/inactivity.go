package rooms

import (
	"time"

	"typerace/internal/events"
)

const (
	idleWarningMessage = "You will be removed for inactivity if you do not ready up soon."
	idleKickMessage    = "You were removed from the lobby for inactivity."
)

// idleTimers is the two-stage warn/kick pair for one member. token ties
// callbacks to the arming that scheduled them.
type idleTimers struct {
	warn  *time.Timer
	kick  *time.Timer
	token int
}

func (t idleTimers) armed() bool {
	return t.kick != nil
}

// idleEligible reports whether m is holding up the lobby: the room is
// waiting with company and m has not readied.
func (r *Room) idleEligible(m *Member) bool {
	return r.Kind != KindPractice &&
		r.state == StateWaiting &&
		len(r.members) >= 2 &&
		!m.Ready &&
		r.cfg.InactivityKick > 0
}

// syncIdle arms timers for every eligible member and disarms the rest.
func (r *Room) syncIdle() {
	for _, m := range r.members {
		if r.idleEligible(m) {
			r.armIdle(m)
		} else {
			r.disarmIdle(m)
		}
	}
}

func (r *Room) armIdle(m *Member) {
	if m.idle.armed() {
		return
	}
	r.idleSeq++
	token := r.idleSeq
	id := m.ID
	m.idle.token = token
	if r.cfg.InactivityWarn > 0 && r.cfg.InactivityWarn < r.cfg.InactivityKick {
		m.idle.warn = time.AfterFunc(r.cfg.InactivityWarn, func() {
			r.post(func() { r.idleWarn(id, token) })
		})
	}
	m.idle.kick = time.AfterFunc(r.cfg.InactivityKick, func() {
		r.post(func() { r.idleKick(id, token) })
	})
}

func (r *Room) disarmIdle(m *Member) {
	if m.idle.warn != nil {
		m.idle.warn.Stop()
	}
	if m.idle.kick != nil {
		m.idle.kick.Stop()
	}
	m.idle = idleTimers{}
}

func (r *Room) idleMember(id string, token int) *Member {
	if r.state == StateClosed {
		return nil
	}
	m := r.member(id)
	if m == nil || m.idle.token != token || !r.idleEligible(m) {
		return nil
	}
	return m
}

func (r *Room) idleWarn(id string, token int) {
	m := r.idleMember(id, token)
	if m == nil {
		return
	}
	r.out.To(id, events.New(events.InactivityWarning, events.MessagePayload{Message: idleWarningMessage}))
}

func (r *Room) idleKick(id string, token int) {
	m := r.idleMember(id, token)
	if m == nil {
		return
	}
	r.log.Info().Str("player", id).Msg("removing idle member")
	r.out.To(id, events.New(events.InactivityKicked, events.MessagePayload{Message: idleKickMessage}))
	r.removeMember(id, "inactivity")
}
