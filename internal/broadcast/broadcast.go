// Package broadcast fans room events out to the members of a room.
package broadcast

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"typerace/internal/events"
)

// Sink delivers events to a single player's connection.
type Sink interface {
	Notify(playerID string, ev events.Event)
	Disconnect(playerID, reason string)
}

// Broadcaster sends room-scoped events through a Sink. Progress updates are
// coalesced per member and never go backwards within a race.
type Broadcaster struct {
	sink     Sink
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	last     map[string]int
	pending  map[string]events.ProgressPayload
}

// NewBroadcaster returns a Broadcaster that lets at most one progress update
// per member through every interval. A zero interval disables throttling.
func NewBroadcaster(sink Sink, interval time.Duration) *Broadcaster {
	return &Broadcaster{
		sink:     sink,
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]int),
		pending:  make(map[string]events.ProgressPayload),
	}
}

// To sends ev to one player.
func (b *Broadcaster) To(playerID string, ev events.Event) {
	if b.sink == nil {
		return
	}
	b.sink.Notify(playerID, ev)
}

// Room sends ev to every id.
func (b *Broadcaster) Room(ids []string, ev events.Event) {
	for _, id := range ids {
		b.To(id, ev)
	}
}

// Progress broadcasts p unless it is throttled. The percentage is raised to
// the last value sent for the member so observers never see it decrease.
// Completion updates are never throttled.
//
// A throttled update is held as the member's pending value. When it is the
// first one held since the last send, flushAfter is how long the caller
// should wait before calling Flush for that member.
func (b *Broadcaster) Progress(ids []string, p events.ProgressPayload) (sent bool, flushAfter time.Duration) {
	b.mu.Lock()
	prev, seen := b.last[p.MemberID]
	if p.Percentage < prev {
		p.Percentage = prev
	}
	held, holding := b.pending[p.MemberID]
	if !p.Completed {
		if seen && p.Percentage == prev {
			b.mu.Unlock()
			return false, 0
		}
		if holding && p.Percentage < held.Percentage {
			p.Percentage = held.Percentage
		}
		l := b.limiter(p.MemberID)
		now := time.Now()
		if !l.AllowN(now, 1) {
			b.pending[p.MemberID] = p
			b.mu.Unlock()
			if holding {
				return false, 0
			}
			return false, b.delay(l, now)
		}
	}
	delete(b.pending, p.MemberID)
	b.last[p.MemberID] = p.Percentage
	b.mu.Unlock()

	b.Room(ids, events.New(events.MemberProgress, p))
	return true, 0
}

// Flush sends the member's pending progress, if any is still ahead of what
// observers last saw. It reports whether anything was sent.
func (b *Broadcaster) Flush(ids []string, playerID string) bool {
	b.mu.Lock()
	p, ok := b.pending[playerID]
	delete(b.pending, playerID)
	if !ok || p.Percentage <= b.last[playerID] {
		b.mu.Unlock()
		return false
	}
	b.last[playerID] = p.Percentage
	// Spend the token so the next live update waits a full interval.
	b.limiter(playerID).AllowN(time.Now(), 1)
	b.mu.Unlock()

	b.Room(ids, events.New(events.MemberProgress, p))
	return true
}

// delay is how long until l grants a token again.
func (b *Broadcaster) delay(l *rate.Limiter, now time.Time) time.Duration {
	r := l.ReserveN(now, 1)
	d := r.DelayFrom(now)
	r.CancelAt(now)
	if d <= 0 {
		d = b.interval
	}
	return d
}

// ResetProgress forgets all progress state; call it when a race starts.
func (b *Broadcaster) ResetProgress() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiters = make(map[string]*rate.Limiter)
	b.last = make(map[string]int)
	b.pending = make(map[string]events.ProgressPayload)
}

// Forget drops progress state for a member that left.
func (b *Broadcaster) Forget(playerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.limiters, playerID)
	delete(b.last, playerID)
	delete(b.pending, playerID)
}

// Disconnect asks the sink to drop a player's connection.
func (b *Broadcaster) Disconnect(playerID, reason string) {
	if b.sink == nil {
		return
	}
	b.sink.Disconnect(playerID, reason)
}

func (b *Broadcaster) limiter(id string) *rate.Limiter {
	l, ok := b.limiters[id]
	if !ok {
		limit := rate.Inf
		if b.interval > 0 {
			limit = rate.Every(b.interval)
		}
		l = rate.NewLimiter(limit, 1)
		b.limiters[id] = l
	}
	return l
}
