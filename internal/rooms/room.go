package rooms

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"typerace/internal/broadcast"
	"typerace/internal/events"
	"typerace/internal/targets"
)

// TargetSource supplies race text.
type TargetSource interface {
	Target(req targets.Request) (targets.Snippet, error)
	MoreWords(req targets.Request, count int) string
}

type hooks struct {
	memberRemoved func(r *Room, playerID string)
	closed        func(r *Room)
}

type roomDeps struct {
	cfg     Config
	src     TargetSource
	sink    broadcast.Sink
	journal *journal
	hooks   hooks
	log     zerolog.Logger
}

// Room is a single race lobby. One goroutine owns all of its state; every
// exported method hands a closure to that goroutine and waits for it.
type Room struct {
	Code      string
	Kind      Kind
	CreatedAt time.Time

	cfg     Config
	src     TargetSource
	out     *broadcast.Broadcaster
	journal *journal
	hooks   hooks
	log     zerolog.Logger

	cmds   chan func()
	closed chan struct{}

	stateView   atomic.Value
	memberCount atomic.Int32
	touched     atomic.Int64

	// Owned by the run loop.
	state     State
	hostID    string
	owner     string
	settings  Settings
	snippet   targets.Snippet
	members   []*Member
	kicked    map[string]bool
	results   []RaceResult
	raceID    string
	startedAt time.Time
	countdown int
	epoch     int
	timers    []*time.Timer
	idleSeq   int
}

func newRoom(code string, kind Kind, owner string, settings Settings, deps roomDeps) (*Room, error) {
	if err := deps.cfg.checkSettings(settings); err != nil {
		return nil, err
	}
	snippet, err := deps.src.Target(settings.request())
	if err != nil {
		return nil, ErrNoContent
	}

	now := time.Now()
	r := &Room{
		Code:      code,
		Kind:      kind,
		CreatedAt: now,
		cfg:       deps.cfg,
		src:       deps.src,
		out:       broadcast.NewBroadcaster(deps.sink, deps.cfg.ProgressInterval),
		journal:   deps.journal,
		hooks:     deps.hooks,
		log:       deps.log.With().Str("code", code).Str("kind", string(kind)).Logger(),
		cmds:      make(chan func(), 256),
		closed:    make(chan struct{}),
		owner:     owner,
		settings:  settings,
		snippet:   snippet,
		kicked:    make(map[string]bool),
	}
	r.setState(StateWaiting)
	r.touched.Store(now.UnixNano())

	go r.run()
	r.log.Info().Str("snippet", snippet.ID).Msg("room created")
	return r, nil
}

func (r *Room) run() {
	for cmd := range r.cmds {
		cmd()
		if r.state == StateClosed {
			close(r.closed)
			return
		}
	}
}

// exec runs fn on the room goroutine and returns its error. ctx only bounds
// the wait for a slot in the inbox.
func (r *Room) exec(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	cmd := func() {
		r.touched.Store(time.Now().UnixNano())
		done <- fn()
	}

	select {
	case r.cmds <- cmd:
	case <-r.closed:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// A queued command runs regardless of ctx.
	select {
	case err := <-done:
		return err
	case <-r.closed:
		select {
		case err := <-done:
			return err
		default:
			return ErrRoomClosed
		}
	}
}

// post queues fn from a timer goroutine.
func (r *Room) post(fn func()) {
	select {
	case r.cmds <- fn:
	case <-r.closed:
	}
}

// after schedules fn on the room goroutine unless the race phase changes
// first.
func (r *Room) after(d time.Duration, fn func()) {
	epoch := r.epoch
	t := time.AfterFunc(d, func() {
		r.post(func() {
			if r.epoch != epoch || r.state == StateClosed {
				return
			}
			fn()
		})
	})
	r.timers = append(r.timers, t)
}

func (r *Room) cancelTimers() {
	r.epoch++
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}

func (r *Room) setState(s State) {
	if r.state != s && r.state != "" {
		r.log.Info().Str("from", string(r.state)).Str("to", string(s)).Msg("state change")
	}
	r.state = s
	r.stateView.Store(s)
}

// State is a best-effort read for callers outside the room goroutine.
func (r *Room) State() State {
	s, _ := r.stateView.Load().(State)
	return s
}

// MemberCount is a best-effort read for callers outside the room goroutine.
func (r *Room) MemberCount() int {
	return int(r.memberCount.Load())
}

// LastActivity is when the room last handled a request.
func (r *Room) LastActivity() time.Time {
	return time.Unix(0, r.touched.Load())
}

// Done is closed once the room has shut down.
func (r *Room) Done() <-chan struct{} {
	return r.closed
}

func (r *Room) member(id string) *Member {
	for _, m := range r.members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (r *Room) memberIDs() []string {
	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.ID
	}
	return ids
}

func (r *Room) memberList() []events.Member {
	list := make([]events.Member, len(r.members))
	for i, m := range r.members {
		list[i] = events.Member{
			ID:        m.ID,
			Ready:     m.Ready,
			Connected: m.Connected,
			Host:      m.ID == r.hostID,
			Progress:  m.Progress,
			Finished:  m.Finished,
			WPM:       m.WPM,
		}
	}
	return list
}

func (r *Room) resultList() []events.Result {
	list := make([]events.Result, len(r.results))
	for i, res := range r.results {
		list[i] = res.event()
	}
	return list
}

func (r *Room) snapshot(viewer string) events.Snapshot {
	snap := events.Snapshot{
		Code:       r.Code,
		Kind:       string(r.Kind),
		State:      string(r.state),
		HostID:     r.hostID,
		SnippetID:  r.snippet.ID,
		TargetText: r.snippet.Text,
		Settings:   r.settings.event(),
		Members:    r.memberList(),
		Results:    r.resultList(),
	}
	if m := r.member(viewer); m != nil && m.Text != "" {
		snap.TargetText = m.Text
	}
	switch r.state {
	case StateCountdown:
		snap.SecondsRemaining = r.countdown
	case StateInProgress:
		started := r.startedAt
		snap.StartedAt = &started
		if r.settings.Timed() {
			left := r.settings.Duration - time.Since(r.startedAt)
			snap.SecondsRemaining = int(max(0, left.Round(time.Second)/time.Second))
		}
	}
	return snap
}

func (r *Room) broadcastMembers() {
	r.out.Room(r.memberIDs(), events.New(events.MembersChanged, events.MembersPayload{Members: r.memberList()}))
}

func (r *Room) join(ctx context.Context, playerID string) (events.Snapshot, error) {
	var snap events.Snapshot
	err := r.exec(ctx, func() error {
		if err := r.addMember(playerID); err != nil {
			return err
		}
		snap = r.snapshot(playerID)
		return nil
	})
	return snap, err
}

func (r *Room) addMember(id string) error {
	if r.state == StateClosed {
		return ErrRoomClosed
	}
	if r.kicked[id] {
		return ErrKicked
	}

	if m := r.member(id); m != nil {
		if !m.Connected {
			m.Connected = true
			r.log.Debug().Str("player", id).Msg("member reconnected")
			r.broadcastMembers()
		}
		return nil
	}

	if r.Kind == KindPractice && id != r.owner {
		return ErrRoomFull
	}
	if (r.state == StateCountdown || r.state == StateInProgress) && r.Kind != KindPractice {
		return ErrRaceInProgress
	}
	limit := r.cfg.MaxMembers
	if r.Kind == KindPractice {
		limit = 1
	}
	if len(r.members) >= limit {
		return ErrRoomFull
	}

	m := &Member{
		ID:        id,
		Connected: true,
		JoinedAt:  time.Now(),
		Text:      r.snippet.Text,
	}
	if r.hostID == "" {
		r.hostID = id
	}
	m.Ready = r.implicitlyReady(id)
	r.members = append(r.members, m)
	r.memberCount.Store(int32(len(r.members)))

	r.log.Debug().Str("player", id).Int("members", len(r.members)).Msg("member joined")
	r.broadcastMembers()
	r.syncIdle()
	return nil
}

func (r *Room) implicitlyReady(id string) bool {
	switch r.Kind {
	case KindPractice:
		return true
	case KindPrivate:
		return id == r.hostID
	}
	return false
}

// removeMember drops a member and repairs host, countdown and completion
// state around the gap.
func (r *Room) removeMember(id, reason string) {
	idx := -1
	for i, m := range r.members {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	r.disarmIdle(r.members[idx])
	r.members = append(r.members[:idx], r.members[idx+1:]...)
	r.memberCount.Store(int32(len(r.members)))
	r.out.Forget(id)

	r.log.Debug().Str("player", id).Str("reason", reason).Msg("member removed")
	if r.hooks.memberRemoved != nil {
		r.hooks.memberRemoved(r, id)
	}

	if len(r.members) == 0 {
		r.teardown("empty")
		return
	}

	ids := r.memberIDs()
	r.out.Room(ids, events.New(events.MemberLeft, events.MemberLeftPayload{MemberID: id, Reason: reason}))
	if id == r.hostID {
		r.reassignHost()
	}
	r.broadcastMembers()

	switch r.state {
	case StateCountdown:
		if r.Kind != KindPractice && len(r.members) < 2 {
			r.abortCountdown("not enough players")
		}
	case StateInProgress:
		r.checkCompletion()
	case StateWaiting:
		r.maybeAutoStart()
		r.syncIdle()
	}
}

// reassignHost hands the room to the earliest-joined connected member, or
// the earliest-joined member if nobody is connected.
func (r *Room) reassignHost() {
	next := r.members[0]
	for _, m := range r.members {
		if m.Connected {
			next = m
			break
		}
	}
	r.hostID = next.ID
	if r.Kind == KindPrivate {
		next.Ready = true
		r.disarmIdle(next)
	}
	r.log.Info().Str("host", next.ID).Msg("host reassigned")
	r.out.Room(r.memberIDs(), events.New(events.NewHost, events.HostPayload{HostID: next.ID}))
}

// Leave removes a member at their request.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	return r.exec(ctx, func() error {
		if r.member(playerID) == nil {
			return ErrNotMember
		}
		r.removeMember(playerID, "left")
		return nil
	})
}

// Disconnect records a lost transport. Members of a running race are kept
// so their progress survives a reconnect; otherwise they are removed.
func (r *Room) Disconnect(ctx context.Context, playerID string) error {
	return r.exec(ctx, func() error {
		m := r.member(playerID)
		if m == nil {
			return nil
		}
		if r.state != StateInProgress {
			r.removeMember(playerID, "disconnected")
			return nil
		}
		m.Connected = false
		if playerID == r.hostID {
			r.reassignHost()
		}
		r.broadcastMembers()
		r.checkCompletion()
		return nil
	})
}

// SetReady marks a member ready or not ready.
func (r *Room) SetReady(ctx context.Context, playerID string, ready bool) error {
	return r.exec(ctx, func() error {
		m := r.member(playerID)
		if m == nil {
			return ErrNotMember
		}
		if r.state != StateWaiting {
			if ready && m.Ready {
				return nil
			}
			return ErrRaceInProgress
		}
		if r.implicitlyReady(playerID) {
			return nil
		}
		if m.Ready == ready {
			return nil
		}
		m.Ready = ready
		r.broadcastMembers()
		r.syncIdle()
		r.maybeAutoStart()
		return nil
	})
}

// UpdateSettings changes race settings and picks new text. Only the host
// may do it, and only while waiting.
func (r *Room) UpdateSettings(ctx context.Context, playerID string, s Settings) error {
	return r.exec(ctx, func() error {
		if r.member(playerID) == nil {
			return ErrNotMember
		}
		if playerID != r.hostID {
			return ErrNotHost
		}
		if r.state != StateWaiting {
			return ErrSettingsLocked
		}
		if err := r.cfg.checkSettings(s); err != nil {
			return err
		}
		snippet, err := r.src.Target(s.request())
		if err != nil {
			r.contentError(playerID)
			return ErrNoContent
		}

		r.settings = s
		r.snippet = snippet
		for _, m := range r.members {
			m.resetRace(snippet.Text, time.Time{})
		}
		for _, m := range r.members {
			r.out.To(m.ID, events.New(events.SettingsChanged, r.snapshot(m.ID)))
		}
		return nil
	})
}

func (r *Room) contentError(playerID string) {
	r.out.To(playerID, events.New(events.ContentError, events.MessagePayload{Message: ErrNoContent.Message}))
}

// Kick removes target from the room and bars it from rejoining.
func (r *Room) Kick(ctx context.Context, hostID, target string) error {
	return r.exec(ctx, func() error {
		if r.member(hostID) == nil {
			return ErrNotMember
		}
		if hostID != r.hostID {
			return ErrNotHost
		}
		if target == hostID {
			return invalid("cannot kick yourself")
		}
		if r.member(target) == nil {
			return ErrNotMember
		}

		r.kicked[target] = true
		r.out.To(target, events.New(events.Kicked, events.ReasonPayload{Reason: "removed by host"}))
		if r.state == StateInProgress {
			r.out.Disconnect(target, "kicked")
		}
		r.removeMember(target, "kicked")
		return nil
	})
}

// Terminate closes the room at the host's request.
func (r *Room) Terminate(ctx context.Context, playerID string) error {
	return r.exec(ctx, func() error {
		if r.member(playerID) == nil {
			return ErrNotMember
		}
		if playerID != r.hostID {
			return ErrNotHost
		}
		r.teardown("closed by host")
		return nil
	})
}

// Snapshot returns the room as seen by viewer.
func (r *Room) Snapshot(ctx context.Context, viewer string) (events.Snapshot, error) {
	var snap events.Snapshot
	err := r.exec(ctx, func() error {
		snap = r.snapshot(viewer)
		return nil
	})
	return snap, err
}

// Close shuts the room down, telling any members why.
func (r *Room) Close(ctx context.Context, reason string) error {
	err := r.exec(ctx, func() error {
		r.teardown(reason)
		return nil
	})
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

func (r *Room) teardown(reason string) {
	if r.state == StateClosed {
		return
	}
	r.cancelTimers()
	for _, m := range r.members {
		r.disarmIdle(m)
	}
	r.out.Room(r.memberIDs(), events.New(events.RoomClosed, events.ReasonPayload{Reason: reason}))
	if r.raceID != "" && r.state == StateInProgress {
		r.journal.raceFinished(r.raceID, time.Now())
	}
	r.setState(StateClosed)
	r.log.Info().Str("reason", reason).Msg("room closed")
	if r.hooks.closed != nil {
		r.hooks.closed(r)
	}
}

func (r *Room) addResult(res RaceResult) {
	r.results = append(r.results, res)
	sort.SliceStable(r.results, func(i, j int) bool {
		return r.results[i].CompletionTime < r.results[j].CompletionTime
	})
}

func (r *Room) hasResult(playerID string) bool {
	for _, res := range r.results {
		if res.PlayerID == playerID {
			return true
		}
	}
	return false
}
