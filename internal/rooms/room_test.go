package rooms

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typerace/internal/events"
	"typerace/internal/targets"
)

func findMember(snap events.Snapshot, id string) (events.Member, bool) {
	for _, m := range snap.Members {
		if m.ID == id {
			return m, true
		}
	}
	return events.Member{}, false
}

func TestRoom_HostLeavesPrivate(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "p1", DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.HostID)

	_, err = h.store.JoinPrivate(ctx, "p2", strings.ToLower(snap.Code), "")
	require.NoError(t, err)
	_, err = h.store.JoinPrivate(ctx, "p3", "", "p1")
	require.NoError(t, err)

	require.NoError(t, h.store.Leave(ctx, "p1", ""))

	ev := h.waitEvent(t, "p2", events.NewHost)
	assert.Equal(t, "p2", ev.Data.(events.HostPayload).HostID)
	ev = h.waitEvent(t, "p3", events.NewHost)
	assert.Equal(t, "p2", ev.Data.(events.HostPayload).HostID)

	r := h.room(t, snap.Code)
	now, err := r.Snapshot(ctx, "p2")
	require.NoError(t, err)
	host, ok := findMember(now, "p2")
	require.True(t, ok)
	assert.True(t, host.Host)
	assert.True(t, host.Ready, "a private host is implicitly ready")

	require.NoError(t, h.store.Leave(ctx, "p2", snap.Code))
	require.NoError(t, h.store.Leave(ctx, "p3", ""))

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("room did not close after the last member left")
	}
	_, err = h.store.Get(snap.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoom_LastMemberLeavingCloses(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "p1", DefaultSettings())
	require.NoError(t, err)
	r := h.room(t, snap.Code)

	require.NoError(t, r.Leave(ctx, "p1"))

	<-r.Done()
	assert.Equal(t, StateClosed, r.State())
	_, err = r.Snapshot(ctx, "p1")
	assert.ErrorIs(t, err, ErrRoomClosed)
	_, ok := h.store.RoomOf("p1")
	assert.False(t, ok)
}

func TestRoom_JoinRules(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMembers = 2
	h := newHarness(t, cfg)
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "p1", DefaultSettings())
	require.NoError(t, err)
	_, err = h.store.JoinPrivate(ctx, "p2", snap.Code, "")
	require.NoError(t, err)

	_, err = h.store.JoinPrivate(ctx, "p3", snap.Code, "")
	assert.ErrorIs(t, err, ErrRoomFull)

	_, err = h.store.JoinPrivate(ctx, "p3", "ZZZZZZ", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = h.store.JoinPrivate(ctx, "p3", "bad", "")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	r := h.room(t, snap.Code)
	require.NoError(t, r.SetReady(ctx, "p2", true))
	require.NoError(t, r.Start(ctx, "p1"))
	waitState(t, r, StateInProgress)

	require.NoError(t, h.store.Leave(ctx, "p2", ""))
	_, err = h.store.JoinPrivate(ctx, "p4", snap.Code, "")
	assert.ErrorIs(t, err, ErrRaceInProgress)
	assert.Equal(t, KindState, KindOf(err))
}

func TestRoom_JoinRejectedDuringCountdown(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	h := newHarness(t, cfg)
	ctx := ctxT(t)

	snap, err := h.store.JoinPublic(ctx, "p1", "")
	require.NoError(t, err)
	_, err = h.store.JoinPublic(ctx, "p2", "")
	require.NoError(t, err)
	r := h.room(t, snap.Code)
	require.NoError(t, r.SetReady(ctx, "p1", true))
	require.NoError(t, r.SetReady(ctx, "p2", true))
	waitState(t, r, StateCountdown)

	_, err = h.store.JoinPublic(ctx, "p3", snap.Code)
	assert.ErrorIs(t, err, ErrRaceInProgress)
	assert.Equal(t, 2, r.MemberCount())
	assert.Equal(t, StateCountdown, r.State(), "countdown carries on without the latecomer")

	other, err := h.store.JoinPublic(ctx, "p3", "")
	require.NoError(t, err)
	assert.NotEqual(t, snap.Code, other.Code, "matchmaking opens a fresh room instead")

	// Members already in the room can still reattach.
	rejoined, err := h.store.Rejoin(ctx, "p2", snap.Code)
	require.NoError(t, err)
	assert.Equal(t, string(StateCountdown), rejoined.State)
}

func TestRoom_DisconnectMidRaceKeepsMember(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := ctxT(t)
	r := h.publicRace(t)

	require.NoError(t, r.SubmitProgress(ctx, "p2", ProgressInput{Input: input("the quick")}))
	h.store.Disconnect(ctx, "p2")

	snap, err := r.Snapshot(ctx, "p1")
	require.NoError(t, err)
	p2, ok := findMember(snap, "p2")
	require.True(t, ok, "disconnected racer must stay listed")
	assert.False(t, p2.Connected)
	assert.Equal(t, 36, p2.Progress)

	ev, ok := h.sink.last("p1", events.MembersChanged)
	require.True(t, ok)
	listed, ok := findMember(events.Snapshot{Members: ev.Data.(events.MembersPayload).Members}, "p2")
	require.True(t, ok)
	assert.False(t, listed.Connected)

	// Reconnecting returns the running race rather than restarting it.
	rejoined, err := h.store.Rejoin(ctx, "p2", r.Code)
	require.NoError(t, err)
	assert.Equal(t, string(StateInProgress), rejoined.State)
	require.NotNil(t, rejoined.StartedAt)
	assert.Equal(t, testText, rejoined.TargetText)
	p2, _ = findMember(rejoined, "p2")
	assert.True(t, p2.Connected)
	assert.Equal(t, 36, p2.Progress)

	// A disconnected member does not hold the race open, and is dropped
	// once it ends.
	h.store.Disconnect(ctx, "p2")
	require.NoError(t, r.SubmitProgress(ctx, "p1", ProgressInput{Input: input(testText)}))
	waitState(t, r, StateCompleted)
	assert.Equal(t, 1, r.MemberCount())
}

func TestRoom_DisconnectWhileWaitingRemoves(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := ctxT(t)

	snap, err := h.store.JoinPublic(ctx, "p1", "")
	require.NoError(t, err)
	_, err = h.store.JoinPublic(ctx, "p2", "")
	require.NoError(t, err)

	h.store.Disconnect(ctx, "p2")

	r := h.room(t, snap.Code)
	assert.Equal(t, 1, r.MemberCount())
	ev := h.waitEvent(t, "p1", events.MemberLeft)
	assert.Equal(t, events.MemberLeftPayload{MemberID: "p2", Reason: "disconnected"}, ev.Data)
}

func TestRoom_KickBeatsRejoin(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "host", DefaultSettings())
	require.NoError(t, err)
	_, err = h.store.JoinPrivate(ctx, "p2", snap.Code, "")
	require.NoError(t, err)
	r := h.room(t, snap.Code)

	assert.ErrorIs(t, r.Kick(ctx, "p2", "host"), ErrNotHost)
	assert.ErrorIs(t, r.Kick(ctx, "host", "host"), ErrInvalidPayload)
	require.NoError(t, r.Kick(ctx, "host", "p2"))

	h.waitEvent(t, "p2", events.Kicked)
	assert.False(t, h.sink.wasDropped("p2"), "kick from the lobby keeps the connection")

	_, err = h.store.Rejoin(ctx, "p2", snap.Code)
	assert.ErrorIs(t, err, ErrKicked)
	assert.Equal(t, 1, r.MemberCount())
}

func TestRoom_KickDuringRaceKeepsResults(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "host", DefaultSettings())
	require.NoError(t, err)
	for _, id := range []string{"p2", "p3"} {
		_, err = h.store.JoinPrivate(ctx, id, snap.Code, "")
		require.NoError(t, err)
	}
	r := h.room(t, snap.Code)
	require.NoError(t, r.SetReady(ctx, "p2", true))
	require.NoError(t, r.SetReady(ctx, "p3", true))
	require.NoError(t, r.Start(ctx, "host"))
	h.waitEvent(t, "p2", events.RaceStarted)

	require.NoError(t, r.SubmitProgress(ctx, "p2", ProgressInput{Input: input(testText)}))
	require.NoError(t, r.Kick(ctx, "host", "p2"))

	assert.True(t, h.sink.wasDropped("p2"), "a kicked racer is forced off")
	now, err := r.Snapshot(ctx, "host")
	require.NoError(t, err)
	_, listed := findMember(now, "p2")
	assert.False(t, listed)
	require.Len(t, now.Results, 1)
	assert.Equal(t, "p2", now.Results[0].PlayerID)
	assert.Equal(t, string(StateInProgress), now.State)
}

func TestRoom_UpdateSettings(t *testing.T) {
	cfg := testConfig()
	cfg.CountdownSecs = 100
	cfg.TickInterval = time.Second
	h := newHarness(t, cfg)
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "host", DefaultSettings())
	require.NoError(t, err)
	_, err = h.store.JoinPrivate(ctx, "p2", snap.Code, "")
	require.NoError(t, err)
	r := h.room(t, snap.Code)

	timed := Settings{Mode: "timed", Duration: 30 * time.Second}
	assert.ErrorIs(t, r.UpdateSettings(ctx, "p2", timed), ErrNotHost)
	assert.ErrorIs(t, r.UpdateSettings(ctx, "host", Settings{Mode: "timed", Duration: 7 * time.Second}), ErrInvalidPayload)

	require.NoError(t, r.UpdateSettings(ctx, "host", timed))
	ev := h.waitEvent(t, "p2", events.SettingsChanged)
	changed := ev.Data.(events.Snapshot)
	assert.Equal(t, "timed", changed.Settings.Mode)
	assert.Equal(t, 30, changed.Settings.Duration)
	assert.Equal(t, words(20), changed.TargetText)

	err = r.UpdateSettings(ctx, "host", Settings{Mode: "snippet", Filter: targets.Filter{Category: "none"}})
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Equal(t, KindContent, KindOf(err))
	h.waitEvent(t, "host", events.ContentError)
	still, err := r.Snapshot(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "timed", still.Settings.Mode, "failed update leaves settings alone")

	require.NoError(t, r.SetReady(ctx, "p2", true))
	require.NoError(t, r.Start(ctx, "host"))
	assert.ErrorIs(t, r.UpdateSettings(ctx, "host", DefaultSettings()), ErrSettingsLocked)
}

func TestRoom_TerminateByHost(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "host", DefaultSettings())
	require.NoError(t, err)
	_, err = h.store.JoinPrivate(ctx, "p2", snap.Code, "")
	require.NoError(t, err)
	r := h.room(t, snap.Code)

	assert.ErrorIs(t, r.Terminate(ctx, "p2"), ErrNotHost)
	require.NoError(t, r.Terminate(ctx, "host"))

	ev := h.waitEvent(t, "p2", events.RoomClosed)
	assert.Equal(t, "closed by host", ev.Data.(events.ReasonPayload).Reason)
	<-r.Done()
	_, ok := h.store.RoomOf("p2")
	assert.False(t, ok)
}

func TestRoom_Inactivity(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityWarn = 20 * time.Millisecond
	cfg.InactivityKick = 60 * time.Millisecond
	h := newHarness(t, cfg)
	ctx := ctxT(t)

	snap, err := h.store.JoinPublic(ctx, "ready", "")
	require.NoError(t, err)
	r := h.room(t, snap.Code)
	require.NoError(t, r.SetReady(ctx, "ready", true))
	_, err = h.store.JoinPublic(ctx, "idle", "")
	require.NoError(t, err)

	h.waitEvent(t, "idle", events.InactivityWarning)
	h.waitEvent(t, "idle", events.InactivityKicked)
	require.Eventually(t, func() bool { return r.MemberCount() == 1 }, time.Second, 2*time.Millisecond)

	assert.Empty(t, h.sink.of("ready", events.InactivityWarning), "ready members are never targeted")
	ev := h.waitEvent(t, "ready", events.MemberLeft)
	assert.Equal(t, "inactivity", ev.Data.(events.MemberLeftPayload).Reason)
}

func TestRoom_InactivityCancelledByReady(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityWarn = 30 * time.Millisecond
	cfg.InactivityKick = 60 * time.Millisecond
	h := newHarness(t, cfg)
	ctx := ctxT(t)

	snap, err := h.store.CreatePrivate(ctx, "host", DefaultSettings())
	require.NoError(t, err)
	_, err = h.store.JoinPrivate(ctx, "p2", snap.Code, "")
	require.NoError(t, err)
	r := h.room(t, snap.Code)
	require.NoError(t, r.SetReady(ctx, "p2", true))

	time.Sleep(120 * time.Millisecond)

	assert.Empty(t, h.sink.of("p2", events.InactivityWarning))
	assert.Empty(t, h.sink.of("p2", events.InactivityKicked))
	assert.Equal(t, 2, r.MemberCount())
	assert.Empty(t, h.sink.of("host", events.InactivityWarning), "the host is implicitly ready")
}

func TestRoom_AloneIsNotIdle(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityWarn = 10 * time.Millisecond
	cfg.InactivityKick = 20 * time.Millisecond
	h := newHarness(t, cfg)
	ctx := ctxT(t)

	snap, err := h.store.JoinPublic(ctx, "p1", "")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, h.room(t, snap.Code).MemberCount())
	assert.Empty(t, h.sink.of("p1", events.InactivityKicked))
}
