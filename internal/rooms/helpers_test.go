package rooms

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"typerace/internal/events"
	"typerace/internal/targets"
)

const testText = "the quick brown fox jumps"

type fakeSink struct {
	mu      sync.Mutex
	sent    map[string][]events.Event
	dropped []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{sent: make(map[string][]events.Event)}
}

func (s *fakeSink) Notify(id string, ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[id] = append(s.sent[id], ev)
}

func (s *fakeSink) Disconnect(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = append(s.dropped, id)
}

func (s *fakeSink) of(id, typ string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.sent[id] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeSink) last(id, typ string) (events.Event, bool) {
	evs := s.of(id, typ)
	if len(evs) == 0 {
		return events.Event{}, false
	}
	return evs[len(evs)-1], true
}

func (s *fakeSink) wasDropped(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dropped {
		if d == id {
			return true
		}
	}
	return false
}

// fakeSource serves testText for snippet mode and repeated "word" tokens for
// timed mode. Category "none" matches nothing.
type fakeSource struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSource) Target(req targets.Request) (targets.Snippet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if req.Filter.Category == "none" {
		return targets.Snippet{}, targets.ErrNoMatch
	}
	if req.Mode == targets.ModeTimed {
		return targets.Snippet{ID: "timed-15", Text: words(20), Timed: true}, nil
	}
	return targets.Snippet{ID: "s1", Text: testText}, nil
}

func (f *fakeSource) MoreWords(req targets.Request, count int) string {
	return " " + words(count)
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

type recordedResult struct {
	raceID string
	res    RaceResult
}

type fakeRecorder struct {
	mu       sync.Mutex
	races    []RaceRecord
	results  []recordedResult
	finished []string
}

func (f *fakeRecorder) RaceStarted(ctx context.Context, race RaceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.races = append(f.races, race)
	return nil
}

func (f *fakeRecorder) RecordResult(ctx context.Context, raceID, snippetID string, res RaceResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, recordedResult{raceID, res})
	return nil
}

func (f *fakeRecorder) RaceFinished(ctx context.Context, raceID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, raceID)
	return nil
}

func (f *fakeRecorder) counts() (races, results, finished int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.races), len(f.results), len(f.finished)
}

// testConfig runs countdowns in milliseconds. Inactivity is off unless a
// test turns it on.
func testConfig() Config {
	return Config{
		MaxMembers:      4,
		CountdownSecs:   3,
		TickInterval:    5 * time.Millisecond,
		ExtendWordCount: 10,
		MaxRaceDuration: time.Minute,
		RoomTTL:         time.Hour,
		SweepInterval:   time.Hour,
		RecordTimeout:   time.Second,
		TimedDurations:  DefaultConfig().TimedDurations,
	}
}

type harness struct {
	store *Store
	sink  *fakeSink
	src   *fakeSource
	rec   *fakeRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sink: newFakeSink(),
		src:  &fakeSource{},
		rec:  &fakeRecorder{},
	}
	h.store = NewStore(cfg, h.src, h.sink, h.rec)
	t.Cleanup(func() { h.store.Shutdown(context.Background()) })
	return h
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) room(t *testing.T, code string) *Room {
	t.Helper()
	r, err := h.store.Get(code)
	require.NoError(t, err)
	return r
}

func waitState(t *testing.T, r *Room, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return r.State() == want },
		time.Second, 2*time.Millisecond, "room never reached %s (at %s)", want, r.State())
}

func (h *harness) waitEvent(t *testing.T, id, typ string) events.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := h.sink.last(id, typ)
		return ok
	}, time.Second, 2*time.Millisecond, "%s never received %s", id, typ)
	ev, _ := h.sink.last(id, typ)
	return ev
}

func input(s string) *string {
	return &s
}

// publicRace puts two players in a public room and waits for the race.
func (h *harness) publicRace(t *testing.T) *Room {
	t.Helper()
	ctx := ctxT(t)
	snap, err := h.store.JoinPublic(ctx, "p1", "")
	require.NoError(t, err)
	_, err = h.store.JoinPublic(ctx, "p2", "")
	require.NoError(t, err)
	r := h.room(t, snap.Code)
	require.NoError(t, r.SetReady(ctx, "p1", true))
	require.NoError(t, r.SetReady(ctx, "p2", true))
	waitState(t, r, StateInProgress)
	return r
}
