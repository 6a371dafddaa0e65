package rooms

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"typerace/internal/events"
	"typerace/internal/metrics"
	"typerace/internal/typing"
)

// Client-reported rates above this are treated as tampering and clamped.
const maxWPM = 300

// ProgressInput is one progress report from a member. When Input is set the
// room validates the raw text itself and ignores Position and Completed.
type ProgressInput struct {
	Position  int
	Completed bool
	Input     *string
}

// ResultInput is a member's self-reported final result.
type ResultInput struct {
	SnippetID      string
	WPM            float64
	Accuracy       float64
	CompletionTime float64
}

// Start begins the countdown. Repeated starts while a race is under way are
// no-ops.
func (r *Room) Start(ctx context.Context, playerID string) error {
	return r.exec(ctx, func() error {
		if r.member(playerID) == nil {
			return ErrNotMember
		}
		switch r.state {
		case StateCountdown, StateInProgress:
			return nil
		case StateCompleted:
			return ErrRaceCompleted
		}
		if r.Kind == KindPractice {
			r.startRace()
			return nil
		}
		if playerID != r.hostID {
			return ErrNotHost
		}
		if len(r.members) < 2 {
			return ErrNotEnoughPlayers
		}
		if !r.allReady() {
			return ErrNotAllReady
		}
		r.beginCountdown()
		return nil
	})
}

func (r *Room) allReady() bool {
	for _, m := range r.members {
		if !m.Ready {
			return false
		}
	}
	return true
}

func (r *Room) maybeAutoStart() {
	if r.Kind != KindPublic || r.state != StateWaiting {
		return
	}
	if len(r.members) >= 2 && r.allReady() {
		r.beginCountdown()
	}
}

func (r *Room) beginCountdown() {
	r.cancelTimers()
	r.setState(StateCountdown)
	r.countdown = r.cfg.CountdownSecs
	r.syncIdle()
	r.countdownTick()
}

func (r *Room) countdownTick() {
	if r.countdown <= 0 {
		r.startRace()
		return
	}
	r.out.Room(r.memberIDs(), events.New(events.CountdownTick, events.TickPayload{SecondsRemaining: r.countdown}))
	r.after(r.cfg.TickInterval, func() {
		r.countdown--
		r.countdownTick()
	})
}

func (r *Room) abortCountdown(reason string) {
	r.cancelTimers()
	r.setState(StateWaiting)
	r.countdown = 0
	r.log.Info().Str("reason", reason).Msg("countdown aborted")
	r.sendSnapshots(events.RaceReset)
	r.syncIdle()
}

func (r *Room) sendSnapshots(typ string) {
	for _, m := range r.members {
		r.out.To(m.ID, events.New(typ, r.snapshot(m.ID)))
	}
}

func (r *Room) startRace() {
	r.cancelTimers()
	now := time.Now()
	r.setState(StateInProgress)
	r.startedAt = now
	r.raceID = uuid.NewString()
	r.results = nil
	r.countdown = 0
	r.out.ResetProgress()
	for _, m := range r.members {
		r.disarmIdle(m)
		m.resetRace(r.snippet.Text, now)
	}

	r.out.Room(r.memberIDs(), events.New(events.RaceStarted, events.StartedPayload{StartedAt: now}))
	r.journal.raceStarted(RaceRecord{
		ID:        r.raceID,
		Code:      r.Code,
		Kind:      r.Kind,
		SnippetID: r.snippet.ID,
		StartedAt: now,
	})
	metrics.RacesStarted.WithLabelValues(string(r.Kind)).Inc()

	if r.settings.Timed() {
		r.after(r.settings.Duration, func() { r.finishRace("time up") })
	}
	if r.cfg.MaxRaceDuration > 0 {
		r.after(r.cfg.MaxRaceDuration, func() { r.finishRace("time limit") })
	}
}

// SubmitProgress advances a member through the race. In a practice room the
// first report starts the race.
func (r *Room) SubmitProgress(ctx context.Context, playerID string, in ProgressInput) error {
	return r.exec(ctx, func() error {
		m := r.member(playerID)
		if m == nil {
			return ErrNotMember
		}
		if r.Kind == KindPractice && r.state == StateWaiting {
			r.startRace()
		}
		if r.state != StateInProgress {
			return ErrRaceNotRunning
		}
		if m.Finished {
			return nil
		}

		now := time.Now()
		timed := r.settings.Timed()
		var correct int
		var completed bool
		if in.Input != nil {
			p := typing.Apply(m.Session, *in.Input, m.Text, now)
			m.Session = p.Session
			m.position = p.Session.Position()
			m.validated = true
			m.WPM = p.WPM
			m.Accuracy = p.Accuracy
			correct = p.CorrectChars
			completed = p.Completed && !timed
		} else {
			total := utf8.RuneCountInString(m.Text)
			if in.Position < 0 || in.Position > total {
				return invalid("position %d outside [0,%d]", in.Position, total)
			}
			m.position = in.Position
			correct = in.Position
			completed = in.Completed && in.Position == total && !timed
		}

		if pct := r.percent(m, correct); pct > m.Progress {
			m.Progress = pct
		}
		if completed {
			m.Finished = true
			m.FinishedAt = now
			m.Progress = 100
		}
		_, wait := r.out.Progress(r.memberIDs(), events.ProgressPayload{
			MemberID:   m.ID,
			Percentage: m.Progress,
			Completed:  completed,
		})
		if wait > 0 {
			r.flushProgressAfter(m.ID, wait)
		}

		if timed {
			r.maybeExtend(m, r.cfg.ExtendWordCount)
		}
		if completed {
			if m.validated && r.storeResult(r.serverResult(m)) {
				r.broadcastResults()
			}
			r.checkCompletion()
		}
		return nil
	})
}

// flushProgressAfter sends a member's held progress once the throttle
// window ends. The timer is left out of r.timers; the epoch check drops it
// once the race ends.
func (r *Room) flushProgressAfter(playerID string, d time.Duration) {
	epoch := r.epoch
	time.AfterFunc(d, func() {
		r.post(func() {
			if r.epoch != epoch || r.state != StateInProgress {
				return
			}
			r.out.Flush(r.memberIDs(), playerID)
		})
	})
}

// percent is a member's completion share. Timed races measure against the
// shared opening text so extensions never pull the bar back.
func (r *Room) percent(m *Member, correct int) int {
	if r.settings.Timed() {
		return typing.Percent(correct, utf8.RuneCountInString(r.snippet.Text))
	}
	return typing.Percent(correct, utf8.RuneCountInString(m.Text))
}

// SubmitResult records a member's final result once per race. Values the
// room computed itself take precedence over the client's.
func (r *Room) SubmitResult(ctx context.Context, playerID string, in ResultInput) error {
	return r.exec(ctx, func() error {
		m := r.member(playerID)
		if m == nil {
			return ErrNotMember
		}
		if r.raceID == "" || (r.state != StateInProgress && r.state != StateCompleted) {
			return ErrRaceNotRunning
		}
		if in.SnippetID != "" && in.SnippetID != r.snippet.ID {
			return invalid("result is for snippet %q, room is racing %q", in.SnippetID, r.snippet.ID)
		}
		if r.hasResult(playerID) {
			return nil
		}
		if r.settings.Timed() {
			if r.state == StateInProgress && time.Since(r.startedAt) < r.settings.Duration {
				return ErrNotFinished
			}
		} else if !m.Finished {
			return ErrNotFinished
		}

		res := r.clientResult(m, in)
		if m.validated {
			res = r.serverResult(m)
		}
		if r.storeResult(res) {
			r.broadcastResults()
		}
		return nil
	})
}

func (r *Room) serverResult(m *Member) RaceResult {
	correct := m.Session.CorrectChars(m.Text)
	res := RaceResult{
		PlayerID: m.ID,
		Accuracy: typing.Accuracy(correct, m.Session.Errors),
	}
	if r.settings.Timed() {
		res.WPM = typing.TimedWPM(correct, r.settings.Duration)
		res.CompletionTime = r.settings.Duration.Seconds()
		return res
	}
	elapsed := m.FinishedAt.Sub(r.startedAt)
	res.WPM = typing.WPM(correct, elapsed)
	res.CompletionTime = elapsed.Seconds()
	return res
}

func (r *Room) clientResult(m *Member, in ResultInput) RaceResult {
	res := RaceResult{
		PlayerID: m.ID,
		Accuracy: clamp(in.Accuracy, 0, 100),
	}
	if r.settings.Timed() {
		res.WPM = clamp(in.WPM, 0, maxWPM)
		res.CompletionTime = r.settings.Duration.Seconds()
		return res
	}
	// A finished member typed the whole text correctly.
	elapsed := m.FinishedAt.Sub(r.startedAt)
	res.WPM = typing.WPM(utf8.RuneCountInString(m.Text), elapsed)
	res.CompletionTime = elapsed.Seconds()
	return res
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func (r *Room) storeResult(res RaceResult) bool {
	if r.hasResult(res.PlayerID) {
		return false
	}
	r.addResult(res)
	r.journal.result(r.raceID, r.snippet.ID, res)
	return true
}

func (r *Room) broadcastResults() {
	r.out.Room(r.memberIDs(), events.New(events.ResultsChanged, events.ResultsPayload{Results: r.resultList()}))
}

// checkCompletion ends the race once every connected member has finished.
// Disconnected members do not hold the race open.
func (r *Room) checkCompletion() {
	if r.state != StateInProgress {
		return
	}
	connected := 0
	for _, m := range r.members {
		if !m.Connected {
			continue
		}
		connected++
		if !m.Finished {
			return
		}
	}
	if connected == 0 {
		return
	}
	r.finishRace("all finished")
}

func (r *Room) finishRace(reason string) {
	if r.state != StateInProgress {
		return
	}
	r.cancelTimers()
	now := time.Now()
	r.setState(StateCompleted)
	r.log.Info().Str("reason", reason).Str("race", r.raceID).Msg("race finished")

	if r.settings.Timed() {
		changed := false
		for _, m := range r.members {
			if !m.Finished {
				m.Finished = true
				m.FinishedAt = now
			}
			if m.validated && r.storeResult(r.serverResult(m)) {
				changed = true
			}
		}
		if changed {
			r.broadcastResults()
		}
	}

	r.out.Room(r.memberIDs(), events.New(events.RaceEnded, nil))
	r.journal.raceFinished(r.raceID, now)
	metrics.RacesCompleted.WithLabelValues(string(r.Kind)).Inc()

	var gone []string
	for _, m := range r.members {
		if !m.Connected {
			gone = append(gone, m.ID)
		}
	}
	for _, id := range gone {
		r.removeMember(id, "disconnected")
	}
}

// PlayAgain returns a finished room to the lobby with fresh text.
func (r *Room) PlayAgain(ctx context.Context, playerID string) error {
	return r.exec(ctx, func() error {
		if r.member(playerID) == nil {
			return ErrNotMember
		}
		switch r.state {
		case StateWaiting:
			return nil
		case StateCountdown, StateInProgress:
			return ErrRaceInProgress
		}
		if r.Kind != KindPublic && playerID != r.hostID {
			return ErrNotHost
		}
		snippet, err := r.src.Target(r.settings.request())
		if err != nil {
			r.contentError(playerID)
			return ErrNoContent
		}

		r.snippet = snippet
		r.results = nil
		r.raceID = ""
		r.startedAt = time.Time{}
		r.out.ResetProgress()
		for _, m := range r.members {
			m.resetRace(snippet.Text, time.Time{})
			m.Ready = r.implicitlyReady(m.ID)
		}
		r.setState(StateWaiting)
		r.sendSnapshots(events.RaceReset)
		r.syncIdle()
		return nil
	})
}
