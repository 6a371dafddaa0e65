package rooms

import (
	"time"

	"typerace/internal/events"
	"typerace/internal/targets"
	"typerace/internal/typing"
)

type Kind string

const (
	KindPractice Kind = "practice"
	KindPublic   Kind = "public"
	KindPrivate  Kind = "private"
)

type State string

const (
	StateWaiting    State = "waiting"
	StateCountdown  State = "countdown"
	StateInProgress State = "in-progress"
	StateCompleted  State = "completed"
	StateClosed     State = "closed"
)

// Config holds the timing and capacity knobs shared by all rooms.
type Config struct {
	MaxMembers       int
	CountdownSecs    int
	TickInterval     time.Duration
	InactivityWarn   time.Duration
	InactivityKick   time.Duration
	ExtendWordCount  int
	ProgressInterval time.Duration
	MaxRaceDuration  time.Duration
	RoomTTL          time.Duration
	SweepInterval    time.Duration
	RecordTimeout    time.Duration
	// TimedDurations lists the race lengths a timed room accepts. Empty
	// accepts any positive duration.
	TimedDurations []time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxMembers:       10,
		CountdownSecs:    5,
		TickInterval:     time.Second,
		InactivityWarn:   60 * time.Second,
		InactivityKick:   90 * time.Second,
		ExtendWordCount:  15,
		ProgressInterval: 100 * time.Millisecond,
		MaxRaceDuration:  10 * time.Minute,
		RoomTTL:          time.Hour,
		SweepInterval:    5 * time.Minute,
		RecordTimeout:    5 * time.Second,
		TimedDurations:   []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second},
	}
}

// checkSettings validates s and, for timed rooms, that its duration is one
// this server offers.
func (c Config) checkSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if !s.Timed() || len(c.TimedDurations) == 0 {
		return nil
	}
	for _, d := range c.TimedDurations {
		if d == s.Duration {
			return nil
		}
	}
	return invalid("unsupported timed duration %s", s.Duration)
}

// Settings are the host-controlled race parameters.
type Settings struct {
	Mode         targets.Mode
	Duration     time.Duration
	WordPoolSize int
	Filter       targets.Filter
}

func DefaultSettings() Settings {
	return Settings{Mode: targets.ModeSnippet}
}

// SettingsFromEvent converts wire settings, validating them.
func SettingsFromEvent(s events.Settings) (Settings, error) {
	out := Settings{
		Mode:         targets.Mode(s.Mode),
		Duration:     time.Duration(s.Duration) * time.Second,
		WordPoolSize: s.WordPoolSize,
		Filter:       targets.Filter{Difficulty: s.Difficulty, Category: s.Category},
	}
	if out.Mode == "" {
		out.Mode = targets.ModeSnippet
	}
	return out, out.Validate()
}

func (s Settings) Validate() error {
	switch s.Mode {
	case targets.ModeSnippet:
	case targets.ModeTimed:
		if s.Duration <= 0 {
			return invalid("timed races need a positive duration")
		}
	default:
		return invalid("unknown mode %q", s.Mode)
	}
	if s.WordPoolSize < 0 {
		return invalid("word pool size must not be negative")
	}
	if s.Filter.Difficulty < 0 {
		return invalid("difficulty must not be negative")
	}
	return nil
}

func (s Settings) Timed() bool {
	return s.Mode == targets.ModeTimed
}

func (s Settings) request() targets.Request {
	return targets.Request{
		Mode:         s.Mode,
		Duration:     s.Duration,
		WordPoolSize: s.WordPoolSize,
		Filter:       s.Filter,
	}
}

func (s Settings) event() events.Settings {
	return events.Settings{
		Mode:         string(s.Mode),
		Duration:     int(s.Duration / time.Second),
		WordPoolSize: s.WordPoolSize,
		Difficulty:   s.Filter.Difficulty,
		Category:     s.Filter.Category,
	}
}

// Member is one player's state inside a room.
type Member struct {
	ID        string
	Ready     bool
	Connected bool
	JoinedAt  time.Time

	Session    typing.Session
	Progress   int
	Finished   bool
	FinishedAt time.Time
	WPM        float64
	Accuracy   float64

	// Text is this member's copy of the target; timed races extend it
	// per member.
	Text      string
	position  int
	validated bool

	idle idleTimers
}

func (m *Member) resetRace(text string, startedAt time.Time) {
	m.Session = typing.Reset(startedAt)
	m.Progress = 0
	m.Finished = false
	m.FinishedAt = time.Time{}
	m.WPM = 0
	m.Accuracy = 0
	m.Text = text
	m.position = 0
	m.validated = false
}

// RaceResult is one member's final result. It is never modified once
// recorded.
type RaceResult struct {
	PlayerID       string
	WPM            float64
	Accuracy       float64
	CompletionTime float64 // seconds
}

func (r RaceResult) event() events.Result {
	return events.Result{
		PlayerID:       r.PlayerID,
		WPM:            r.WPM,
		Accuracy:       r.Accuracy,
		CompletionTime: r.CompletionTime,
	}
}
