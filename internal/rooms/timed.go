package rooms

import (
	"context"
	"unicode/utf8"

	"typerace/internal/events"
	"typerace/internal/metrics"
)

const (
	// extendAt is the share of a member's text that must be consumed before
	// more words are appended.
	extendAt       = 0.75
	maxExtendWords = 200
)

// ExtendBuffer appends words to a member's text in a timed race if they have
// crossed the extension threshold. Requests below it are no-ops.
func (r *Room) ExtendBuffer(ctx context.Context, playerID string, wordCount int) error {
	return r.exec(ctx, func() error {
		m := r.member(playerID)
		if m == nil {
			return ErrNotMember
		}
		if !r.settings.Timed() {
			return ErrNotTimed
		}
		if r.state != StateInProgress {
			return ErrRaceNotRunning
		}
		r.maybeExtend(m, wordCount)
		return nil
	})
}

// maybeExtend grows m.Text once per threshold crossing. Each extension moves
// the threshold past the member's current position.
func (r *Room) maybeExtend(m *Member, wordCount int) bool {
	total := utf8.RuneCountInString(m.Text)
	if float64(m.position) < extendAt*float64(total) {
		return false
	}
	n := min(max(wordCount, r.cfg.ExtendWordCount), maxExtendWords)
	more := r.src.MoreWords(r.settings.request(), n)
	if more == "" {
		return false
	}
	m.Text += more
	metrics.BufferExtensions.Inc()
	r.log.Debug().Str("player", m.ID).Int("words", n).Msg("extended timed text")
	r.out.To(m.ID, events.New(events.BufferExtended, events.BufferPayload{Code: r.Code, Text: m.Text}))
	return true
}
