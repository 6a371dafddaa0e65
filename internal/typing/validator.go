// Package typing validates a typist's input against a target passage and
// scores it.
//
// Positions are counted in runes, not bytes, so multi-byte characters in a
// passage count as a single keystroke.
package typing

import (
	"math"
	"time"
)

// CharsPerWord is the standard word length used for WPM.
const CharsPerWord = 5

// Session is the running state of one typist against one target text.
type Session struct {
	Input          string
	LockedPosition int
	Errors         int
	FirstError     int
	StartedAt      time.Time
}

// Progress is the outcome of applying one input edit.
type Progress struct {
	Session      Session
	Completed    bool
	CorrectChars int
	WPM          float64
	Accuracy     float64
}

// Reset returns an empty session timed from startedAt.
func Reset(startedAt time.Time) Session {
	return Session{StartedAt: startedAt}
}

// Apply validates raw against target, starting from prev.
//
// The locked prefix of prev.Input survives any edit: a caller that tries to
// delete into it gets the prefix back plus whatever it typed after it.
func Apply(prev Session, raw, target string, now time.Time) Progress {
	want := []rune(target)
	in := enforceLock(prev, []rune(raw))

	firstErr := firstMismatch(in, want)
	hasError := firstErr < len(in)

	errs := prev.Errors
	if hasError && isNewError(prev, want, firstErr) {
		errs++
	}

	correct := min(firstErr, len(in))

	locked := lockedPosition(in, firstErr)
	if locked < prev.LockedPosition {
		locked = prev.LockedPosition
	}

	next := Session{
		Input:          string(in),
		LockedPosition: locked,
		Errors:         errs,
		FirstError:     firstErr,
		StartedAt:      prev.StartedAt,
	}

	var wpm float64
	if !prev.StartedAt.IsZero() {
		wpm = WPM(correct, now.Sub(prev.StartedAt))
	}

	return Progress{
		Session:      next,
		Completed:    len(in) == len(want) && firstErr == len(want),
		CorrectChars: correct,
		WPM:          wpm,
		Accuracy:     Accuracy(correct, errs),
	}
}

// CorrectChars returns how many leading runes of s.Input match target.
func (s Session) CorrectChars(target string) int {
	in := []rune(s.Input)
	return min(firstMismatch(in, []rune(target)), len(in))
}

// Position is the rune length of the validated input.
func (s Session) Position() int {
	return len([]rune(s.Input))
}

func enforceLock(prev Session, in []rune) []rune {
	if prev.LockedPosition == 0 {
		return in
	}
	old := []rune(prev.Input)
	if prev.LockedPosition > len(old) {
		return in
	}
	preserved := old[:prev.LockedPosition]

	var rest []rune
	if len(in) >= len(preserved) {
		rest = in[len(preserved):]
	}
	out := make([]rune, 0, len(preserved)+len(rest))
	out = append(out, preserved...)
	return append(out, rest...)
}

// firstMismatch returns the first index where in and want disagree. Input
// running past the end of want disagrees at len(want).
func firstMismatch(in, want []rune) int {
	n := min(len(in), len(want))
	for i := 0; i < n; i++ {
		if in[i] != want[i] {
			return i
		}
	}
	return len(want)
}

// isNewError reports whether the divergence at firstErr was absent from the
// previous input. Retyping over an existing error is not a new error.
func isNewError(prev Session, want []rune, firstErr int) bool {
	old := []rune(prev.Input)
	if len(old) <= firstErr {
		return true
	}
	if firstErr >= len(want) {
		return false
	}
	return old[firstErr] == want[firstErr]
}

// lockedPosition is the index just past the last space that lies inside the
// verified prefix.
func lockedPosition(in []rune, firstErr int) int {
	end := min(firstErr, len(in))
	for i := end - 1; i >= 0; i-- {
		if in[i] == ' ' {
			return i + 1
		}
	}
	return 0
}

// WPM is words per minute for correct characters over elapsed time.
func WPM(correctChars int, elapsed time.Duration) float64 {
	minutes := elapsed.Minutes()
	if minutes <= 0 {
		return 0
	}
	return (float64(correctChars) / CharsPerWord) / minutes
}

// TimedWPM is the final rate of a duration-bounded race. It uses the
// configured duration rather than wall-clock time.
func TimedWPM(correctChars int, duration time.Duration) float64 {
	return WPM(correctChars, duration)
}

// Accuracy is correct/(correct+errors) as a percentage in [0,100]. With
// nothing typed and no errors it is 100.
func Accuracy(correctChars, errors int) float64 {
	den := correctChars + errors
	if den <= 0 {
		return 100
	}
	acc := float64(correctChars) / float64(den) * 100
	return math.Max(0, math.Min(100, acc))
}

// Percent is floor(pos/total*100) clamped to [0,100].
func Percent(pos, total int) int {
	if total <= 0 || pos <= 0 {
		return 0
	}
	if pos >= total {
		return 100
	}
	return pos * 100 / total
}
