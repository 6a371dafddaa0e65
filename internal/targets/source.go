package targets

import "time"

// Mode selects between fixed passages and open-ended timed text.
type Mode string

const (
	ModeSnippet Mode = "snippet"
	ModeTimed   Mode = "timed"
)

// Request describes the text a room needs.
type Request struct {
	Mode         Mode
	Duration     time.Duration
	WordPoolSize int
	Filter       Filter
}

// Source hands out target texts from a snippet library and a word generator.
type Source struct {
	Library   *Library
	Generator *Generator
}

// NewSource wires a library and generator together.
func NewSource(lib *Library, gen *Generator) *Source {
	return &Source{Library: lib, Generator: gen}
}

// Target returns a fresh text for req.
func (s *Source) Target(req Request) (Snippet, error) {
	if req.Mode == ModeTimed {
		return s.Generator.TimedSnippet(req.Duration, req.WordPoolSize), nil
	}
	return s.Library.Pick(req.Filter)
}

// MoreWords returns count additional words for a timed race, prefixed with the
// separating space.
func (s *Source) MoreWords(req Request, count int) string {
	text := s.Generator.Text(count, req.WordPoolSize)
	if text == "" {
		return ""
	}
	return " " + text
}
