package targets

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

//go:embed snippets.yaml
var defaultSnippets []byte

// ErrNoMatch is returned when no snippet satisfies a filter.
var ErrNoMatch = errors.New("no snippet matches the requested filters")

const recentSize = 8

// Library is the in-memory snippet corpus.
type Library struct {
	mu       sync.Mutex
	snippets []Snippet
	recent   *lru.Cache[string, struct{}]
	rnd      *rand.Rand
}

// NewLibrary builds a library from snippets. Snippets with empty text are dropped.
func NewLibrary(snippets []Snippet) (*Library, error) {
	kept := make([]Snippet, 0, len(snippets))
	for _, s := range snippets {
		s.Text = strings.TrimRight(s.Text, "\r\n")
		if s.Text == "" || s.ID == "" {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("snippet library is empty")
	}
	recent, err := lru.New[string, struct{}](recentSize)
	if err != nil {
		return nil, fmt.Errorf("creating recent cache: %w", err)
	}
	return &Library{
		snippets: kept,
		recent:   recent,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// ParseLibrary decodes a YAML list of snippets.
func ParseLibrary(data []byte) (*Library, error) {
	var snippets []Snippet
	if err := yaml.Unmarshal(data, &snippets); err != nil {
		return nil, fmt.Errorf("decoding snippets: %w", err)
	}
	return NewLibrary(snippets)
}

// LoadLibrary reads a YAML snippet file from path.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snippets: %w", err)
	}
	return ParseLibrary(data)
}

// DefaultLibrary returns the built-in corpus.
func DefaultLibrary() *Library {
	lib, err := ParseLibrary(defaultSnippets)
	if err != nil {
		panic(err)
	}
	return lib
}

// Len returns the number of snippets.
func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.snippets)
}

// Pick returns a random snippet matching f, preferring ones not served recently.
func (l *Library) Pick(f Filter) (Snippet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matches, fresh []Snippet
	for _, s := range l.snippets {
		if !f.matches(s) {
			continue
		}
		matches = append(matches, s)
		if !l.recent.Contains(s.ID) {
			fresh = append(fresh, s)
		}
	}
	if len(matches) == 0 {
		return Snippet{}, ErrNoMatch
	}
	pool := fresh
	if len(pool) == 0 {
		pool = matches
	}
	s := pool[l.rnd.Intn(len(pool))]
	l.recent.Add(s.ID, struct{}{})
	return s, nil
}
