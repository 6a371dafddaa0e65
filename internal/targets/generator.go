package targets

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// InitialTimedWords is the size of the first batch handed out for a timed race.
const InitialTimedWords = 25

// Generator produces randomized word runs for timed races.
type Generator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	words []string
}

// NewGenerator returns a Generator over the built-in common-word pool.
func NewGenerator() *Generator {
	return NewGeneratorWithWords(commonWords)
}

// NewGeneratorWithWords returns a Generator over a caller-supplied pool.
func NewGeneratorWithWords(words []string) *Generator {
	return &Generator{
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		words: words,
	}
}

// Words selects count words uniformly from the first poolSize words of the
// pool. A poolSize outside (0, len] uses the whole pool.
func (g *Generator) Words(count, poolSize int) []string {
	if count <= 0 {
		return nil
	}
	pool := g.words
	if poolSize > 0 && poolSize < len(pool) {
		pool = pool[:poolSize]
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make([]string, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, pool[g.rnd.Intn(len(pool))])
	}
	return result
}

// Text joins count words with single spaces.
func (g *Generator) Text(count, poolSize int) string {
	return strings.Join(g.Words(count, poolSize), " ")
}

// TimedSnippet returns the opening text of a timed race.
func (g *Generator) TimedSnippet(duration time.Duration, poolSize int) Snippet {
	return Snippet{
		ID:       fmt.Sprintf("timed-%d", int(duration.Seconds())),
		Text:     g.Text(InitialTimedWords, poolSize),
		Source:   "Timed Test",
		Category: "timed",
		Timed:    true,
	}
}
