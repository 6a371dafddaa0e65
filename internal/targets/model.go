package targets

// Snippet is one passage a race can be run against.
type Snippet struct {
	ID         string `yaml:"id" json:"id"`
	Text       string `yaml:"text" json:"text"`
	Source     string `yaml:"source" json:"source,omitempty"`
	Category   string `yaml:"category" json:"category,omitempty"`
	Difficulty int    `yaml:"difficulty" json:"difficulty,omitempty"`
	Timed      bool   `yaml:"-" json:"timed,omitempty"`
}

// Filter narrows the snippets Pick may return. Zero values match anything.
type Filter struct {
	Difficulty int
	Category   string
}

func (f Filter) matches(s Snippet) bool {
	if f.Difficulty != 0 && s.Difficulty != f.Difficulty {
		return false
	}
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	return true
}
