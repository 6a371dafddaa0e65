package wshub

import (
	"encoding/json"

	"typerace/internal/events"
)

// Client-to-server event types.
const (
	JoinPractice     = "join-practice"
	JoinPublic       = "join-public"
	CreatePrivate    = "create-private"
	JoinPrivate      = "join-private"
	SetReady         = "set-ready"
	SubmitProgress   = "submit-progress"
	SubmitResult     = "submit-result"
	RequestMoreWords = "request-more-words"
	KickMember       = "kick-member"
	UpdateSettings   = "update-settings"
	StartRace        = "start-race"
	LeaveRoom        = "leave-room"
	PlayAgain        = "play-again"
	CloseRoom        = "close-room"
	Resume           = "resume"
)

// Envelope is the JSON structure received from clients. ID correlates the
// reply.
type Envelope struct {
	Type string          `json:"t"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Decode unmarshals the payload into v. A missing payload leaves v zero.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

type Filters struct {
	Difficulty int    `json:"difficulty,omitempty"`
	Category   string `json:"category,omitempty"`
}

type SettingsPayload struct {
	Mode         string  `json:"mode"`
	Duration     int     `json:"duration,omitempty"`
	WordPoolSize int     `json:"wordPoolSize,omitempty"`
	Filters      Filters `json:"filters"`
}

// Settings converts to the wire settings shared with server events.
func (p SettingsPayload) Settings() events.Settings {
	return events.Settings{
		Mode:         p.Mode,
		Duration:     p.Duration,
		WordPoolSize: p.WordPoolSize,
		Difficulty:   p.Filters.Difficulty,
		Category:     p.Filters.Category,
	}
}

type CodePayload struct {
	Code string `json:"code,omitempty"`
}

type JoinPrivatePayload struct {
	Code        string `json:"code,omitempty"`
	PlayerNetID string `json:"playerNetId,omitempty"`
}

type ReadyPayload struct {
	Code  string `json:"code,omitempty"`
	Ready *bool  `json:"ready,omitempty"`
}

// IsReady defaults to true when the client omits the flag.
func (p ReadyPayload) IsReady() bool {
	return p.Ready == nil || *p.Ready
}

type ProgressPayload struct {
	Code        string  `json:"code,omitempty"`
	Position    int     `json:"position"`
	Total       int     `json:"total"`
	IsCompleted bool    `json:"isCompleted"`
	Input       *string `json:"input,omitempty"`
}

type ResultPayload struct {
	Code           string  `json:"code,omitempty"`
	SnippetID      string  `json:"snippetId"`
	WPM            float64 `json:"wpm"`
	Accuracy       float64 `json:"accuracy"`
	CompletionTime float64 `json:"completionTime"`
}

type MoreWordsPayload struct {
	Code      string `json:"code,omitempty"`
	WordCount int    `json:"wordCount"`
}

type KickPayload struct {
	Code     string `json:"code,omitempty"`
	TargetID string `json:"targetId"`
}

type UpdateSettingsPayload struct {
	Code     string          `json:"code,omitempty"`
	Settings SettingsPayload `json:"settings"`
}

type ResumePayload struct {
	Session string `json:"session"`
}
