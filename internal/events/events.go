// Package events defines the messages the server pushes to clients.
package events

import (
	"encoding/json"
	"time"
)

const (
	Joined            = "joined"
	MembersChanged    = "members-changed"
	SettingsChanged   = "settings-changed"
	CountdownTick     = "countdown-tick"
	RaceStarted       = "race-started"
	MemberProgress    = "member-progress"
	ResultsChanged    = "results-changed"
	RaceEnded         = "race-ended"
	RaceReset         = "race-reset"
	MemberLeft        = "member-left"
	NewHost           = "new-host"
	Kicked            = "kicked"
	RoomClosed        = "room-closed"
	InactivityWarning = "inactivity-warning"
	InactivityKicked  = "inactivity-kicked"
	BufferExtended    = "buffer-extended"
	ForcedDisconnect  = "forced-disconnect"
	ContentError      = "content-error"
	OK                = "ok"
	Error             = "error"
)

// Event is one server-to-client message. ReplyTo carries the id of the
// request it answers, if any.
type Event struct {
	Type    string `json:"t"`
	ReplyTo string `json:"re,omitempty"`
	Data    any    `json:"d,omitempty"`
}

// New builds an unsolicited event.
func New(typ string, data any) Event {
	return Event{Type: typ, Data: data}
}

// Reply builds an event answering request id.
func Reply(id, typ string, data any) Event {
	return Event{Type: typ, ReplyTo: id, Data: data}
}

// Encode marshals the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

type Member struct {
	ID        string  `json:"id"`
	Ready     bool    `json:"ready"`
	Connected bool    `json:"connected"`
	Host      bool    `json:"host,omitempty"`
	Progress  int     `json:"progress"`
	Finished  bool    `json:"finished"`
	WPM       float64 `json:"wpm,omitempty"`
}

type Result struct {
	PlayerID       string  `json:"playerId"`
	WPM            float64 `json:"wpm"`
	Accuracy       float64 `json:"accuracy"`
	CompletionTime float64 `json:"completionTime"`
}

type Settings struct {
	Mode         string `json:"mode"`
	Duration     int    `json:"duration,omitempty"`
	WordPoolSize int    `json:"wordPoolSize,omitempty"`
	Difficulty   int    `json:"difficulty,omitempty"`
	Category     string `json:"category,omitempty"`
}

// Snapshot is the full view of a room sent on join, rejoin and settings change.
type Snapshot struct {
	Code             string     `json:"code"`
	Kind             string     `json:"kind"`
	State            string     `json:"state"`
	HostID           string     `json:"hostId"`
	SnippetID        string     `json:"snippetId"`
	TargetText       string     `json:"targetText"`
	Settings         Settings   `json:"settings"`
	Members          []Member   `json:"members"`
	Results          []Result   `json:"results"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	SecondsRemaining int        `json:"secondsRemaining,omitempty"`
	Session          string     `json:"session,omitempty"`
}

type MembersPayload struct {
	Members []Member `json:"members"`
}

type TickPayload struct {
	SecondsRemaining int `json:"secondsRemaining"`
}

type StartedPayload struct {
	StartedAt time.Time `json:"startedAt"`
}

type ProgressPayload struct {
	MemberID   string `json:"memberId"`
	Percentage int    `json:"percentage"`
	Completed  bool   `json:"completed"`
}

type ResultsPayload struct {
	Results []Result `json:"results"`
}

type MemberLeftPayload struct {
	MemberID string `json:"memberId"`
	Reason   string `json:"reason"`
}

type HostPayload struct {
	HostID string `json:"hostId"`
}

type ReasonPayload struct {
	Reason string `json:"reason"`
}

type MessagePayload struct {
	Message string `json:"message"`
}

type BufferPayload struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type ErrorPayload struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
