// Package session encodes the token a client keeps to find its way back to
// a room after a reconnect.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the current snapshot schema.
const Version = 1

var ErrUnsupportedVersion = errors.New("unsupported session version")

// Snapshot is everything a client needs to resume: the room and who it was
// in that room.
type Snapshot struct {
	Version  int    `json:"v"`
	Code     string `json:"code"`
	Kind     string `json:"kind"`
	PlayerID string `json:"player"`
}

// New returns a current-version snapshot.
func New(code, kind, playerID string) Snapshot {
	return Snapshot{Version: Version, Code: code, Kind: kind, PlayerID: playerID}
}

// Encode returns the snapshot as an opaque URL-safe token.
func (s Snapshot) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding session: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a token produced by Encode.
func Decode(token string) (Snapshot, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decoding session: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decoding session: %w", err)
	}
	if s.Version != Version {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, s.Version)
	}
	if s.Code == "" || s.PlayerID == "" {
		return Snapshot{}, errors.New("decoding session: missing code or player")
	}
	return s, nil
}
