package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"typerace/internal/rooms"
	"typerace/internal/wshub"
)

const (
	playerCookie   = "player_id"
	playerHeader   = "X-Player-ID"
	maxPlayerIDLen = 64
)

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Rooms   *rooms.Store
	Hub     *wshub.Hub
	DB      Pinger // nil if no database configured
	Origins []string
	Timeout time.Duration

	log zerolog.Logger
}

func (s *Server) init() {
	s.log = log.With().Str("component", "server").Logger()
	if s.Timeout <= 0 {
		s.Timeout = 5 * time.Second
	}
}

// identify returns the caller's player id: the X-Player-ID header, then the
// player_id cookie, then a fresh guest id which is set as the cookie.
func (s *Server) identify(w http.ResponseWriter, r *http.Request) string {
	if id := cleanPlayerID(r.Header.Get(playerHeader)); id != "" {
		return id
	}
	if c, err := r.Cookie(playerCookie); err == nil {
		if id := cleanPlayerID(c.Value); id != "" {
			return id
		}
	}
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     playerCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func cleanPlayerID(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxPlayerIDLen {
		return ""
	}
	return v
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	playerID := s.identify(w, r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.Origins})
	if err != nil {
		s.log.Warn().Err(err).Str("player", playerID).Msg("websocket accept")
		return
	}

	c := wshub.NewClient(playerID, conn)
	s.Hub.Register(c)
	s.log.Info().Str("player", playerID).Msg("connected")

	ctx, cancel := context.WithCancel(r.Context())
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.WritePump(ctx)
		cancel()
	}()

	err = c.ReadPump(ctx, func(env wshub.Envelope) {
		s.dispatch(ctx, c, env)
	})
	cancel()
	<-writeDone

	s.log.Info().Err(err).Str("player", playerID).Msg("disconnected")

	// A displaced connection leaves room state to its successor.
	if s.Hub.Unregister(c) {
		dctx, dcancel := context.WithTimeout(context.Background(), s.Timeout)
		s.Rooms.Disconnect(dctx, playerID)
		dcancel()
	}
	conn.CloseNow()
}

type roomSummary struct {
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleListRooms lists public rooms so a client can pick one to join.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	out := []roomSummary{}
	for _, room := range s.Rooms.List() {
		if room.Kind != rooms.KindPublic {
			continue
		}
		out = append(out, roomSummary{
			Code:      room.Code,
			Kind:      string(room.Kind),
			State:     string(room.State()),
			Members:   room.MemberCount(),
			CreatedAt: room.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.Rooms.Get(r.PathValue("code"))
	if err != nil || room.Kind == rooms.KindPractice {
		writeJSON(w, http.StatusNotFound, errorPayload(rooms.ErrRoomNotFound))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
	defer cancel()

	snap, err := room.Snapshot(ctx, "")
	if errors.Is(err, rooms.ErrRoomClosed) {
		writeJSON(w, http.StatusNotFound, errorPayload(rooms.ErrRoomNotFound))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorPayload(err))
		return
	}
	// The passage is only for members.
	snap.TargetText = ""
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"rooms":       len(s.Rooms.List()),
		"connections": s.Hub.Count(),
	}
	if s.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.DB.Ping(ctx); err != nil {
			body["status"] = "db_error"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("writing response")
	}
}
