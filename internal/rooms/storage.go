package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"typerace/internal/broadcast"
	"typerace/internal/events"
	"typerace/internal/metrics"
)

// Store is the registry of live rooms. It indexes rooms by code, practice
// rooms by owner and players by the room they are in. It never holds its
// lock while waiting on a room.
type Store struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	practice map[string]string
	players  map[string]string

	cfg     Config
	src     TargetSource
	sink    broadcast.Sink
	journal *journal
	log     zerolog.Logger
	stop    context.CancelFunc
}

// NewStore starts a registry. rec may be nil when nothing is persisted.
func NewStore(cfg Config, src TargetSource, sink broadcast.Sink, rec Recorder) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.With().Str("component", "rooms").Logger()
	s := &Store{
		rooms:    make(map[string]*Room),
		practice: make(map[string]string),
		players:  make(map[string]string),
		cfg:      cfg,
		src:      src,
		sink:     sink,
		journal:  newJournal(rec, cfg.RecordTimeout, logger),
		log:      logger,
		stop:     cancel,
	}
	go s.journal.run(ctx)
	go s.sweepStale(ctx)
	return s
}

// Shutdown closes every room and stops background work.
func (s *Store) Shutdown(ctx context.Context) {
	for _, r := range s.List() {
		if err := r.Close(ctx, "server shutting down"); err != nil {
			s.log.Warn().Err(err).Str("code", r.Code).Msg("closing room")
		}
	}
	s.stop()
}

// Create opens a new room. owner becomes the practice owner for practice
// rooms and is otherwise only used for logging.
func (s *Store) Create(kind Kind, owner string, settings Settings) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Try up to 10 times to generate a unique code
	for range 10 {
		code, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := s.rooms[code]; exists {
			continue
		}

		room, err := newRoom(code, kind, owner, settings, roomDeps{
			cfg:     s.cfg,
			src:     s.src,
			sink:    s.sink,
			journal: s.journal,
			hooks: hooks{
				memberRemoved: s.memberRemoved,
				closed:        s.roomClosed,
			},
			log: s.log,
		})
		if err != nil {
			return nil, err
		}
		s.rooms[code] = room
		if kind == KindPractice {
			s.practice[owner] = code
		}
		metrics.ActiveRooms.WithLabelValues(string(kind)).Inc()
		return room, nil
	}
	return nil, fmt.Errorf("failed to generate unique room code after 10 attempts")
}

// Get finds a room by code, case-insensitively.
func (s *Store) Get(code string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (s *Store) List() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// RoomOf returns the room playerID is currently in.
func (s *Store) RoomOf(playerID string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.players[playerID]
	if !ok {
		return nil, false
	}
	room, ok := s.rooms[code]
	return room, ok
}

// Resolve finds the room a request from playerID targets. code may be empty,
// meaning the player's current room.
func (s *Store) Resolve(playerID, code string) (*Room, error) {
	room, ok := s.RoomOf(playerID)
	if code == "" {
		if !ok {
			return nil, ErrNotMember
		}
		return room, nil
	}
	if !ValidCode(code) {
		return nil, invalid("malformed room code %q", code)
	}
	if ok && room.Code == NormalizeCode(code) {
		return room, nil
	}
	return s.Get(code)
}

// JoinPractice returns playerID's own practice room, creating it if needed.
func (s *Store) JoinPractice(ctx context.Context, playerID string, settings Settings) (events.Snapshot, error) {
	if err := s.cfg.checkSettings(settings); err != nil {
		return events.Snapshot{}, err
	}
	s.mu.Lock()
	code, ok := s.practice[playerID]
	room := s.rooms[code]
	s.mu.Unlock()

	if ok && room != nil {
		snap, err := s.join(ctx, playerID, room)
		if err == nil {
			if snap.State == string(StateWaiting) && snap.Settings != settings.event() {
				if err := room.UpdateSettings(ctx, playerID, settings); err != nil {
					return snap, err
				}
				return room.Snapshot(ctx, playerID)
			}
			return snap, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			return snap, err
		}
	}

	room, err := s.Create(KindPractice, playerID, settings)
	if err != nil {
		return events.Snapshot{}, err
	}
	return s.join(ctx, playerID, room)
}

// JoinPublic joins the public room named by code, the public room the
// player is already in, or the oldest waiting public room with space. A new
// room is opened when none fits.
func (s *Store) JoinPublic(ctx context.Context, playerID, code string) (events.Snapshot, error) {
	if code != "" {
		room, err := s.Resolve(playerID, code)
		if err != nil {
			return events.Snapshot{}, err
		}
		if room.Kind != KindPublic {
			return events.Snapshot{}, ErrRoomNotFound
		}
		return s.join(ctx, playerID, room)
	}

	if room, ok := s.RoomOf(playerID); ok && room.Kind == KindPublic && room.State() != StateCompleted {
		return s.join(ctx, playerID, room)
	}

	for _, room := range s.List() {
		if room.Kind != KindPublic || room.State() != StateWaiting || room.MemberCount() >= s.cfg.MaxMembers {
			continue
		}
		snap, err := s.join(ctx, playerID, room)
		if err == nil {
			return snap, nil
		}
		s.log.Debug().Err(err).Str("code", room.Code).Msg("public room rejected join, trying next")
	}

	room, err := s.Create(KindPublic, playerID, DefaultSettings())
	if err != nil {
		return events.Snapshot{}, err
	}
	return s.join(ctx, playerID, room)
}

// CreatePrivate opens an invite-only room hosted by playerID.
func (s *Store) CreatePrivate(ctx context.Context, playerID string, settings Settings) (events.Snapshot, error) {
	room, err := s.Create(KindPrivate, playerID, settings)
	if err != nil {
		return events.Snapshot{}, err
	}
	return s.join(ctx, playerID, room)
}

// JoinPrivate joins a private room by code, or the private room that
// friendID is in.
func (s *Store) JoinPrivate(ctx context.Context, playerID, code, friendID string) (events.Snapshot, error) {
	var room *Room
	switch {
	case code != "":
		if !ValidCode(code) {
			return events.Snapshot{}, invalid("malformed room code %q", code)
		}
		r, err := s.Get(code)
		if err != nil {
			return events.Snapshot{}, err
		}
		room = r
	case friendID != "":
		r, ok := s.RoomOf(friendID)
		if !ok {
			return events.Snapshot{}, ErrRoomNotFound
		}
		room = r
	default:
		return events.Snapshot{}, invalid("code or player id required")
	}
	if room.Kind != KindPrivate {
		return events.Snapshot{}, ErrRoomNotFound
	}
	return s.join(ctx, playerID, room)
}

// Rejoin reattaches playerID to a room after a reconnect. A running race is
// left running.
func (s *Store) Rejoin(ctx context.Context, playerID, code string) (events.Snapshot, error) {
	room, err := s.Get(code)
	if err != nil {
		return events.Snapshot{}, err
	}
	return s.join(ctx, playerID, room)
}

// Leave removes playerID from its room. code, if set, must name that room.
func (s *Store) Leave(ctx context.Context, playerID, code string) error {
	room, err := s.Resolve(playerID, code)
	if err != nil {
		return err
	}
	return room.Leave(ctx, playerID)
}

// Disconnect reports that playerID lost its connection.
func (s *Store) Disconnect(ctx context.Context, playerID string) {
	room, ok := s.RoomOf(playerID)
	if !ok {
		return
	}
	if err := room.Disconnect(ctx, playerID); err != nil && !errors.Is(err, ErrRoomClosed) {
		s.log.Warn().Err(err).Str("player", playerID).Str("code", room.Code).Msg("disconnect")
	}
}

// join adds playerID to room and then drops it from whatever room it was in
// before, so a player is only ever in one room.
func (s *Store) join(ctx context.Context, playerID string, room *Room) (events.Snapshot, error) {
	prev, hadPrev := s.RoomOf(playerID)

	snap, err := room.join(ctx, playerID)
	if err != nil {
		return snap, err
	}

	s.mu.Lock()
	s.players[playerID] = room.Code
	s.mu.Unlock()

	if hadPrev && prev != room {
		if err := prev.Leave(ctx, playerID); err != nil && !errors.Is(err, ErrNotMember) && !errors.Is(err, ErrRoomClosed) {
			s.log.Warn().Err(err).Str("code", prev.Code).Msg("leaving previous room")
		}
	}
	return snap, nil
}

// memberRemoved runs on the room goroutine.
func (s *Store) memberRemoved(r *Room, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.players[playerID] == r.Code {
		delete(s.players, playerID)
	}
}

// roomClosed runs on the room goroutine.
func (s *Store) roomClosed(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[r.Code] != r {
		return
	}
	delete(s.rooms, r.Code)
	if s.practice[r.owner] == r.Code {
		delete(s.practice, r.owner)
	}
	for id, code := range s.players {
		if code == r.Code {
			delete(s.players, id)
		}
	}
	metrics.ActiveRooms.WithLabelValues(string(r.Kind)).Dec()
}

func (s *Store) sweepStale(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.closeStale(ctx)
		}
	}
}

func (s *Store) closeStale(ctx context.Context) {
	if s.cfg.RoomTTL <= 0 {
		return
	}
	now := time.Now()
	for _, r := range s.List() {
		if now.Sub(r.LastActivity()) <= s.cfg.RoomTTL {
			continue
		}
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := r.Close(closeCtx, "expired"); err != nil {
			s.log.Warn().Err(err).Str("code", r.Code).Msg("closing stale room")
		}
		cancel()
	}
}
