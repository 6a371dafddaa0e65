package server

import (
	"context"
	"errors"
	"fmt"

	"typerace/internal/events"
	"typerace/internal/rooms"
	"typerace/internal/session"
	"typerace/internal/wshub"
)

// dispatch runs one client request and replies to it. Requests from a
// connection are handled in arrival order.
func (s *Server) dispatch(ctx context.Context, c *wshub.Client, env wshub.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	snap, err := s.handle(ctx, c.PlayerID, env)
	switch {
	case err != nil:
		if errors.Is(err, rooms.ErrNoContent) && joins(env.Type) {
			s.Hub.Reply(c, events.New(events.ContentError, events.MessagePayload{Message: rooms.ErrNoContent.Message}))
		}
		s.log.Debug().Err(err).Str("player", c.PlayerID).Str("type", env.Type).Msg("request rejected")
		s.Hub.Reply(c, events.Reply(env.ID, events.Error, errorPayload(err)))
	case snap != nil:
		token, err := session.New(snap.Code, snap.Kind, c.PlayerID).Encode()
		if err != nil {
			s.log.Error().Err(err).Msg("encoding session")
		}
		snap.Session = token
		s.Hub.Reply(c, events.Reply(env.ID, events.Joined, snap))
	default:
		s.Hub.Reply(c, events.Reply(env.ID, events.OK, nil))
	}
}

func joins(typ string) bool {
	switch typ {
	case wshub.JoinPractice, wshub.JoinPublic, wshub.CreatePrivate, wshub.JoinPrivate, wshub.Resume:
		return true
	}
	return false
}

// handle maps a client event onto the room registry. Join-like events return
// the snapshot to send back.
func (s *Server) handle(ctx context.Context, playerID string, env wshub.Envelope) (*events.Snapshot, error) {
	joined := func(snap events.Snapshot, err error) (*events.Snapshot, error) {
		if err != nil {
			return nil, err
		}
		return &snap, nil
	}

	switch env.Type {
	case wshub.JoinPractice:
		var p wshub.SettingsPayload
		settings, err := decodeSettings(env, &p)
		if err != nil {
			return nil, err
		}
		return joined(s.Rooms.JoinPractice(ctx, playerID, settings))

	case wshub.JoinPublic:
		var p wshub.CodePayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		return joined(s.Rooms.JoinPublic(ctx, playerID, p.Code))

	case wshub.CreatePrivate:
		var p wshub.SettingsPayload
		settings, err := decodeSettings(env, &p)
		if err != nil {
			return nil, err
		}
		return joined(s.Rooms.CreatePrivate(ctx, playerID, settings))

	case wshub.JoinPrivate:
		var p wshub.JoinPrivatePayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		return joined(s.Rooms.JoinPrivate(ctx, playerID, p.Code, p.PlayerNetID))

	case wshub.Resume:
		var p wshub.ResumePayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		snap, err := session.Decode(p.Session)
		if err != nil {
			return nil, invalidf("%v", err)
		}
		if snap.PlayerID != playerID {
			return nil, invalidf("session belongs to another player")
		}
		return joined(s.Rooms.Rejoin(ctx, playerID, snap.Code))

	case wshub.SetReady:
		var p wshub.ReadyPayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		return nil, room.SetReady(ctx, playerID, p.IsReady())

	case wshub.SubmitProgress:
		var p wshub.ProgressPayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		return nil, room.SubmitProgress(ctx, playerID, rooms.ProgressInput{
			Position:  p.Position,
			Completed: p.IsCompleted,
			Input:     p.Input,
		})

	case wshub.SubmitResult:
		var p wshub.ResultPayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		return nil, room.SubmitResult(ctx, playerID, rooms.ResultInput{
			SnippetID:      p.SnippetID,
			WPM:            p.WPM,
			Accuracy:       p.Accuracy,
			CompletionTime: p.CompletionTime,
		})

	case wshub.RequestMoreWords:
		var p wshub.MoreWordsPayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		return nil, room.ExtendBuffer(ctx, playerID, p.WordCount)

	case wshub.KickMember:
		var p wshub.KickPayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		if p.TargetID == "" {
			return nil, invalidf("targetId is required")
		}
		return nil, room.Kick(ctx, playerID, p.TargetID)

	case wshub.UpdateSettings:
		var p wshub.UpdateSettingsPayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		settings, err := rooms.SettingsFromEvent(p.Settings.Settings())
		if err != nil {
			return nil, err
		}
		return nil, room.UpdateSettings(ctx, playerID, settings)

	case wshub.StartRace:
		var p wshub.CodePayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		return nil, room.Start(ctx, playerID)

	case wshub.PlayAgain:
		var p wshub.CodePayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		return nil, room.PlayAgain(ctx, playerID)

	case wshub.CloseRoom:
		var p wshub.CodePayload
		room, err := s.resolve(env, &p, playerID, func() string { return p.Code })
		if err != nil {
			return nil, err
		}
		return nil, room.Terminate(ctx, playerID)

	case wshub.LeaveRoom:
		var p wshub.CodePayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		return nil, s.Rooms.Leave(ctx, playerID, p.Code)

	case "":
		return nil, invalidf("malformed message")
	default:
		return nil, invalidf("unknown event %q", env.Type)
	}
}

func decode(env wshub.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return invalidf("bad %s payload: %v", env.Type, err)
	}
	return nil
}

func decodeSettings(env wshub.Envelope, p *wshub.SettingsPayload) (rooms.Settings, error) {
	if err := decode(env, p); err != nil {
		return rooms.Settings{}, err
	}
	return rooms.SettingsFromEvent(p.Settings())
}

// resolve decodes the payload into v and finds the room it addresses. code
// is read after decoding.
func (s *Server) resolve(env wshub.Envelope, v any, playerID string, code func() string) (*rooms.Room, error) {
	if err := decode(env, v); err != nil {
		return nil, err
	}
	return s.Rooms.Resolve(playerID, code())
}

func invalidf(format string, args ...any) error {
	return &rooms.Error{
		Kind:    rooms.KindValidation,
		Code:    rooms.ErrInvalidPayload.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

func errorPayload(err error) events.ErrorPayload {
	msg := err.Error()
	var re *rooms.Error
	if errors.As(err, &re) {
		msg = re.Message
	} else if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timed out"
	}
	return events.ErrorPayload{
		Kind:    string(rooms.KindOf(err)),
		Code:    rooms.CodeOf(err),
		Message: msg,
	}
}
