package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"typerace/internal/config"
	"typerace/internal/db"
	"typerace/internal/metrics"
	"typerace/internal/rooms"
	"typerace/internal/store"
	"typerace/internal/targets"
	"typerace/internal/wshub"
)

// Run serves until ctx is cancelled, then closes every room.
func Run(ctx context.Context, cfg config.Config) error {
	logger := log.With().Str("component", "server").Logger()

	lib := targets.DefaultLibrary()
	if cfg.SnippetsPath != "" {
		loaded, err := targets.LoadLibrary(cfg.SnippetsPath)
		if err != nil {
			return fmt.Errorf("loading snippets: %w", err)
		}
		lib = loaded
	}
	src := targets.NewSource(lib, targets.NewGenerator())
	logger.Info().Int("snippets", lib.Len()).Msg("snippet library loaded")

	rec, pinger, closeRec := openRecorder(ctx, cfg)
	defer closeRec()

	hub := wshub.NewHub()
	roomStore := rooms.NewStore(cfg.RoomsConfig(), src, hub, rec)

	srv := &Server{
		Rooms:   roomStore,
		Hub:     hub,
		DB:      pinger,
		Origins: cfg.AllowedOrigins,
		Timeout: cfg.RequestTimeout(),
	}

	httpSrv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msgf("listening on http://localhost:%s", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		roomStore.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	roomStore.Shutdown(shutdownCtx)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes returns the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	s.init()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /rooms", s.handleListRooms)
	mux.HandleFunc("GET /rooms/{code}", s.handleRoom)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// openRecorder picks Postgres, then SQLite, then nothing. A database that
// cannot be reached is logged and skipped.
func openRecorder(ctx context.Context, cfg config.Config) (rooms.Recorder, Pinger, func()) {
	logger := log.With().Str("component", "server").Logger()
	nop := func() {}

	switch {
	case cfg.DatabaseURL != "":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		database, err := db.Connect(connectCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect, running without database")
			return nil, nil, nop
		}
		if err := database.Migrate(connectCtx); err != nil {
			logger.Error().Err(err).Msg("migration failed")
		}
		return database, database, func() { database.Close() }
	case cfg.SQLitePath != "":
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.SQLitePath).Msg("failed to open sqlite, running without database")
			return nil, nil, nop
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("recording races to sqlite")
		return st, nil, func() { st.Close() }
	default:
		logger.Info().Msg("DATABASE_URL not set, running without database")
		return nil, nil, nop
	}
}
