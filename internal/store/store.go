// Package store records races and results in a local SQLite file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"typerace/internal/rooms"

	_ "modernc.org/sqlite" // SQLite driver.
)

var _ rooms.Recorder = (*Store)(nil)

// Store wraps SQLite access for race data.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS races (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			kind TEXT NOT NULL,
			snippet_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS race_results (
			race_id TEXT NOT NULL REFERENCES races(id) ON DELETE CASCADE,
			player_id TEXT NOT NULL,
			snippet_id TEXT NOT NULL,
			wpm REAL NOT NULL,
			accuracy REAL NOT NULL,
			completion_time REAL NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (race_id, player_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_races_code ON races(code);`,
		`CREATE INDEX IF NOT EXISTS idx_race_results_player ON race_results(player_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RaceStarted inserts the race row. Repeats are ignored.
func (s *Store) RaceStarted(ctx context.Context, race rooms.RaceRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO races (id, code, kind, snippet_id, started_at) VALUES (?, ?, ?, ?, ?)`,
		race.ID, race.Code, string(race.Kind), race.SnippetID, race.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RecordResult stores or replaces a player's result for a race.
func (s *Store) RecordResult(ctx context.Context, raceID, snippetID string, res rooms.RaceResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO race_results (race_id, player_id, snippet_id, wpm, accuracy, completion_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (race_id, player_id) DO UPDATE
		 SET wpm = excluded.wpm, accuracy = excluded.accuracy, completion_time = excluded.completion_time`,
		raceID, res.PlayerID, snippetID, res.WPM, res.Accuracy, res.CompletionTime,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RaceFinished stamps the race's end time.
func (s *Store) RaceFinished(ctx context.Context, raceID string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE races SET finished_at = ? WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano), raceID,
	)
	return err
}

// ResultsForRace returns a race's results, fastest first.
func (s *Store) ResultsForRace(ctx context.Context, raceID string) ([]rooms.RaceResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, wpm, accuracy, completion_time
		 FROM race_results
		 WHERE race_id = ?
		 ORDER BY completion_time ASC, created_at ASC`,
		raceID,
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []rooms.RaceResult
	for rows.Next() {
		var r rooms.RaceResult
		if err := rows.Scan(&r.PlayerID, &r.WPM, &r.Accuracy, &r.CompletionTime); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RaceFinishedAt reports when a race ended; ok is false while it is running.
func (s *Store) RaceFinishedAt(ctx context.Context, raceID string) (time.Time, bool, error) {
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT finished_at FROM races WHERE id = ?`, raceID).Scan(&finished)
	if err != nil {
		return time.Time{}, false, err
	}
	if !finished.Valid {
		return time.Time{}, false, nil
	}
	at, err := time.Parse(time.RFC3339Nano, finished.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
