package db

import (
	"context"
	"fmt"
	"time"

	"typerace/internal/rooms"
)

var _ rooms.Recorder = (*DB)(nil)

func (d *DB) RaceStarted(ctx context.Context, race rooms.RaceRecord) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO races (id, code, kind, snippet_id, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, race.ID, race.Code, string(race.Kind), race.SnippetID, race.StartedAt)
	if err != nil {
		return fmt.Errorf("creating race: %w", err)
	}
	return nil
}

// RecordResult stores a player's result. A player has one result per race;
// a repeat overwrites it.
func (d *DB) RecordResult(ctx context.Context, raceID, snippetID string, res rooms.RaceResult) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO race_results (race_id, player_id, snippet_id, wpm, accuracy, completion_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (race_id, player_id) DO UPDATE
		SET wpm = $4, accuracy = $5, completion_time = $6
	`, raceID, res.PlayerID, snippetID, res.WPM, res.Accuracy, res.CompletionTime)
	if err != nil {
		return fmt.Errorf("recording result: %w", err)
	}
	return nil
}

func (d *DB) RaceFinished(ctx context.Context, raceID string, finishedAt time.Time) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE races SET finished_at = $2 WHERE id = $1
	`, raceID, finishedAt)
	if err != nil {
		return fmt.Errorf("finishing race: %w", err)
	}
	return nil
}

// ResultsForRace returns a race's results, fastest first.
func (d *DB) ResultsForRace(ctx context.Context, raceID string) ([]rooms.RaceResult, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT player_id, wpm, accuracy, completion_time
		FROM race_results
		WHERE race_id = $1
		ORDER BY completion_time ASC, created_at ASC
	`, raceID)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []rooms.RaceResult
	for rows.Next() {
		var r rooms.RaceResult
		if err := rows.Scan(&r.PlayerID, &r.WPM, &r.Accuracy, &r.CompletionTime); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RaceFinishedAt reports when a race ended; ok is false while it is running.
func (d *DB) RaceFinishedAt(ctx context.Context, raceID string) (at time.Time, ok bool, err error) {
	var finished *time.Time
	err = d.conn.QueryRowContext(ctx, `SELECT finished_at FROM races WHERE id = $1`, raceID).Scan(&finished)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying race: %w", err)
	}
	if finished == nil {
		return time.Time{}, false, nil
	}
	return *finished, true, nil
}
