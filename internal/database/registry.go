package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Camera is one row of the camera registry.
type Camera struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Source   string     `json:"source"`
	Status   string     `json:"status"`
	LastTick uint64     `json:"last_tick"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Camera worker statuses recorded in the registry.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusStalled = "stalled"
	StatusStopped = "stopped"
)

// Registry persists camera configuration and worker status.
type Registry struct {
	db *DB
}

// NewRegistry creates a registry over an open database.
func NewRegistry(db *DB) *Registry {
	return &Registry{db: db}
}

// UpsertCamera inserts a camera or updates its source if the name already
// exists. Status is reset to idle either way, since registration happens at
// startup before any worker runs.
func (r *Registry) UpsertCamera(ctx context.Context, name, source string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cameras (name, source, status)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			source = excluded.source,
			status = excluded.status,
			updated_at = unixepoch()
	`, name, source, StatusIdle)
	if err != nil {
		return fmt.Errorf("failed to upsert camera %s: %w", name, err)
	}
	return nil
}

// SetStatus updates a camera's worker status.
func (r *Registry) SetStatus(ctx context.Context, name, status string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cameras SET status = ?, updated_at = unixepoch() WHERE name = ?
	`, status, name)
	if err != nil {
		return fmt.Errorf("failed to update status for camera %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("camera %s not registered", name)
	}
	return nil
}

// RecordProgress stores a worker's latest processed tick and activity time.
func (r *Registry) RecordProgress(ctx context.Context, name string, tick uint64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cameras
		SET last_tick = ?, last_seen = unixepoch(), updated_at = unixepoch()
		WHERE name = ?
	`, tick, name)
	if err != nil {
		return fmt.Errorf("failed to record progress for camera %s: %w", name, err)
	}
	return nil
}

// GetCamera returns one camera by name.
func (r *Registry) GetCamera(ctx context.Context, name string) (*Camera, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, source, status, last_tick, last_seen
		FROM cameras WHERE name = ?
	`, name)

	cam, err := scanCamera(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("camera %s not registered", name)
	}
	return cam, err
}

// ListCameras returns all registered cameras ordered by name.
func (r *Registry) ListCameras(ctx context.Context) ([]Camera, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, source, status, last_tick, last_seen
		FROM cameras ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []Camera
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, *cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera removes a camera no longer present in configuration.
func (r *Registry) DeleteCamera(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM cameras WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete camera %s: %w", name, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCamera(row rowScanner) (*Camera, error) {
	var cam Camera
	var lastSeen sql.NullInt64
	if err := row.Scan(&cam.ID, &cam.Name, &cam.Source, &cam.Status, &cam.LastTick, &lastSeen); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0)
		cam.LastSeen = &t
	}
	return &cam, nil
}
