package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetLease returns the current admin lease on a project, or nil.
func (s *Store) GetLease(ctx context.Context, projectID int64) (*Lease, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT project_id, admin, last_action FROM admin_leases WHERE project_id = ?`, projectID)
	var (
		lease   Lease
		whenRaw string
	)
	err := row.Scan(&lease.ProjectID, &lease.Admin, &whenRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lease: %w", err)
	}
	if when, err := parseTimeString(whenRaw); err == nil {
		lease.LastAction = when
	}
	return &lease, nil
}

// UpsertLease records that admin now holds the project lease with a fresh
// last-action timestamp.
func (s *Store) UpsertLease(ctx context.Context, projectID int64, admin string, when time.Time) error {
	if _, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO admin_leases (project_id, admin, last_action) VALUES (?, ?, ?)
         ON CONFLICT(project_id) DO UPDATE SET admin = excluded.admin, last_action = excluded.last_action`,
		projectID, admin, when.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert lease: %w", err)
	}
	return nil
}

// DeleteLease releases the project lease if admin currently holds it.
func (s *Store) DeleteLease(ctx context.Context, projectID int64, admin string) error {
	if _, err := s.execWithRetry(ensureContext(ctx),
		`DELETE FROM admin_leases WHERE project_id = ? AND admin = ?`, projectID, admin); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}
