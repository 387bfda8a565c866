package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RTIInternational/SMART-sub000/internal/services"
)

// CreateAssignment records that an annotator popped an item from a queue.
// A second outstanding assignment for the same (annotator, item) pair is a
// conflict.
func (s *Store) CreateAssignment(ctx context.Context, annotator string, itemID, queueID int64) (*Assignment, error) {
	res, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO assignments (annotator, item_id, queue_id, created_at) VALUES (?, ?, ?, ?)`,
		annotator, itemID, queueID, timestamp())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create assignment", fmt.Sprintf("item %d already assigned to %s", itemID, annotator), err)
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &Assignment{ID: id, Annotator: annotator, ItemID: itemID, QueueID: queueID}, nil
}

// AssignmentForItem returns the annotator's outstanding assignment for an
// item, or nil when none exists (the stale-assignment condition).
func (s *Store) AssignmentForItem(ctx context.Context, itemID int64, annotator string) (*Assignment, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, annotator, item_id, queue_id, created_at FROM assignments
         WHERE item_id = ? AND annotator = ?`, itemID, annotator)
	return scanAssignment(row)
}

func scanAssignment(row *sql.Row) (*Assignment, error) {
	var (
		a          Assignment
		createdRaw string
	)
	err := row.Scan(&a.ID, &a.Annotator, &a.ItemID, &a.QueueID, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		a.CreatedAt = created
	}
	return &a, nil
}

// AssignmentsFor returns an annotator's outstanding assignments in a
// project, oldest first, capped at limit.
func (s *Store) AssignmentsFor(ctx context.Context, annotator string, projectID int64, limit int) ([]Assignment, error) {
	query := `SELECT a.id, a.annotator, a.item_id, a.queue_id, a.created_at
           FROM assignments a
           JOIN items i ON i.id = a.item_id
           WHERE a.annotator = ? AND i.project_id = ?
           ORDER BY a.created_at, a.id`
	args := []any{annotator, projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var (
			a          Assignment
			createdRaw string
		)
		if err := rows.Scan(&a.ID, &a.Annotator, &a.ItemID, &a.QueueID, &createdRaw); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			a.CreatedAt = created
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// AssignedItemIDs returns the distinct items with at least one outstanding
// assignment in a queue.
func (s *Store) AssignedItemIDs(ctx context.Context, queueID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT DISTINCT item_id FROM assignments WHERE queue_id = ? ORDER BY item_id`, queueID)
	if err != nil {
		return nil, fmt.Errorf("query assigned items: %w", err)
	}
	return collectInt64s(rows)
}

// DeleteAssignment removes the annotator's assignment for an item. Missing
// rows surface as the stale-assignment conflict.
func (s *Store) DeleteAssignment(ctx context.Context, itemID int64, annotator string) error {
	res, err := s.execWithRetry(ensureContext(ctx),
		`DELETE FROM assignments WHERE item_id = ? AND annotator = ?`, itemID, annotator)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "store", "delete assignment", "assignment stale, please refresh", nil)
	}
	return nil
}

// ItemsSeenByAnnotator returns the items in a project the annotator has
// labeled, rated, skipped, or currently holds assigned. The IRR pop filters
// against this set.
func (s *Store) ItemsSeenByAnnotator(ctx context.Context, projectID int64, annotator string) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT dl.item_id FROM data_labels dl JOIN items i ON i.id = dl.item_id
         WHERE dl.annotator = ? AND i.project_id = ?
         UNION
         SELECT l.item_id FROM irr_log l JOIN items i ON i.id = l.item_id
         WHERE l.annotator = ? AND i.project_id = ?
         UNION
         SELECT a.item_id FROM assignments a JOIN items i ON i.id = a.item_id
         WHERE a.annotator = ? AND i.project_id = ?`,
		annotator, projectID, annotator, projectID, annotator, projectID)
	if err != nil {
		return nil, fmt.Errorf("query seen items: %w", err)
	}
	ids, err := collectInt64s(rows)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen, nil
}
