package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RTIInternational/SMART-sub000/internal/services"
)

// LabelsForItem returns committed labels for an item ordered by creation.
func (s *Store) LabelsForItem(ctx context.Context, itemID int64) ([]DataLabel, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, item_id, annotator, label_id, training_set_id, time_to_label_ms, created_at
         FROM data_labels WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query labels for item: %w", err)
	}
	defer rows.Close()

	var labels []DataLabel
	for rows.Next() {
		var (
			dl         DataLabel
			createdRaw string
		)
		if err := rows.Scan(&dl.ID, &dl.ItemID, &dl.Annotator, &dl.LabelID, &dl.TrainingSetID, &dl.TimeToLabelMS, &createdRaw); err != nil {
			return nil, err
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			dl.CreatedAt = created
		}
		labels = append(labels, dl)
	}
	return labels, rows.Err()
}

// UpdateLabel changes an existing committed label in place.
func (s *Store) UpdateLabel(ctx context.Context, itemID int64, annotator string, newLabelID int64) error {
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE data_labels SET label_id = ? WHERE item_id = ? AND annotator = ?`,
		newLabelID, itemID, annotator)
	if err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "modify label", fmt.Sprintf("no label by %s for item %d", annotator, itemID), nil)
	}
	return nil
}

// AppendIRR adds one append-only rating (or, with nil labelID, skip) row.
func (s *Store) AppendIRR(ctx context.Context, itemID int64, annotator string, labelID *int64) error {
	if _, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO irr_log (item_id, annotator, label_id, timestamp) VALUES (?, ?, ?, ?)`,
		itemID, annotator, nullableInt64(labelID), timestamp()); err != nil {
		return fmt.Errorf("append irr log: %w", err)
	}
	return nil
}

// IRRHistory returns the append-only rating history for an item.
func (s *Store) IRRHistory(ctx context.Context, itemID int64) ([]IRREntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, item_id, annotator, label_id, timestamp FROM irr_log WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query irr history: %w", err)
	}
	defer rows.Close()

	var entries []IRREntry
	for rows.Next() {
		var (
			e       IRREntry
			labelID sql.NullInt64
			tsRaw   string
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Annotator, &labelID, &tsRaw); err != nil {
			return nil, err
		}
		if labelID.Valid {
			v := labelID.Int64
			e.LabelID = &v
		}
		if ts, err := parseTimeString(tsRaw); err == nil {
			e.Timestamp = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IRRHistoryCount returns how many history rows an item has accumulated.
// An item with at least the project's rater count is already resolved.
func (s *Store) IRRHistoryCount(ctx context.Context, itemID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM irr_log WHERE item_id = ?`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count irr history: %w", err)
	}
	return count, nil
}

// IRRSkipCount returns the number of null-label (skip) rows for an item.
func (s *Store) IRRSkipCount(ctx context.Context, itemID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM irr_log WHERE item_id = ? AND label_id IS NULL`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count irr skips: %w", err)
	}
	return count, nil
}

// ProjectIRRHistory returns every history row for resolved and pending IRR
// work in a project, used by agreement reporting.
func (s *Store) ProjectIRRHistory(ctx context.Context, projectID int64) ([]IRREntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT l.id, l.item_id, l.annotator, l.label_id, l.timestamp
         FROM irr_log l JOIN items i ON i.id = l.item_id
         WHERE i.project_id = ? ORDER BY l.item_id, l.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query project irr history: %w", err)
	}
	defer rows.Close()

	var entries []IRREntry
	for rows.Next() {
		var (
			e       IRREntry
			labelID sql.NullInt64
			tsRaw   string
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Annotator, &labelID, &tsRaw); err != nil {
			return nil, err
		}
		if labelID.Valid {
			v := labelID.Int64
			e.LabelID = &v
		}
		if ts, err := parseTimeString(tsRaw); err == nil {
			e.Timestamp = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
