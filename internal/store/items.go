package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/RTIInternational/SMART-sub000/internal/services"
)

// ItemHash derives the project-scoped identity hash for a text record.
func ItemHash(projectID int64, text string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d:%s", projectID, text))).String()
}

// CreateItem ingests a text record. A duplicate (project, hash) pair returns
// ErrConflict so ingestion can skip records it has already seen.
func (s *Store) CreateItem(ctx context.Context, projectID int64, text string) (*Item, error) {
	hash := ItemHash(projectID, text)
	res, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO items (project_id, text, hash, irr_flag, created_at) VALUES (?, ?, ?, 0, ?)`,
		projectID, text, hash, timestamp())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create item", "duplicate hash", err)
		}
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetItem(ctx, id)
}

// GetItem fetches an item by identifier.
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, project_id, text, hash, irr_flag, created_at FROM items WHERE id = ?`, id)
	var (
		item       Item
		irrFlag    int
		createdRaw string
	)
	err := row.Scan(&item.ID, &item.ProjectID, &item.Text, &item.Hash, &irrFlag, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	item.IRRFlag = irrFlag != 0
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	return &item, nil
}

// SetIRRFlags marks a batch of items as part of the IRR sampling track.
func (s *Store) SetIRRFlags(ctx context.Context, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	query := `UPDATE items SET irr_flag = 1 WHERE id IN (` + makePlaceholders(len(itemIDs)) + `)`
	if _, err := s.execWithRetry(ensureContext(ctx), query, int64Args(itemIDs)...); err != nil {
		return fmt.Errorf("set irr flags: %w", err)
	}
	return nil
}

// IsRecycled reports whether an item currently sits in the recycle bin.
func (s *Store) IsRecycled(ctx context.Context, itemID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM recycle_bin WHERE item_id = ?`, itemID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check recycle bin: %w", err)
	}
	return count > 0, nil
}

// RestoreItem removes an item from the recycle bin, making it eligible for
// filling again.
func (s *Store) RestoreItem(ctx context.Context, itemID int64) error {
	res, err := s.execWithRetry(ensureContext(ctx),
		`DELETE FROM recycle_bin WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("restore item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "restore item", fmt.Sprintf("item %d not recycled", itemID), nil)
	}
	return nil
}

// Candidate is an eligible unqueued item joined with its latest uncertainty
// scores. Scored is false when no trained model has scored the item yet.
type Candidate struct {
	ItemID         int64
	Scored         bool
	LeastConfident float64
	Margin         float64
	Entropy        float64
}

// EligibleItems returns candidate items for a fill: project members that are
// in no queue, unassigned, and not recycled. When excludeIRRFlagged is set,
// items already on the IRR track are excluded as well.
func (s *Store) EligibleItems(ctx context.Context, projectID int64, excludeIRRFlagged bool, limit int) ([]Candidate, error) {
	query := `SELECT i.id, u.item_id IS NOT NULL, COALESCE(u.least_confident, 0),
                  COALESCE(u.margin, 0), COALESCE(u.entropy, 0)
           FROM items i
           LEFT JOIN uncertainty u ON u.item_id = i.id
           WHERE i.project_id = ?
             AND i.id NOT IN (SELECT item_id FROM queue_members)
             AND i.id NOT IN (SELECT item_id FROM assignments)
             AND i.id NOT IN (SELECT item_id FROM recycle_bin)
             AND i.id NOT IN (SELECT item_id FROM data_labels)`
	if excludeIRRFlagged {
		query += ` AND i.irr_flag = 0`
	}
	query += ` ORDER BY i.id`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible items: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ItemID, &c.Scored, &c.LeastConfident, &c.Margin, &c.Entropy); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CandidatesForItems loads score candidates for a fixed set of item IDs.
func (s *Store) CandidatesForItems(ctx context.Context, itemIDs []int64) ([]Candidate, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	query := `SELECT i.id, u.item_id IS NOT NULL, COALESCE(u.least_confident, 0),
                  COALESCE(u.margin, 0), COALESCE(u.entropy, 0)
           FROM items i
           LEFT JOIN uncertainty u ON u.item_id = i.id
           WHERE i.id IN (` + makePlaceholders(len(itemIDs)) + `) ORDER BY i.id`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, int64Args(itemIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ItemID, &c.Scored, &c.LeastConfident, &c.Margin, &c.Entropy); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// UpsertUncertainty stores the scores produced by a completed training run.
func (s *Store) UpsertUncertainty(ctx context.Context, scores []Uncertainty) error {
	if len(scores) == 0 {
		return nil
	}
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		for _, score := range scores {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO uncertainty (item_id, set_number, least_confident, margin, entropy)
                 VALUES (?, ?, ?, ?, ?)
                 ON CONFLICT(item_id) DO UPDATE SET
                     set_number = excluded.set_number,
                     least_confident = excluded.least_confident,
                     margin = excluded.margin,
                     entropy = excluded.entropy`,
				score.ItemID, score.SetNumber, score.LeastConfident, score.Margin, score.Entropy,
			); err != nil {
				return fmt.Errorf("upsert uncertainty for item %d: %w", score.ItemID, err)
			}
		}
		return nil
	})
}

// HasUncertaintyScores reports whether any trained model has scored items in
// the project; ordering strategies other than random require this.
func (s *Store) HasUncertaintyScores(ctx context.Context, projectID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM uncertainty u
         JOIN items i ON i.id = u.item_id
         WHERE i.project_id = ? LIMIT 1`, projectID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check uncertainty scores: %w", err)
	}
	return count > 0, nil
}
