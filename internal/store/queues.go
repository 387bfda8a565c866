package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RTIInternational/SMART-sub000/internal/services"
)

// CreateQueue adds a queue to a project. An empty annotator makes the queue
// project-wide.
func (s *Store) CreateQueue(ctx context.Context, projectID int64, kind QueueKind, annotator string, length int) (*Queue, error) {
	res, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO queues (project_id, kind, annotator, length) VALUES (?, ?, ?, ?)`,
		projectID, kind, nullableString(annotator), length)
	if err != nil {
		return nil, fmt.Errorf("insert queue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetQueue(ctx, id)
}

// GetQueue fetches a queue by identifier.
func (s *Store) GetQueue(ctx context.Context, id int64) (*Queue, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, project_id, kind, annotator, length FROM queues WHERE id = ?`, id)
	return scanQueue(row)
}

func scanQueue(row *sql.Row) (*Queue, error) {
	var (
		q         Queue
		annotator sql.NullString
	)
	err := row.Scan(&q.ID, &q.ProjectID, &q.Kind, &annotator, &q.Length)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	q.Annotator = annotator.String
	return &q, nil
}

// ProjectQueue returns the project-wide queue of the given kind (lowest
// identifier when several exist).
func (s *Store) ProjectQueue(ctx context.Context, projectID int64, kind QueueKind) (*Queue, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, project_id, kind, annotator, length FROM queues
         WHERE project_id = ? AND kind = ? AND annotator IS NULL
         ORDER BY id LIMIT 1`, projectID, kind)
	q, err := scanQueue(row)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, services.Wrap(services.ErrNotFound, "store", "project queue", fmt.Sprintf("project %d has no %s queue", projectID, kind), nil)
	}
	return q, nil
}

// CandidateQueues returns the queues an annotator may pop from for a kind:
// annotator-owned queues first, then project-wide, identifier ascending
// inside each tier.
func (s *Store) CandidateQueues(ctx context.Context, projectID int64, kind QueueKind, annotator string) ([]Queue, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, project_id, kind, annotator, length FROM queues
         WHERE project_id = ? AND kind = ? AND (annotator = ? OR annotator IS NULL)
         ORDER BY annotator IS NULL, id`, projectID, kind, annotator)
	if err != nil {
		return nil, fmt.Errorf("query candidate queues: %w", err)
	}
	defer rows.Close()

	var queues []Queue
	for rows.Next() {
		var (
			q     Queue
			owner sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Kind, &owner, &q.Length); err != nil {
			return nil, err
		}
		q.Annotator = owner.String
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// AllQueues returns every queue across all projects, used by cache rebuild.
func (s *Store) AllQueues(ctx context.Context) ([]Queue, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, project_id, kind, annotator, length FROM queues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query queues: %w", err)
	}
	defer rows.Close()

	var queues []Queue
	for rows.Next() {
		var (
			q     Queue
			owner sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.ProjectID, &q.Kind, &owner, &q.Length); err != nil {
			return nil, err
		}
		q.Annotator = owner.String
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// SetQueueLength updates a queue's target capacity.
func (s *Store) SetQueueLength(ctx context.Context, queueID int64, length int) error {
	if _, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE queues SET length = ? WHERE id = ?`, length, queueID); err != nil {
		return fmt.Errorf("set queue length: %w", err)
	}
	return nil
}

// QueueMembers returns the item IDs durably queued in a queue.
func (s *Store) QueueMembers(ctx context.Context, queueID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT item_id FROM queue_members WHERE queue_id = ? ORDER BY item_id`, queueID)
	if err != nil {
		return nil, fmt.Errorf("query queue members: %w", err)
	}
	return collectInt64s(rows)
}

// MemberCount returns the number of items durably queued in a queue.
func (s *Store) MemberCount(ctx context.Context, queueID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM queue_members WHERE queue_id = ?`, queueID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count queue members: %w", err)
	}
	return count, nil
}

// AddMembers inserts membership rows for a batch of items. The primary key
// on item_id rejects items already queued elsewhere.
func (s *Store) AddMembers(ctx context.Context, queueID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		for _, itemID := range itemIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO queue_members (item_id, queue_id) VALUES (?, ?)`, itemID, queueID); err != nil {
				if isUniqueViolation(err) {
					return services.Wrap(services.ErrConflict, "store", "add member", fmt.Sprintf("item %d already queued", itemID), err)
				}
				return fmt.Errorf("insert membership: %w", err)
			}
		}
		return nil
	})
}

// QueueForItem returns the queue an item currently belongs to, or nil.
func (s *Store) QueueForItem(ctx context.Context, itemID int64) (*Queue, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT q.id, q.project_id, q.kind, q.annotator, q.length
         FROM queues q JOIN queue_members m ON m.queue_id = q.id
         WHERE m.item_id = ?`, itemID)
	return scanQueue(row)
}

// QueueStatusCounts aggregates durable membership and assignment counts per
// queue for a project.
func (s *Store) QueueStatusCounts(ctx context.Context, projectID int64) ([]QueueCounts, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT q.id, q.kind, COALESCE(q.annotator, ''), q.length,
                (SELECT COUNT(1) FROM queue_members m WHERE m.queue_id = q.id),
                (SELECT COUNT(DISTINCT a.item_id) FROM assignments a WHERE a.queue_id = q.id)
         FROM queues q WHERE q.project_id = ? ORDER BY q.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query queue counts: %w", err)
	}
	defer rows.Close()

	var counts []QueueCounts
	for rows.Next() {
		var c QueueCounts
		if err := rows.Scan(&c.QueueID, &c.Kind, &c.Annotator, &c.Length, &c.Members, &c.Assigned); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
