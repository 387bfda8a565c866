package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RTIInternational/SMART-sub000/internal/services"
)

// CommitLabel atomically records a non-IRR label: insert the data_label,
// delete the annotator's assignment, delete the item's queue membership.
// A duplicate submission surfaces as ErrConflict from the unique index.
func (s *Store) CommitLabel(ctx context.Context, itemID int64, annotator string, labelID, trainingSetID, elapsedMS int64) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_labels (item_id, annotator, label_id, training_set_id, time_to_label_ms, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			itemID, annotator, labelID, trainingSetID, elapsedMS, timestamp()); err != nil {
			if isUniqueViolation(err) {
				return services.Wrap(services.ErrConflict, "store", "commit label", fmt.Sprintf("duplicate label for item %d", itemID), err)
			}
			return fmt.Errorf("insert data label: %w", err)
		}
		if err := deleteAssignmentTx(ctx, tx, itemID, annotator); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_members WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		return nil
	})
}

// RecordIRRRating atomically writes a pre-resolution IRR rating as a normal
// data_label (so the rater sees their pending work) and deletes the
// assignment. Membership is untouched; the item stays in rotation.
func (s *Store) RecordIRRRating(ctx context.Context, itemID int64, annotator string, labelID, trainingSetID, elapsedMS int64) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_labels (item_id, annotator, label_id, training_set_id, time_to_label_ms, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			itemID, annotator, labelID, trainingSetID, elapsedMS, timestamp()); err != nil {
			if isUniqueViolation(err) {
				return services.Wrap(services.ErrConflict, "store", "record irr rating", fmt.Sprintf("duplicate rating for item %d", itemID), err)
			}
			return fmt.Errorf("insert irr rating: %w", err)
		}
		return deleteAssignmentTx(ctx, tx, itemID, annotator)
	})
}

// RecordIRRHistoryOnly appends a rating for an already-resolved IRR item
// straight to history, never creating a data_label, and releases the
// annotator's assignment if one exists.
func (s *Store) RecordIRRHistoryOnly(ctx context.Context, itemID int64, annotator string, labelID *int64) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO irr_log (item_id, annotator, label_id, timestamp) VALUES (?, ?, ?, ?)`,
			itemID, annotator, nullableInt64(labelID), timestamp()); err != nil {
			return fmt.Errorf("append irr history: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM assignments WHERE item_id = ? AND annotator = ?`, itemID, annotator); err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}
		return nil
	})
}

// RecordIRRSkip atomically appends a null-label history row and deletes the
// annotator's assignment.
func (s *Store) RecordIRRSkip(ctx context.Context, itemID int64, annotator string) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO irr_log (item_id, annotator, label_id, timestamp) VALUES (?, ?, NULL, ?)`,
			itemID, annotator, timestamp()); err != nil {
			return fmt.Errorf("append irr skip: %w", err)
		}
		return deleteAssignmentTx(ctx, tx, itemID, annotator)
	})
}

// IRROutcome describes how an IRR resolution transaction ended.
type IRROutcome string

const (
	// OutcomeAgree means all ratings matched with no skips; the item got a
	// synthesized owner label and left its queue.
	OutcomeAgree IRROutcome = "agree"
	// OutcomeDisagree means ratings differed or a skip occurred; the item
	// moved to the admin queue for adjudication.
	OutcomeDisagree IRROutcome = "disagree"
)

// ResolveIRRAgree runs the agreement transaction: copy pending data_labels
// into history, delete them, clear the item's irr flag, synthesize the
// authoritative owner label, and delete queue membership. Callers update the
// cache only after this commits.
func (s *Store) ResolveIRRAgree(ctx context.Context, itemID int64, owner string, labelID, trainingSetID int64) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if err := archiveLabelsTx(ctx, tx, itemID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET irr_flag = 0 WHERE id = ?`, itemID); err != nil {
			return fmt.Errorf("clear irr flag: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_labels (item_id, annotator, label_id, training_set_id, time_to_label_ms, created_at)
             VALUES (?, ?, ?, ?, 0, ?)`,
			itemID, owner, labelID, trainingSetID, timestamp()); err != nil {
			return fmt.Errorf("insert synthesized label: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_members WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		return nil
	})
}

// ResolveIRRDisagree runs the disagreement transaction: copy pending
// data_labels into history, delete them, and move the item's membership to
// the admin queue. The irr flag stays set until an admin adjudicates.
func (s *Store) ResolveIRRDisagree(ctx context.Context, itemID, adminQueueID int64) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if err := archiveLabelsTx(ctx, tx, itemID); err != nil {
			return err
		}
		return moveMembershipTx(ctx, tx, itemID, adminQueueID)
	})
}

// MoveToQueue atomically moves an item's membership to another queue and
// deletes the annotator's assignment (the non-IRR skip path).
func (s *Store) MoveToQueue(ctx context.Context, itemID, targetQueueID int64, annotator string) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if err := moveMembershipTx(ctx, tx, itemID, targetQueueID); err != nil {
			return err
		}
		return deleteAssignmentTx(ctx, tx, itemID, annotator)
	})
}

// DiscardItem moves an item to the recycle bin, purging its queue,
// assignment, and IRR-pending state in one transaction.
func (s *Store) DiscardItem(ctx context.Context, itemID int64, reason string) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recycle_bin (item_id, reason, created_at) VALUES (?, ?, ?)`,
			itemID, reason, timestamp()); err != nil {
			if isUniqueViolation(err) {
				return services.Wrap(services.ErrConflict, "store", "discard item", fmt.Sprintf("item %d already recycled", itemID), err)
			}
			return fmt.Errorf("insert recycle entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_members WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM irr_log WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete irr history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET irr_flag = 0 WHERE id = ?`, itemID); err != nil {
			return fmt.Errorf("clear irr flag: %w", err)
		}
		return nil
	})
}

// AdminCommitLabel is the admin adjudication transaction: replace any
// pending labels with the admin's authoritative one, clear the irr flag,
// and remove the item from every queue and assignment.
func (s *Store) AdminCommitLabel(ctx context.Context, itemID int64, admin string, labelID, trainingSetID int64) error {
	return s.withTx(ensureContext(ctx), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM data_labels WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete pending labels: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_labels (item_id, annotator, label_id, training_set_id, time_to_label_ms, created_at)
             VALUES (?, ?, ?, ?, 0, ?)`,
			itemID, admin, labelID, trainingSetID, timestamp()); err != nil {
			return fmt.Errorf("insert admin label: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE items SET irr_flag = 0 WHERE id = ?`, itemID); err != nil {
			return fmt.Errorf("clear irr flag: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue_members WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE item_id = ?`, itemID); err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}
		return nil
	})
}

func archiveLabelsTx(ctx context.Context, tx *sql.Tx, itemID int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO irr_log (item_id, annotator, label_id, timestamp)
         SELECT item_id, annotator, label_id, created_at FROM data_labels WHERE item_id = ?`,
		itemID); err != nil {
		return fmt.Errorf("archive labels to history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM data_labels WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("delete archived labels: %w", err)
	}
	return nil
}

func moveMembershipTx(ctx context.Context, tx *sql.Tx, itemID, targetQueueID int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE queue_members SET queue_id = ? WHERE item_id = ?`, targetQueueID, itemID)
	if err != nil {
		return fmt.Errorf("move membership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Item was not in any queue; insert it directly.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO queue_members (item_id, queue_id) VALUES (?, ?)`, itemID, targetQueueID); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
	}
	return nil
}

func deleteAssignmentTx(ctx context.Context, tx *sql.Tx, itemID int64, annotator string) error {
	res, err := tx.ExecContext(ctx,
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
