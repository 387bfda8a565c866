// Package api is the operation facade annotators and admins call. It ties
// the assignment manager, IRR engine, retrain trigger, and lease manager
// together and keeps the cache consistent with every durable transition.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RTIInternational/SMART-sub000/internal/assign"
	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/irr"
	"github.com/RTIInternational/SMART-sub000/internal/lease"
	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
	"github.com/RTIInternational/SMART-sub000/internal/trainer"
)

// Service exposes the annotator and admin operations.
type Service struct {
	store   *store.Store
	cache   *cache.Store
	assign  *assign.Manager
	irr     *irr.Engine
	trigger *trainer.Trigger
	leases  *lease.Manager
	logger  *slog.Logger
}

// New constructs a Service. trigger may be nil when no trainer is wired,
// in which case labeling never launches model runs.
func New(st *store.Store, c *cache.Store, mgr *assign.Manager, engine *irr.Engine, trigger *trainer.Trigger, leases *lease.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:   st,
		cache:   c,
		assign:  mgr,
		irr:     engine,
		trigger: trigger,
		leases:  leases,
		logger:  logger.With(logging.FieldComponent, "api"),
	}
}

// Wait blocks until background training jobs launched by annotations have
// finished. Callers shutting down should drain before closing the store.
func (s *Service) Wait() {
	if s.trigger != nil {
		s.trigger.Wait()
	}
}

// GetAssignments returns up to n items for the annotator to label.
func (s *Service) GetAssignments(ctx context.Context, annotator string, projectID int64, n int) ([]store.Assignment, error) {
	return s.assign.GetAssignments(ctx, projectID, annotator, n)
}

// AnnotateItem commits the annotator's label for an assigned item. The
// assignment must still exist; anything the annotator released or another
// path already consumed is stale. IRR items route through the consensus
// engine instead of committing directly.
func (s *Service) AnnotateItem(ctx context.Context, annotator string, itemID, labelID int64, elapsedMS int64) error {
	ctx = services.WithAnnotator(services.WithItemID(ctx, itemID), annotator)
	assignment, err := s.store.AssignmentForItem(ctx, itemID, annotator)
	if err != nil {
		return err
	}
	if assignment == nil {
		return services.Wrap(services.ErrConflict, "api", "annotate", "assignment stale, please refresh", nil)
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "api", "annotate", fmt.Sprintf("item %d not found", itemID), nil)
	}
	trainingSet, err := s.store.CurrentTrainingSet(ctx, item.ProjectID)
	if err != nil {
		return err
	}

	// Agreement clears the irr flag while other raters may still hold
	// assignments, so any item with consensus history stays on the engine
	// path; late responses append to history instead of committing labels.
	consensus := item.IRRFlag
	if !consensus {
		history, err := s.store.IRRHistoryCount(ctx, itemID)
		if err != nil {
			return err
		}
		consensus = history > 0
	}

	if consensus {
		if err := s.irr.RecordRating(ctx, itemID, annotator, labelID, trainingSet.ID, elapsedMS); err != nil {
			return err
		}
	} else {
		if err := s.store.CommitLabel(ctx, itemID, annotator, labelID, trainingSet.ID, elapsedMS); err != nil {
			return err
		}
		s.cache.SRem(cache.SetKey(assignment.QueueID), itemID)
	}

	logging.WithContext(ctx, s.logger).Debug("label committed", "label_id", labelID)
	return s.checkRetrain(ctx, item.ProjectID, annotator)
}

// SkipItem routes an item the annotator declines to label. The reason is
// recorded in the log for whoever triages the admin queue.
func (s *Service) SkipItem(ctx context.Context, annotator string, itemID int64, reason string) error {
	if err := s.assign.Skip(ctx, itemID, annotator); err != nil {
		return err
	}
	s.logger.Info("item skipped",
		logging.FieldAnnotator, annotator,
		logging.FieldItemID, itemID,
		"reason", reason,
	)
	return nil
}

// UnassignItem releases an item back to its queue.
func (s *Service) UnassignItem(ctx context.Context, annotator string, itemID int64) error {
	return s.assign.Unassign(ctx, itemID, annotator)
}

// ModifyLabel changes the annotator's committed label in place. ErrNotFound
// when the annotator never labeled the item.
func (s *Service) ModifyLabel(ctx context.Context, annotator string, itemID, newLabelID int64) error {
	return s.store.UpdateLabel(ctx, itemID, annotator, newLabelID)
}

// DiscardItem moves an item to the recycle bin. Admin operation; requires
// the project lease.
func (s *Service) DiscardItem(ctx context.Context, admin string, itemID int64, reason string) error {
	item, source, err := s.adminItem(ctx, admin, itemID)
	if err != nil {
		return err
	}
	if err := s.store.DiscardItem(ctx, itemID, reason); err != nil {
		return err
	}
	if source != nil {
		s.cache.RemoveFromList(cache.QueueKey(source.ID), itemID)
		s.cache.SRem(cache.SetKey(source.ID), itemID)
	}
	s.logger.Info("item discarded",
		logging.FieldProjectID, item.ProjectID,
		logging.FieldItemID, itemID,
		"reason", reason,
	)
	return nil
}

// RestoreItem pulls an item back out of the recycle bin so fills can pick
// it up again. Admin operation; requires the project lease.
func (s *Service) RestoreItem(ctx context.Context, admin string, itemID int64) error {
	if _, _, err := s.adminItem(ctx, admin, itemID); err != nil {
		return err
	}
	return s.store.RestoreItem(ctx, itemID)
}

// AdminLabel is the adjudication path: the admin's label replaces any
// pending ratings, clears IRR state, and removes the item from the admin
// queue. Requires the project lease.
func (s *Service) AdminLabel(ctx context.Context, admin string, itemID, labelID int64) error {
	item, source, err := s.adminItem(ctx, admin, itemID)
	if err != nil {
		return err
	}
	trainingSet, err := s.store.CurrentTrainingSet(ctx, item.ProjectID)
	if err != nil {
		return err
	}
	if err := s.store.AdminCommitLabel(ctx, itemID, admin, labelID, trainingSet.ID); err != nil {
		return err
	}
	if source != nil {
		s.cache.RemoveFromList(cache.QueueKey(source.ID), itemID)
		s.cache.SRem(cache.SetKey(source.ID), itemID)
	}
	s.logger.Info("item adjudicated",
		logging.FieldProjectID, item.ProjectID,
		logging.FieldItemID, itemID,
		"label_id", labelID,
		logging.FieldAnnotator, admin,
	)
	return s.checkRetrain(ctx, item.ProjectID, "")
}

// adminItem validates the admin lease for the item's project and returns
// the item with its current queue.
func (s *Service) adminItem(ctx context.Context, admin string, itemID int64) (*store.Item, *store.Queue, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "api", "admin", fmt.Sprintf("item %d not found", itemID), nil)
	}
	if err := s.leases.Acquire(ctx, item.ProjectID, admin); err != nil {
		return nil, nil, err
	}
	source, err := s.store.QueueForItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	return item, source, nil
}

// QueueStatus is one queue's durable and cached occupancy.
type QueueStatus struct {
	store.QueueCounts
	CacheLen int
}

// QueueStatusCounts reports per-queue membership, outstanding assignments,
// and poppable cache depth for a project.
func (s *Service) QueueStatusCounts(ctx context.Context, projectID int64) ([]QueueStatus, error) {
	counts, err := s.store.QueueStatusCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	statuses := make([]QueueStatus, 0, len(counts))
	for _, c := range counts {
		statuses = append(statuses, QueueStatus{
			QueueCounts: c,
			CacheLen:    s.cache.ListLen(cache.QueueKey(c.QueueID)),
		})
	}
	return statuses, nil
}

func (s *Service) checkRetrain(ctx context.Context, projectID int64, annotator string) error {
	if s.trigger == nil {
		return nil
	}
	decision, err := s.trigger.CheckAndTrigger(ctx, projectID, annotator)
	if err != nil {
		return err
	}
	if decision != trainer.DecisionNone {
		s.logger.Info("retrain check acted",
			logging.FieldProjectID, projectID,
			"decision", string(decision),
		)
	}
	return nil
}
