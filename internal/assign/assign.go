// Package assign hands queued items to annotators and takes them back.
// Normal items are popped destructively so no two annotators ever hold the
// same one; IRR items stay poppable until every required rater has seen them.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// Skipper records an IRR skip so consensus can still resolve without this
// rater's label.
type Skipper interface {
	RecordSkip(ctx context.Context, itemID int64, annotator string) error
}

// Manager routes items between queues, the cache, and annotators.
type Manager struct {
	store   *store.Store
	cache   *cache.Store
	skipper Skipper
	logger  *slog.Logger
}

// New constructs a Manager. skipper may be nil when IRR is disabled.
func New(st *store.Store, c *cache.Store, skipper Skipper, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:   st,
		cache:   c,
		skipper: skipper,
		logger:  logger.With(logging.FieldComponent, "assign"),
	}
}

// Assign gives the annotator one item, preferring the IRR track so multi-rater
// items collect their ratings promptly. Returns (nil, nil) when no queue has
// anything for this annotator.
func (m *Manager) Assign(ctx context.Context, projectID int64, annotator string) (*store.Assignment, error) {
	if annotator == "" {
		return nil, services.Wrap(services.ErrValidation, "assign", "assign", "annotator is required", nil)
	}

	assignment, err := m.assignIRR(ctx, projectID, annotator)
	if err != nil {
		return nil, err
	}
	if assignment != nil {
		return assignment, nil
	}
	return m.assignNormal(ctx, projectID, annotator)
}

// assignIRR scans IRR queue lists without popping. An IRR item must remain
// available to the other raters, so only the assignment row claims it for
// this annotator.
func (m *Manager) assignIRR(ctx context.Context, projectID int64, annotator string) (*store.Assignment, error) {
	queues, err := m.store.CandidateQueues(ctx, projectID, store.KindIRR, annotator)
	if err != nil {
		return nil, fmt.Errorf("candidate irr queues: %w", err)
	}
	if len(queues) == 0 {
		return nil, nil
	}

	seen, err := m.store.ItemsSeenByAnnotator(ctx, projectID, annotator)
	if err != nil {
		return nil, fmt.Errorf("items seen: %w", err)
	}

	for _, queue := range queues {
		for _, itemID := range m.cache.ListMembers(cache.QueueKey(queue.ID)) {
			if _, ok := seen[itemID]; ok {
				continue
			}
			assignment, err := m.store.CreateAssignment(ctx, annotator, itemID, queue.ID)
			if errors.Is(err, services.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			m.logger.Debug("assigned irr item",
				logging.FieldAnnotator, annotator,
				logging.FieldItemID, itemID,
				logging.FieldQueueID, queue.ID,
			)
			return assignment, nil
		}
	}
	return nil, nil
}

// assignNormal pops from the highest-priority non-empty queue. A popped item
// that cannot be claimed is pushed back to the front so its position is kept.
func (m *Manager) assignNormal(ctx context.Context, projectID int64, annotator string) (*store.Assignment, error) {
	queues, err := m.store.CandidateQueues(ctx, projectID, store.KindNormal, annotator)
	if err != nil {
		return nil, fmt.Errorf("candidate queues: %w", err)
	}
	if len(queues) == 0 {
		return nil, nil
	}

	keys := make([]string, len(queues))
	byKey := make(map[string]*store.Queue, len(queues))
	for i := range queues {
		keys[i] = cache.QueueKey(queues[i].ID)
		byKey[keys[i]] = &queues[i]
	}

	for {
		key, itemID, ok := m.cache.PopFirstNonEmpty(keys)
		if !ok {
			return nil, nil
		}
		queue := byKey[key]
		assignment, err := m.store.CreateAssignment(ctx, annotator, itemID, queue.ID)
		if errors.Is(err, services.ErrConflict) {
			// Someone else holds a durable claim the cache missed.
			// Leave the item out of the poppable list and move on.
			m.logger.Warn("popped item already assigned",
				logging.FieldItemID, itemID,
				logging.FieldQueueID, queue.ID,
			)
			continue
		}
		if err != nil {
			m.cache.PushFront(key, itemID)
			return nil, err
		}
		m.logger.Debug("assigned item",
			logging.FieldAnnotator, annotator,
			logging.FieldItemID, itemID,
			logging.FieldQueueID, queue.ID,
		)
		return assignment, nil
	}
}

// GetAssignments returns up to count items for the annotator: anything they
// already hold first, oldest first, then fresh assignments to make up the
// difference.
func (m *Manager) GetAssignments(ctx context.Context, projectID int64, annotator string, count int) ([]store.Assignment, error) {
	if count <= 0 {
		return nil, nil
	}

	existing, err := m.store.AssignmentsFor(ctx, annotator, projectID, count)
	if err != nil {
		return nil, fmt.Errorf("existing assignments: %w", err)
	}
	out := existing
	for len(out) < count {
		assignment, err := m.Assign(ctx, projectID, annotator)
		if err != nil {
			return out, err
		}
		if assignment == nil {
			break
		}
		out = append(out, *assignment)
	}
	return out, nil
}

// Unassign releases an item the annotator holds. A non-IRR item goes back to
// the front of its queue so the next annotator receives it first; an IRR item
// was never removed from its list and needs only the claim dropped.
func (m *Manager) Unassign(ctx context.Context, itemID int64, annotator string) error {
	assignment, err := m.store.AssignmentForItem(ctx, itemID, annotator)
	if err != nil {
		return err
	}
	if assignment == nil {
		return services.Wrap(services.ErrConflict, "assign", "unassign", "assignment stale, please refresh", nil)
	}

	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteAssignment(ctx, itemID, annotator); err != nil {
		return err
	}
	if item != nil {
		consensus, err := m.consensusRouted(ctx, item)
		if err != nil {
			return err
		}
		if !consensus {
			m.cache.PushFront(cache.QueueKey(assignment.QueueID), itemID)
		}
	}
	m.logger.Debug("unassigned item",
		logging.FieldAnnotator, annotator,
		logging.FieldItemID, itemID,
	)
	return nil
}

// Skip routes an item the annotator declines to label. IRR items log the skip
// so consensus can still close; everything else moves to the project's admin
// queue for triage.
func (m *Manager) Skip(ctx context.Context, itemID int64, annotator string) error {
	item, err := m.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "assign", "skip", fmt.Sprintf("item %d not found", itemID), nil)
	}

	consensus, err := m.consensusRouted(ctx, item)
	if err != nil {
		return err
	}
	if consensus {
		if m.skipper == nil {
			return services.Wrap(services.ErrConfiguration, "assign", "skip", "no IRR skip handler configured", nil)
		}
		return m.skipper.RecordSkip(ctx, itemID, annotator)
	}

	source, err := m.store.QueueForItem(ctx, itemID)
	if err != nil {
		return err
	}
	admin, err := m.store.ProjectQueue(ctx, item.ProjectID, store.KindAdmin)
	if err != nil {
		return err
	}
	if err := m.store.MoveToQueue(ctx, itemID, admin.ID, annotator); err != nil {
		return err
	}

	if source != nil {
		m.cache.RemoveFromList(cache.QueueKey(source.ID), itemID)
		m.cache.SRem(cache.SetKey(source.ID), itemID)
	}
	m.cache.SAdd(cache.SetKey(admin.ID), itemID)
	m.logger.Info("item skipped to admin queue",
		logging.FieldAnnotator, annotator,
		logging.FieldItemID, itemID,
		logging.FieldQueueID, admin.ID,
	)
	return nil
}

// consensusRouted reports whether an item belongs to the consensus flow.
// The irr flag alone is not enough: agreement clears it while other raters
// still hold assignments, so an item with any rating history stays routed
// through the skip handler rather than re-entering a queue.
func (m *Manager) consensusRouted(ctx context.Context, item *store.Item) (bool, error) {
	if item.IRRFlag {
		return true, nil
	}
	history, err := m.store.IRRHistoryCount(ctx, item.ID)
	if err != nil {
		return false, err
	}
	return history > 0, nil
}
