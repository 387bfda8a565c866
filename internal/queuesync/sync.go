// Package queuesync reconciles the durable store with the cache: a full
// rebuild on cold start or recovery, and an incremental sync after a fill.
// After either operation the cache set mirrors full durable membership and
// the cache list holds only the currently poppable (unassigned) subset.
package queuesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"

	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/ordering"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// Synchronizer keeps cache queue projections consistent with the store.
type Synchronizer struct {
	store    *store.Store
	cache    *cache.Store
	lockPath string
	logger   *slog.Logger
}

// New constructs a Synchronizer. lockPath is the flock file serializing
// rebuilds across processes; empty disables locking (tests).
func New(st *store.Store, c *cache.Store, lockPath string, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synchronizer{
		store:    st,
		cache:    c,
		lockPath: lockPath,
		logger:   logger.With(logging.FieldComponent, "queuesync"),
	}
}

// Rebuild wipes every cache queue key and repopulates them from durable
// membership, excluding items with an outstanding assignment, ordered least
// confident. It is idempotent and the only supported recovery path after
// cache loss.
func (s *Synchronizer) Rebuild(ctx context.Context) error {
	if s.lockPath != "" {
		lock := flock.New(s.lockPath)
		if err := lock.Lock(); err != nil {
			return fmt.Errorf("acquire rebuild lock: %w", err)
		}
		defer func() { _ = lock.Unlock() }()
	}

	queues, err := s.store.AllQueues(ctx)
	if err != nil {
		return fmt.Errorf("load queues: %w", err)
	}

	s.cache.Flush()
	for _, queue := range queues {
		if err := s.populate(ctx, queue.ID, ordering.LeastConfident); err != nil {
			return err
		}
	}
	s.logger.Info("cache rebuilt", "queues", len(queues))
	return nil
}

func (s *Synchronizer) populate(ctx context.Context, queueID int64, strategy ordering.Strategy) error {
	members, err := s.store.QueueMembers(ctx, queueID)
	if err != nil {
		return fmt.Errorf("load members for queue %d: %w", queueID, err)
	}
	assigned, err := s.store.AssignedItemIDs(ctx, queueID)
	if err != nil {
		return fmt.Errorf("load assignments for queue %d: %w", queueID, err)
	}
	assignedSet := toSet(assigned)

	poppable := make([]int64, 0, len(members))
	for _, id := range members {
		if _, ok := assignedSet[id]; !ok {
			poppable = append(poppable, id)
		}
	}

	candidates, err := s.store.CandidatesForItems(ctx, poppable)
	if err != nil {
		return fmt.Errorf("load candidates for queue %d: %w", queueID, err)
	}
	ordering.Sort(candidates, strategy)

	s.cache.SAdd(cache.SetKey(queueID), members...)
	s.cache.PushBack(cache.QueueKey(queueID), ordering.IDs(candidates)...)
	return nil
}

// Sync pushes the set-difference between durable membership and the cache
// set onto the queue, ordered per strategy and excluding assigned items.
// Items already pushed keep their relative order.
func (s *Synchronizer) Sync(ctx context.Context, queueID int64, strategy ordering.Strategy) error {
	members, err := s.store.QueueMembers(ctx, queueID)
	if err != nil {
		return fmt.Errorf("load members for queue %d: %w", queueID, err)
	}

	setKey := cache.SetKey(queueID)
	missing := make([]int64, 0, len(members))
	for _, id := range members {
		if !s.cache.SContains(setKey, id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	assigned, err := s.store.AssignedItemIDs(ctx, queueID)
	if err != nil {
		return fmt.Errorf("load assignments for queue %d: %w", queueID, err)
	}
	assignedSet := toSet(assigned)

	poppable := make([]int64, 0, len(missing))
	for _, id := range missing {
		if _, ok := assignedSet[id]; !ok {
			poppable = append(poppable, id)
		}
	}

	candidates, err := s.store.CandidatesForItems(ctx, poppable)
	if err != nil {
		return fmt.Errorf("load candidates for queue %d: %w", queueID, err)
	}
	ordering.Sort(candidates, strategy)

	s.cache.SAdd(setKey, missing...)
	s.cache.PushBack(cache.QueueKey(queueID), ordering.IDs(candidates)...)
	s.logger.Debug("queue synced", logging.FieldQueueID, queueID, "pushed", len(missing))
	return nil
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
