// Package fill selects eligible items and inserts a bounded batch into a
// queue's durable membership and cache projection, splitting each batch
// between the IRR track and the primary queue.
package fill

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/ordering"
	"github.com/RTIInternational/SMART-sub000/internal/queuesync"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// Request describes one fill invocation.
type Request struct {
	Queue      *store.Queue
	Strategy   ordering.Strategy
	IRRQueue   *store.Queue // nil skips the IRR phase
	IRRPercent int
	BatchSize  int
}

// Result reports how much of the requested batch was actually placed.
// Filling zero of N requested is a normal outcome, not an error.
type Result struct {
	RequestedIRR    int
	AddedIRR        int
	RequestedNormal int
	AddedNormal     int
}

// Filler moves eligible items into queues.
type Filler struct {
	store  *store.Store
	cache  *cache.Store
	sync   *queuesync.Synchronizer
	logger *slog.Logger
}

// New constructs a Filler.
func New(st *store.Store, c *cache.Store, sync *queuesync.Synchronizer, logger *slog.Logger) *Filler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Filler{
		store:  st,
		cache:  c,
		sync:   sync,
		logger: logger.With(logging.FieldComponent, "fill"),
	}
}

// Fill places up to BatchSize eligible items, routing IRRPercent of them
// through the IRR queue. When remaining room in a queue is smaller than the
// requested share, or no IRR queue was given, the queue is topped up to its
// configured length instead, so a nearly empty queue is never starved by
// small percentage-derived increments.
func (f *Filler) Fill(ctx context.Context, req Request) (Result, error) {
	if _, err := ordering.Parse(string(req.Strategy)); err != nil {
		return Result{}, err
	}
	if req.Queue == nil {
		return Result{}, fmt.Errorf("fill: queue is required")
	}

	irrCount := int(math.Ceil(float64(req.BatchSize) * float64(req.IRRPercent) / 100))
	nonIRRCount := int(math.Ceil(float64(req.BatchSize) * float64(100-req.IRRPercent) / 100))

	var result Result
	if req.IRRQueue != nil && irrCount > 0 {
		result.RequestedIRR = irrCount
		added, err := f.fillIRR(ctx, req, irrCount)
		if err != nil {
			return result, err
		}
		result.AddedIRR = added
	}

	result.RequestedNormal = nonIRRCount
	added, err := f.fillPrimary(ctx, req, nonIRRCount)
	if err != nil {
		return result, err
	}
	result.AddedNormal = added

	f.logger.Info("fill complete",
		logging.FieldProjectID, req.Queue.ProjectID,
		logging.FieldStrategy, string(req.Strategy),
		"requested_irr", result.RequestedIRR,
		"added_irr", result.AddedIRR,
		"requested_normal", result.RequestedNormal,
		"added_normal", result.AddedNormal,
	)
	return result, nil
}

func (f *Filler) fillIRR(ctx context.Context, req Request, irrCount int) (int, error) {
	room, err := f.room(ctx, req.IRRQueue)
	if err != nil {
		return 0, err
	}
	count := irrCount
	if room < count {
		count = room
	}
	if count <= 0 {
		return 0, nil
	}

	candidates, err := f.store.EligibleItems(ctx, req.IRRQueue.ProjectID, true, 0)
	if err != nil {
		return 0, fmt.Errorf("select irr candidates: %w", err)
	}
	ordering.Sort(candidates, req.Strategy)
	selected := ordering.IDs(candidates)
	if len(selected) > count {
		selected = selected[:count]
	}
	if len(selected) == 0 {
		return 0, nil
	}

	if err := f.store.AddMembers(ctx, req.IRRQueue.ID, selected); err != nil {
		return 0, fmt.Errorf("insert irr membership: %w", err)
	}
	if err := f.store.SetIRRFlags(ctx, selected); err != nil {
		return 0, fmt.Errorf("flag irr items: %w", err)
	}
	if err := f.sync.Sync(ctx, req.IRRQueue.ID, req.Strategy); err != nil {
		return 0, fmt.Errorf("sync irr queue: %w", err)
	}
	return len(selected), nil
}

func (f *Filler) fillPrimary(ctx context.Context, req Request, nonIRRCount int) (int, error) {
	room, err := f.room(ctx, req.Queue)
	if err != nil {
		return 0, err
	}
	count := room
	if req.IRRQueue != nil && nonIRRCount < room {
		count = nonIRRCount
	}
	if count <= 0 {
		return 0, nil
	}

	// Eligibility recomputed here: items the IRR phase just claimed are
	// members now and drop out of the candidate set.
	candidates, err := f.store.EligibleItems(ctx, req.Queue.ProjectID, false, 0)
	if err != nil {
		return 0, fmt.Errorf("select candidates: %w", err)
	}
	ordering.Sort(candidates, req.Strategy)
	selected := ordering.IDs(candidates)
	if len(selected) > count {
		selected = selected[:count]
	}
	if len(selected) == 0 {
		return 0, nil
	}

	if err := f.store.AddMembers(ctx, req.Queue.ID, selected); err != nil {
		return 0, fmt.Errorf("insert membership: %w", err)
	}
	if err := f.sync.Sync(ctx, req.Queue.ID, req.Strategy); err != nil {
		return 0, fmt.Errorf("sync queue: %w", err)
	}
	return len(selected), nil
}

// room returns how many more items a queue can hold. A zero length means
// unbounded (the admin inbox).
func (f *Filler) room(ctx context.Context, queue *store.Queue) (int, error) {
	if queue.Length <= 0 {
		return int(math.MaxInt32), nil
	}
	current, err := f.store.MemberCount(ctx, queue.ID)
	if err != nil {
		return 0, fmt.Errorf("count members for queue %d: %w", queue.ID, err)
	}
	room := queue.Length - current
	if room < 0 {
		room = 0
	}
	return room, nil
}
