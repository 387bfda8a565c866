// Package irr collects ratings for inter-rater-reliability items and
// resolves them once every required rater has weighed in: unanimous ratings
// become the project owner's authoritative label, anything else goes to the
// admin queue for adjudication.
package irr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// Engine runs the consensus state machine for IRR items.
type Engine struct {
	store  *store.Store
	cache  *cache.Store
	logger *slog.Logger
}

// New constructs an Engine.
func New(st *store.Store, c *cache.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:  st,
		cache:  c,
		logger: logger.With(logging.FieldComponent, "irr"),
	}
}

// Tally is the current consensus state of one IRR item.
type Tally struct {
	Ratings  int // pending data_labels from raters
	Skips    int // null-label history rows
	Required int // the project's rater count
}

// Complete reports whether enough raters have responded to resolve.
func (t Tally) Complete() bool {
	return t.Ratings+t.Skips >= t.Required
}

// RecordRating stores one rater's label for an IRR item and resolves the
// item if this rating completes the required count. Ratings arriving after
// resolution are appended to history only.
func (e *Engine) RecordRating(ctx context.Context, itemID int64, annotator string, labelID, trainingSetID, elapsedMS int64) error {
	item, project, err := e.load(ctx, itemID)
	if err != nil {
		return err
	}

	resolved, err := e.alreadyResolved(ctx, item, project)
	if err != nil {
		return err
	}
	if resolved {
		e.logger.Debug("late rating appended to history",
			logging.FieldItemID, itemID,
			logging.FieldAnnotator, annotator,
		)
		return e.store.RecordIRRHistoryOnly(ctx, itemID, annotator, &labelID)
	}

	if err := e.store.RecordIRRRating(ctx, itemID, annotator, labelID, trainingSetID, elapsedMS); err != nil {
		return err
	}
	return e.maybeResolve(ctx, item, project)
}

// RecordSkip stores a rater's refusal. A skip guarantees the item cannot
// reach unanimity, so a completing skip always routes to the admin queue.
func (e *Engine) RecordSkip(ctx context.Context, itemID int64, annotator string) error {
	item, project, err := e.load(ctx, itemID)
	if err != nil {
		return err
	}

	resolved, err := e.alreadyResolved(ctx, item, project)
	if err != nil {
		return err
	}
	if resolved {
		return e.store.RecordIRRHistoryOnly(ctx, itemID, annotator, nil)
	}

	if err := e.store.RecordIRRSkip(ctx, itemID, annotator); err != nil {
		return err
	}
	return e.maybeResolve(ctx, item, project)
}

// TallyFor reports how many responses an IRR item has collected so far.
func (e *Engine) TallyFor(ctx context.Context, itemID int64) (Tally, error) {
	_, project, err := e.load(ctx, itemID)
	if err != nil {
		return Tally{}, err
	}
	labels, err := e.store.LabelsForItem(ctx, itemID)
	if err != nil {
		return Tally{}, err
	}
	skips, err := e.store.IRRSkipCount(ctx, itemID)
	if err != nil {
		return Tally{}, err
	}
	return Tally{Ratings: len(labels), Skips: skips, Required: project.RaterCount}, nil
}

func (e *Engine) load(ctx context.Context, itemID int64) (*store.Item, *store.Project, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "irr", "load item", fmt.Sprintf("item %d not found", itemID), nil)
	}
	project, err := e.store.GetProject(ctx, item.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if project == nil {
		return nil, nil, services.Wrap(services.ErrNotFound, "irr", "load project", fmt.Sprintf("project %d not found", item.ProjectID), nil)
	}
	return item, project, nil
}

// alreadyResolved checks whether consensus has run for this item. The
// archive transaction moves every pending rating into history, so a history
// count at or past the rater requirement means resolution happened.
func (e *Engine) alreadyResolved(ctx context.Context, item *store.Item, project *store.Project) (bool, error) {
	count, err := e.store.IRRHistoryCount(ctx, item.ID)
	if err != nil {
		return false, err
	}
	return count >= project.RaterCount, nil
}

func (e *Engine) maybeResolve(ctx context.Context, item *store.Item, project *store.Project) error {
	labels, err := e.store.LabelsForItem(ctx, item.ID)
	if err != nil {
		return err
	}
	skips, err := e.store.IRRSkipCount(ctx, item.ID)
	if err != nil {
		return err
	}
	tally := Tally{Ratings: len(labels), Skips: skips, Required: project.RaterCount}
	if !tally.Complete() {
		return nil
	}

	// Cache cleanup needs the queue before the store transaction removes
	// the membership row.
	source, err := e.store.QueueForItem(ctx, item.ID)
	if err != nil {
		return err
	}

	if agreedLabel, ok := unanimous(labels, skips); ok {
		return e.resolveAgree(ctx, item, project, source, agreedLabel)
	}
	return e.resolveDisagree(ctx, item, project, source)
}

// unanimous reports whether every rater chose the same label. Any skip
// breaks unanimity.
func unanimous(labels []store.DataLabel, skips int) (int64, bool) {
	if skips > 0 || len(labels) == 0 {
		return 0, false
	}
	first := labels[0].LabelID
	for _, label := range labels[1:] {
		if label.LabelID != first {
			return 0, false
		}
	}
	return first, true
}

func (e *Engine) resolveAgree(ctx context.Context, item *store.Item, project *store.Project, source *store.Queue, labelID int64) error {
	trainingSet, err := e.store.CurrentTrainingSet(ctx, project.ID)
	if err != nil {
		return err
	}
	if err := e.store.ResolveIRRAgree(ctx, item.ID, project.Owner, labelID, trainingSet.ID); err != nil {
		return err
	}
	if source != nil {
		e.cache.RemoveFromList(cache.QueueKey(source.ID), item.ID)
		e.cache.SRem(cache.SetKey(source.ID), item.ID)
	}
	e.logger.Info("irr item resolved by agreement",
		logging.FieldProjectID, project.ID,
		logging.FieldItemID, item.ID,
		"label_id", labelID,
	)
	return nil
}

func (e *Engine) resolveDisagree(ctx context.Context, item *store.Item, project *store.Project, source *store.Queue) error {
	admin, err := e.store.ProjectQueue(ctx, project.ID, store.KindAdmin)
	if err != nil {
		return err
	}
	if err := e.store.ResolveIRRDisagree(ctx, item.ID, admin.ID); err != nil {
		return err
	}
	if source != nil {
		e.cache.RemoveFromList(cache.QueueKey(source.ID), item.ID)
		e.cache.SRem(cache.SetKey(source.ID), item.ID)
	}
	e.cache.SAdd(cache.SetKey(admin.ID), item.ID)
	e.logger.Info("irr item routed to admin for adjudication",
		logging.FieldProjectID, project.ID,
		logging.FieldItemID, item.ID,
		logging.FieldQueueID, admin.ID,
	)
	return nil
}

// PercentAgreement computes the share of fully rated IRR items whose raters
// were unanimous, from the append-only history. Items with fewer than two
// responses are excluded; with no eligible items the measure is undefined
// and ErrNotEnoughData is returned.
func (e *Engine) PercentAgreement(ctx context.Context, projectID int64) (float64, error) {
	entries, err := e.store.ProjectIRRHistory(ctx, projectID)
	if err != nil {
		return 0, err
	}

	byItem := make(map[int64][]store.IRREntry)
	for _, entry := range entries {
		byItem[entry.ItemID] = append(byItem[entry.ItemID], entry)
	}

	eligible, agreed := 0, 0
	for _, itemEntries := range byItem {
		if len(itemEntries) < 2 {
			continue
		}
		eligible++
		if historyUnanimous(itemEntries) {
			agreed++
		}
	}
	if eligible == 0 {
		return 0, services.Wrap(services.ErrNotEnoughData, "irr", "percent agreement", "no items with two or more ratings", nil)
	}
	return float64(agreed) / float64(eligible) * 100, nil
}

func historyUnanimous(entries []store.IRREntry) bool {
	var first *int64
	for _, entry := range entries {
		if entry.LabelID == nil {
			return false
		}
		if first == nil {
			first = entry.LabelID
			continue
		}
		if *entry.LabelID != *first {
			return false
		}
	}
	return true
}
