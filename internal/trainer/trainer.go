// Package trainer decides when a project has labeled enough items to start
// a model run, launches the run asynchronously, and folds its uncertainty
// scores back into queue refills.
package trainer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/fill"
	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/ordering"
	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// Trainer runs a model over a project's labeled data and scores the
// remaining unlabeled items.
type Trainer interface {
	// Train fits a model on everything labeled so far and returns a handle
	// for retrieving its output.
	Train(ctx context.Context, projectID int64) (string, error)
	// Predict returns per-item uncertainty scores from a finished run.
	Predict(ctx context.Context, projectID int64, handle string) ([]store.Uncertainty, error)
}

// Decision reports what a trigger check did.
type Decision string

const (
	// DecisionNone means the current batch is not fully labeled yet.
	DecisionNone Decision = "none"
	// DecisionAlreadyRunning means a training job already holds the
	// current set's handle.
	DecisionAlreadyRunning Decision = "already running"
	// DecisionRandomFill means training was skipped, either because some
	// labels are still unused or no classifier is configured, so the
	// queue refilled randomly instead.
	DecisionRandomFill Decision = "random fill"
	// DecisionQueueRefill means the annotator ran out of reachable work
	// mid-batch and the queue refilled to keep them busy.
	DecisionQueueRefill Decision = "queue refill"
	// DecisionModelRunning means a training job was launched.
	DecisionModelRunning Decision = "model running"
)

// Trigger watches label progress and drives the train-predict-refill cycle.
type Trigger struct {
	store   *store.Store
	cache   *cache.Store
	filler  *fill.Filler
	trainer Trainer
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New constructs a Trigger.
func New(st *store.Store, c *cache.Store, filler *fill.Filler, trainer Trainer, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Trigger{
		store:   st,
		cache:   c,
		filler:  filler,
		trainer: trainer,
		logger:  logger.With(logging.FieldComponent, "trainer"),
	}
}

// Wait blocks until every launched training job has finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// CheckAndTrigger inspects the current training set after an annotation and
// decides what to do. A set whose handle is already claimed reports the run
// in flight. A fully labeled batch either refills randomly, when some labels
// have no examples yet or the project has no classifier, or launches an
// asynchronous model run; the handle is claimed with a conditional write so
// concurrent checks launch at most one run. Mid-batch, an annotator who has
// exhausted every queue they can reach gets a refill instead of going idle.
// The annotator may be empty for checks not tied to a person.
func (t *Trigger) CheckAndTrigger(ctx context.Context, projectID int64, annotator string) (Decision, error) {
	project, err := t.store.GetProject(ctx, projectID)
	if err != nil {
		return DecisionNone, err
	}
	if project == nil {
		return DecisionNone, services.Wrap(services.ErrNotFound, "trainer", "check", "project not found", nil)
	}
	set, err := t.store.CurrentTrainingSet(ctx, projectID)
	if err != nil {
		return DecisionNone, err
	}
	if set.JobHandle != "" {
		return DecisionAlreadyRunning, nil
	}

	labeled, err := t.store.LabeledCount(ctx, set.ID)
	if err != nil {
		return DecisionNone, err
	}
	if labeled >= project.BatchSize {
		return t.batchComplete(ctx, project, set)
	}

	if annotator == "" {
		return DecisionNone, nil
	}
	reachable, err := t.reachableWork(ctx, project, annotator)
	if err != nil {
		return DecisionNone, err
	}
	if reachable {
		return DecisionNone, nil
	}
	strategy, err := t.usableStrategy(ctx, project)
	if err != nil {
		return DecisionNone, err
	}
	if err := t.refill(ctx, project, strategy); err != nil {
		return DecisionQueueRefill, err
	}
	t.logger.Info("queue refilled for idle annotator",
		logging.FieldProjectID, projectID,
		logging.FieldAnnotator, annotator,
	)
	return DecisionQueueRefill, nil
}

// batchComplete handles a fully labeled batch: refill randomly when a model
// cannot be trained yet, otherwise claim the handle and launch the run.
func (t *Trigger) batchComplete(ctx context.Context, project *store.Project, set *store.TrainingSet) (Decision, error) {
	distinct, err := t.store.DistinctLabelsUsed(ctx, set.ID)
	if err != nil {
		return DecisionNone, err
	}
	labels, err := t.store.Labels(ctx, project.ID)
	if err != nil {
		return DecisionNone, err
	}
	if distinct < len(labels) || project.Classifier == "" {
		// A model fit on a subset of the label space is useless, and a
		// project without a classifier never trains at all; feed random
		// items either way.
		if err := t.refill(ctx, project, ordering.Random); err != nil {
			return DecisionRandomFill, err
		}
		return DecisionRandomFill, nil
	}

	strategy, err := ordering.Parse(project.Ordering)
	if err != nil {
		return DecisionNone, err
	}
	handle := uuid.NewString()
	if err := t.store.SetJobHandle(ctx, set.ID, handle); err != nil {
		if errors.Is(err, services.ErrConflict) {
			return DecisionAlreadyRunning, nil
		}
		return DecisionNone, err
	}

	t.logger.Info("training job launched",
		logging.FieldProjectID, project.ID,
		"training_set", set.SetNumber,
		"job_handle", handle,
	)
	t.wg.Add(1)
	go t.runJob(context.WithoutCancel(ctx), project, set, strategy)
	return DecisionModelRunning, nil
}

// reachableWork reports whether the annotator still has anything to do:
// an assignment already out under their name, a poppable normal queue, or
// an IRR item they have not yet rated.
func (t *Trigger) reachableWork(ctx context.Context, project *store.Project, annotator string) (bool, error) {
	existing, err := t.store.AssignmentsFor(ctx, annotator, project.ID, 1)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return true, nil
	}
	normal, err := t.store.CandidateQueues(ctx, project.ID, store.KindNormal, annotator)
	if err != nil {
		return false, err
	}
	for _, q := range normal {
		if t.cache.ListLen(cache.QueueKey(q.ID)) > 0 {
			return true, nil
		}
	}
	if project.IRRPercent <= 0 {
		return false, nil
	}
	seen, err := t.store.ItemsSeenByAnnotator(ctx, project.ID, annotator)
	if err != nil {
		return false, err
	}
	irrQueues, err := t.store.CandidateQueues(ctx, project.ID, store.KindIRR, annotator)
	if err != nil {
		return false, err
	}
	for _, q := range irrQueues {
		for _, id := range t.cache.ListMembers(cache.QueueKey(q.ID)) {
			if _, ok := seen[id]; !ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// usableStrategy returns the project's configured ordering, falling back to
// random while no model run has produced scores to order by.
func (t *Trigger) usableStrategy(ctx context.Context, project *store.Project) (ordering.Strategy, error) {
	strategy, err := ordering.Parse(project.Ordering)
	if err != nil {
		return ordering.Random, err
	}
	if !strategy.RequiresModel() {
		return strategy, nil
	}
	scored, err := t.store.HasUncertaintyScores(ctx, project.ID)
	if err != nil {
		return ordering.Random, err
	}
	if !scored {
		return ordering.Random, nil
	}
	return strategy, nil
}

// runJob executes one train-predict-refill cycle in the background.
func (t *Trigger) runJob(ctx context.Context, project *store.Project, set *store.TrainingSet, strategy ordering.Strategy) {
	defer t.wg.Done()

	modelHandle, err := t.trainer.Train(ctx, project.ID)
	if err != nil {
		t.failJob(ctx, project, set, "train", err)
		return
	}
	scores, err := t.trainer.Predict(ctx, project.ID, modelHandle)
	if err != nil {
		t.failJob(ctx, project, set, "predict", err)
		return
	}
	if err := t.store.UpsertUncertainty(ctx, scores); err != nil {
		t.failJob(ctx, project, set, "store scores", err)
		return
	}
	if err := t.advance(ctx, project, set); err != nil {
		t.failJob(ctx, project, set, "advance", err)
		return
	}
	if err := t.refill(ctx, project, strategy); err != nil {
		t.logger.Error("refill after training failed",
			logging.FieldProjectID, project.ID,
			"error", err,
		)
		return
	}
	t.logger.Info("training job complete",
		logging.FieldProjectID, project.ID,
		"training_set", set.SetNumber,
		"scored_items", len(scores),
	)
}

// failJob logs the failure and releases the handle so a later check can
// retry the run.
func (t *Trigger) failJob(ctx context.Context, project *store.Project, set *store.TrainingSet, stage string, err error) {
	t.logger.Error("training job failed",
		logging.FieldProjectID, project.ID,
		"training_set", set.SetNumber,
		"stage", stage,
		"error", err,
	)
	if clearErr := t.store.ClearJobHandle(ctx, set.ID); clearErr != nil {
		t.logger.Error("release job handle failed",
			logging.FieldProjectID, project.ID,
			"error", clearErr,
		)
	}
}

// advance opens the next training set and resizes the queue to one batch
// per active coder plus one spare batch.
func (t *Trigger) advance(ctx context.Context, project *store.Project, set *store.TrainingSet) error {
	if _, err := t.store.CreateTrainingSet(ctx, project.ID, set.SetNumber+1); err != nil {
		return err
	}
	coders, err := t.store.CoderCount(ctx, project.ID)
	if err != nil {
		return err
	}
	queue, err := t.store.ProjectQueue(ctx, project.ID, store.KindNormal)
	if err != nil {
		return err
	}
	return t.store.SetQueueLength(ctx, queue.ID, project.BatchSize*(coders+1))
}

func (t *Trigger) refill(ctx context.Context, project *store.Project, strategy ordering.Strategy) error {
	queue, err := t.store.ProjectQueue(ctx, project.ID, store.KindNormal)
	if err != nil {
		return err
	}
	req := fill.Request{
		Queue:      queue,
		Strategy:   strategy,
		IRRPercent: project.IRRPercent,
		BatchSize:  project.BatchSize,
	}
	if project.IRRPercent > 0 {
		irrQueue, err := t.store.ProjectQueue(ctx, project.ID, store.KindIRR)
		if err != nil {
			return err
		}
		req.IRRQueue = irrQueue
	}
	_, err = t.filler.Fill(ctx, req)
	return err
}
