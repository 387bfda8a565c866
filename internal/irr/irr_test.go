package irr_test

import (
	"context"
	"errors"
	"testing"

	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/config"
	"github.com/RTIInternational/SMART-sub000/internal/irr"
	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
	"github.com/RTIInternational/SMART-sub000/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	store   *store.Store
	cache   *cache.Store
	engine  *irr.Engine
	project *store.Project
	labels  []store.Label
	irrQ    *store.Queue
	adminQ  *store.Queue
	set     *store.TrainingSet
}

// newFixture builds a two-rater project with one flagged IRR item per call
// to addItem.
func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithProjectDefaults(30, 100, 2, "random"))
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, labels := testsupport.NewProject(t, st, cfg, name, "owner", "yes", "no")
	irrQ, err := st.ProjectQueue(ctx, project.ID, store.KindIRR)
	if err != nil {
		t.Fatalf("ProjectQueue irr: %v", err)
	}
	adminQ, err := st.ProjectQueue(ctx, project.ID, store.KindAdmin)
	if err != nil {
		t.Fatalf("ProjectQueue admin: %v", err)
	}
	set, err := st.CurrentTrainingSet(ctx, project.ID)
	if err != nil {
		t.Fatalf("CurrentTrainingSet: %v", err)
	}

	c := cache.New()
	return &fixture{
		cfg:     cfg,
		store:   st,
		cache:   c,
		engine:  irr.New(st, c, nil),
		project: project,
		labels:  labels,
		irrQ:    irrQ,
		adminQ:  adminQ,
		set:     set,
	}
}

func (f *fixture) addItem(t *testing.T, text string) *store.Item {
	t.Helper()
	ctx := context.Background()
	item, err := f.store.CreateItem(ctx, f.project.ID, text)
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if err := f.store.SetIRRFlags(ctx, []int64{item.ID}); err != nil {
		t.Fatalf("SetIRRFlags: %v", err)
	}
	if err := f.store.AddMembers(ctx, f.irrQ.ID, []int64{item.ID}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	f.cache.SAdd(cache.SetKey(f.irrQ.ID), item.ID)
	f.cache.PushBack(cache.QueueKey(f.irrQ.ID), item.ID)
	return item
}

func (f *fixture) assign(t *testing.T, itemID int64, annotator string) {
	t.Helper()
	if _, err := f.store.CreateAssignment(context.Background(), annotator, itemID, f.irrQ.ID); err != nil {
		t.Fatalf("CreateAssignment %s: %v", annotator, err)
	}
}

func TestAgreementSynthesizesOwnerLabel(t *testing.T) {
	f := newFixture(t, "agree")
	ctx := context.Background()
	item := f.addItem(t, "both say yes")
	f.assign(t, item.ID, "alice")
	f.assign(t, item.ID, "bob")

	yes := f.labels[0].ID
	if err := f.engine.RecordRating(ctx, item.ID, "alice", yes, f.set.ID, 100); err != nil {
		t.Fatalf("alice rating: %v", err)
	}
	tally, err := f.engine.TallyFor(ctx, item.ID)
	if err != nil {
		t.Fatalf("TallyFor: %v", err)
	}
	if tally.Complete() {
		t.Fatal("one of two ratings must not complete the tally")
	}

	if err := f.engine.RecordRating(ctx, item.ID, "bob", yes, f.set.ID, 120); err != nil {
		t.Fatalf("bob rating: %v", err)
	}

	labels, err := f.store.LabelsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("LabelsForItem: %v", err)
	}
	if len(labels) != 1 || labels[0].Annotator != f.project.Owner || labels[0].LabelID != yes {
		t.Fatalf("expected one synthesized owner label, got %+v", labels)
	}

	got, err := f.store.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.IRRFlag {
		t.Fatal("irr flag must clear on agreement")
	}
	queue, err := f.store.QueueForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("QueueForItem: %v", err)
	}
	if queue != nil {
		t.Fatalf("expected item out of all queues, got queue %d", queue.ID)
	}
	if f.cache.SContains(cache.SetKey(f.irrQ.ID), item.ID) {
		t.Fatal("item still tracked in irr queue set")
	}

	history, err := f.store.IRRHistory(ctx, item.ID)
	if err != nil {
		t.Fatalf("IRRHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected both ratings archived, got %d", len(history))
	}
}

func TestDisagreementRoutesToAdminQueue(t *testing.T) {
	f := newFixture(t, "disagree")
	ctx := context.Background()
	item := f.addItem(t, "split decision")
	f.assign(t, item.ID, "alice")
	f.assign(t, item.ID, "bob")

	if err := f.engine.RecordRating(ctx, item.ID, "alice", f.labels[0].ID, f.set.ID, 100); err != nil {
		t.Fatalf("alice rating: %v", err)
	}
	if err := f.engine.RecordRating(ctx, item.ID, "bob", f.labels[1].ID, f.set.ID, 90); err != nil {
		t.Fatalf("bob rating: %v", err)
	}

	queue, err := f.store.QueueForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("QueueForItem: %v", err)
	}
	if queue == nil || queue.ID != f.adminQ.ID {
		t.Fatalf("expected item in admin queue, got %+v", queue)
	}

	// Pending ratings were archived, not kept as data labels.
	labels, err := f.store.LabelsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("LabelsForItem: %v", err)
	}
	if len(labels) != 0 {
		t.Fatalf("expected no pending labels after archive, got %d", len(labels))
	}

	got, _ := f.store.GetItem(ctx, item.ID)
	if !got.IRRFlag {
		t.Fatal("irr flag must stay set until an admin adjudicates")
	}
	if !f.cache.SContains(cache.SetKey(f.adminQ.ID), item.ID) {
		t.Fatal("item missing from admin queue set")
	}
}

func TestSkipForcesDisagreement(t *testing.T) {
	f := newFixture(t, "skipres")
	ctx := context.Background()
	item := f.addItem(t, "one skip")
	f.assign(t, item.ID, "alice")
	f.assign(t, item.ID, "bob")

	if err := f.engine.RecordRating(ctx, item.ID, "alice", f.labels[0].ID, f.set.ID, 80); err != nil {
		t.Fatalf("alice rating: %v", err)
	}
	if err := f.engine.RecordSkip(ctx, item.ID, "bob"); err != nil {
		t.Fatalf("bob skip: %v", err)
	}

	queue, err := f.store.QueueForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("QueueForItem: %v", err)
	}
	if queue == nil || queue.ID != f.adminQ.ID {
		t.Fatalf("expected skipped item in admin queue, got %+v", queue)
	}
}

func TestLateRaterAppendsHistoryOnly(t *testing.T) {
	f := newFixture(t, "late")
	ctx := context.Background()
	item := f.addItem(t, "third opinion")
	f.assign(t, item.ID, "alice")
	f.assign(t, item.ID, "bob")

	yes := f.labels[0].ID
	if err := f.engine.RecordRating(ctx, item.ID, "alice", yes, f.set.ID, 100); err != nil {
		t.Fatalf("alice rating: %v", err)
	}
	if err := f.engine.RecordRating(ctx, item.ID, "bob", yes, f.set.ID, 110); err != nil {
		t.Fatalf("bob rating: %v", err)
	}

	// carol's rating arrives after resolution.
	if err := f.engine.RecordRating(ctx, item.ID, "carol", yes, f.set.ID, 130); err != nil {
		t.Fatalf("carol rating: %v", err)
	}

	count, err := f.store.IRRHistoryCount(ctx, item.ID)
	if err != nil {
		t.Fatalf("IRRHistoryCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 history rows, got %d", count)
	}
	labels, _ := f.store.LabelsForItem(ctx, item.ID)
	if len(labels) != 1 {
		t.Fatalf("late rating must not add a pending label, got %d", len(labels))
	}
}

func TestPercentAgreement(t *testing.T) {
	f := newFixture(t, "percent")
	ctx := context.Background()

	if _, err := f.engine.PercentAgreement(ctx, f.project.ID); !errors.Is(err, services.ErrNotEnoughData) {
		t.Fatalf("expected ErrNotEnoughData with no history, got %v", err)
	}

	agreeItem := f.addItem(t, "unanimous")
	f.assign(t, agreeItem.ID, "alice")
	f.assign(t, agreeItem.ID, "bob")
	if err := f.engine.RecordRating(ctx, agreeItem.ID, "alice", f.labels[0].ID, f.set.ID, 50); err != nil {
		t.Fatalf("alice rating: %v", err)
	}
	if err := f.engine.RecordRating(ctx, agreeItem.ID, "bob", f.labels[0].ID, f.set.ID, 60); err != nil {
		t.Fatalf("bob rating: %v", err)
	}

	disagreeItem := f.addItem(t, "contested")
	f.assign(t, disagreeItem.ID, "alice")
	f.assign(t, disagreeItem.ID, "bob")
	if err := f.engine.RecordRating(ctx, disagreeItem.ID, "alice", f.labels[0].ID, f.set.ID, 50); err != nil {
		t.Fatalf("alice rating: %v", err)
	}
	if err := f.engine.RecordRating(ctx, disagreeItem.ID, "bob", f.labels[1].ID, f.set.ID, 60); err != nil {
		t.Fatalf("bob rating: %v", err)
	}

	got, err := f.engine.PercentAgreement(ctx, f.project.ID)
	if err != nil {
		t.Fatalf("PercentAgreement: %v", err)
	}
	if got != 50 {
		t.Fatalf("expected 50%% agreement, got %v", got)
	}
}
