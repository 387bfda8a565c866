package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
	"github.com/RTIInternational/SMART-sub000/internal/testsupport"
)

func TestCreateProjectSeedsQueuesAndTrainingSet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, _ := testsupport.NewProject(t, st, cfg, "news", "owner", "pos", "neg")
	if project.ID == 0 {
		t.Fatal("expected project ID to be assigned")
	}

	for _, kind := range []store.QueueKind{store.KindNormal, store.KindAdmin, store.KindIRR} {
		queue, err := st.ProjectQueue(ctx, project.ID, kind)
		if err != nil {
			t.Fatalf("ProjectQueue(%s): %v", kind, err)
		}
		if queue.ProjectID != project.ID {
			t.Fatalf("queue %s bound to wrong project", kind)
		}
	}

	ts, err := st.CurrentTrainingSet(ctx, project.ID)
	if err != nil {
		t.Fatalf("CurrentTrainingSet: %v", err)
	}
	if ts.SetNumber != 0 || ts.JobHandle != "" {
		t.Fatalf("unexpected initial training set: %+v", ts)
	}

	labels, err := st.Labels(ctx, project.ID)
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	if len(labels) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(labels))
	}
}

func TestCreateItemRejectsDuplicateHash(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, _ := testsupport.NewProject(t, st, cfg, "dup", "owner")
	if _, err := st.CreateItem(ctx, project.ID, "same text"); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	_, err := st.CreateItem(ctx, project.ID, "same text")
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate item, got %v", err)
	}
}

func TestMembershipExclusivity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, _ := testsupport.NewProject(t, st, cfg, "exclusive", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	irr, _ := st.ProjectQueue(ctx, project.ID, store.KindIRR)

	if err := st.AddMembers(ctx, normal.ID, []int64{items[0].ID}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	err := st.AddMembers(ctx, irr.ID, []int64{items[0].ID})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict for second membership, got %v", err)
	}
}

func TestAssignmentUniquePerAnnotatorItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, _ := testsupport.NewProject(t, st, cfg, "assigned", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)

	if _, err := st.CreateAssignment(ctx, "alice", items[0].ID, normal.ID); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	_, err := st.CreateAssignment(ctx, "alice", items[0].ID, normal.ID)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate assignment, got %v", err)
	}

	// A second rater may hold the same IRR item concurrently.
	if _, err := st.CreateAssignment(ctx, "bob", items[0].ID, normal.ID); err != nil {
		t.Fatalf("CreateAssignment for second annotator: %v", err)
	}
}

func TestCommitLabelIsAtomic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, labels := testsupport.NewProject(t, st, cfg, "commit", "owner", "yes", "no")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	ts, _ := st.CurrentTrainingSet(ctx, project.ID)

	if err := st.AddMembers(ctx, normal.ID, []int64{items[0].ID}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if _, err := st.CreateAssignment(ctx, "alice", items[0].ID, normal.ID); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	if err := st.CommitLabel(ctx, items[0].ID, "alice", labels[0].ID, ts.ID, 1200); err != nil {
		t.Fatalf("CommitLabel: %v", err)
	}

	if queue, _ := st.QueueForItem(ctx, items[0].ID); queue != nil {
		t.Fatalf("expected membership deleted, item still in queue %d", queue.ID)
	}
	if a, _ := st.AssignmentForItem(ctx, items[0].ID, "alice"); a != nil {
		t.Fatal("expected assignment deleted")
	}
	committed, err := st.LabelsForItem(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("LabelsForItem: %v", err)
	}
	if len(committed) != 1 || committed[0].LabelID != labels[0].ID {
		t.Fatalf("unexpected labels: %+v", committed)
	}
}

func TestCommitLabelDuplicateIsConflict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, labels := testsupport.NewProject(t, st, cfg, "double", "owner", "yes")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	ts, _ := st.CurrentTrainingSet(ctx, project.ID)

	if err := st.AddMembers(ctx, normal.ID, []int64{items[0].ID}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if _, err := st.CreateAssignment(ctx, "alice", items[0].ID, normal.ID); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	if err := st.CommitLabel(ctx, items[0].ID, "alice", labels[0].ID, ts.ID, 0); err != nil {
		t.Fatalf("first CommitLabel: %v", err)
	}

	// Double-click race: second submission must be a conflict, not an
	// overwrite.
	err := st.CommitLabel(ctx, items[0].ID, "alice", labels[0].ID, ts.ID, 0)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate commit, got %v", err)
	}
}

func TestEligibleItemsExcludesQueuedAssignedRecycledLabeled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, labels := testsupport.NewProject(t, st, cfg, "eligible", "owner", "yes")
	items := testsupport.SeedItems(t, st, project.ID, 5)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	ts, _ := st.CurrentTrainingSet(ctx, project.ID)

	// items[0] queued, items[1] assigned, items[2] recycled, items[3] labeled.
	if err := st.AddMembers(ctx, normal.ID, []int64{items[0].ID}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if _, err := st.CreateAssignment(ctx, "alice", items[1].ID, normal.ID); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	if err := st.DiscardItem(ctx, items[2].ID, "bad text"); err != nil {
		t.Fatalf("DiscardItem: %v", err)
	}
	if err := st.AddMembers(ctx, normal.ID, []int64{items[3].ID}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if _, err := st.CreateAssignment(ctx, "alice", items[3].ID, normal.ID); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	if err := st.CommitLabel(ctx, items[3].ID, "alice", labels[0].ID, ts.ID, 0); err != nil {
		t.Fatalf("CommitLabel: %v", err)
	}

	candidates, err := st.EligibleItems(ctx, project.ID, false, 0)
	if err != nil {
		t.Fatalf("EligibleItems: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ItemID != items[4].ID {
		t.Fatalf("expected only item %d eligible, got %+v", items[4].ID, candidates)
	}
}

func TestSetJobHandleIsExactlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, _ := testsupport.NewProject(t, st, cfg, "handle", "owner")
	ts, _ := st.CurrentTrainingSet(ctx, project.ID)

	if err := st.SetJobHandle(ctx, ts.ID, "job-1"); err != nil {
		t.Fatalf("SetJobHandle: %v", err)
	}
	err := st.SetJobHandle(ctx, ts.ID, "job-2")
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict on second handle, got %v", err)
	}

	if err := st.ClearJobHandle(ctx, ts.ID); err != nil {
		t.Fatalf("ClearJobHandle: %v", err)
	}
	if err := st.SetJobHandle(ctx, ts.ID, "job-3"); err != nil {
		t.Fatalf("SetJobHandle after clear: %v", err)
	}
}

func TestDiscardAndRestoreItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	project, _ := testsupport.NewProject(t, st, cfg, "recycle", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	irr, _ := st.ProjectQueue(ctx, project.ID, store.KindIRR)

	if err := st.AddMembers(ctx, irr.ID, []int64{items[0].ID}); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if err := st.SetIRRFlags(ctx, []int64{items[0].ID}); err != nil {
		t.Fatalf("SetIRRFlags: %v", err)
	}
	if err := st.AppendIRR(ctx, items[0].ID, "alice", nil); err != nil {
		t.Fatalf("AppendIRR: %v", err)
	}

	if err := st.DiscardItem(ctx, items[0].ID, "admin discard"); err != nil {
		t.Fatalf("DiscardItem: %v", err)
	}
	recycled, err := st.IsRecycled(ctx, items[0].ID)
	if err != nil || !recycled {
		t.Fatalf("expected item recycled, got %v %v", recycled, err)
	}
	if queue, _ := st.QueueForItem(ctx, items[0].ID); queue != nil {
		t.Fatal("expected membership purged on discard")
	}
	count, _ := st.IRRHistoryCount(ctx, items[0].ID)
	if count != 0 {
		t.Fatalf("expected irr history purged, got %d rows", count)
	}
	item, _ := st.GetItem(ctx, items[0].ID)
	if item.IRRFlag {
		t.Fatal("expected irr flag cleared on discard")
	}

	if err := st.RestoreItem(ctx, items[0].ID); err != nil {
		t.Fatalf("RestoreItem: %v", err)
	}
	if err := st.RestoreItem(ctx, items[0].ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound restoring twice, got %v", err)
	}
}

func TestSchemaMismatchIsFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	// Pretend the database was created by a newer release.
	if err := st.DebugSetSchemaVersion(context.Background(), 999); err != nil {
		t.Fatalf("DebugSetSchemaVersion: %v", err)
	}
	st.Close()

	_, err := store.Open(cfg)
	if !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
