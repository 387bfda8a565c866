package assign_test

import (
	"context"
	"errors"
	"testing"

	"github.com/RTIInternational/SMART-sub000/internal/assign"
	"github.com/RTIInternational/SMART-sub000/internal/cache"
	"github.com/RTIInternational/SMART-sub000/internal/queuesync"
	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
	"github.com/RTIInternational/SMART-sub000/internal/testsupport"
)

type recordingSkipper struct {
	itemIDs    []int64
	annotators []string
}

func (r *recordingSkipper) RecordSkip(_ context.Context, itemID int64, annotator string) error {
	r.itemIDs = append(r.itemIDs, itemID)
	r.annotators = append(r.annotators, annotator)
	return nil
}

func seedQueue(t *testing.T, st *store.Store, c *cache.Store, queueID int64, itemIDs []int64) {
	t.Helper()
	if err := st.AddMembers(context.Background(), queueID, itemIDs); err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	sync := queuesync.New(st, c, "", nil)
	if err := sync.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
}

func TestAssignPopsOwnedQueueBeforeProjectWide(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "priority", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 2)
	shared, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	owned, err := st.CreateQueue(ctx, project.ID, store.KindNormal, "alice", 10)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}

	if err := st.AddMembers(ctx, shared.ID, []int64{items[0].ID}); err != nil {
		t.Fatalf("AddMembers shared: %v", err)
	}
	seedQueue(t, st, c, owned.ID, []int64{items[1].ID})

	mgr := assign.New(st, c, nil, nil)
	assignment, err := mgr.Assign(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if assignment == nil || assignment.ItemID != items[1].ID {
		t.Fatalf("expected item from owned queue, got %+v", assignment)
	}
}

func TestAssignNeverHandsOneItemToTwoAnnotators(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "exclusive", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 2)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	seedQueue(t, st, c, normal.ID, []int64{items[0].ID, items[1].ID})

	mgr := assign.New(st, c, nil, nil)
	first, err := mgr.Assign(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("Assign alice: %v", err)
	}
	second, err := mgr.Assign(ctx, project.ID, "bob")
	if err != nil {
		t.Fatalf("Assign bob: %v", err)
	}
	if first == nil || second == nil {
		t.Fatal("expected both annotators to receive items")
	}
	if first.ItemID == second.ItemID {
		t.Fatalf("item %d handed to both annotators", first.ItemID)
	}

	third, err := mgr.Assign(ctx, project.ID, "carol")
	if err != nil {
		t.Fatalf("Assign carol: %v", err)
	}
	if third != nil {
		t.Fatalf("expected empty queue for carol, got %+v", third)
	}
}

func TestAssignPrefersIRRAndLeavesItemForOtherRaters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "irrpref", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 2)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	irr, _ := st.ProjectQueue(ctx, project.ID, store.KindIRR)

	if err := st.SetIRRFlags(ctx, []int64{items[0].ID}); err != nil {
		t.Fatalf("SetIRRFlags: %v", err)
	}
	if err := st.AddMembers(ctx, irr.ID, []int64{items[0].ID}); err != nil {
		t.Fatalf("AddMembers irr: %v", err)
	}
	seedQueue(t, st, c, normal.ID, []int64{items[1].ID})

	mgr := assign.New(st, c, nil, nil)
	alice, err := mgr.Assign(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("Assign alice: %v", err)
	}
	if alice == nil || alice.ItemID != items[0].ID {
		t.Fatalf("expected alice to receive the irr item, got %+v", alice)
	}

	// The irr item stays in the list so bob can rate it too.
	bob, err := mgr.Assign(ctx, project.ID, "bob")
	if err != nil {
		t.Fatalf("Assign bob: %v", err)
	}
	if bob == nil || bob.ItemID != items[0].ID {
		t.Fatalf("expected bob to receive the same irr item, got %+v", bob)
	}

	// Alice has seen the irr item and falls through to the normal queue.
	aliceAgain, err := mgr.Assign(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("second Assign alice: %v", err)
	}
	if aliceAgain == nil || aliceAgain.ItemID != items[1].ID {
		t.Fatalf("expected alice to fall through to normal queue, got %+v", aliceAgain)
	}
}

func TestUnassignReturnsItemToFrontOfQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "unassign", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 2)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	seedQueue(t, st, c, normal.ID, []int64{items[0].ID, items[1].ID})

	mgr := assign.New(st, c, nil, nil)
	assignment, err := mgr.Assign(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := mgr.Unassign(ctx, assignment.ItemID, "alice"); err != nil {
		t.Fatalf("Unassign: %v", err)
	}

	members := c.ListMembers(cache.QueueKey(normal.ID))
	if len(members) != 2 || members[0] != assignment.ItemID {
		t.Fatalf("expected unassigned item at the front, got %v", members)
	}

	// A second release of the same item is stale.
	err = mgr.Unassign(ctx, assignment.ItemID, "alice")
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale unassign, got %v", err)
	}
}

func TestSkipMovesItemToAdminQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "skip", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	admin, _ := st.ProjectQueue(ctx, project.ID, store.KindAdmin)
	seedQueue(t, st, c, normal.ID, []int64{items[0].ID})

	mgr := assign.New(st, c, nil, nil)
	assignment, err := mgr.Assign(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := mgr.Skip(ctx, assignment.ItemID, "alice"); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	queue, err := st.QueueForItem(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("QueueForItem: %v", err)
	}
	if queue == nil || queue.ID != admin.ID {
		t.Fatalf("expected item in admin queue, got %+v", queue)
	}
	if c.SContains(cache.SetKey(normal.ID), items[0].ID) {
		t.Fatal("item still tracked in source queue set")
	}
	if !c.SContains(cache.SetKey(admin.ID), items[0].ID) {
		t.Fatal("item missing from admin queue set")
	}
}

func TestSkipRoutesIRRItemsToSkipper(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "irrskip", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	irr, _ := st.ProjectQueue(ctx, project.ID, store.KindIRR)
	if err := st.SetIRRFlags(ctx, []int64{items[0].ID}); err != nil {
		t.Fatalf("SetIRRFlags: %v", err)
	}
	seedQueue(t, st, c, irr.ID, []int64{items[0].ID})

	skipper := &recordingSkipper{}
	mgr := assign.New(st, c, skipper, nil)
	if _, err := mgr.Assign(ctx, project.ID, "alice"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := mgr.Skip(ctx, items[0].ID, "alice"); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if len(skipper.itemIDs) != 1 || skipper.itemIDs[0] != items[0].ID || skipper.annotators[0] != "alice" {
		t.Fatalf("expected skip delegated once for alice, got %+v %+v", skipper.itemIDs, skipper.annotators)
	}
}

func TestGetAssignmentsReturnsExistingBeforeAssigningFresh(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "batchget", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 3)
	normal, _ := st.ProjectQueue(ctx, project.ID, store.KindNormal)
	seedQueue(t, st, c, normal.ID, []int64{items[0].ID, items[1].ID, items[2].ID})

	mgr := assign.New(st, c, nil, nil)
	held, err := mgr.Assign(ctx, project.ID, "alice")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	got, err := mgr.GetAssignments(ctx, project.ID, "alice", 3)
	if err != nil {
		t.Fatalf("GetAssignments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(got))
	}
	if got[0].ItemID != held.ItemID {
		t.Fatalf("expected held item first, got %d", got[0].ItemID)
	}

	again, err := mgr.GetAssignments(ctx, project.ID, "alice", 5)
	if err != nil {
		t.Fatalf("second GetAssignments: %v", err)
	}
	if len(again) != 3 {
		t.Fatalf("expected same 3 assignments on refetch, got %d", len(again))
	}
}

func TestSkipRoutesResolvedItemsThroughConsensus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "resolvedskip", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	irrQ, _ := st.ProjectQueue(ctx, project.ID, store.KindIRR)
	admin, _ := st.ProjectQueue(ctx, project.ID, store.KindAdmin)

	// Consensus already ran: history rows exist and the irr flag is clear,
	// but carol still holds a claim from before resolution.
	for _, rater := range []string{"alice", "bob"} {
		if err := st.RecordIRRHistoryOnly(ctx, items[0].ID, rater, nil); err != nil {
			t.Fatalf("RecordIRRHistoryOnly %s: %v", rater, err)
		}
	}
	if _, err := st.CreateAssignment(ctx, "carol", items[0].ID, irrQ.ID); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	skipper := &recordingSkipper{}
	mgr := assign.New(st, c, skipper, nil)
	if err := mgr.Skip(ctx, items[0].ID, "carol"); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	if len(skipper.itemIDs) != 1 || skipper.itemIDs[0] != items[0].ID {
		t.Fatalf("expected skip delegated to the consensus handler, got %v", skipper.itemIDs)
	}
	if queue, _ := st.QueueForItem(ctx, items[0].ID); queue != nil {
		t.Fatalf("resolved item must not enter a queue, got queue %d", queue.ID)
	}
	if c.SContains(cache.SetKey(admin.ID), items[0].ID) {
		t.Fatal("resolved item must not be tracked in the admin set")
	}
}

func TestUnassignDoesNotRequeueResolvedItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	c := cache.New()

	project, _ := testsupport.NewProject(t, st, cfg, "resolvedunassign", "owner")
	items := testsupport.SeedItems(t, st, project.ID, 1)
	irrQ, _ := st.ProjectQueue(ctx, project.ID, store.KindIRR)

	for _, rater := range []string{"alice", "bob"} {
		if err := st.RecordIRRHistoryOnly(ctx, items[0].ID, rater, nil); err != nil {
			t.Fatalf("RecordIRRHistoryOnly %s: %v", rater, err)
		}
	}
	if _, err := st.CreateAssignment(ctx, "carol", items[0].ID, irrQ.ID); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	mgr := assign.New(st, c, nil, nil)
	if err := mgr.Unassign(ctx, items[0].ID, "carol"); err != nil {
		t.Fatalf("Unassign: %v", err)
	}

	if n := c.ListLen(cache.QueueKey(irrQ.ID)); n != 0 {
		t.Fatalf("resolved item pushed back into a queue list, %d entries", n)
	}
	if a, _ := st.AssignmentForItem(ctx, items[0].ID, "carol"); a != nil {
		t.Fatal("expected carol's claim released")
	}
}
