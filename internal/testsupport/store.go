package testsupport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/RTIInternational/SMART-sub000/internal/config"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewProject creates a project for tests using the config defaults plus the
// given name, owner, and label names.
func NewProject(t testing.TB, st *store.Store, cfg *config.Config, name, owner string, labelNames ...string) (*store.Project, []store.Label) {
	t.Helper()

	project, err := st.CreateProject(context.Background(), store.Project{
		Name:       name,
		Owner:      owner,
		BatchSize:  cfg.ProjectDefaults.BatchSize,
		IRRPercent: cfg.ProjectDefaults.IRRPercent,
		RaterCount: cfg.ProjectDefaults.RaterCount,
		Ordering:   cfg.ProjectDefaults.Ordering,
		Classifier: cfg.ProjectDefaults.Classifier,
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	labels := make([]store.Label, 0, len(labelNames))
	for _, labelName := range labelNames {
		label, err := st.CreateLabel(context.Background(), project.ID, labelName)
		if err != nil {
			t.Fatalf("CreateLabel %s: %v", labelName, err)
		}
		labels = append(labels, *label)
	}
	return project, labels
}

// seedSequence keeps generated item texts unique across calls; repeated
// seeding of one project must not collide on the content hash index.
var seedSequence atomic.Int64

// SeedItems inserts count generated items into a project and returns them.
func SeedItems(t testing.TB, st *store.Store, projectID int64, count int) []*store.Item {
	t.Helper()

	items := make([]*store.Item, 0, count)
	for i := 0; i < count; i++ {
		item, err := st.CreateItem(context.Background(), projectID, fmt.Sprintf("sample text %d", seedSequence.Add(1)))
		if err != nil {
			t.Fatalf("CreateItem %d: %v", i, err)
		}
		items = append(items, item)
	}
	return items
}
