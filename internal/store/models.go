package store

import "time"

// QueueKind distinguishes the three queue roles a project owns.
type QueueKind string

const (
	// KindNormal is a capacity-bounded working set of unlabeled items.
	KindNormal QueueKind = "normal"
	// KindAdmin is the unbounded review inbox for skips and disagreements.
	KindAdmin QueueKind = "admin"
	// KindIRR is the capacity-bounded inter-rater-reliability working set.
	KindIRR QueueKind = "irr"
)

// Project holds the per-project annotation configuration read from the
// project-management collaborator.
type Project struct {
	ID         int64
	Name       string
	Owner      string
	BatchSize  int
	IRRPercent int
	RaterCount int
	Ordering   string
	Classifier string
	CreatedAt  time.Time
}

// Label is one of a project's defined labels.
type Label struct {
	ID        int64
	ProjectID int64
	Name      string
}

// Item is an immutable text record awaiting annotation.
type Item struct {
	ID        int64
	ProjectID int64
	Text      string
	Hash      string
	IRRFlag   bool
	CreatedAt time.Time
}

// Queue is a project's working set of queued items.
type Queue struct {
	ID        int64
	ProjectID int64
	Kind      QueueKind
	Annotator string // empty = project-wide
	Length    int
}

// Assignment records that an annotator is currently working on an item
// popped from a specific queue.
type Assignment struct {
	ID        int64
	Annotator string
	ItemID    int64
	QueueID   int64
	CreatedAt time.Time
}

// TrainingSet is the immutable generation counter grouping labels produced
// before a retraining cycle. A non-empty JobHandle means a training run is
// outstanding for this generation.
type TrainingSet struct {
	ID        int64
	ProjectID int64
	SetNumber int
	JobHandle string
	CreatedAt time.Time
}

// DataLabel is an annotator's committed label for an item.
type DataLabel struct {
	ID            int64
	ItemID        int64
	Annotator     string
	LabelID       int64
	TrainingSetID int64
	TimeToLabelMS int64
	CreatedAt     time.Time
}

// IRREntry is one append-only rating or skip recorded against an IRR item.
// A nil LabelID records a skip.
type IRREntry struct {
	ID        int64
	ItemID    int64
	Annotator string
	LabelID   *int64
	Timestamp time.Time
}

// Uncertainty holds the per-item scores produced by the training
// collaborator, consumed only for queue ordering.
type Uncertainty struct {
	ItemID         int64
	SetNumber      int
	LeastConfident float64
	Margin         float64
	Entropy        float64
}

// QueueCounts aggregates a queue's durable and derived state for status
// reporting and parity checks.
type QueueCounts struct {
	QueueID   int64
	Kind      QueueKind
	Annotator string
	Length    int
	Members   int
	Assigned  int
}

// Lease is an admin's exclusive claim on a project's review surfaces.
type Lease struct {
	ProjectID  int64
	Admin      string
	LastAction time.Time
}
