package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RTIInternational/SMART-sub000/internal/services"
)

// CreateProject inserts a project together with its three project-wide
// queues (normal, admin, irr) and training set zero.
func (s *Store) CreateProject(ctx context.Context, p Project) (*Project, error) {
	ctx = ensureContext(ctx)
	now := timestamp()
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO projects (name, owner, batch_size, irr_percent, rater_count, ordering, classifier, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Owner, p.BatchSize, p.IRRPercent, p.RaterCount, p.Ordering, p.Classifier, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return services.Wrap(services.ErrConflict, "store", "create project", p.Name, err)
			}
			return fmt.Errorf("insert project: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		// Normal and IRR queues are bounded working sets; admin is an
		// unbounded inbox (length 0 means unbounded).
		queues := []struct {
			kind   QueueKind
			length int
		}{
			{KindNormal, p.BatchSize * 2},
			{KindAdmin, 0},
			{KindIRR, p.BatchSize * 2},
		}
		for _, q := range queues {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO queues (project_id, kind, annotator, length) VALUES (?, ?, NULL, ?)`,
				id, q.kind, q.length,
			); err != nil {
				return fmt.Errorf("insert %s queue: %w", q.kind, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO training_sets (project_id, set_number, job_handle, created_at) VALUES (?, 0, '', ?)`,
			id, now,
		); err != nil {
			return fmt.Errorf("insert training set: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

// GetProject fetches a project by identifier.
func (s *Store) GetProject(ctx context.Context, id int64) (*Project, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, name, owner, batch_size, irr_percent, rater_count, ordering, classifier, created_at
         FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// GetProjectByName fetches a project by its unique name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, name, owner, batch_size, irr_percent, rater_count, ordering, classifier, created_at
         FROM projects WHERE name = ?`, name)
	return scanProject(row)
}

func scanProject(row *sql.Row) (*Project, error) {
	var (
		p          Project
		createdRaw string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Owner, &p.BatchSize, &p.IRRPercent, &p.RaterCount, &p.Ordering, &p.Classifier, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		p.CreatedAt = created
	}
	return &p, nil
}

// CreateLabel adds a label to a project's label set.
func (s *Store) CreateLabel(ctx context.Context, projectID int64, name string) (*Label, error) {
	res, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO labels (project_id, name) VALUES (?, ?)`, projectID, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create label", name, err)
		}
		return nil, fmt.Errorf("insert label: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &Label{ID: id, ProjectID: projectID, Name: name}, nil
}

// Labels returns a project's defined labels ordered by identifier.
func (s *Store) Labels(ctx context.Context, projectID int64) ([]Label, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, project_id, name FROM labels WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	var labels []Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// CurrentTrainingSet returns the project's latest training set generation.
func (s *Store) CurrentTrainingSet(ctx context.Context, projectID int64) (*TrainingSet, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, project_id, set_number, job_handle, created_at
         FROM training_sets WHERE project_id = ? ORDER BY set_number DESC LIMIT 1`, projectID)
	var (
		ts         TrainingSet
		createdRaw string
	)
	err := row.Scan(&ts.ID, &ts.ProjectID, &ts.SetNumber, &ts.JobHandle, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "current training set", fmt.Sprintf("project %d", projectID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("scan training set: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		ts.CreatedAt = created
	}
	return &ts, nil
}

// CreateTrainingSet inserts the next training set generation for a project.
func (s *Store) CreateTrainingSet(ctx context.Context, projectID int64, setNumber int) (*TrainingSet, error) {
	_, err := s.execWithRetry(ensureContext(ctx),
		`INSERT INTO training_sets (project_id, set_number, job_handle, created_at) VALUES (?, ?, '', ?)`,
		projectID, setNumber, timestamp())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create training set", fmt.Sprintf("set %d", setNumber), err)
		}
		return nil, fmt.Errorf("insert training set: %w", err)
	}
	return s.CurrentTrainingSet(ctx, projectID)
}

// SetJobHandle stores the async training job handle on a training set. It
// refuses to overwrite an existing handle so a pending run is submitted
// exactly once.
func (s *Store) SetJobHandle(ctx context.Context, trainingSetID int64, handle string) error {
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE training_sets SET job_handle = ? WHERE id = ? AND job_handle = ''`,
		handle, trainingSetID)
	if err != nil {
		return fmt.Errorf("set job handle: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrConflict, "store", "set job handle", "training run already outstanding", nil)
	}
	return nil
}

// ClearJobHandle removes the job handle after a failed training run so a
// later trigger can resubmit.
func (s *Store) ClearJobHandle(ctx context.Context, trainingSetID int64) error {
	_, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE training_sets SET job_handle = '' WHERE id = ?`, trainingSetID)
	if err != nil {
		return fmt.Errorf("clear job handle: %w", err)
	}
	return nil
}

// LabeledCount returns the number of labels committed in a training set,
// excluding labels on irr-flagged items.
func (s *Store) LabeledCount(ctx context.Context, trainingSetID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM data_labels dl
         JOIN items i ON i.id = dl.item_id
         WHERE dl.training_set_id = ? AND i.irr_flag = 0`, trainingSetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count labeled: %w", err)
	}
	return count, nil
}

// DistinctLabelsUsed returns how many distinct labels appear in a training
// set, excluding irr-flagged items.
func (s *Store) DistinctLabelsUsed(ctx context.Context, trainingSetID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(DISTINCT dl.label_id) FROM data_labels dl
         JOIN items i ON i.id = dl.item_id
         WHERE dl.training_set_id = ? AND i.irr_flag = 0`, trainingSetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count distinct labels: %w", err)
	}
	return count, nil
}

// CoderCount returns the number of distinct annotators who have labeled or
// hold assignments in a project.
func (s *Store) CoderCount(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM (
            SELECT dl.annotator FROM data_labels dl
            JOIN items i ON i.id = dl.item_id WHERE i.project_id = ?
            UNION
            SELECT a.annotator FROM assignments a
            JOIN items i ON i.id = a.item_id WHERE i.project_id = ?
         )`, projectID, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count coders: %w", err)
	}
	return count, nil
}
