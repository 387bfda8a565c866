// Package lease serializes admin adjudication: one admin at a time may work
// a project's admin queue, and an idle holder loses the lease after a
// configurable timeout.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RTIInternational/SMART-sub000/internal/logging"
	"github.com/RTIInternational/SMART-sub000/internal/services"
	"github.com/RTIInternational/SMART-sub000/internal/store"
)

// Manager grants and renews admin leases.
type Manager struct {
	store   *store.Store
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Manager with the given idle timeout.
func New(st *store.Store, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:   st,
		timeout: timeout,
		logger:  logger.With(logging.FieldComponent, "lease"),
		now:     time.Now,
	}
}

// Acquire grants the project lease to admin. The current holder renews, an
// expired holder is displaced, and an active holder blocks everyone else
// with ErrConflict.
func (m *Manager) Acquire(ctx context.Context, projectID int64, admin string) error {
	if admin == "" {
		return services.Wrap(services.ErrValidation, "lease", "acquire", "admin is required", nil)
	}
	current, err := m.store.GetLease(ctx, projectID)
	if err != nil {
		return err
	}
	if current != nil && current.Admin != admin && !m.expired(current) {
		return services.Wrap(services.ErrConflict, "lease", "acquire",
			fmt.Sprintf("project %d is locked by %s", projectID, current.Admin), nil)
	}
	if current != nil && current.Admin != admin {
		m.logger.Info("expired lease displaced",
			logging.FieldProjectID, projectID,
			"previous_admin", current.Admin,
			logging.FieldAnnotator, admin,
		)
	}
	return m.store.UpsertLease(ctx, projectID, admin, m.now())
}

// Refresh extends the lease for its current holder. Holding no lease, or an
// expired one another admin has since taken, is a conflict.
func (m *Manager) Refresh(ctx context.Context, projectID int64, admin string) error {
	current, err := m.store.GetLease(ctx, projectID)
	if err != nil {
		return err
	}
	if current == nil || current.Admin != admin {
		return services.Wrap(services.ErrConflict, "lease", "refresh",
			fmt.Sprintf("admin %s does not hold the lease for project %d", admin, projectID), nil)
	}
	if m.expired(current) {
		return services.Wrap(services.ErrConflict, "lease", "refresh",
			fmt.Sprintf("lease for project %d expired, reacquire it", projectID), nil)
	}
	return m.store.UpsertLease(ctx, projectID, admin, m.now())
}

// Holds reports whether admin currently holds an unexpired lease.
func (m *Manager) Holds(ctx context.Context, projectID int64, admin string) (bool, error) {
	current, err := m.store.GetLease(ctx, projectID)
	if err != nil {
		return false, err
	}
	return current != nil && current.Admin == admin && !m.expired(current), nil
}

// Release drops the lease if admin holds it. Releasing a lease someone else
// holds is a no-op.
func (m *Manager) Release(ctx context.Context, projectID int64, admin string) error {
	return m.store.DeleteLease(ctx, projectID, admin)
}

func (m *Manager) expired(lease *store.Lease) bool {
	return m.now().Sub(lease.LastAction) > m.timeout
}
