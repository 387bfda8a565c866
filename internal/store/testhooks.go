package store

import (
	"context"
	"fmt"
)

// DebugSetSchemaVersion overwrites the recorded schema version. Test-only
// hook for exercising the mismatch path.
func (s *Store) DebugSetSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE schema_version SET version = ?`, version); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}
