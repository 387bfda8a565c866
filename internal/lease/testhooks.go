package lease

import "time"

// DebugSetNow overrides the clock. Test-only hook for exercising expiry
// without sleeping.
func (m *Manager) DebugSetNow(now func() time.Time) {
	m.now = now
}
