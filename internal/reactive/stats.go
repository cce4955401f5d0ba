package reactive

import "sync/atomic"

type counters struct {
	persisted     atomic.Uint64
	skipped       atomic.Uint64
	deleted       atomic.Uint64
	persistErrors atomic.Uint64
	notifications atomic.Uint64
}

// Stats is a point-in-time snapshot of store activity.
type Stats struct {
	Keys            int      `json:"keys"`
	Subscribers     int      `json:"subscribers"`
	VolatileKeys    []string `json:"volatile_keys"`
	PersistedWrites uint64   `json:"persisted_writes"`
	SkippedWrites   uint64   `json:"skipped_writes"`
	Deletes         uint64   `json:"deletes"`
	PersistErrors   uint64   `json:"persist_errors"`
	Notifications   uint64   `json:"notifications"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	stats := Stats{
		Keys:         len(s.cache),
		Subscribers:  len(s.subs),
		VolatileKeys: s.volatile.Strings(),
	}
	s.mu.RUnlock()

	stats.PersistedWrites = s.stats.persisted.Load()
	stats.SkippedWrites = s.stats.skipped.Load()
	stats.Deletes = s.stats.deleted.Load()
	stats.PersistErrors = s.stats.persistErrors.Load()
	stats.Notifications = s.stats.notifications.Load()
	return stats
}
