package spool

import (
	"sync"
	"time"
)

// lockEntry is the in-process stand-in for a distributed SET-if-absent
// lock: a mutex plus the time it was last acquired, so a long-held lock
// can be told apart from a free one when purging.
type lockEntry struct {
	mu         sync.Mutex
	acquiredAt time.Time
}

// LockManager hands out a single writer per entry id. The default,
// local implementation backs this with an in-process mutex per id; a
// distributed deployment would instead implement the same three
// methods against SET NX with a TTL and periodic refresh, without the
// engine needing to change.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: map[string]*lockEntry{}}
}

func (m *LockManager) entry(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[id]
	if !ok {
		e = &lockEntry{}
		m.locks[id] = e
	}
	return e
}

// TryLock attempts to acquire the lock for id, returning true on
// success. The caller must call Unlock exactly once for every
// successful TryLock.
func (m *LockManager) TryLock(id string) bool {
	e := m.entry(id)
	if !e.mu.TryLock() {
		return false
	}
	e.acquiredAt = time.Now()
	return true
}

// Unlock releases the lock for id.
func (m *LockManager) Unlock(id string) {
	e := m.entry(id)
	e.mu.Unlock()
}

// PurgeOrphanedLocks reclaims map entries for ids that are not
// currently locked, bounding the map's growth across the spool's
// lifetime. In-process mutexes can't be forcibly broken (there's no
// safe way to un-stick one whose owner goroutine leaked), so this is
// memory hygiene rather than the TTL-based forceful reclaim a
// distributed lock backend would need to perform here instead.
func (m *LockManager) PurgeOrphanedLocks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.locks {
		if e.mu.TryLock() {
			e.mu.Unlock()
			delete(m.locks, id)
		}
	}
}
