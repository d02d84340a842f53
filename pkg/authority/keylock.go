package authority

import "sync"

// identityLocks hands out one mutex per identity so racing connections for
// the same identity serialize without serializing unrelated identities.
// Entries are refcounted and dropped when no goroutine holds or waits on
// them.
type identityLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{entries: make(map[string]*lockEntry)}
}

// lock acquires the mutex for identity and returns its unlock function.
func (l *identityLocks) lock(identity string) func() {
	l.mu.Lock()
	entry, ok := l.entries[identity]
	if !ok {
		entry = &lockEntry{}
		l.entries[identity] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, identity)
		}
		l.mu.Unlock()
	}
}
