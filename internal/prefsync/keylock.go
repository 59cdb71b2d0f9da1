package prefsync

import (
	"sync"

	"github.com/dukerupert/stormsync/internal/pending"
)

// keyLocks holds one mutex per pending key. A remote write and the local
// confirm that follows it run under the key's mutex, so a drain replay and a
// foreground write for the same record cannot interleave.
type keyLocks struct {
	mu    sync.Mutex
	locks map[pending.Key]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until k is free and returns the matching unlock.
func (l *keyLocks) lock(k pending.Key) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[pending.Key]*keyLock)
	}
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyLock{}
		l.locks[k] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}

func (l *keyLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
