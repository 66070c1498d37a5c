package server

import "sync"

// nameLocks serialises work per object name. Locks are reference counted and
// dropped once nobody holds or waits for them.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sync.Mutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

// lock blocks until key is held and returns the release function.
func (n *nameLocks) lock(key string) func() {
	n.mu.Lock()
	l := n.locks[key]
	if l == nil {
		l = &nameLock{}
		n.locks[key] = l
	}
	l.refs++
	n.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		n.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(n.locks, key)
		}
		n.mu.Unlock()
	}
}

func (n *nameLocks) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.locks)
}
