// Package keylock provides read/write mutual exclusion scoped to a string key.
package keylock

import "sync"

// Map hands out one RWMutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them, so the map only grows
// with the number of keys in concurrent use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	rw   sync.RWMutex
	refs int
}

// New returns an empty Map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock acquires the exclusive lock for key and returns its release func.
func (m *Map) Lock(key string) func() {
	e := m.acquire(key)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		m.release(key, e)
	}
}

// RLock acquires the shared lock for key and returns its release func.
func (m *Map) RLock(key string) func() {
	e := m.acquire(key)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		m.release(key, e)
	}
}

// Len reports how many keys currently have a live lock entry.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
