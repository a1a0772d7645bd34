// Package keylock provides per-key mutual exclusion.
//
// Locks are created on first use and dropped when the last holder or waiter
// releases them, so the map only grows with the number of keys in flight.
package keylock

import (
	"fmt"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map is a set of mutexes addressed by string key. The zero value is ready
// to use. A Map must not be copied after first use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// Lock blocks until the lock for key is held and returns its release func.
// The release func must be called exactly once.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*entry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			m.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(m.locks, key)
			}
			m.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Key helpers. Lock order across kinds is job before account.

func Account(id int64) string { return fmt.Sprintf("account:%d", id) }

func Job(id int64) string { return fmt.Sprintf("job:%d", id) }

func Node(id int64) string { return fmt.Sprintf("node:%d", id) }
