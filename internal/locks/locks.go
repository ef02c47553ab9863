package locks

import (
	"sync"
)

// Manager hands out one mutex per entity key so read-modify-write sequences
// on a single request or order never interleave. Entries are created on
// first use and kept for the life of the process.
type Manager struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) get(key string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if lock, exists := m.locks[key]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[key] = lock
	return lock
}

func (m *Manager) Lock(key string) {
	m.get(key).Lock()
}

func (m *Manager) Unlock(key string) {
	m.get(key).Unlock()
}

// Do runs fn while holding the entity's lock.
func (m *Manager) Do(key string, fn func() error) error {
	lock := m.get(key)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
