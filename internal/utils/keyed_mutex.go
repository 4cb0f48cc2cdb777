package utils

import "sync"

// KeyedMutex serializes operations per key. Cart and order services share one
// instance keyed by user ID so concurrent mutations of the same user's cart
// (including order placement, which clears it) never interleave.
type KeyedMutex struct {
	locks sync.Map
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

func (m *KeyedMutex) Lock(key string) {
	lock, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
}

func (m *KeyedMutex) Unlock(key string) {
	lock, ok := m.locks.Load(key)
	if !ok {
		panic("utils: unlock of unheld keyed mutex: " + key)
	}

	lock.(*sync.Mutex).Unlock()
}
