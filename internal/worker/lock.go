package worker

import "sync"

// KeyLock manages named mutexes for granular locking
type KeyLock struct {
	locks sync.Map
}

func NewKeyLock() *KeyLock {
	return &KeyLock{}
}

// Lock acquires the lock for key, blocking until it is free.
func (l *KeyLock) Lock(key string) {
	l.mutex(key).Lock()
}

// TryLock acquires the lock for key if it is free and reports whether it did.
func (l *KeyLock) TryLock(key string) bool {
	return l.mutex(key).TryLock()
}

// Unlock releases the lock for key. Unlocking an unknown key is a no-op.
func (l *KeyLock) Unlock(key string) {
	val, ok := l.locks.Load(key)
	if !ok {
		return
	}
	val.(*sync.Mutex).Unlock()
}

// Keys are a small fixed set of job names, so entries are never removed.
func (l *KeyLock) mutex(key string) *sync.Mutex {
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	return val.(*sync.Mutex)
}
