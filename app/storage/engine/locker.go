package engine

import "sync"

// RWLocker is the locking contract stores get from MakeLock, either a real
// RWMutex for sqlite or a noop for engines with proper concurrency support.
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// NoopLocker satisfies RWLocker without doing anything.
type NoopLocker struct{}

// Lock does nothing
func (NoopLocker) Lock() {}

// Unlock does nothing
func (NoopLocker) Unlock() {}

// RLock does nothing
func (NoopLocker) RLock() {}

// RUnlock does nothing
func (NoopLocker) RUnlock() {}
