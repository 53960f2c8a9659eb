package main

import (
	"strconv"
	"sync"
)

// CatalogLockKey serializes every operation which checks the isbn/title uniqueness.
const CatalogLockKey = "catalog"

// KeyedMutex hands out one mutex per key. Entries are reference counted
// and dropped once nobody holds or waits on them so the map stays small.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// NewKeyedMutex returns a ready to use KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until the lock for key is acquired and returns its release function.
func (km *KeyedMutex) Lock(key string) func() {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		km.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// Size returns the number of keys currently tracked.
func (km *KeyedMutex) Size() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}

// BookLockKey returns the lock key of a given book.
func BookLockKey(id int64) string {
	return "book:" + strconv.FormatInt(id, 10)
}
