// Package auctionlock serializes mutations per auction id without a global lock.
package auctionlock

import "sync"

// KeyedMutex hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them, so memory tracks contention
// rather than the total number of auctions.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// New creates an empty KeyedMutex
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the function that releases it
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.Unlock()

			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// held returns the number of keys currently locked or awaited
func (k *KeyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
