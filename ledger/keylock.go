package ledger

import "sync"

// keyedMutex serializes operations per balance key. Different keys proceed
// in parallel; two goroutines posting to the same key take turns.
//
// Locks are retained for the life of the process. The map is bounded by the
// number of distinct (user, type, year) keys touched, which is small.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[BalanceKey]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[BalanceKey]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key BalanceKey) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// LockPair acquires two key mutexes in a stable order so that concurrent
// carryover runs touching the same pair of years cannot deadlock.
func (k *keyedMutex) LockPair(a, b BalanceKey) func() {
	if a == b {
		return k.Lock(a)
	}
	first, second := a, b
	if less(b, a) {
		first, second = b, a
	}
	unlockFirst := k.Lock(first)
	unlockSecond := k.Lock(second)
	return func() {
		unlockSecond()
		unlockFirst()
	}
}

func less(a, b BalanceKey) bool {
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	if a.LeaveTypeID != b.LeaveTypeID {
		return a.LeaveTypeID < b.LeaveTypeID
	}
	return a.Year < b.Year
}
