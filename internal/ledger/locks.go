package ledger

import (
	"sync"
)

// StudentLocks serialises ledger operations per student.
// Uses per-student locks instead of a global lock, so different students
// trade in parallel.
type StudentLocks struct {
	mu    sync.Mutex
	locks map[string]*studentLock
}

type studentLock struct {
	mu   sync.Mutex
	refs int
}

func NewStudentLocks() *StudentLocks {
	return &StudentLocks{locks: make(map[string]*studentLock)}
}

// Lock blocks until the caller holds the student's lock
func (l *StudentLocks) Lock(studentID string) {
	l.mu.Lock()
	sl := l.locks[studentID]
	if sl == nil {
		sl = &studentLock{}
		l.locks[studentID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
}

// Unlock releases the student's lock. The entry is dropped once nobody
// holds or waits for it.
func (l *StudentLocks) Unlock(studentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sl := l.locks[studentID]
	if sl == nil {
		return
	}
	sl.refs--
	if sl.refs == 0 {
		delete(l.locks, studentID)
	}
	sl.mu.Unlock()
}

// size is the number of tracked students
func (l *StudentLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
