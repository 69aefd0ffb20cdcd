package appointment

import (
	"context"
	"sync"
)

// Locker guards the conflict-check-then-write critical section per doctor.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID string, fn func(ctx context.Context) error) error
}

// LocalLocker serializes writers for the same doctor inside one process.
// A doctor's entry is dropped once no caller holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*doctorMutex
}

type doctorMutex struct {
	sync.Mutex
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*doctorMutex)}
}

func (l *LocalLocker) WithDoctorLock(ctx context.Context, doctorID string, fn func(ctx context.Context) error) error {
	m := l.acquire(doctorID)
	defer l.release(doctorID, m)

	m.Lock()
	defer m.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

func (l *LocalLocker) acquire(doctorID string) *doctorMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[doctorID]
	if !ok {
		m = &doctorMutex{}
		l.locks[doctorID] = m
	}
	m.refs++
	return m
}

func (l *LocalLocker) release(doctorID string, m *doctorMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.locks, doctorID)
	}
}
