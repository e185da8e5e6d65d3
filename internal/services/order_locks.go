package services

import (
	"context"
	"sync"
)

// orderLocks serialises work on one order inside this process. Cross-instance ordering is
// enforced by the repository transaction.
type orderLocks struct {
	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	ch   chan struct{}
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[string]*orderLock)}
}

// acquire blocks until the lock for orderID is held or ctx is done.
func (l *orderLocks) acquire(ctx context.Context, orderID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[orderID]
	if !ok {
		lock = &orderLock{ch: make(chan struct{}, 1)}
		l.locks[orderID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(orderID, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(orderID, lock)
		})
	}, nil
}

func (l *orderLocks) release(orderID string, lock *orderLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, orderID)
	}
}

func (l *orderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
