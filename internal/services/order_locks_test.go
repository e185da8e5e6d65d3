package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestOrderLocksSerialiseSameOrder(t *testing.T) {
	locks := newOrderLocks()
	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.acquire(context.Background(), "ord_1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
	if size := locks.size(); size != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", size)
	}
}

func TestOrderLocksIndependentOrders(t *testing.T) {
	locks := newOrderLocks()
	unlockA, err := locks.acquire(context.Background(), "ord_a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locks.acquire(ctx, "ord_b")
	if err != nil {
		t.Fatalf("expected disjoint order to lock immediately: %v", err)
	}
	unlockB()
}

func TestOrderLocksRespectContext(t *testing.T) {
	locks := newOrderLocks()
	unlock, err := locks.acquire(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.acquire(ctx, "ord_1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if size := locks.size(); size != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", size)
	}
}
