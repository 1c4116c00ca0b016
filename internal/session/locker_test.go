package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLockerServesWaitersInArrivalOrder(t *testing.T) {
	l := NewLocker()
	release, err := l.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rel, err := l.Lock(context.Background(), "s1")
			if err != nil {
				t.Errorf("Lock(%d) error = %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			rel()
		}(i)
		waitFor(t, func() bool { return l.Waiting("s1") == i+1 })
	}

	release()
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
	if got := l.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func TestLockerDistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocker()
	releaseA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	releaseB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) error = %v", err)
	}
	releaseB()
	if got := l.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}
}

func TestLockerCancelledWaiterLeavesQueue(t *testing.T) {
	l := NewLocker()
	release, err := l.Lock(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Lock(ctx, "s1")
		done <- err
	}()
	waitFor(t, func() bool { return l.Waiting("s1") == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Lock() error = %v, want context.Canceled", err)
	}
	if got := l.Waiting("s1"); got != 0 {
		t.Fatalf("Waiting() = %d, want 0", got)
	}

	release()
	release()
	if got := l.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
