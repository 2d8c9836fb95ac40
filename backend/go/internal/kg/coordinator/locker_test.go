package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalLockerExcludes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "entity-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("expected at most one holder, saw %d", maxSeen)
	}
	if len(l.locks) != 0 {
		t.Errorf("expected lock table to be empty, got %d entries", len(l.locks))
	}
}

func TestLocalLockerHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "entity-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "entity-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other, err := l.Lock(context.Background(), "entity-2")
	if err != nil {
		t.Fatalf("independent key should not block: %v", err)
	}
	other()
}

func TestLockAllOrdersKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := LockAll(ctx, l, "a", "b")
			if err != nil {
				t.Errorf("LockAll(a,b): %v", err)
				return
			}
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock, err := LockAll(ctx, l, "b", "a", "b")
			if err != nil {
				t.Errorf("LockAll(b,a): %v", err)
				return
			}
			unlock()
		}()
	}
	wg.Wait()
}

func TestRenewLeaseStopsWhenLeaseIsLost(t *testing.T) {
	var calls int
	done := make(chan struct{})
	go func() {
		defer close(done)
		renewLease(make(chan struct{}), time.Millisecond, func() (bool, error) {
			calls++
			switch calls {
			case 1:
				return true, nil
			case 2:
				return false, errors.New("i/o timeout")
			}
			return false, nil
		})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("renewal did not stop after the lease was lost")
	}
	if calls != 3 {
		t.Errorf("expected renewal to survive one error and stop on loss, got %d calls", calls)
	}
}

func TestRenewLeaseStopsOnUnlock(t *testing.T) {
	stop := make(chan struct{})
	renewed := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		renewLease(stop, time.Millisecond, func() (bool, error) {
			select {
			case renewed <- struct{}{}:
			default:
			}
			return true, nil
		})
	}()
	select {
	case <-renewed:
	case <-time.After(2 * time.Second):
		t.Fatal("lease was never renewed")
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("renewal kept running after unlock")
	}
}
