package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoCachesValue(t *testing.T) {
	m := NewMemo[int](10, time.Minute)

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := m.Do(context.Background(), "key", fetch)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	}
	if calls != 1 {
		t.Errorf("fetch ran %d times, want 1", calls)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestMemoDoesNotCacheErrors(t *testing.T) {
	m := NewMemo[int](10, time.Minute)

	calls := 0
	boom := errors.New("boom")
	fetch := func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 7, nil
	}

	if _, err := m.Do(context.Background(), "key", fetch); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("failed fetch must not populate the cache, Len = %d", m.Len())
	}

	v, err := m.Do(context.Background(), "key", fetch)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if v != 7 {
		t.Errorf("got %d, want 7", v)
	}
}

func TestMemoExpires(t *testing.T) {
	m := NewMemo[string](10, 20*time.Millisecond)

	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "v", nil
	}

	if _, err := m.Do(context.Background(), "key", fetch); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := m.Do(context.Background(), "key", fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch ran %d times, want 2 after expiry", calls)
	}
}

func TestMemoSharesInFlightFetch(t *testing.T) {
	m := NewMemo[int](10, time.Minute)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Do(context.Background(), "key", fetch); err != nil {
				t.Error(err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("fetch ran %d times, want 1 shared flight", n)
	}
}

func TestMemoWaiterSurvivesLeaderCancellation(t *testing.T) {
	m := NewMemo[int](10, time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-release:
			return 7, nil
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := m.Do(leaderCtx, "tip", fetch)
		leaderErr <- err
	}()
	<-started

	waiterDone := make(chan struct{})
	var waiterVal int
	var waiterErr error
	go func() {
		defer close(waiterDone)
		waiterVal, waiterErr = m.Do(context.Background(), "tip", fetch)
	}()

	// Let the waiter join the flight, then drop the leader.
	time.Sleep(20 * time.Millisecond)
	cancelLeader()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}

	close(release)
	<-waiterDone
	if waiterErr != nil {
		t.Fatalf("waiter must not inherit the leader's cancellation: %v", waiterErr)
	}
	if waiterVal != 7 {
		t.Errorf("waiter value = %d, want 7", waiterVal)
	}

	// The completed fetch still populates the cache.
	v, err := m.Do(context.Background(), "tip", func(context.Context) (int, error) {
		t.Error("fetch must not run again")
		return 0, nil
	})
	if err != nil || v != 7 {
		t.Errorf("cached lookup = %d, %v", v, err)
	}
}

func TestMemoCallerCancellationBoundsOnlyTheWait(t *testing.T) {
	m := NewMemo[int](10, time.Minute)

	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-release:
			return 3, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Do(ctx, "key", fetch); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	close(release)
}

func TestMemoDistinctKeys(t *testing.T) {
	m := NewMemo[string](10, time.Minute)

	a, _ := m.Do(context.Background(), "a", func(context.Context) (string, error) { return "alpha", nil })
	b, _ := m.Do(context.Background(), "b", func(context.Context) (string, error) { return "beta", nil })
	if a != "alpha" || b != "beta" {
		t.Errorf("got %q/%q", a, b)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}
