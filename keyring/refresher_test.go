package keyring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRing(t *testing.T) *Ring {
	t.Helper()
	r := NewRing(&stubStore{}, nil)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}
	return r
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRefreshSingleFlight(t *testing.T) {
	ring := newTestRing(t)

	gate := make(chan struct{})
	var fetches atomic.Int32
	fetch := func(ctx context.Context) (map[string]string, error) {
		fetches.Add(1)
		<-gate
		return map[string]string{"kid": "pem"}, nil
	}
	f := NewRefresher(ring, fetch, RefresherConfig{})
	defer f.Close()

	var wg sync.WaitGroup
	attempts := make([]*Attempt, 16)
	for i := range attempts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			attempts[i] = f.Refresh()
		}(i)
	}
	wg.Wait()
	close(gate)
	for _, a := range attempts {
		<-a.Done()
		if a.Err() != nil {
			t.Fatalf("attempt error: %v", a.Err())
		}
	}

	if n := fetches.Load(); n != 1 {
		t.Fatalf("expected exactly 1 remote fetch, got %d", n)
	}
	if _, ok := ring.Key("kid"); !ok {
		t.Fatal("refresh did not commit fetched keys")
	}
}

func TestRefreshStaleOnFailure(t *testing.T) {
	ring := newTestRing(t)

	var fail atomic.Bool
	fetch := func(ctx context.Context) (map[string]string, error) {
		if fail.Load() {
			return nil, errors.New("endpoint down")
		}
		return map[string]string{"kid": "pem"}, nil
	}
	f := NewRefresher(ring, fetch, RefresherConfig{})
	defer f.Close()

	a := f.Refresh()
	<-a.Done()
	if a.Err() != nil {
		t.Fatalf("first refresh: %v", a.Err())
	}
	first := ring.Snapshot()

	fail.Store(true)
	a = f.Refresh()
	<-a.Done()
	if a.Err() == nil {
		t.Fatal("expected fetch failure")
	}
	if ring.Snapshot() != first {
		t.Fatal("failed refresh must leave the previous snapshot committed")
	}
	if _, ok := ring.Key("kid"); !ok {
		t.Fatal("stale keys should remain usable")
	}
}

func TestRefreshAndWaitGrace(t *testing.T) {
	ring := newTestRing(t)

	release := make(chan struct{})
	fetch := func(ctx context.Context) (map[string]string, error) {
		<-release
		return map[string]string{"kid": "pem"}, nil
	}
	f := NewRefresher(ring, fetch, RefresherConfig{Grace: 30 * time.Millisecond})
	defer f.Close()

	start := time.Now()
	if err := f.RefreshAndWait(context.Background()); err != nil {
		t.Fatalf("RefreshAndWait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("caller blocked past the grace period: %v", elapsed)
	}
	if ring.HasKeys() {
		t.Fatal("keys committed before fetch completed")
	}

	// The abandoned attempt still completes in the background.
	close(release)
	waitFor(t, 2*time.Second, ring.HasKeys)
}

func TestRefreshAndWaitReturnsAttemptError(t *testing.T) {
	ring := newTestRing(t)
	f := NewRefresher(ring, func(ctx context.Context) (map[string]string, error) {
		return nil, errors.New("nope")
	}, RefresherConfig{})
	defer f.Close()

	if err := f.RefreshAndWait(context.Background()); err == nil {
		t.Fatal("expected the attempt's error")
	}
}

func TestScheduledRecheckRespectsTTL(t *testing.T) {
	ring := newTestRing(t)

	var fetches atomic.Int32
	fetch := func(ctx context.Context) (map[string]string, error) {
		fetches.Add(1)
		return map[string]string{"kid": "pem"}, nil
	}
	f := NewRefresher(ring, fetch, RefresherConfig{
		TTL:           time.Hour,
		CheckInterval: 10 * time.Millisecond,
	})
	defer f.Close()

	a := f.Refresh()
	<-a.Done()

	// Ticks fire but the snapshot is fresh, so no further fetch goes out.
	time.Sleep(100 * time.Millisecond)
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fresh snapshot refetched: %d fetches", n)
	}
}

func TestScheduledRecheckFetchesOnceStale(t *testing.T) {
	ring := newTestRing(t)

	var fetches atomic.Int32
	fetch := func(ctx context.Context) (map[string]string, error) {
		fetches.Add(1)
		return map[string]string{"kid": "pem"}, nil
	}
	f := NewRefresher(ring, fetch, RefresherConfig{
		TTL:           time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	})
	defer f.Close()

	a := f.Refresh()
	<-a.Done()

	// With a tiny TTL every tick finds the snapshot stale and re-fetches.
	waitFor(t, 2*time.Second, func() bool { return fetches.Load() >= 3 })
}

func TestShouldRefresh(t *testing.T) {
	ring := newTestRing(t)
	f := NewRefresher(ring, func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"kid": "pem"}, nil
	}, RefresherConfig{TTL: time.Hour})
	defer f.Close()

	if !f.ShouldRefresh() {
		t.Fatal("empty ring must want a refresh")
	}
	a := f.Refresh()
	<-a.Done()
	if f.ShouldRefresh() {
		t.Fatal("fresh snapshot must not want a refresh")
	}
	f.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if !f.ShouldRefresh() {
		t.Fatal("snapshot older than TTL must want a refresh")
	}
}

func TestRefreshAfterCloseIsNoop(t *testing.T) {
	ring := newTestRing(t)
	var fetches atomic.Int32
	f := NewRefresher(ring, func(ctx context.Context) (map[string]string, error) {
		fetches.Add(1)
		return map[string]string{"kid": "pem"}, nil
	}, RefresherConfig{})
	f.Close()

	a := f.Refresh()
	<-a.Done()
	if a.Err() == nil {
		t.Fatal("refresh after close should fail")
	}
	if fetches.Load() != 0 {
		t.Fatal("refresh after close must not fetch")
	}
}
