package keyring

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a fetched snapshot is considered fresh.
	DefaultTTL = time.Hour
	// DefaultCheckInterval is how often the refresher re-evaluates staleness
	// after an attempt. Decoupled from the TTL: a tick only fetches once the
	// TTL has actually elapsed.
	DefaultCheckInterval = 10 * time.Second
	// DefaultGrace bounds how long RefreshAndWait blocks the caller before
	// treating the refresh as fire-and-forget.
	DefaultGrace = 5 * time.Second

	defaultFetchTimeout = 2 * time.Minute
)

// FetchFunc retrieves the current key set (kid -> PEM material) from the
// provider. It must be idempotent; the Refresher guarantees at most one call
// is in flight at a time.
type FetchFunc func(ctx context.Context) (map[string]string, error)

// Attempt represents one refresh attempt. Err is valid once Done is closed.
type Attempt struct {
	done chan struct{}
	err  error
}

// Done is closed when the attempt has settled.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Err returns the attempt's outcome. Only meaningful after Done is closed.
func (a *Attempt) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// RefresherConfig carries the tunables for a Refresher. Zero values fall back
// to the package defaults.
type RefresherConfig struct {
	TTL           time.Duration
	CheckInterval time.Duration
	Grace         time.Duration
	FetchTimeout  time.Duration
	Logger        *slog.Logger
}

// Refresher owns the write path of a Ring: it decides when the committed
// snapshot is stale, issues at most one remote fetch at a time, and schedules
// periodic re-checks. A failed fetch leaves the previous snapshot committed.
type Refresher struct {
	ring  *Ring
	fetch FetchFunc
	log   *slog.Logger

	ttl           time.Duration
	checkInterval time.Duration
	grace         time.Duration
	fetchTimeout  time.Duration

	now func() time.Time

	mu       sync.Mutex
	inflight *Attempt
	timer    *time.Timer
	closed   bool
	wg       sync.WaitGroup
}

// NewRefresher builds a Refresher driving ring via fetch.
func NewRefresher(ring *Ring, fetch FetchFunc, cfg RefresherConfig) *Refresher {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Refresher{
		ring:          ring,
		fetch:         fetch,
		log:           cfg.Logger,
		ttl:           cfg.TTL,
		checkInterval: cfg.CheckInterval,
		grace:         cfg.Grace,
		fetchTimeout:  cfg.FetchTimeout,
		now:           time.Now,
	}
}

// ShouldRefresh reports whether the committed snapshot is missing, empty, or
// older than the TTL.
func (f *Refresher) ShouldRefresh() bool {
	snap := f.ring.Snapshot()
	if snap.Empty() {
		return true
	}
	return f.now().Sub(snap.FetchedAt) > f.ttl
}

// Refresh ensures a fetch attempt is underway and returns it. Concurrent
// callers while an attempt is outstanding join that same attempt; no second
// remote fetch is issued.
func (f *Refresher) Refresh() *Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		a := &Attempt{done: make(chan struct{}), err: context.Canceled}
		close(a.done)
		return a
	}
	if f.inflight != nil {
		return f.inflight
	}
	a := &Attempt{done: make(chan struct{})}
	f.inflight = a
	f.wg.Add(1)
	go f.run(a)
	return a
}

// RefreshAndWait triggers a refresh and waits for it up to the grace period.
// If the attempt does not settle in time it keeps running in the background
// and RefreshAndWait returns nil.
func (f *Refresher) RefreshAndWait(ctx context.Context) error {
	a := f.Refresh()
	t := time.NewTimer(f.grace)
	defer t.Stop()
	select {
	case <-a.Done():
		return a.Err()
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the re-check timer and waits for an in-flight fetch to settle.
func (f *Refresher) Close() {
	f.mu.Lock()
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Refresher) run(a *Attempt) {
	defer f.wg.Done()
	a.err = f.attempt()
	f.mu.Lock()
	f.inflight = nil
	f.scheduleLocked()
	f.mu.Unlock()
	close(a.done)
}

func (f *Refresher) attempt() error {
	ctx, cancel := context.WithTimeout(context.Background(), f.fetchTimeout)
	defer cancel()

	keys, err := f.fetch(ctx)
	if err != nil {
		// Stale-on-failure: the previously committed snapshot stays in use.
		f.log.Warn("key fetch failed, serving stale keys", "err", err)
		return err
	}
	snap := Snapshot{Keys: keys, FetchedAt: f.now()}
	if err := f.ring.store.Save(ctx, snap); err != nil {
		f.log.Warn("key cache save failed, serving stale keys", "err", err)
		return err
	}
	f.ring.commit(&snap)
	f.log.Debug("key cache refreshed", "keys", len(keys))
	return nil
}

// scheduleLocked re-arms the periodic staleness check, superseding any prior
// timer so repeated attempts never stack schedules. Caller holds f.mu.
func (f *Refresher) scheduleLocked() {
	if f.closed {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.checkInterval, f.tick)
}

func (f *Refresher) tick() {
	if f.ShouldRefresh() {
		f.Refresh()
		return
	}
	f.mu.Lock()
	f.scheduleLocked()
	f.mu.Unlock()
}
