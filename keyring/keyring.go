package keyring

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable point-in-time view of the provider's signing keys.
// Keys maps key id (kid) to PEM-encoded key material (an X.509 certificate or
// a PKIX public key). Once handed to a Ring or Store the map must not be
// mutated.
type Snapshot struct {
	Keys      map[string]string
	FetchedAt time.Time
}

// Empty reports whether the snapshot is missing or carries no keys.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Keys) == 0
}

// Key returns the PEM material for kid.
func (s *Snapshot) Key(kid string) (string, bool) {
	if s == nil {
		return "", false
	}
	pem, ok := s.Keys[kid]
	return pem, ok
}

// Clone returns a deep copy safe for the caller to hold across writes.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{Keys: maps.Clone(s.Keys), FetchedAt: s.FetchedAt}
}

// Store persists the cached key snapshot across process restarts. Save
// replaces the whole snapshot atomically: a concurrent Load observes either
// the previous snapshot or the new one, never a partial write.
//
// Implementations must be safe under concurrent readers and a single
// concurrent writer.
type Store interface {
	// Load returns the last saved snapshot, or (nil, nil) when nothing has
	// been saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save durably records snap, replacing any previous snapshot.
	Save(ctx context.Context, snap Snapshot) error

	// Close releases any resources held by the store.
	Close() error
}

// Watcher is implemented by stores that can report external modification of
// the durable snapshot, for example another process sharing a cache file.
type Watcher interface {
	// Watch invokes onChange after the durable snapshot is modified from
	// outside this store instance. It returns once the watch is installed.
	Watch(onChange func()) error
}

// Ring is the committed, process-wide view of the key set. Reads are
// lock-free; the Refresher is the only writer. The zero value is not usable,
// construct with NewRing.
type Ring struct {
	store Store
	log   *slog.Logger

	cur atomic.Pointer[Snapshot]

	loadMu sync.Mutex
	loaded bool
}

// NewRing creates a Ring over store. The durable snapshot is not read until
// the first EnsureLoaded call.
func NewRing(store Store, log *slog.Logger) *Ring {
	if log == nil {
		log = slog.Default()
	}
	return &Ring{store: store, log: log}
}

// EnsureLoaded performs the lazy first read of the durable store. It commits
// whatever the store holds (possibly an empty snapshot) and never triggers a
// remote fetch. Subsequent calls are cheap no-ops.
func (r *Ring) EnsureLoaded(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.loaded {
		return nil
	}
	snap, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load key cache: %w", err)
	}
	if snap == nil {
		// First use: mark the cache initialized with an empty snapshot so
		// lookups proceed to the key-not-found path, which triggers a refresh.
		snap = &Snapshot{Keys: map[string]string{}}
	}
	r.commit(snap)
	r.loaded = true
	return nil
}

// Reload re-reads the durable store and commits the result. Used when a
// Watcher store reports an external write.
func (r *Ring) Reload(ctx context.Context) error {
	snap, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload key cache: %w", err)
	}
	if snap != nil {
		r.commit(snap)
	}
	return nil
}

// WatchStore subscribes to external modifications of the durable snapshot if
// the underlying store supports it. Reloads happen on a short internal
// deadline and failures are logged, not surfaced.
func (r *Ring) WatchStore() error {
	w, ok := r.store.(Watcher)
	if !ok {
		return nil
	}
	return w.Watch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Reload(ctx); err != nil {
			r.log.Warn("key cache reload after external change failed", "err", err)
		}
	})
}

// Snapshot returns the committed snapshot. It may be nil before the first
// EnsureLoaded or commit.
func (r *Ring) Snapshot() *Snapshot {
	return r.cur.Load()
}

// Key resolves kid against the committed snapshot.
func (r *Ring) Key(kid string) (string, bool) {
	return r.cur.Load().Key(kid)
}

// HasKeys reports whether the committed snapshot carries at least one key.
func (r *Ring) HasKeys() bool {
	return !r.cur.Load().Empty()
}

// commit publishes snap as the committed view. FetchedAt stays monotonically
// non-decreasing: an older snapshot never replaces a newer one.
func (r *Ring) commit(snap *Snapshot) {
	for {
		old := r.cur.Load()
		if old != nil && snap.FetchedAt.Before(old.FetchedAt) {
			return
		}
		if r.cur.CompareAndSwap(old, snap) {
			return
		}
	}
}
