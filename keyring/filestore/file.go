// Package filestore provides a file-backed keyring.Store. The snapshot is a
// JSON document written with the temp-file-and-rename pattern so readers
// (including other processes sharing the file) never observe a partial write.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/firemsg/firemsg-go/keyring"
	"github.com/fsnotify/fsnotify"
)

// Store implements keyring.Store on a single JSON file.
type Store struct {
	path string
	log  *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

type storedSnapshot struct {
	Keys      map[string]string `json:"keys"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// New creates a Store at path. The parent directory is created if needed; the
// file itself appears on the first Save.
func New(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("filestore: path is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Store{path: path, log: log}, nil
}

// Load returns the snapshot stored in the file, or nil when the file does not
// exist yet.
func (s *Store) Load(ctx context.Context) (*keyring.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read key cache %s: %w", s.path, err)
	}
	var doc storedSnapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode key cache %s: %w", s.path, err)
	}
	return &keyring.Snapshot{Keys: doc.Keys, FetchedAt: doc.FetchedAt}, nil
}

// Save writes the snapshot to a temp file in the same directory, syncs it,
// then renames it over the target. A concurrent Load sees the old document
// until the rename lands.
func (s *Store) Save(ctx context.Context, snap keyring.Snapshot) error {
	raw, err := json.Marshal(storedSnapshot{Keys: snap.Keys, FetchedAt: snap.FetchedAt})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace key cache %s: %w", s.path, err)
	}
	return nil
}

// Watch installs an fsnotify watch on the cache directory and invokes
// onChange whenever the cache file is created, written, or renamed into
// place. This catches refreshes performed by another process sharing the
// file; writes from this process also fire the callback, which makes the
// subsequent reload a harmless re-read.
func (s *Store) Watch(onChange func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return errors.New("filestore: watch already installed")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory, not the file: rename-into-place replaces the inode
	// a file-level watch would be pinned to.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch cache directory: %w", err)
	}
	s.watcher = w
	s.done = make(chan struct{})
	go s.watchLoop(w, s.done, onChange)
	return nil
}

func (s *Store) watchLoop(w *fsnotify.Watcher, done chan struct{}, onChange func()) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != s.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("key cache watch error", "err", err)
		}
	}
}

// Close stops the watcher if one is installed.
func (s *Store) Close() error {
	s.mu.Lock()
	w, done := s.watcher, s.done
	s.watcher, s.done = nil, nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	err := w.Close()
	<-done
	return err
}

var (
	_ keyring.Store   = (*Store)(nil)
	_ keyring.Watcher = (*Store)(nil)
)
