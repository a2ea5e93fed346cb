// Package redisstore provides a Redis-backed keyring.Store. The snapshot is
// stored as a single JSON document under one key, so SET gives the
// replace-whole-snapshot semantics the cache contract requires.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firemsg/firemsg-go/keyring"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: FIREMSG_REDIS_ADDR
	RedisAddr string `env:"FIREMSG_REDIS_ADDR,default=localhost:6379"`
	// Key the snapshot document is stored under. ENV: FIREMSG_REDIS_KEY
	Key string `env:"FIREMSG_REDIS_KEY,default=firemsg:keyring"`

	// Client overrides RedisAddr with a pre-built client. The store takes
	// ownership and closes it.
	Client *redis.Client
}

// Store implements keyring.Store on top of Redis.
type Store struct {
	client *redis.Client
	key    string
}

type storedSnapshot struct {
	Keys      map[string]string `json:"keys"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// New creates a Store from cfg and verifies connectivity with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cl := cfg.Client
	if cl == nil {
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		cl = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	key := cfg.Key
	if key == "" {
		key = "firemsg:keyring"
	}
	return &Store{client: cl, key: key}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode redis store configuration: %w", err)
	}
	return New(ctx, cfg)
}

// Load returns the stored snapshot, or nil when the key does not exist.
func (s *Store) Load(ctx context.Context) (*keyring.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var doc storedSnapshot
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode stored snapshot: %w", err)
	}
	return &keyring.Snapshot{Keys: doc.Keys, FetchedAt: doc.FetchedAt}, nil
}

// Save replaces the stored snapshot. No TTL: the cache survives restarts and
// staleness is the refresher's concern.
func (s *Store) Save(ctx context.Context, snap keyring.Snapshot) error {
	raw, err := json.Marshal(storedSnapshot{Keys: snap.Keys, FetchedAt: snap.FetchedAt})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

var _ keyring.Store = (*Store)(nil)
