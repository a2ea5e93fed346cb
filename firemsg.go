// Package firemsg authenticates provider-issued ID tokens and delivers push
// messages, backed by a durable public-key cache with scheduled refresh.
//
// An App wires the pieces together from a Config: credential loading, the
// durable key cache (Redis, file, or in-memory), the key refresher, and the
// auth and messaging clients.
//
//	cfg, err := firemsg.ConfigFromEnv()
//	app, err := firemsg.New(ctx, cfg)
//	defer app.Close()
//
//	tok, err := app.Auth().VerifyIDToken(ctx, bearer)
//	br, err := app.Messaging().SendMulticast(ctx, &messaging.MulticastMessage{...})
package firemsg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/firemsg/firemsg-go/auth"
	"github.com/firemsg/firemsg-go/credentials"
	"github.com/firemsg/firemsg-go/internal/certsource"
	"github.com/firemsg/firemsg-go/internal/logctx"
	"github.com/firemsg/firemsg-go/keyring"
	"github.com/firemsg/firemsg-go/keyring/filestore"
	"github.com/firemsg/firemsg-go/keyring/memorystore"
	"github.com/firemsg/firemsg-go/keyring/redisstore"
	"github.com/firemsg/firemsg-go/messaging"
)

// defaultCertsURL serves the provider's current token-signing certificates.
const defaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

type options struct {
	logger       *slog.Logger
	httpClient   *http.Client
	store        keyring.Store
	certsURL     string
	sendEndpoint string
	idToolkitURL string
}

// Option customizes App construction.
type Option func(*options)

// WithLogger sets the logger; it is wrapped so records carry operation
// context.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient supplies the authorized client used for send and revoke
// calls, replacing credential loading from Config.CredentialsFile.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithKeyStore overrides the key cache selection derived from Config.
func WithKeyStore(s keyring.Store) Option {
	return func(o *options) { o.store = s }
}

// WithCertsURL overrides the public-key endpoint, mainly in tests.
func WithCertsURL(u string) Option {
	return func(o *options) { o.certsURL = u }
}

// WithSendEndpoint overrides the send endpoint base, mainly in tests.
func WithSendEndpoint(u string) Option {
	return func(o *options) { o.sendEndpoint = u }
}

// WithIdentityToolkitURL overrides the revoke endpoint base, mainly in tests.
func WithIdentityToolkitURL(u string) Option {
	return func(o *options) { o.idToolkitURL = u }
}

// App is the assembled service: one key cache, one refresher, and the two
// clients sharing them. Construct with New, release with Close.
type App struct {
	projectID string
	log       *slog.Logger

	store     keyring.Store
	ring      *keyring.Ring
	refresher *keyring.Refresher

	auth      *auth.Client
	messaging *messaging.Client
}

// New assembles an App from cfg.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil || cfg.ProjectID == "" {
		return nil, errors.New("firemsg: ProjectID is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		log = slog.Default()
	}
	log = slog.New(logctx.Handler{Handler: log.Handler()})

	store := o.store
	if store == nil {
		var err error
		switch {
		case cfg.RedisAddr != "":
			store, err = redisstore.New(ctx, redisstore.Config{RedisAddr: cfg.RedisAddr})
		case cfg.KeyCachePath != "":
			store, err = filestore.New(cfg.KeyCachePath, log)
		default:
			store = memorystore.New()
		}
		if err != nil {
			return nil, fmt.Errorf("firemsg: open key cache: %w", err)
		}
	}

	certsURL := o.certsURL
	if certsURL == "" {
		certsURL = defaultCertsURL
	}
	source, err := certsource.New(certsource.Config{
		URL:        certsURL,
		MaxRetries: cfg.MaxFetchRetries,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("firemsg: %w", err)
	}

	ring := keyring.NewRing(store, log)
	refresher := keyring.NewRefresher(ring, source.Fetch, keyring.RefresherConfig{
		TTL:           cfg.KeyTTL,
		CheckInterval: cfg.RefreshCheckInterval,
		Logger:        log,
	})
	if err := ring.WatchStore(); err != nil {
		log.Warn("key cache watch unavailable", "err", err)
	}

	hc := o.httpClient
	if hc == nil && cfg.CredentialsFile != "" {
		creds, err := credentials.FromFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("firemsg: %w", err)
		}
		hc = creds.Client(ctx)
	}
	if hc == nil {
		log.Warn("no credentials configured, send and revoke calls will be unauthenticated")
		hc = http.DefaultClient
	}

	authClient, err := auth.New(auth.Config{
		ProjectID:          cfg.ProjectID,
		Ring:               ring,
		Refresher:          refresher,
		HTTPClient:         hc,
		IdentityToolkitURL: o.idToolkitURL,
		Logger:             log,
	})
	if err != nil {
		return nil, err
	}
	msgClient, err := messaging.New(messaging.Config{
		ProjectID:   cfg.ProjectID,
		HTTPClient:  hc,
		Endpoint:    o.sendEndpoint,
		Concurrency: cfg.MulticastConcurrency,
		SendTimeout: cfg.SendTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		projectID: cfg.ProjectID,
		log:       log,
		store:     store,
		ring:      ring,
		refresher: refresher,
		auth:      authClient,
		messaging: msgClient,
	}, nil
}

// Auth returns the token verification client.
func (a *App) Auth() *auth.Client { return a.auth }

// Messaging returns the send client.
func (a *App) Messaging() *messaging.Client { return a.messaging }

// Close stops the background refresher and closes the key cache.
func (a *App) Close() error {
	a.refresher.Close()
	return a.store.Close()
}
