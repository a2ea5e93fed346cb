// Package certsource fetches the provider's current public signing keys over
// HTTP. It understands two response shapes: the classic JSON object mapping
// kid to a PEM-encoded X.509 certificate, and a JWKS document, whose RSA keys
// are re-encoded as PKIX PEM blocks so the cache holds one uniform format.
package certsource

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultMaxRetries bounds re-attempts of a single logical fetch.
	DefaultMaxRetries = 10

	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 1 << 20
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// FetchError describes a failed key fetch. Status is zero for transport-level
// failures.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config for a Source. URL is required.
type Config struct {
	URL        string
	MaxRetries int
	Timeout    time.Duration
	Logger     *slog.Logger
	// HTTPClient overrides the transport used under the retry layer.
	HTTPClient *http.Client
}

// Source fetches and parses the provider key endpoint.
type Source struct {
	url    string
	client *retryablehttp.Client
	log    *slog.Logger
}

// New builds a Source with bounded retries and provider-default backoff.
func New(cfg Config) (*Source, error) {
	if cfg.URL == "" {
		return nil, errors.New("certsource: URL is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.Logger = leveledLogger{cfg.Logger}
	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	return &Source{url: cfg.URL, client: rc, log: cfg.Logger}, nil
}

// Fetch performs one logical GET against the key endpoint and returns the
// parsed kid -> PEM mapping. Retries happen inside this call; any error it
// returns is final for this attempt.
func (s *Source) Fetch(ctx context.Context) (map[string]string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: s.url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &FetchError{URL: s.url, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: s.url, Status: resp.StatusCode, Err: errors.New("unexpected status")}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if _, _, err := contenttype.GetAcceptableMediaTypeFromHeader(ct, []contenttype.MediaType{jsonMediaType}); err != nil {
			return nil, &FetchError{URL: s.url, Status: resp.StatusCode, Err: fmt.Errorf("unexpected content type %q: %w", ct, err)}
		}
	}

	keys, err := Parse(body)
	if err != nil {
		return nil, &FetchError{URL: s.url, Status: resp.StatusCode, Err: err}
	}
	return keys, nil
}

// Parse decodes a key endpoint response body into a kid -> PEM mapping.
func Parse(body []byte) (map[string]string, error) {
	var probe struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode key document: %w", err)
	}
	if probe.Keys != nil {
		return parseJWKS(body)
	}
	return parsePEMMap(body)
}

func parsePEMMap(body []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode certificate map: %w", err)
	}
	if len(m) == 0 {
		return nil, errors.New("key document contains no keys")
	}
	for kid, material := range m {
		block, _ := pem.Decode([]byte(material))
		if block == nil {
			return nil, fmt.Errorf("key %q is not PEM encoded", kid)
		}
	}
	return m, nil
}

func parseJWKS(body []byte) (map[string]string, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}
	keys := make(map[string]string, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" {
			continue
		}
		pub, ok := k.Key.(*rsa.PublicKey)
		if !ok {
			// Only RS256 verification is supported; other key types are
			// skipped rather than failing the whole fetch.
			continue
		}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			return nil, fmt.Errorf("encode key %q: %w", k.KeyID, err)
		}
		keys[k.KeyID] = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	}
	if len(keys) == 0 {
		return nil, errors.New("JWKS contains no usable RSA keys")
	}
	return keys, nil
}

// leveledLogger adapts slog to retryablehttp's LeveledLogger.
type leveledLogger struct {
	log *slog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug(msg, kv...) }
