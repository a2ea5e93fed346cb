package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/firemsg/firemsg-go/internal/logctx"
	"github.com/google/uuid"
)

const (
	defaultEndpoint = "https://fcm.googleapis.com"

	// DefaultConcurrency is the multicast worker pool width.
	DefaultConcurrency = 10
	// DefaultSendTimeout bounds one individual send.
	DefaultSendTimeout = 30 * time.Second
	// MaxMulticastTokens is the most tokens one multicast call accepts.
	MaxMulticastTokens = 500

	maxErrorBodyBytes = 64 << 10
)

// Config wires a Client. ProjectID is required; HTTPClient should be an
// authorized client carrying provider credentials.
type Config struct {
	ProjectID string

	HTTPClient *http.Client

	// Endpoint overrides the send endpoint base, mainly in tests.
	Endpoint string

	// Concurrency is the multicast worker pool width.
	Concurrency int

	// SendTimeout bounds each individual send, single or multicast.
	SendTimeout time.Duration

	Logger *slog.Logger
}

// Client sends messages through the provider. Safe for concurrent use.
type Client struct {
	projectID   string
	sendURL     string
	hc          *http.Client
	concurrency int
	sendTimeout time.Duration
	log         *slog.Logger
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("messaging: ProjectID is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = DefaultConcurrency
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		projectID:   cfg.ProjectID,
		sendURL:     fmt.Sprintf("%s/v1/projects/%s/messages:send", endpoint, cfg.ProjectID),
		hc:          hc,
		concurrency: conc,
		sendTimeout: timeout,
		log:         log,
	}, nil
}

// Send delivers one message and returns the provider-assigned message id.
func (c *Client) Send(ctx context.Context, msg *Message) (string, error) {
	if msg == nil {
		return "", errors.New("messaging: message is required")
	}
	if err := msg.validate(); err != nil {
		return "", err
	}

	reqID := uuid.NewString()
	ctx = logctx.WithOperation(ctx, &logctx.Operation{Name: "messaging.send", Project: c.projectID, RequestID: reqID})

	body, err := json.Marshal(struct {
		Message *Message `json:"message"`
	}{Message: msg})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read send response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		perr := decodeProviderError(resp.StatusCode, raw)
		c.log.DebugContext(ctx, "send rejected", "status", resp.StatusCode, "code", perr.Code)
		return "", perr
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return out.Name, nil
}

func decodeProviderError(status int, raw []byte) *ProviderError {
	var body struct {
		Error struct {
			Message string          `json:"message"`
			Status  string          `json:"status"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	perr := &ProviderError{Status: status}
	if err := json.Unmarshal(raw, &body); err == nil {
		perr.Code = body.Error.Status
		perr.Message = body.Error.Message
		perr.Details = body.Error.Details
	}
	if perr.Message == "" {
		perr.Message = string(raw)
	}
	return perr
}
