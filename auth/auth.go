package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/firemsg/firemsg-go/internal/logctx"
	"github.com/firemsg/firemsg-go/keyring"
)

const defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"

// Config wires a Client. ProjectID, Ring and Refresher are required.
type Config struct {
	// ProjectID is the provider project the tokens must be issued for.
	ProjectID string

	// Ring is the committed key cache view used for key resolution.
	Ring *keyring.Ring

	// Refresher drives opportunistic background refreshes when a token
	// references a key the cache does not hold.
	Refresher *keyring.Refresher

	// HTTPClient is the authorized client used for the revoke endpoint.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// IdentityToolkitURL overrides the revoke endpoint base, mainly in tests.
	IdentityToolkitURL string

	Logger *slog.Logger
}

// Client verifies ID tokens and manages refresh-token revocation. Safe for
// concurrent use; verification calls share no mutable state beyond the read
// path into the key cache.
type Client struct {
	projectID string
	issuer    string
	ring      *keyring.Ring
	refresher *keyring.Refresher
	hc        *http.Client
	revokeURL string
	log       *slog.Logger
	now       func() time.Time
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: ProjectID is required")
	}
	if cfg.Ring == nil || cfg.Refresher == nil {
		return nil, errors.New("auth: Ring and Refresher are required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	base := cfg.IdentityToolkitURL
	if base == "" {
		base = defaultIdentityToolkitURL
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		projectID: cfg.ProjectID,
		issuer:    issuerPrefix + cfg.ProjectID,
		ring:      cfg.Ring,
		refresher: cfg.Refresher,
		hc:        hc,
		revokeURL: base + "/accounts:update",
		log:       log,
		now:       time.Now,
	}, nil
}

// RevokeRefreshTokens invalidates all refresh tokens issued to uid before
// now. Outstanding ID tokens keep verifying until they expire; pair this with
// a validSince check in the caller when immediate lockout matters.
func (c *Client) RevokeRefreshTokens(ctx context.Context, uid string) error {
	if uid == "" {
		return errors.New("auth: uid is required")
	}
	ctx = logctx.WithOperation(ctx, &logctx.Operation{Name: "auth.revoke", Project: c.projectID})

	body, err := json.Marshal(map[string]string{
		"localId":    uid,
		"validSince": strconv.FormatInt(c.now().Unix(), 10),
	})
	if err != nil {
		return fmt.Errorf("encode revoke request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.WarnContext(ctx, "revoke failed", "status", resp.StatusCode, "uid", uid)
		return fmt.Errorf("revoke refresh tokens: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
