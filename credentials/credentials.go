// Package credentials turns a provider service-account key file into an
// oauth2 token source for the send and account-management endpoints. It only
// wraps the two-legged JWT grant; token acquisition itself lives entirely in
// golang.org/x/oauth2.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

// DefaultScopes cover message sending and refresh-token revocation.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/firebase.messaging",
	"https://www.googleapis.com/auth/identitytoolkit",
}

const defaultTokenURL = "https://oauth2.googleapis.com/token"

type serviceAccount struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// Credentials is a parsed service account ready to mint access tokens.
type Credentials struct {
	// ProjectID as recorded in the key file; may be empty for older files.
	ProjectID string

	cfg *jwt.Config
}

// FromFile reads and parses a service-account JSON key file. With no scopes
// given, DefaultScopes apply.
func FromFile(path string, scopes ...string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return FromJSON(data, scopes...)
}

// FromJSON parses service-account JSON key data.
func FromJSON(data []byte, scopes ...string) (*Credentials, error) {
	var sa serviceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, errors.New("credentials: service account needs client_email and private_key")
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	tokenURL := sa.TokenURI
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &Credentials{
		ProjectID: sa.ProjectID,
		cfg: &jwt.Config{
			Email:        sa.ClientEmail,
			PrivateKey:   []byte(sa.PrivateKey),
			PrivateKeyID: sa.PrivateKeyID,
			Scopes:       scopes,
			TokenURL:     tokenURL,
		},
	}, nil
}

// TokenSource returns a reusable, auto-refreshing token source.
func (c *Credentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	return c.cfg.TokenSource(ctx)
}

// Client returns an HTTP client that attaches access tokens to every request.
func (c *Credentials) Client(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, c.TokenSource(ctx))
}

// Static returns a token source that always yields tok. For tests and for
// callers that obtain access tokens elsewhere.
func Static(tok string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
}
