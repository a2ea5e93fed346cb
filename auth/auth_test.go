package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestRevokeRefreshTokens(t *testing.T) {
	fixedNow := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	var got struct {
		method string
		path   string
		body   map[string]string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got.body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	fx := newFixture(t, nil, nil)
	fx.client.revokeURL = srv.URL + "/v1/accounts:update"
	fx.client.now = func() time.Time { return fixedNow }

	if err := fx.client.RevokeRefreshTokens(context.Background(), "user-123"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if got.method != http.MethodPost {
		t.Fatalf("method = %s", got.method)
	}
	if got.path != "/v1/accounts:update" {
		t.Fatalf("path = %s", got.path)
	}
	if got.body["localId"] != "user-123" {
		t.Fatalf("localId = %q", got.body["localId"])
	}
	if got.body["validSince"] != strconv.FormatInt(fixedNow.Unix(), 10) {
		t.Fatalf("validSince = %q", got.body["validSince"])
	}
}

func TestRevokeRefreshTokensServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"USER_NOT_FOUND"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	fx := newFixture(t, nil, nil)
	fx.client.revokeURL = srv.URL + "/v1/accounts:update"

	err := fx.client.RevokeRefreshTokens(context.Background(), "missing-user")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "status 400") || !strings.Contains(err.Error(), "USER_NOT_FOUND") {
		t.Fatalf("err = %v", err)
	}
}

func TestRevokeRefreshTokensEmptyUID(t *testing.T) {
	fx := newFixture(t, nil, nil)
	if err := fx.client.RevokeRefreshTokens(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty uid")
	}
}
