package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// tokenFromRequest pulls the message token out of a send request body.
func tokenFromRequest(r *http.Request) string {
	raw, _ := io.ReadAll(r.Body)
	var body struct {
		Message struct {
			Token string `json:"token"`
		} `json:"message"`
	}
	json.Unmarshal(raw, &body)
	return body.Message.Token
}

func TestSendMulticastPreservesOrder(t *testing.T) {
	// Randomized latency so completion order differs from input order.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := tokenFromRequest(r)
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		fmt.Fprintf(w, `{"name":"id-%s"}`, tok)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Concurrency: 8})
	tokens := make([]string, 50)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%02d", i)
	}

	br, err := c.SendMulticast(context.Background(), &MulticastMessage{Tokens: tokens})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if br.SuccessCount != 50 || br.FailureCount != 0 {
		t.Fatalf("counts = %d/%d", br.SuccessCount, br.FailureCount)
	}
	for i, r := range br.Responses {
		want := fmt.Sprintf("id-tok-%02d", i)
		if !r.Success || r.MessageID != want {
			t.Fatalf("responses[%d] = %+v, want id %q", i, r, want)
		}
	}
}

func TestSendMulticastPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := tokenFromRequest(r)
		if tok == "t2" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"status":"UNREGISTERED","message":"gone"}}`))
			return
		}
		fmt.Fprintf(w, `{"name":"id-%s"}`, tok)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	br, err := c.SendMulticast(context.Background(), &MulticastMessage{Tokens: []string{"t1", "t2", "t3"}})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if br.SuccessCount != 2 || br.FailureCount != 1 {
		t.Fatalf("counts = %d/%d", br.SuccessCount, br.FailureCount)
	}
	if !br.Responses[0].Success || !br.Responses[2].Success {
		t.Fatalf("t1/t3 should succeed: %+v %+v", br.Responses[0], br.Responses[2])
	}
	var perr *ProviderError
	if br.Responses[1].Success || !errors.As(br.Responses[1].Error, &perr) || perr.Code != "UNREGISTERED" {
		t.Fatalf("t2 response = %+v", br.Responses[1])
	}
}

func TestSendMulticastValidation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"name":"id"}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, Config{})

	if _, err := c.SendMulticast(context.Background(), nil); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("nil message: %v", err)
	}
	if _, err := c.SendMulticast(context.Background(), &MulticastMessage{}); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("no tokens: %v", err)
	}

	many := make([]string, MaxMulticastTokens+1)
	for i := range many {
		many[i] = "t"
	}
	if _, err := c.SendMulticast(context.Background(), &MulticastMessage{Tokens: many}); !errors.Is(err, ErrTooManyTargets) {
		t.Fatalf("501 tokens: %v", err)
	}

	if _, err := c.SendMulticast(context.Background(), &MulticastMessage{Tokens: []string{"t1", "", "t3"}}); !errors.Is(err, ErrInvalidTargets) {
		t.Fatalf("empty token: %v", err)
	}

	if n := calls.Load(); n != 0 {
		t.Fatalf("validation failures must not reach the network, got %d calls", n)
	}
}

func TestSendMulticastAllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"status":"UNAVAILABLE","message":"down"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{})
	br, err := c.SendMulticast(context.Background(), &MulticastMessage{Tokens: []string{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if br.SuccessCount != 0 || br.FailureCount != 3 {
		t.Fatalf("counts = %d/%d", br.SuccessCount, br.FailureCount)
	}
	for i, r := range br.Responses {
		if r.Error == nil {
			t.Fatalf("responses[%d] has no error", i)
		}
	}
}

func TestSendMulticastConcurrencyCap(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte(`{"name":"id"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{Concurrency: 3})
	tokens := make([]string, 40)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("t%d", i)
	}
	br, err := c.SendMulticast(context.Background(), &MulticastMessage{Tokens: tokens})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if br.SuccessCount != 40 {
		t.Fatalf("success = %d", br.SuccessCount)
	}
	if p := peak.Load(); p > 3 {
		t.Fatalf("peak in-flight sends = %d, cap is 3", p)
	}
}

func TestSendMulticastPerSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"name":"id"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, Config{SendTimeout: 50 * time.Millisecond})
	br, err := c.SendMulticast(context.Background(), &MulticastMessage{Tokens: []string{"slow"}})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if br.FailureCount != 1 {
		t.Fatalf("counts = %d/%d", br.SuccessCount, br.FailureCount)
	}
	if !errors.Is(br.Responses[0].Error, context.DeadlineExceeded) {
		t.Fatalf("error = %v", br.Responses[0].Error)
	}
}

func TestSendMulticastContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"name":"id"}`))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	c := newTestClient(t, srv.URL, Config{Concurrency: 2, SendTimeout: time.Second})
	tokens := make([]string, 20)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("t%d", i)
	}
	br, err := c.SendMulticast(ctx, &MulticastMessage{Tokens: tokens})
	if err != nil {
		t.Fatalf("multicast: %v", err)
	}
	if len(br.Responses) != 20 {
		t.Fatalf("responses = %d", len(br.Responses))
	}
	if br.SuccessCount+br.FailureCount != 20 {
		t.Fatalf("counts do not cover all targets: %d+%d", br.SuccessCount, br.FailureCount)
	}
	for i, r := range br.Responses {
		if r == nil {
			t.Fatalf("responses[%d] is nil", i)
		}
	}
}
