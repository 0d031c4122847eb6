package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultHTTPSConfig(t *testing.T) {
	config := DefaultHTTPSConfig()

	if config.MinTLSVersion != TLS12 {
		t.Errorf("expected MinTLSVersion TLS12, got %d", config.MinTLSVersion)
	}
	if config.MaxTLSVersion != TLS13 {
		t.Errorf("expected MaxTLSVersion TLS13, got %d", config.MaxTLSVersion)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("expected Timeout 30s, got %v", config.Timeout)
	}
	for _, suite := range RecommendedTLS12CipherSuites {
		if tls.CipherSuiteName(suite) == "" {
			t.Errorf("unknown cipher suite: %d", suite)
		}
	}
}

func TestNewHTTPSClient(t *testing.T) {
	client := NewHTTPSClient(nil)
	if client.client == nil || client.config == nil || client.logger == nil {
		t.Fatal("expected client to be fully initialized")
	}

	custom := NewHTTPSClient(&HTTPSConfig{MinTLSVersion: TLS13, Timeout: time.Minute})
	if custom.config.MinTLSVersion != TLS13 || custom.client.Timeout != time.Minute {
		t.Error("expected custom configuration to be applied")
	}
}

func TestHTTPSClient_Post(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/soap+xml; charset=UTF-8" {
			t.Errorf("unexpected content-type '%s'", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "<Request/>" {
			t.Errorf("unexpected request body %q", body)
		}
		w.Header().Set("Content-Type", "application/soap+xml")
		w.Write([]byte("<Response/>"))
	}))
	defer server.Close()

	client := NewHTTPSClientWith(server.Client(), nil)
	resp, err := client.Post(context.Background(), server.URL, []byte("<Request/>"), "application/soap+xml; charset=UTF-8", RetryPolicy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "<Response/>" {
		t.Errorf("unexpected response: %s", resp.Body)
	}
	if resp.ContentType != "application/soap+xml" || resp.Attempts != 1 {
		t.Errorf("unexpected response metadata: %+v", resp)
	}
}

func TestHTTPSClient_Post_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	var retried []int
	policy := RetryPolicy{
		MaxRetries: 3,
		Interval:   time.Millisecond,
		OnRetry:    func(attempt int, err error) { retried = append(retried, attempt) },
	}

	resp, err := NewHTTPSClient(nil).Post(context.Background(), server.URL, []byte("x"), "text/xml", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d (server saw %d)", resp.Attempts, calls.Load())
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("unexpected retry notifications: %v", retried)
	}
}

func TestHTTPSClient_Post_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	_, err := NewHTTPSClient(nil).Post(context.Background(), server.URL, nil, "text/xml", RetryPolicy{MaxRetries: 2, Interval: time.Millisecond})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError || statusErr.Body != "boom" {
		t.Errorf("unexpected status error: %+v", statusErr)
	}
	if calls.Load() != 3 {
		t.Errorf("expected initial attempt plus 2 retries, got %d", calls.Load())
	}
}

func TestHTTPSClient_Post_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewHTTPSClient(nil).Post(context.Background(), server.URL, nil, "text/xml", RetryPolicy{MaxRetries: 5, Interval: time.Millisecond})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
}

func TestHTTPSClient_Post_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := NewHTTPSClient(nil).Post(ctx, server.URL, nil, "text/xml", RetryPolicy{MaxRetries: 10, Interval: time.Second})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled post must not wait out the retry interval")
	}
}

func TestHTTPSClient_Send(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "dbna-phase4/1.0" {
			t.Errorf("unexpected User-Agent '%s'", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("<Response/>"))
	}))
	defer server.Close()

	response, err := NewHTTPSClient(nil).Send(context.Background(), server.URL, []byte("<Request/>"), "application/soap+xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(response) != "<Response/>" {
		t.Errorf("unexpected response: %s", response)
	}

	if _, err := NewHTTPSClient(nil).Send(context.Background(), "http://invalid.invalid.invalid:99999", nil, "text/xml"); err == nil {
		t.Error("expected error for invalid URL")
	}
}
