// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4096

// Recommended TLS 1.2 cipher suites for AS4
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPSConfig contains HTTPS client configuration
type HTTPSConfig struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration
	UserAgent       string
	Logger          *slog.Logger
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       "dbna-phase4/1.0",
	}
}

// RetryPolicy controls how often a post is repeated after a retryable failure.
// The same request body is sent on every attempt.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
	// OnRetry is called before each repeated attempt, with the attempt
	// number that failed (starting at 1) and its error.
	OnRetry func(attempt int, err error)
}

// Response is a successful HTTP response
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
}

// StatusError reports a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient server failure
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// HTTPSClient handles AS4 message transmission over HTTPS
type HTTPSClient struct {
	client *http.Client
	config *HTTPSConfig
	logger *slog.Logger
}

// NewHTTPSClient creates a new HTTPS client
func NewHTTPSClient(config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:   config.MinTLSVersion,
		MaxVersion:   config.MaxTLSVersion,
		CipherSuites: config.CipherSuites,
		Certificates: config.Certificates,
		RootCAs:      config.RootCAs,
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	return newClient(&http.Client{Transport: transport, Timeout: config.Timeout}, config)
}

// NewHTTPSClientWith wraps an existing http.Client, e.g. an httptest TLS client
func NewHTTPSClientWith(client *http.Client, config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	return newClient(client, config)
}

func newClient(client *http.Client, config *HTTPSConfig) *HTTPSClient {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSClient{client: client, config: config, logger: logger}
}

// Post sends body to endpoint, repeating the request on network errors and
// 5xx responses up to policy.MaxRetries times with policy.Interval between
// attempts. 4xx responses are returned immediately.
func (c *HTTPSClient) Post(ctx context.Context, endpoint string, body []byte, contentType string, policy RetryPolicy) (*Response, error) {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		resp     *Response
		attempts int
	)
	operation := func() error {
		attempts++
		r, err := c.send(ctx, endpoint, body, contentType)
		if err != nil {
			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("as4 post failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempts),
			slog.Duration("next", next),
			slog.String("error", err.Error()))
		if policy.OnRetry != nil {
			policy.OnRetry(attempts, err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Interval), uint64(maxRetries)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, fmt.Errorf("post to %s failed after %d attempt(s): %w", endpoint, attempts, err)
	}

	resp.Attempts = attempts
	return resp, nil
}

// Send posts a message once and returns the response body
func (c *HTTPSClient) Send(ctx context.Context, endpoint string, message []byte, contentType string) ([]byte, error) {
	resp, err := c.send(ctx, endpoint, message, contentType)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *HTTPSClient) send(ctx context.Context, endpoint string, message []byte, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("SOAPAction", "")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}
