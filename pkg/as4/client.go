// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package as4

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/finvix/dbna-phase4/internal/storage"
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/mime"
	"github.com/finvix/dbna-phase4/pkg/reliability"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
	"github.com/finvix/dbna-phase4/pkg/transport"
)

// Transport posts a transport entity, repeating it per policy
type Transport interface {
	Post(ctx context.Context, endpoint string, body []byte, contentType string, policy transport.RetryPolicy) (*transport.Response, error)
}

var _ Transport = (*transport.HTTPSClient)(nil)

// WithTransport sets the transport. The default is an HTTPS client with
// transport.DefaultHTTPSConfig.
func WithTransport(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithJournal records every send in j
func WithJournal(j storage.Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// Client sends AS4 messages built from one ExchangeConfig
type Client struct {
	config    *ExchangeConfig
	builder   *Builder
	transport Transport
	tracker   *reliability.Tracker
	journal   storage.Journal
	logger    *slog.Logger
}

// SentMessage pairs a built message with the response to it
type SentMessage struct {
	Built    *BuiltMessage
	Response *transport.Response
}

// NewClient creates a client for config
func NewClient(config *ExchangeConfig, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config is required", ErrConfiguration)
	}
	o := newOptions(opts)
	if o.transport == nil {
		httpsConfig := transport.DefaultHTTPSConfig()
		httpsConfig.Logger = o.logger
		o.transport = transport.NewHTTPSClient(httpsConfig)
	}

	return &Client{
		config:    config,
		builder:   &Builder{config: config, opts: o},
		transport: o.transport,
		tracker:   reliability.NewTracker(),
		journal:   o.journal,
		logger:    o.logger,
	}, nil
}

// Config returns the exchange configuration of the client
func (c *Client) Config() *ExchangeConfig {
	return c.config
}

// Tracker returns the delivery tracker of the client
func (c *Client) Tracker() *reliability.Tracker {
	return c.tracker
}

// Send builds payload under a fresh message id and posts it to endpoint.
// Every retry of the post carries the same message id. Temp files created
// while building are removed before Send returns, so the attachments of the
// returned message are held in memory.
func (c *Client) Send(ctx context.Context, endpoint string, payload Payload) (*SentMessage, error) {
	messageID, err := c.config.CreateMessageID()
	if err != nil {
		return nil, err
	}
	logger := c.logger.With(slog.String("message_id", messageID))

	lifecycle := resource.NewLifecycle(resource.WithLogger(logger))
	defer lifecycle.Release()

	built, err := c.builder.Build(ctx, messageID, payload, lifecycle)
	if err != nil {
		return nil, err
	}
	if err := detach(built.Attachments); err != nil {
		return nil, fmt.Errorf("building %s: %w", messageID, err)
	}

	policy := c.config.RetryPolicy()
	policy.OnRetry = func(_ int, err error) {
		_ = c.tracker.RecordError(messageID, err)
		_ = c.tracker.MarkSending(messageID)
	}
	c.tracker.Track(messageID, policy.MaxRetries, policy.Interval)
	_ = c.tracker.MarkSending(messageID)

	logger.Info("sending message",
		slog.String("kind", built.Kind.String()),
		slog.String("endpoint", endpoint),
		slog.Int("max_retries", policy.MaxRetries))

	resp, err := c.transport.Post(ctx, endpoint, built.Body, built.ContentType, policy)
	if err != nil {
		_ = c.tracker.MarkFailed(messageID, err)
		c.record(ctx, endpoint, built, nil, err)
		logger.Error("send failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("sending %s: %w", messageID, err)
	}

	_ = c.tracker.MarkDelivered(messageID)
	c.record(ctx, endpoint, built, resp, nil)
	logger.Info("message delivered",
		slog.Int("status", resp.StatusCode),
		slog.Int("attempts", resp.Attempts))

	return &SentMessage{Built: built, Response: resp}, nil
}

// detach reads file backed attachments into memory
func detach(atts []security.Attachment) error {
	for i := range atts {
		if atts[i].Path == "" {
			continue
		}
		data, err := atts[i].Bytes()
		if err != nil {
			return fmt.Errorf("reading attachment %s: %w", atts[i].ContentID, err)
		}
		atts[i].Data, atts[i].Path = data, ""
	}
	return nil
}

// Decoded pairs a built message with its decoded response
type Decoded[T any] struct {
	Built    *BuiltMessage
	Response T
}

// SendAndDecode sends payload and decodes the response with decode
func SendAndDecode[T any](ctx context.Context, c *Client, endpoint string, payload Payload, decode func(*transport.Response) (T, error)) (*Decoded[T], error) {
	sent, err := c.Send(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	out, err := decode(sent.Response)
	if err != nil {
		return nil, fmt.Errorf("decoding response to %s: %w", sent.Built.MessageID, err)
	}
	return &Decoded[T]{Built: sent.Built, Response: out}, nil
}

// SendForEnvelope sends payload and parses the SOAP envelope of the
// response. An empty response is an error.
func (c *Client) SendForEnvelope(ctx context.Context, endpoint string, payload Payload) (*Decoded[*message.Envelope], error) {
	return SendAndDecode(ctx, c, endpoint, payload, DecodeEnvelope)
}

// ErrEmptyResponse is returned when a response carries no envelope
var ErrEmptyResponse = errors.New("response has no body")

// DecodeEnvelope extracts the SOAP envelope from a plain or multipart response
func DecodeEnvelope(resp *transport.Response) (*message.Envelope, error) {
	if resp == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, ErrEmptyResponse
	}
	entity, err := mime.Parse(bytes.NewReader(resp.Body), resp.ContentType)
	if err != nil {
		return nil, err
	}
	return message.Parse(entity.Envelope)
}

func (c *Client) record(ctx context.Context, endpoint string, built *BuiltMessage, resp *transport.Response, sendErr error) {
	if c.journal == nil {
		return
	}

	ex := &storage.Exchange{
		MessageID:   built.MessageID,
		Direction:   storage.DirectionOutbound,
		Kind:        built.Kind.String(),
		Endpoint:    endpoint,
		Attachments: len(built.Attachments),
		Signed:      built.Signed,
		Encrypted:   built.Encrypted,
	}
	if tracked, ok := c.tracker.GetMessage(built.MessageID); ok {
		ex.Attempts = tracked.AttemptCount
	}
	if resp != nil {
		ex.Status = storage.StatusDelivered
		ex.HTTPStatus = resp.StatusCode
		ex.Attempts = resp.Attempts
	} else {
		ex.Status = storage.StatusFailed
		var statusErr *transport.StatusError
		if errors.As(sendErr, &statusErr) {
			ex.HTTPStatus = statusErr.StatusCode
		}
		if sendErr != nil {
			ex.LastError = sendErr.Error()
		}
	}

	if err := c.journal.RecordExchange(ctx, ex); err != nil {
		c.logger.Warn("failed to journal exchange",
			slog.String("message_id", built.MessageID),
			slog.String("error", err.Error()))
	}
}
