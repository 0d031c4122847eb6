// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package msh

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/finvix/dbna-phase4/internal/storage"
	"github.com/finvix/dbna-phase4/pkg/compression"
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/mime"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
)

// HandlerConfig holds the configuration of a Handler
type HandlerConfig struct {
	// Selector picks the processing mode of a received message. Required.
	Selector PModeSelector

	// Processor runs the security steps. Defaults to a processor without
	// local key material.
	Processor *SecurityProcessor

	// Compressor expands compressed payloads. Defaults to gzip.
	Compressor *compression.Compressor

	// Journal, when set, records the outcome of every received message
	Journal storage.Journal

	Logger *slog.Logger
}

// Handler receives AS4 messages: it parses the transport entity, selects
// the processing mode, runs the security steps and expands compressed
// payloads
type Handler struct {
	selector   PModeSelector
	processor  *SecurityProcessor
	compressor *compression.Compressor
	journal    storage.Journal
	logger     *slog.Logger
}

// Received is a processed inbound message
type Received struct {
	Envelope *message.Envelope
	Outcome  *Outcome

	// Payloads are the attachments after decryption and decompression, in
	// MIME order. They are only set when processing succeeded.
	Payloads []security.Attachment
}

// NewHandler creates a handler from config
func NewHandler(config HandlerConfig) (*Handler, error) {
	if config.Selector == nil {
		return nil, fmt.Errorf("%w: a processing mode selector is required", ErrInvalidInbound)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	processor := config.Processor
	if processor == nil {
		processor = NewSecurityProcessor(ProcessorConfig{Logger: logger})
	}
	compressor := config.Compressor
	if compressor == nil {
		compressor = compression.NewCompressor()
	}

	return &Handler{
		selector:   config.Selector,
		processor:  processor,
		compressor: compressor,
		journal:    config.Journal,
		logger:     logger,
	}, nil
}

// Receive processes a transport entity with the given content type. Temp
// files created for the exchange are registered with lifecycle, which the
// caller releases once it is done with the payloads.
func (h *Handler) Receive(ctx context.Context, body []byte, contentType string, lifecycle *resource.Lifecycle) (*Received, error) {
	entity, err := mime.Parse(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInbound, err)
	}
	env, err := message.Parse(entity.Envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInbound, err)
	}
	messaging, err := env.Messaging()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInbound, err)
	}

	atts := make([]security.Attachment, 0, len(entity.Payloads))
	for _, p := range entity.Payloads {
		atts = append(atts, security.Attachment{
			ContentID:   attachmentID(p.ContentID),
			ContentType: p.ContentType,
			Headers:     p.Headers,
			Data:        p.Data,
		})
	}

	in := &Inbound{
		PMode:       h.selector.SelectPMode(messaging),
		Document:    entity.Envelope,
		Attachments: atts,
		Lifecycle:   lifecycle,
	}
	outcome, err := h.processor.Process(ctx, in)
	if err != nil {
		return nil, err
	}

	received := &Received{Envelope: env, Outcome: outcome}
	if outcome.Success() {
		payloads := outcome.State.Attachments
		if len(payloads) == 0 {
			payloads = atts
		}
		expanded, perr := h.expand(outcome.State, payloads, lifecycle)
		if perr != nil {
			outcome.Stage = StageFailed
			outcome.Errors = append(outcome.Errors, perr)
		} else {
			received.Payloads = expanded
		}
	}

	h.record(ctx, outcome, len(atts))
	return received, nil
}

// expand decompresses the payloads whose PartInfo declares gzip compression
func (h *Handler) expand(state *ExchangeState, payloads []security.Attachment, lifecycle *resource.Lifecycle) ([]security.Attachment, *ProcessingError) {
	um := state.UserMessage()
	if um == nil {
		return payloads, nil
	}

	out := make([]security.Attachment, 0, len(payloads))
	for _, att := range payloads {
		part := um.Part(att.ContentID)
		if part == nil || part.Property(message.PartPropertyCompressionType) != compression.CompressionTypeGzip {
			out = append(out, att)
			continue
		}

		expanded, err := h.decompress(att, lifecycle)
		if err != nil {
			return nil, &ProcessingError{
				Code:                message.ErrorDecompressionFailure,
				Detail:              fmt.Sprintf("payload %s: %v", att.ContentID, err),
				RefToMessageInError: state.MessageID(),
			}
		}
		if mimeType := part.Property(message.PartPropertyMimeType); mimeType != "" {
			expanded.ContentType = mimeType
		}
		out = append(out, expanded)
	}
	return out, nil
}

func (h *Handler) decompress(att security.Attachment, lifecycle *resource.Lifecycle) (security.Attachment, error) {
	if lifecycle == nil {
		data, err := att.Bytes()
		if err != nil {
			return att, err
		}
		plain, err := h.compressor.Decompress(data)
		if err != nil {
			return att, err
		}
		att.Data, att.Path = plain, ""
		return att, nil
	}

	src, err := att.Open()
	if err != nil {
		return att, err
	}
	defer src.Close()

	path, err := lifecycle.CreateTempFile()
	if err != nil {
		return att, err
	}
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return att, err
	}
	if err := h.compressor.DecompressTo(dst, src); err != nil {
		dst.Close()
		return att, err
	}
	if err := dst.Close(); err != nil {
		return att, err
	}
	att.Data, att.Path = nil, path
	return att, nil
}

func (h *Handler) record(ctx context.Context, outcome *Outcome, attachments int) {
	if h.journal == nil {
		return
	}
	state := outcome.State

	ex := &storage.Exchange{
		MessageID:         state.MessageID(),
		Direction:         storage.DirectionInbound,
		Kind:              MessageKind(state.Messaging),
		Status:            storage.StatusAccepted,
		LegNumber:         state.LegNumber,
		Attachments:       attachments,
		Stage:             outcome.Stage.String(),
		SignatureVerified: state.SignatureVerified(),
		Decrypted:         state.Decrypted(),
		ErrorCodes:        outcome.Codes(),
	}
	if um := state.UserMessage(); um != nil {
		ex.RefToMessageID = um.RefToMessageID()
	} else if sm := state.Messaging.FirstSignalMessage(); sm != nil && sm.MessageInfo != nil {
		ex.RefToMessageID = sm.MessageInfo.RefToMessageId
	}
	if state.PMode != nil {
		ex.PModeID = state.PMode.ID
	}
	if state.Certificate != nil {
		ex.CertificateSubject = state.Certificate.Subject.String()
	}
	if !outcome.Success() {
		ex.Status = storage.StatusRejected
		if len(outcome.Errors) > 0 {
			ex.LastError = outcome.Errors[0].Error()
		}
	}

	if err := h.journal.RecordExchange(ctx, ex); err != nil {
		h.logger.Warn("failed to journal exchange",
			slog.String("message_id", ex.MessageID),
			slog.String("error", err.Error()))
	}
}

// MessageKind names the kind of the first message unit of m, as recorded
// in the journal
func MessageKind(m *message.Messaging) string {
	if m.FirstUserMessage() != nil {
		return "user-message"
	}
	sm := m.FirstSignalMessage()
	switch {
	case sm == nil:
		return "unknown"
	case sm.PullRequest != nil:
		return "pull-request"
	case sm.Receipt != nil:
		return "receipt"
	case len(sm.Errors) > 0:
		return "error"
	default:
		return "signal"
	}
}
