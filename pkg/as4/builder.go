// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package as4

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finvix/dbna-phase4/internal/storage"
	"github.com/finvix/dbna-phase4/pkg/compression"
	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/mime"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
)

// Kind is the type of an outbound message
type Kind int

const (
	KindPullRequest Kind = iota + 1
	KindUserMessage
	KindReceipt
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPullRequest:
		return "pull-request"
	case KindUserMessage:
		return "user-message"
	case KindReceipt:
		return "receipt"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Payload is the content of an outbound message. It is one of
// *PullRequest, *UserMessage, *Receipt or *ErrorSignal.
type Payload interface {
	Kind() Kind
	refToMessageID() string
}

// PullRequest asks the receiving MSH for the next message on MPC
type PullRequest struct {
	MPC string
	// Extensions are appended to the PullRequest element as-is
	Extensions []message.Extension
}

func (*PullRequest) Kind() Kind             { return KindPullRequest }
func (*PullRequest) refToMessageID() string { return "" }

// Party identifies a sender or receiver
type Party struct {
	ID   string
	Type string
	Role string
}

// UserMessage carries business documents. Body, when set, is an XML
// document placed in the SOAP body; attachments travel as MIME parts.
type UserMessage struct {
	From           Party
	To             Party
	Service        string
	ServiceType    string
	Action         string
	ConversationID string
	AgreementRef   string
	MPC            string
	RefToMessageID string
	Properties     []message.Property

	Body        []byte
	Attachments []security.Attachment

	// Compress gzips attachments whose content type benefits from it
	Compress bool
}

func (*UserMessage) Kind() Kind               { return KindUserMessage }
func (p *UserMessage) refToMessageID() string { return p.RefToMessageID }

// Receipt acknowledges the message RefToMessageID
type Receipt struct {
	RefToMessageID string
	// Content is placed inside the Receipt element, e.g. NonRepudiationInformation
	Content []byte
}

func (*Receipt) Kind() Kind               { return KindReceipt }
func (p *Receipt) refToMessageID() string { return p.RefToMessageID }

// ErrorSignal reports processing errors for the message RefToMessageID
type ErrorSignal struct {
	RefToMessageID string
	Errors         []*message.Error
}

func (*ErrorSignal) Kind() Kind               { return KindError }
func (p *ErrorSignal) refToMessageID() string { return p.RefToMessageID }

// BuiltMessage is a message ready for transport
type BuiltMessage struct {
	MessageID string
	Kind      Kind

	// Envelope is the final SOAP envelope, signed and encrypted as configured
	Envelope []byte

	// Attachments are the MIME parts as sent. Parts backed by temp files
	// are readable until the lifecycle passed to Build is released.
	Attachments []security.Attachment

	Signed    bool
	Encrypted bool

	// Body and ContentType are the transport entity and its media type
	Body        []byte
	ContentType string
}

// Option configures a Builder or a Client
type Option func(*options)

type options struct {
	capability security.Capability
	compressor *compression.Compressor
	logger     *slog.Logger
	now        func() time.Time
	transport  Transport
	journal    storage.Journal
}

// WithCapability sets the security engine. The default is security.WSSecurity.
func WithCapability(c security.Capability) Option {
	return func(o *options) {
		o.capability = c
	}
}

// WithCompressor sets the payload compressor
func WithCompressor(c *compression.Compressor) Option {
	return func(o *options) {
		o.compressor = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source for message timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.capability == nil {
		o.capability = security.NewWSSecurity(security.WithLogger(o.logger))
	}
	if o.compressor == nil {
		o.compressor = compression.NewCompressor()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Builder assembles, secures and packages outbound messages according to
// an ExchangeConfig. It never modifies the configuration.
type Builder struct {
	config *ExchangeConfig
	opts   *options
}

// NewBuilder creates a builder for config
func NewBuilder(config *ExchangeConfig, opts ...Option) *Builder {
	return &Builder{config: config, opts: newOptions(opts)}
}

// Build creates message messageID carrying payload. Temp files and
// handles created on the way are registered with lifecycle, which may be
// nil when everything fits in memory.
func (b *Builder) Build(ctx context.Context, messageID string, payload Payload, lifecycle *resource.Lifecycle) (*BuiltMessage, error) {
	if err := b.check(messageID, payload); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := b.opts.logger.With(
		slog.String("message_id", messageID),
		slog.String("kind", payload.Kind().String()))

	var tracker security.ResourceTracker
	if lifecycle != nil {
		tracker = lifecycle
	}

	ref := payload.refToMessageID()
	if ref == "" {
		ref = b.config.RefToMessageID()
	}
	info := &message.MessageInfo{
		Timestamp:      b.opts.now().UTC().Truncate(time.Millisecond),
		MessageId:      messageID,
		RefToMessageId: ref,
	}

	messaging, body, atts, err := b.assemble(info, payload)
	if err != nil {
		return nil, err
	}

	envelope := message.NewEnvelope(b.config.SOAPVersion().Namespace(), messaging, body)
	doc, err := envelope.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	built := &BuiltMessage{
		MessageID: messageID,
		Kind:      payload.Kind(),
	}

	if signing := b.config.Signing(); signing.Enabled() {
		factory, err := b.config.BuildCryptoFactory()
		if err != nil {
			return nil, err
		}
		keys, err := factory.KeyMaterial()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		doc, err = b.opts.capability.Sign(doc, atts, *signing, keys, tracker)
		if err != nil {
			return nil, err
		}
		built.Signed = true
	}

	if encryption := b.config.Encryption(); encryption.Enabled() {
		if encryption.Certificate == nil {
			return nil, fmt.Errorf("%w: encryption requires a recipient certificate", ErrConfiguration)
		}
		doc, atts, err = b.opts.capability.Encrypt(doc, atts, *encryption, tracker)
		if err != nil {
			return nil, err
		}
		built.Encrypted = true
	}

	payloads := make([]mime.Payload, 0, len(atts))
	for i := range atts {
		data, err := atts[i].Bytes()
		if err != nil {
			return nil, fmt.Errorf("reading attachment %s: %w", atts[i].ContentID, err)
		}
		payloads = append(payloads, mime.Payload{
			ContentID:   atts[i].ContentID,
			ContentType: atts[i].ContentType,
			Data:        data,
			Headers:     atts[i].Headers,
		})
	}

	entity := mime.NewMessage(doc, payloads)
	entity.Type = b.config.SOAPVersion().MimeType()
	out, contentType, err := entity.Serialize()
	if err != nil {
		return nil, err
	}

	built.Envelope = doc
	built.Attachments = atts
	built.Body = out
	built.ContentType = contentType

	logger.Debug("built message",
		slog.Bool("signed", built.Signed),
		slog.Bool("encrypted", built.Encrypted),
		slog.Int("attachments", len(atts)))
	return built, nil
}

// check verifies the preconditions of Build
func (b *Builder) check(messageID string, payload Payload) error {
	if !b.config.SOAPVersion().valid() {
		return fmt.Errorf("%w: SOAP version is not set", ErrConfiguration)
	}
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("%w: message id is empty", ErrConfiguration)
	}
	switch p := payload.(type) {
	case nil:
		return fmt.Errorf("%w: no payload", ErrConfiguration)
	case *PullRequest:
		if strings.TrimSpace(p.MPC) == "" {
			return fmt.Errorf("%w: pull request requires an MPC", ErrConfiguration)
		}
	case *Receipt:
		if p.RefToMessageID == "" {
			return fmt.Errorf("%w: receipt requires RefToMessageID", ErrConfiguration)
		}
	case *ErrorSignal:
		if len(p.Errors) == 0 {
			return fmt.Errorf("%w: error signal carries no errors", ErrConfiguration)
		}
	}
	return nil
}

func (b *Builder) assemble(info *message.MessageInfo, payload Payload) (*message.Messaging, []byte, []security.Attachment, error) {
	switch p := payload.(type) {
	case *PullRequest:
		signal := message.NewPullRequest(info, p.MPC, p.Extensions...)
		return &message.Messaging{SignalMessages: []*message.SignalMessage{signal}}, nil, nil, nil

	case *Receipt:
		signal := message.NewReceipt(info, p.Content)
		return &message.Messaging{SignalMessages: []*message.SignalMessage{signal}}, nil, nil, nil

	case *ErrorSignal:
		signal := message.NewError(info, p.Errors...)
		return &message.Messaging{SignalMessages: []*message.SignalMessage{signal}}, nil, nil, nil

	case *UserMessage:
		um, atts, err := b.userMessage(info, p)
		if err != nil {
			return nil, nil, nil, err
		}
		return &message.Messaging{UserMessages: []*message.UserMessage{um}}, p.Body, atts, nil

	default:
		return nil, nil, nil, fmt.Errorf("%w: unsupported payload %T", ErrConfiguration, payload)
	}
}

func (b *Builder) userMessage(info *message.MessageInfo, p *UserMessage) (*message.UserMessage, []security.Attachment, error) {
	opts := []message.Option{
		message.WithMessageId(info.MessageId),
		message.WithTimestamp(info.Timestamp),
		message.WithRefToMessageId(info.RefToMessageId),
		message.WithFrom(p.From.ID, p.From.Type),
		message.WithTo(p.To.ID, p.To.Type),
		message.WithServiceType(p.Service, p.ServiceType),
		message.WithAction(p.Action),
	}
	if p.From.Role != "" {
		opts = append(opts, message.WithFromRole(p.From.Role))
	}
	if p.To.Role != "" {
		opts = append(opts, message.WithToRole(p.To.Role))
	}
	if p.ConversationID != "" {
		opts = append(opts, message.WithConversationId(p.ConversationID))
	}
	if p.AgreementRef != "" {
		opts = append(opts, message.WithAgreementRef(p.AgreementRef))
	}
	if p.MPC != "" {
		opts = append(opts, message.WithMPC(p.MPC))
	}
	for _, prop := range p.Properties {
		opts = append(opts, message.WithMessageProperty(prop.Name, prop.Value))
	}

	mb := message.NewUserMessage(opts...)
	atts := make([]security.Attachment, 0, len(p.Attachments))
	for _, att := range p.Attachments {
		data, err := att.Bytes()
		if err != nil {
			return nil, nil, fmt.Errorf("reading attachment %s: %w", att.ContentID, err)
		}

		contentID := message.NormalizeContentID(att.ContentID)
		if contentID == "" {
			contentID = message.NewContentID()
		}
		out := security.Attachment{
			ContentID:   contentID,
			ContentType: att.ContentType,
			Headers:     att.Headers,
			Data:        data,
		}

		compress := p.Compress && compression.ShouldCompress(att.ContentType)
		if compress {
			out.ContentType = compression.CompressionTypeGzip
			out.Data, err = b.opts.compressor.Compress(data)
			if err != nil {
				return nil, nil, fmt.Errorf("compressing attachment %s: %w", contentID, err)
			}
		}

		mb.AddPayloadWithID(contentID, out.Data, out.ContentType)
		if compress {
			mb.AddPartProperty(message.PartPropertyCompressionType, compression.CompressionTypeGzip)
			mb.AddPartProperty(message.PartPropertyMimeType, att.ContentType)
		}
		atts = append(atts, out)
	}
	if len(p.Body) > 0 {
		mb.AddBodyPayload()
	}

	um, _, err := mb.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return um, atts, nil
}
