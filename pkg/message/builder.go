// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Build failures of a UserMessageBuilder
var (
	ErrMissingFrom    = errors.New("user message: no sending party")
	ErrMissingTo      = errors.New("user message: no receiving party")
	ErrMissingService = errors.New("user message: no service")
	ErrMissingAction  = errors.New("user message: no action")
	ErrNoPayloadPart  = errors.New("user message: part property before any payload")
)

// UserMessageBuilder assembles a UserMessage and the payloads its PartInfo
// entries reference. Misuse is collected and reported by Build.
type UserMessageBuilder struct {
	msg      *UserMessage
	payloads []PayloadPart
	errors   []error
}

// Option configures a UserMessageBuilder
type Option func(*UserMessageBuilder)

// NewUserMessage starts a user message with a fresh message id, the current
// time and a fresh conversation id, then applies opts.
func NewUserMessage(opts ...Option) *UserMessageBuilder {
	b := &UserMessageBuilder{msg: &UserMessage{
		MessageInfo:       &MessageInfo{Timestamp: Now(), MessageId: NewMessageID()},
		PartyInfo:         &PartyInfo{From: &Party{}, To: &Party{}},
		CollaborationInfo: &CollaborationInfo{ConversationId: uuid.NewString()},
	}}
	for _, apply := range opts {
		apply(b)
	}
	return b
}

func party(id, idType string) []PartyId {
	return []PartyId{{Type: idType, Value: id}}
}

func WithFrom(partyId, partyType string) Option {
	return func(b *UserMessageBuilder) { b.msg.PartyInfo.From.PartyId = party(partyId, partyType) }
}

func WithTo(partyId, partyType string) Option {
	return func(b *UserMessageBuilder) { b.msg.PartyInfo.To.PartyId = party(partyId, partyType) }
}

func WithFromRole(role string) Option {
	return func(b *UserMessageBuilder) { b.msg.PartyInfo.From.Role = role }
}

func WithToRole(role string) Option {
	return func(b *UserMessageBuilder) { b.msg.PartyInfo.To.Role = role }
}

func WithService(service string) Option {
	return WithServiceType(service, "")
}

// WithServiceType sets a typed service. An empty type leaves the attribute
// out.
func WithServiceType(service, serviceType string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.CollaborationInfo.Service = Service{Type: serviceType, Value: service}
	}
}

func WithAction(action string) Option {
	return func(b *UserMessageBuilder) { b.msg.CollaborationInfo.Action = action }
}

// WithMessageId replaces the generated message id
func WithMessageId(id string) Option {
	return func(b *UserMessageBuilder) { b.msg.MessageInfo.MessageId = id }
}

func WithTimestamp(ts time.Time) Option {
	return func(b *UserMessageBuilder) { b.msg.MessageInfo.Timestamp = ts.UTC() }
}

func WithMPC(mpc string) Option {
	return func(b *UserMessageBuilder) { b.msg.MPC = mpc }
}

// WithConversationId replaces the generated conversation id
func WithConversationId(convId string) Option {
	return func(b *UserMessageBuilder) { b.msg.CollaborationInfo.ConversationId = convId }
}

// WithRefToMessageId marks the message as an answer to refId
func WithRefToMessageId(refId string) Option {
	return func(b *UserMessageBuilder) { b.msg.MessageInfo.RefToMessageId = refId }
}

func WithAgreementRef(agreementRef string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.CollaborationInfo.AgreementRef = &AgreementRef{Value: agreementRef}
	}
}

// WithMessageProperty appends a message property. Repeated names are kept.
func WithMessageProperty(name, value string) Option {
	return func(b *UserMessageBuilder) {
		if b.msg.MessageProperties == nil {
			b.msg.MessageProperties = &MessageProperties{}
		}
		props := b.msg.MessageProperties
		props.Property = append(props.Property, Property{Name: name, Value: value})
	}
}

func (b *UserMessageBuilder) payloadInfo() *PayloadInfo {
	if b.msg.PayloadInfo == nil {
		b.msg.PayloadInfo = &PayloadInfo{}
	}
	return b.msg.PayloadInfo
}

// AddPayload attaches data under a generated Content-ID
func (b *UserMessageBuilder) AddPayload(data []byte, contentType string) *UserMessageBuilder {
	return b.AddPayloadWithID(NewContentID(), data, contentType)
}

// AddPayloadWithID attaches data under contentId, given in any form, and
// references it with a cid: PartInfo
func (b *UserMessageBuilder) AddPayloadWithID(contentId string, data []byte, contentType string) *UserMessageBuilder {
	id := NormalizeContentID(contentId)
	b.payloads = append(b.payloads, PayloadPart{ContentID: id, ContentType: contentType, Data: data})
	info := b.payloadInfo()
	info.PartInfo = append(info.PartInfo, NewPartInfo(id))
	return b
}

// AddBodyPayload references a payload carried in the SOAP body. Its
// PartInfo has no href and goes before the attachment parts.
func (b *UserMessageBuilder) AddBodyPayload() *UserMessageBuilder {
	info := b.payloadInfo()
	info.PartInfo = append([]PartInfo{{}}, info.PartInfo...)
	return b
}

// AddPartProperty sets a property on the PartInfo added last
func (b *UserMessageBuilder) AddPartProperty(name, value string) *UserMessageBuilder {
	if b.msg.PayloadInfo == nil || len(b.msg.PayloadInfo.PartInfo) == 0 {
		b.errors = append(b.errors, ErrNoPayloadPart)
		return b
	}
	parts := b.msg.PayloadInfo.PartInfo
	parts[len(parts)-1].SetProperty(name, value)
	return b
}

// Build returns the user message and its attachments. Both parties, the
// service and the action are required.
func (b *UserMessageBuilder) Build() (*UserMessage, []PayloadPart, error) {
	if len(b.errors) > 0 {
		return nil, nil, b.errors[0]
	}

	m := b.msg
	switch {
	case len(m.PartyInfo.From.PartyId) == 0:
		return nil, nil, ErrMissingFrom
	case len(m.PartyInfo.To.PartyId) == 0:
		return nil, nil, ErrMissingTo
	case m.CollaborationInfo.Service.Value == "":
		return nil, nil, ErrMissingService
	case m.CollaborationInfo.Action == "":
		return nil, nil, ErrMissingAction
	}
	return m, b.payloads, nil
}

// BuildEnvelope wraps the built message in a SOAP 1.2 envelope
func (b *UserMessageBuilder) BuildEnvelope() (*Envelope, []PayloadPart, error) {
	m, payloads, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return NewEnvelope(NsSOAP12Env, &Messaging{UserMessages: []*UserMessage{m}}, nil), payloads, nil
}

// Now returns the current UTC time at millisecond precision, the resolution
// ebMS timestamps carry.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewMessageID generates a unique message ID in RFC 2822 msg-id form
func NewMessageID() string {
	return fmt.Sprintf("%s@as4.dbna.local", uuid.New().String())
}

// NewContentID generates a unique MIME Content-ID
func NewContentID() string {
	return fmt.Sprintf("%s@as4.dbna.local", uuid.New().String())
}

// NewMessageInfo creates MessageInfo stamped with the current time
func NewMessageInfo(messageID, refToMessageID string) *MessageInfo {
	return &MessageInfo{
		Timestamp:      Now(),
		MessageId:      messageID,
		RefToMessageId: refToMessageID,
	}
}

// NewPullRequest creates a pull request signal for mpc
func NewPullRequest(info *MessageInfo, mpc string, extensions ...Extension) *SignalMessage {
	return &SignalMessage{
		MessageInfo: info,
		PullRequest: &PullRequest{
			MPC:        mpc,
			Extensions: extensions,
		},
	}
}

// NewReceipt creates a receipt signal. content is placed inside the Receipt
// element as-is and may be empty.
func NewReceipt(info *MessageInfo, content []byte) *SignalMessage {
	return &SignalMessage{
		MessageInfo: info,
		Receipt:     &Receipt{Any: content},
	}
}

// NewError creates an error signal carrying errs
func NewError(info *MessageInfo, errs ...*Error) *SignalMessage {
	return &SignalMessage{
		MessageInfo: info,
		Errors:      errs,
	}
}
