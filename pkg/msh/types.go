// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package msh

import (
	"crypto/x509"
	"fmt"

	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/resource"
	"github.com/finvix/dbna-phase4/pkg/security"
)

// Stage is a step of inbound security processing
type Stage int

const (
	StageStart Stage = iota
	StageLegSelected
	StageAlgorithmsValidated
	StageAttachmentsValidated
	StageVerified
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageLegSelected:
		return "leg-selected"
	case StageAlgorithmsValidated:
		return "algorithms-validated"
	case StageAttachmentsValidated:
		return "attachments-validated"
	case StageVerified:
		return "verified"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Terminal reports whether no step follows s
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// Inbound is a received message ready for security processing
type Inbound struct {
	// PMode is the processing mode agreed for the exchange
	PMode *pmode.ProcessingMode

	// Document is the serialized SOAP envelope
	Document []byte

	// Attachments are the MIME parts after the root part, in order
	Attachments []security.Attachment

	// Lifecycle receives the temp files of decrypted attachments. It is
	// released by the caller once the exchange is over.
	Lifecycle *resource.Lifecycle
}

// ExchangeState collects what is learned about one inbound exchange. A
// fresh state is created per exchange and is not shared.
type ExchangeState struct {
	PMode     *pmode.ProcessingMode
	LegNumber int
	Leg       *pmode.Leg
	Messaging *message.Messaging

	signatureVerified bool
	decrypted         bool

	// Certificates are the distinct certificates seen while verifying
	Certificates []*x509.Certificate

	// Certificate is the first of Certificates
	Certificate *x509.Certificate

	// DecryptedDocument is the envelope after decryption
	DecryptedDocument []byte

	// Attachments are the decrypted attachments, each backed by a temp
	// file of the exchange lifecycle
	Attachments []security.Attachment
}

// SignatureVerified reports whether a signature was checked successfully
func (s *ExchangeState) SignatureVerified() bool {
	return s.signatureVerified
}

// Decrypted reports whether content was decrypted
func (s *ExchangeState) Decrypted() bool {
	return s.decrypted
}

func (s *ExchangeState) markSignatureVerified() {
	s.signatureVerified = true
}

func (s *ExchangeState) markDecrypted() {
	s.decrypted = true
}

// UserMessage returns the first user message of the exchange, or nil
func (s *ExchangeState) UserMessage() *message.UserMessage {
	return s.Messaging.FirstUserMessage()
}

// MessageID returns the id of the first user or signal message
func (s *ExchangeState) MessageID() string {
	if um := s.Messaging.FirstUserMessage(); um != nil && um.MessageInfo != nil {
		return um.MessageInfo.MessageId
	}
	if sm := s.Messaging.FirstSignalMessage(); sm != nil && sm.MessageInfo != nil {
		return sm.MessageInfo.MessageId
	}
	return ""
}

func (s *ExchangeState) addCertificate(cert *x509.Certificate) {
	if cert == nil {
		return
	}
	for _, c := range s.Certificates {
		if c.Equal(cert) {
			return
		}
	}
	s.Certificates = append(s.Certificates, cert)
	if s.Certificate == nil {
		s.Certificate = cert
	}
}

// ProcessingError is an ebMS error raised while processing a message
type ProcessingError struct {
	Code                message.ErrorCode
	Detail              string
	RefToMessageInError string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Code.Code, e.Code.ShortDescription, e.Detail)
}

// Entry converts e into an ebMS Error element
func (e *ProcessingError) Entry() *message.Error {
	return message.NewErrorEntry(e.Code, e.RefToMessageInError, e.Detail)
}

// Outcome is the result of processing one inbound exchange
type Outcome struct {
	Stage  Stage
	State  *ExchangeState
	Errors []*ProcessingError
}

// Success reports whether processing reached StageDone
func (o *Outcome) Success() bool {
	return o.Stage == StageDone
}

// Codes returns the ebMS codes of the errors
func (o *Outcome) Codes() []string {
	codes := make([]string, 0, len(o.Errors))
	for _, e := range o.Errors {
		codes = append(codes, e.Code.Code)
	}
	return codes
}

// ErrorSignal builds the signal message reporting the errors of o, or nil
// when there are none
func (o *Outcome) ErrorSignal(messageID string) *message.SignalMessage {
	if len(o.Errors) == 0 {
		return nil
	}
	ref := ""
	if o.State != nil {
		ref = o.State.MessageID()
	}
	entries := make([]*message.Error, 0, len(o.Errors))
	for _, e := range o.Errors {
		entries = append(entries, e.Entry())
	}
	return message.NewError(message.NewMessageInfo(messageID, ref), entries...)
}
