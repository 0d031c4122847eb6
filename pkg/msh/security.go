// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package msh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beevik/etree"

	"github.com/finvix/dbna-phase4/pkg/message"
	"github.com/finvix/dbna-phase4/pkg/pmode"
	"github.com/finvix/dbna-phase4/pkg/security"
)

var (
	// ErrInvalidInbound is returned for input that cannot be processed at all
	ErrInvalidInbound = errors.New("invalid inbound message")
	// ErrKeyMaterial is returned when the local keys cannot be loaded
	ErrKeyMaterial = errors.New("key material unavailable")
)

// ProcessorConfig holds the collaborators of a SecurityProcessor
type ProcessorConfig struct {
	// Capability verifies and decrypts. Defaults to security.NewWSSecurity.
	Capability security.Capability

	// Factory provides the local key material used to decrypt and to
	// resolve referenced certificates. Without it only embedded tokens
	// can be verified and nothing can be decrypted.
	Factory security.CryptoFactory

	Logger *slog.Logger
}

// SecurityProcessor checks the security of inbound messages against the
// leg of their processing mode
type SecurityProcessor struct {
	capability security.Capability
	factory    security.CryptoFactory
	logger     *slog.Logger
}

// NewSecurityProcessor creates a processor from config
func NewSecurityProcessor(config ProcessorConfig) *SecurityProcessor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capability := config.Capability
	if capability == nil {
		capability = security.NewWSSecurity(security.WithLogger(logger))
	}
	return &SecurityProcessor{
		capability: capability,
		factory:    config.Factory,
		logger:     logger,
	}
}

// exchange is what the steps of one run share
type exchange struct {
	in     *Inbound
	doc    *etree.Document
	state  *ExchangeState
	logger *slog.Logger
}

type step func(ctx context.Context, ex *exchange) (Stage, *ProcessingError, error)

// Process runs the security steps for in. Protocol failures end in
// StageFailed with the ebMS errors in the outcome. A non-nil error means
// the message could not be processed at all, for example because the
// envelope does not parse or the local keys cannot be loaded.
func (p *SecurityProcessor) Process(ctx context.Context, in *Inbound) (*Outcome, error) {
	if in == nil || len(in.Document) == 0 {
		return nil, fmt.Errorf("%w: no document", ErrInvalidInbound)
	}

	env, err := message.Parse(in.Document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInbound, err)
	}
	messaging, err := env.Messaging()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInbound, err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(in.Document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInbound, err)
	}

	state := &ExchangeState{PMode: in.PMode, Messaging: messaging}
	ex := &exchange{
		in:     in,
		doc:    doc,
		state:  state,
		logger: p.logger.With(slog.String("message_id", state.MessageID())),
	}

	steps := []step{
		p.checkEnvelope,
		p.selectLeg,
		p.validateAlgorithms,
		p.validateAttachments,
		p.verify,
	}

	outcome := &Outcome{Stage: StageStart, State: state}
	for _, run := range steps {
		if outcome.Stage.Terminal() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, perr, err := run(ctx, ex)
		if err != nil {
			return nil, err
		}
		if perr != nil {
			outcome.Errors = append(outcome.Errors, perr)
			ex.logger.Warn("inbound security processing failed",
				slog.String("stage", outcome.Stage.String()),
				slog.String("code", perr.Code.Code),
				slog.String("detail", perr.Detail))
		}
		outcome.Stage = next
	}
	if outcome.Stage == StageVerified {
		outcome.Stage = StageDone
	}

	ex.logger.Debug("inbound security processing finished",
		slog.String("stage", outcome.Stage.String()),
		slog.Bool("signature_verified", state.SignatureVerified()),
		slog.Bool("decrypted", state.Decrypted()))
	return outcome, nil
}

// checkEnvelope rejects envelopes whose parsed state could come from more
// than one Messaging header or Body
func (p *SecurityProcessor) checkEnvelope(_ context.Context, ex *exchange) (Stage, *ProcessingError, error) {
	root := ex.doc.Root()
	soapNS := root.NamespaceURI()
	if n := len(childElements(root, soapNS, "Header")); n > 1 {
		return StageFailed, ex.fail(message.ErrorFailedDecryption, fmt.Sprintf("envelope has %d Header elements", n)), nil
	}
	if n := len(childElements(root, soapNS, "Body")); n != 1 {
		return StageFailed, ex.fail(message.ErrorFailedDecryption, fmt.Sprintf("envelope has %d Body elements", n)), nil
	}
	if n := countElements(root, message.NsEbMS, "Messaging"); n != 1 {
		return StageFailed, ex.fail(message.ErrorFailedDecryption, fmt.Sprintf("envelope has %d Messaging headers", n)), nil
	}
	return StageStart, nil, nil
}

func (p *SecurityProcessor) selectLeg(_ context.Context, ex *exchange) (Stage, *ProcessingError, error) {
	state := ex.state
	if state.PMode == nil {
		return StageFailed, ex.fail(message.ErrorProcessingModeMismatch, "no processing mode for the message"), nil
	}

	state.LegNumber = pmode.SelectLeg(state.UserMessage().RefToMessageID())
	state.Leg = state.PMode.Leg(state.LegNumber)
	if state.Leg == nil || state.Leg.Security == nil {
		ex.logger.Debug("leg declares no security",
			slog.String("pmode", state.PMode.ID),
			slog.Int("leg", state.LegNumber))
		return StageDone, nil, nil
	}
	return StageLegSelected, nil, nil
}

func (p *SecurityProcessor) validateAlgorithms(_ context.Context, ex *exchange) (Stage, *ProcessingError, error) {
	sig := childElement(securityHeader(ex.doc), security.NSXMLDSig, "Signature")
	if sig == nil {
		return StageAlgorithmsValidated, nil, nil
	}

	signedInfo := childElement(sig, security.NSXMLDSig, "SignedInfo")
	method := childElement(signedInfo, security.NSXMLDSig, "SignatureMethod")
	uri := attrValue(method, "Algorithm")
	if !pmode.ParseSignatureAlgorithm(uri).Recognized() {
		return StageFailed, ex.fail(message.ErrorFailedAuthentication,
			fmt.Sprintf("unsupported signature algorithm %q", uri)), nil
	}

	ref := childElement(signedInfo, security.NSXMLDSig, "Reference")
	digest := attrValue(childElement(ref, security.NSXMLDSig, "DigestMethod"), "Algorithm")
	if !pmode.ParseHashAlgorithm(digest).Recognized() {
		return StageFailed, ex.fail(message.ErrorFailedAuthentication,
			fmt.Sprintf("unsupported digest algorithm %q", digest)), nil
	}
	return StageAlgorithmsValidated, nil, nil
}

func (p *SecurityProcessor) validateAttachments(_ context.Context, ex *exchange) (Stage, *ProcessingError, error) {
	um := ex.state.UserMessage()
	if um == nil {
		return StageAttachmentsValidated, nil, nil
	}

	var parts []message.PartInfo
	if um.PayloadInfo != nil {
		parts = um.PayloadInfo.PartInfo
	}
	offset := 0
	if bodyHasContent(ex.doc) {
		offset = 1
	}

	for i, att := range ex.in.Attachments {
		id := attachmentID(att.ContentID)
		idx := i + offset
		if idx >= len(parts) {
			return StageFailed, ex.fail(message.ErrorValueInconsistent,
				fmt.Sprintf("no PartInfo for attachment %q", id)), nil
		}
		if id == "" || !strings.Contains(parts[idx].Href, id) {
			return StageFailed, ex.fail(message.ErrorValueInconsistent,
				fmt.Sprintf("attachment %q does not match PartInfo href %q", id, parts[idx].Href)), nil
		}
	}
	return StageAttachmentsValidated, nil, nil
}

func (p *SecurityProcessor) verify(_ context.Context, ex *exchange) (Stage, *ProcessingError, error) {
	keys := &security.KeyMaterial{}
	if p.factory != nil {
		loaded, err := p.factory.KeyMaterial()
		if err != nil {
			return StageFailed, nil, fmt.Errorf("%w: %w", ErrKeyMaterial, err)
		}
		keys = loaded
	}

	result, err := p.capability.VerifyAndDecrypt(ex.in.Document, ex.in.Attachments, keys)
	if err != nil {
		return StageFailed, ex.fail(message.ErrorFailedDecryption, err.Error()), nil
	}

	if result.Has(security.ActionSignatureCheck) {
		if perr := ex.checkSignedParts(); perr != nil {
			return StageFailed, perr, nil
		}
	}

	state := ex.state
	for _, r := range result.Results {
		state.addCertificate(r.Certificate)
		switch r.Action {
		case security.ActionSignatureCheck:
			state.markSignatureVerified()
		case security.ActionDecryption:
			state.markDecrypted()
		}
	}
	if len(state.Certificates) > 1 {
		ex.logger.Warn("more than one certificate used in security processing",
			slog.Int("certificates", len(state.Certificates)))
	}
	state.DecryptedDocument = result.Document

	for _, att := range result.Attachments {
		materialized, err := ex.materialize(att)
		if err != nil {
			return StageFailed, nil, err
		}
		state.Attachments = append(state.Attachments, materialized)
	}
	return StageVerified, nil, nil
}

// checkSignedParts fails unless the signature references the Messaging
// header the state was read from and, when it has content, the Body
func (ex *exchange) checkSignedParts() *ProcessingError {
	signed := make(map[string]bool)
	sig := childElement(securityHeader(ex.doc), security.NSXMLDSig, "Signature")
	for _, ref := range childElements(childElement(sig, security.NSXMLDSig, "SignedInfo"), security.NSXMLDSig, "Reference") {
		if uri := attrValue(ref, "URI"); strings.HasPrefix(uri, "#") {
			signed[strings.TrimPrefix(uri, "#")] = true
		}
	}

	root := ex.doc.Root()
	soapNS := root.NamespaceURI()
	messaging := childElement(childElement(root, soapNS, "Header"), message.NsEbMS, "Messaging")
	if id := elementID(messaging); id == "" || !signed[id] {
		return ex.fail(message.ErrorFailedDecryption, "Messaging header is not covered by the signature")
	}
	if bodyHasContent(ex.doc) {
		if id := elementID(childElement(root, soapNS, "Body")); id == "" || !signed[id] {
			return ex.fail(message.ErrorFailedDecryption, "Body is not covered by the signature")
		}
	}
	return nil
}

func (ex *exchange) fail(code message.ErrorCode, detail string) *ProcessingError {
	return &ProcessingError{
		Code:                code,
		Detail:              detail,
		RefToMessageInError: ex.state.MessageID(),
	}
}

// materialize copies att into a temp file of the exchange lifecycle. Without
// a lifecycle the attachment is kept in memory.
func (ex *exchange) materialize(att security.Attachment) (security.Attachment, error) {
	if ex.in.Lifecycle == nil {
		data, err := att.Bytes()
		if err != nil {
			return att, fmt.Errorf("reading attachment %s: %w", att.ContentID, err)
		}
		att.Data, att.Path = data, ""
		return att, nil
	}

	r, err := att.Open()
	if err != nil {
		return att, fmt.Errorf("reading attachment %s: %w", att.ContentID, err)
	}
	defer r.Close()

	path, err := ex.in.Lifecycle.Materialize(r)
	if err != nil {
		return att, fmt.Errorf("storing attachment %s: %w", att.ContentID, err)
	}
	att.Data, att.Path = nil, path
	return att, nil
}

// attachmentID strips angle brackets and the attachment= wrapper from a
// MIME content id
func attachmentID(contentID string) string {
	id := strings.TrimSpace(contentID)
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		id = id[1 : len(id)-1]
	}
	return strings.TrimPrefix(id, "attachment=")
}

func securityHeader(doc *etree.Document) *etree.Element {
	root := doc.Root()
	if root == nil {
		return nil
	}
	return childElement(childElement(root, root.NamespaceURI(), "Header"), security.NSSecurityExt, "Security")
}

// bodyHasContent reports whether the SOAP Body has an element child
func bodyHasContent(doc *etree.Document) bool {
	root := doc.Root()
	if root == nil {
		return false
	}
	body := childElement(root, root.NamespaceURI(), "Body")
	return body != nil && len(body.ChildElements()) > 0
}

func childElement(parent *etree.Element, ns, local string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == ns {
			return c
		}
	}
	return nil
}

func childElements(parent *etree.Element, ns, local string) []*etree.Element {
	var out []*etree.Element
	if parent == nil {
		return out
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == local && c.NamespaceURI() == ns {
			out = append(out, c)
		}
	}
	return out
}

// countElements counts the elements named local in ns anywhere under root
func countElements(root *etree.Element, ns, local string) int {
	n := 0
	if root.Tag == local && root.NamespaceURI() == ns {
		n++
	}
	for _, c := range root.ChildElements() {
		n += countElements(c, ns, local)
	}
	return n
}

// elementID returns the Id attribute of elem with any prefix
func elementID(elem *etree.Element) string {
	if elem == nil {
		return ""
	}
	for _, a := range elem.Attr {
		if a.Key == "Id" {
			return a.Value
		}
	}
	return ""
}

func attrValue(elem *etree.Element, key string) string {
	if elem == nil {
		return ""
	}
	return elem.SelectAttrValue(key, "")
}
