// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package mime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/finvix/dbna-phase4/pkg/message"
)

// Media types of the SOAP part and of the package
const (
	ContentTypeMultipartRelated = "multipart/related"
	ContentTypeApplicationXML   = "application/xml"
	ContentTypeTextXML          = "text/xml"
	ContentTypeSOAPXML          = "application/soap+xml"
)

const defaultPayloadType = "application/octet-stream"

var (
	ErrNotMultipart     = errors.New("entity is neither SOAP nor multipart")
	ErrMissingBoundary  = errors.New("multipart content type without boundary")
	ErrEnvelopeNotFound = errors.New("no SOAP envelope part")
)

// Message is an AS4 transport entity: the serialized envelope, the media
// type of the SOAP part and the attachments that follow it.
type Message struct {
	Boundary    string
	ContentType string
	StartID     string
	Type        string
	Envelope    []byte
	Payloads    []Payload
}

// Payload is one attachment part. MimeType, CompressionType and
// CharacterSet mirror the part properties of its PartInfo.
type Payload struct {
	ContentID       string
	ContentType     string
	ContentTransfer string
	CompressionType string
	MimeType        string
	CharacterSet    string
	Data            []byte
	Headers         textproto.MIMEHeader
}

// NewMessage packs a SOAP 1.2 envelope with payloads. Set Type to
// ContentTypeTextXML for SOAP 1.1.
func NewMessage(envelope []byte, payloads []Payload) *Message {
	return &Message{
		Boundary:    generateBoundary(),
		ContentType: ContentTypeMultipartRelated,
		StartID:     AddContentIDBrackets(message.NewContentID()),
		Type:        ContentTypeSOAPXML,
		Envelope:    envelope,
		Payloads:    payloads,
	}
}

// IsMultipart reports whether the entity has attachments
func (m *Message) IsMultipart() bool {
	return len(m.Payloads) > 0
}

// Serialize returns the entity body and its Content-Type
func (m *Message) Serialize() ([]byte, string, error) {
	soapType := m.Type + "; charset=UTF-8"
	if !m.IsMultipart() {
		return m.Envelope, soapType, nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(m.Boundary); err != nil {
		return nil, "", fmt.Errorf("boundary %q: %w", m.Boundary, err)
	}

	root := textproto.MIMEHeader{
		"Content-Type":              {soapType},
		"Content-Transfer-Encoding": {"8bit"},
		"Content-ID":                {m.StartID},
	}
	if err := writePart(w, root, m.Envelope); err != nil {
		return nil, "", fmt.Errorf("envelope part: %w", err)
	}
	for i := range m.Payloads {
		p := &m.Payloads[i]
		if err := writePart(w, p.header(), p.Data); err != nil {
			return nil, "", fmt.Errorf("payload part %s: %w", p.ContentID, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart: %w", err)
	}

	return buf.Bytes(), mime.FormatMediaType(m.ContentType, map[string]string{
		"boundary": m.Boundary,
		"type":     m.Type,
		"start":    GetContentIDWithoutBrackets(m.StartID),
	}), nil
}

func writePart(w *multipart.Writer, header textproto.MIMEHeader, data []byte) error {
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// header builds the part header. Extra Headers never override the
// standard fields.
func (p *Payload) header() textproto.MIMEHeader {
	contentType := p.ContentType
	if contentType == "" {
		contentType = defaultPayloadType
	}
	if p.CharacterSet != "" {
		contentType += "; charset=" + p.CharacterSet
	}
	encoding := p.ContentTransfer
	if encoding == "" {
		encoding = "binary"
	}
	id := p.ContentID
	if id == "" {
		id = message.NewContentID()
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", encoding)
	h.Set("Content-ID", AddContentIDBrackets(id))
	for key, values := range p.Headers {
		if _, set := h[textproto.CanonicalMIMEHeaderKey(key)]; set {
			continue
		}
		for _, v := range values {
			h.Add(key, v)
		}
	}
	return h
}

// Parse reads an entity of the given Content-Type. A bare SOAP entity has
// no payloads. In a multipart entity the part named by the start parameter
// is the envelope, or the first part when start is absent. Payload
// Content-IDs are returned bare.
func Parse(r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("content type %q: %w", contentType, err)
	}

	switch {
	case mediaType == ContentTypeSOAPXML || mediaType == ContentTypeTextXML:
		envelope, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("reading envelope: %w", err)
		}
		return &Message{ContentType: mediaType, Type: mediaType, Envelope: envelope}, nil
	case !strings.HasPrefix(mediaType, "multipart/"):
		return nil, fmt.Errorf("%w: %s", ErrNotMultipart, mediaType)
	case params["boundary"] == "":
		return nil, ErrMissingBoundary
	}

	msg := &Message{
		Boundary:    params["boundary"],
		ContentType: mediaType,
		StartID:     params["start"],
		Type:        params["type"],
		Payloads:    []Payload{},
	}
	start := message.NormalizeContentID(msg.StartID)

	reader := multipart.NewReader(r, msg.Boundary)
	for n := 0; ; n++ {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading part %d: %w", n, err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("reading part %d: %w", n, err)
		}

		id := message.NormalizeContentID(part.Header.Get("Content-ID"))
		root := n == 0
		if start != "" {
			root = id == start
		}
		if root && msg.Envelope == nil {
			msg.Envelope = data
			continue
		}

		msg.Payloads = append(msg.Payloads, Payload{
			ContentID:       id,
			ContentType:     part.Header.Get("Content-Type"),
			ContentTransfer: part.Header.Get("Content-Transfer-Encoding"),
			Data:            data,
			Headers:         part.Header,
		})
	}

	if msg.Envelope == nil {
		return nil, ErrEnvelopeNotFound
	}
	return msg, nil
}

// CreatePayload wraps data as an attachment with a fresh Content-ID
func CreatePayload(data []byte, contentType string) Payload {
	return CreatePayloadWithID(data, contentType, message.NewContentID())
}

// CreatePayloadWithID wraps data as an attachment with the given Content-ID
func CreatePayloadWithID(data []byte, contentType, contentID string) Payload {
	return Payload{
		ContentID:       AddContentIDBrackets(contentID),
		ContentType:     contentType,
		ContentTransfer: "binary",
		Data:            data,
		Headers:         make(textproto.MIMEHeader),
	}
}

// ApplyPartInfo copies the part properties that userMessage declares for
// each payload onto it. Payloads without a PartInfo are left alone.
func (m *Message) ApplyPartInfo(userMessage *message.UserMessage) {
	for i := range m.Payloads {
		part := userMessage.Part(m.Payloads[i].ContentID)
		if part == nil {
			continue
		}
		m.Payloads[i].MimeType = part.Property(message.PartPropertyMimeType)
		m.Payloads[i].CompressionType = part.Property(message.PartPropertyCompressionType)
		m.Payloads[i].CharacterSet = part.Property(message.PartPropertyCharacterSet)
	}
}

// GetPayloadByContentID finds a payload by its Content-ID in any of the
// cid:, bracketed or bare forms.
func (m *Message) GetPayloadByContentID(contentID string) *Payload {
	normalizedSearch := message.NormalizeContentID(contentID)

	for i := range m.Payloads {
		if message.NormalizeContentID(m.Payloads[i].ContentID) == normalizedSearch {
			return &m.Payloads[i]
		}
	}
	return nil
}

func generateBoundary() string {
	return "MIMEBoundary_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetContentIDWithoutBrackets returns the Content-ID without its angle
// brackets
func GetContentIDWithoutBrackets(contentID string) string {
	return strings.TrimSuffix(strings.TrimPrefix(contentID, "<"), ">")
}

// AddContentIDBrackets returns the Content-ID in header form, <id>
func AddContentIDBrackets(contentID string) string {
	return "<" + GetContentIDWithoutBrackets(contentID) + ">"
}
