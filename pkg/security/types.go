// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"bytes"
	"io"
	"net/textproto"
	"os"
	"strings"

	"github.com/google/uuid"
)

// WS-Security namespaces
const (
	NSSecurityExt   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NSSecurityExt11 = "http://docs.oasis-open.org/wss/oasis-wss-wssecurity-secext-1.1.xsd"
	NSSecurityUtil  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NSXMLDSig       = "http://www.w3.org/2000/09/xmldsig#"
	NSXMLEnc        = "http://www.w3.org/2001/04/xmlenc#"
	NSXMLEnc11      = "http://www.w3.org/2009/xmlenc11#"
	NSSOAP11        = "http://schemas.xmlsoap.org/soap/envelope/"
	NSSOAP12        = "http://www.w3.org/2003/05/soap-envelope"
)

// Algorithm and token type URIs that are not configurable
const (
	AlgorithmC14N       = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgorithmMGF1SHA256 = "http://www.w3.org/2009/xmlenc11#mgf1sha256"

	TransformAttachmentSignature  = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Content-Signature-Transform"
	TransformAttachmentCiphertext = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Ciphertext-Transform"
	TypeAttachmentContentOnly     = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Content-Only"

	EncodingBase64     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
	ValueTypeX509v3    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	ValueTypeSKI       = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509SubjectKeyIdentifier"
	TokenTypeEncKey    = "http://docs.oasis-open.org/wss/oasis-wss-soap-message-security-1.1#EncryptedKey"
	timestampLayout    = "2006-01-02T15:04:05.000Z"
	encryptedMediaType = "application/octet-stream"
)

// Attachment is a MIME part travelling alongside the SOAP envelope. Its
// content lives either in Data or in the file at Path and can be read any
// number of times.
type Attachment struct {
	// ContentID without angle brackets or cid: prefix
	ContentID   string
	ContentType string
	Headers     textproto.MIMEHeader

	Data []byte
	Path string
}

// Open returns a fresh reader over the attachment content
func (a *Attachment) Open() (io.ReadCloser, error) {
	if a.Path != "" {
		return os.Open(a.Path)
	}
	return io.NopCloser(bytes.NewReader(a.Data)), nil
}

// Bytes reads the whole attachment content
func (a *Attachment) Bytes() ([]byte, error) {
	if a.Path == "" {
		return a.Data, nil
	}
	return os.ReadFile(a.Path)
}

func (a *Attachment) withContent(contentType string, data []byte) Attachment {
	headers := make(textproto.MIMEHeader, len(a.Headers)+1)
	for k, v := range a.Headers {
		headers[k] = append([]string(nil), v...)
	}
	headers.Set("Content-Type", contentType)
	return Attachment{
		ContentID:   a.ContentID,
		ContentType: contentType,
		Headers:     headers,
		Data:        data,
	}
}

func findAttachment(atts []Attachment, uri string) (int, bool) {
	id := strings.TrimPrefix(strings.TrimSpace(uri), "cid:")
	id = strings.Trim(id, "<>")
	for i := range atts {
		if strings.Trim(atts[i].ContentID, "<>") == id {
			return i, true
		}
	}
	return -1, false
}

// generateID returns a random suffix for wsu:Id values
func generateID() string {
	return uuid.NewString()
}
