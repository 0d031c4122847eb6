// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"crypto"
	"crypto/x509"
	"errors"
	"io"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

var (
	ErrNoSecurityHeader     = errors.New("no wsse:Security header")
	ErrMissingKeyMaterial   = errors.New("key material is incomplete")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrDigestMismatch       = errors.New("reference digest mismatch")
	ErrInvalidSignature     = errors.New("signature value does not verify")
	ErrUnknownToken         = errors.New("security token cannot be resolved")
	ErrMissingAttachment    = errors.New("referenced attachment not found")
	ErrNotRecipient         = errors.New("encrypted key is not addressed to this certificate")
)

// Capability is the crypto engine used by the builder and the inbound
// processor. Documents are serialized SOAP envelopes.
type Capability interface {
	// Sign adds a wsse:Security header carrying an XML signature over the
	// ebMS header, the body and the attachments.
	Sign(doc []byte, atts []Attachment, params SigningParams, keys *KeyMaterial, tracker ResourceTracker) ([]byte, error)

	// Encrypt encrypts the attachments for the recipient certificate and
	// returns the amended document with the encrypted attachments.
	Encrypt(doc []byte, atts []Attachment, params EncryptionParams, tracker ResourceTracker) ([]byte, []Attachment, error)

	// VerifyAndDecrypt decrypts what was encrypted for keys and then checks
	// the signature, if any.
	VerifyAndDecrypt(doc []byte, atts []Attachment, keys *KeyMaterial) (*Verification, error)
}

// Action is a security operation performed on an inbound message
type Action int

const (
	ActionSignatureCheck Action = iota + 1
	ActionDecryption
)

func (a Action) String() string {
	switch a {
	case ActionSignatureCheck:
		return "signature"
	case ActionDecryption:
		return "decryption"
	default:
		return "unknown"
	}
}

// Result records one performed action and the certificate involved
type Result struct {
	Action      Action
	Certificate *x509.Certificate
}

// Verification is the outcome of VerifyAndDecrypt
type Verification struct {
	Results     []Result
	Document    []byte
	Attachments []Attachment
}

// Has reports whether action was performed
func (v *Verification) Has(action Action) bool {
	for _, r := range v.Results {
		if r.Action == action {
			return true
		}
	}
	return false
}

// SigningParams selects the signature and digest algorithms. Both must be
// set for a message to be signed.
type SigningParams struct {
	Algorithm       pmode.SignatureAlgorithm
	Digest          pmode.HashAlgorithm
	TokenReference  pmode.TokenReferenceMethod
	SignAttachments bool
}

// Enabled reports whether both algorithms are set
func (p *SigningParams) Enabled() bool {
	return p.Algorithm != "" && p.Digest != ""
}

// Reset clears every field
func (p *SigningParams) Reset() {
	*p = SigningParams{}
}

// EncryptionParams selects the data and key transport algorithms and the
// recipient certificate.
type EncryptionParams struct {
	Algorithm     pmode.DataEncryptionAlgorithm
	KeyEncryption pmode.KeyEncryptionAlgorithm
	Certificate   *x509.Certificate
}

// Enabled reports whether a data encryption algorithm is set
func (p *EncryptionParams) Enabled() bool {
	return p.Algorithm != ""
}

// Reset clears every field
func (p *EncryptionParams) Reset() {
	*p = EncryptionParams{}
}

// KeyMaterial is the local identity and trust used for one exchange
type KeyMaterial struct {
	PrivateKey  crypto.Signer
	Certificate *x509.Certificate

	// Known are the partner certificates. They resolve references by key
	// identifier or issuer/serial and are accepted as signers as they are.
	Known []*x509.Certificate

	// Trust holds the roots a signing certificate may chain to
	Trust *x509.CertPool
}

func (k *KeyMaterial) knows(cert *x509.Certificate) bool {
	for _, c := range k.Known {
		if c != nil && c.Equal(cert) {
			return true
		}
	}
	return false
}

// CryptoFactory produces the key material for an exchange
type CryptoFactory interface {
	KeyMaterial() (*KeyMaterial, error)
}

// StaticFactory is a CryptoFactory over fixed key material
type StaticFactory struct {
	Keys *KeyMaterial
}

func (f StaticFactory) KeyMaterial() (*KeyMaterial, error) {
	if f.Keys == nil {
		return nil, ErrMissingKeyMaterial
	}
	return f.Keys, nil
}

// ResourceTracker receives the temp files and handles created while
// processing one exchange.
type ResourceTracker interface {
	CreateTempFile() (string, error)
	RegisterCloseable(c io.Closer)
}
