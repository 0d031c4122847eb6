// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/beevik/etree"
)

// WSSecurity implements Capability with WS-Security 1.1 X.509 signatures
// and SOAP with Attachments encryption.
type WSSecurity struct {
	logger    *slog.Logger
	validator CertificateValidator
	now       func() time.Time
}

// Option configures a WSSecurity
type Option func(*WSSecurity)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *WSSecurity) {
		w.logger = logger
	}
}

// WithCertificateValidator accepts signing certificates that v accepts, in
// addition to the known and trusted certificates of the key material.
func WithCertificateValidator(v CertificateValidator) Option {
	return func(w *WSSecurity) {
		w.validator = v
	}
}

// WithClock overrides the time source for security timestamps
func WithClock(now func() time.Time) Option {
	return func(w *WSSecurity) {
		w.now = now
	}
}

// NewWSSecurity creates the WS-Security capability
func NewWSSecurity(opts ...Option) *WSSecurity {
	w := &WSSecurity{now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

var _ Capability = (*WSSecurity)(nil)

func (w *WSSecurity) Sign(doc []byte, atts []Attachment, params SigningParams, keys *KeyMaterial, _ ResourceTracker) ([]byte, error) {
	signed, err := signDocument(doc, atts, params, keys, w.now())
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	w.logger.Debug("signed message",
		slog.String("algorithm", string(params.Algorithm)),
		slog.Int("attachments", len(atts)))
	return signed, nil
}

func (w *WSSecurity) Encrypt(doc []byte, atts []Attachment, params EncryptionParams, tracker ResourceTracker) ([]byte, []Attachment, error) {
	encrypted, out, err := encryptAttachments(doc, atts, params, tracker)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption failed: %w", err)
	}
	w.logger.Debug("encrypted attachments",
		slog.String("algorithm", string(params.Algorithm)),
		slog.Int("attachments", len(out)))
	return encrypted, out, nil
}

func (w *WSSecurity) VerifyAndDecrypt(doc []byte, atts []Attachment, keys *KeyMaterial) (*Verification, error) {
	parsed := etree.NewDocument()
	if err := parsed.ReadFromBytes(doc); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	plain, decrypted, err := decryptAttachments(parsed, atts, keys)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	signer, err := verifyDocument(parsed, plain, keys)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	result := &Verification{
		Document:    doc,
		Attachments: plain,
	}
	if signer != nil {
		if err := w.validate(signer, keys); err != nil {
			return nil, err
		}
		result.Results = append(result.Results, Result{Action: ActionSignatureCheck, Certificate: signer})
	}
	if decrypted {
		result.Results = append(result.Results, Result{Action: ActionDecryption, Certificate: keys.Certificate})
	}
	return result, nil
}

// validate accepts a signing certificate that is one of the known partner
// certificates of keys, chains to the trust pool of keys or passes the
// configured validator. Every other certificate is rejected.
func (w *WSSecurity) validate(cert *x509.Certificate, keys *KeyMaterial) error {
	if keys != nil && keys.knows(cert) {
		return nil
	}

	var validators []CertificateValidator
	if keys != nil && keys.Trust != nil {
		validators = append(validators, NewTrustPool(keys.Trust))
	}
	if w.validator != nil {
		validators = append(validators, w.validator)
	}

	err := fmt.Errorf("%w: no trust anchor configured", ErrCertificateUntrusted)
	for i, v := range validators {
		verr := v.ValidateCertificate(cert, nil)
		if verr == nil {
			return nil
		}
		if i == 0 {
			err = verr
		}
	}
	w.logger.Warn("signing certificate rejected",
		slog.String("subject", cert.Subject.String()),
		slog.String("error", err.Error()))
	return fmt.Errorf("signature verification failed: %w", err)
}
