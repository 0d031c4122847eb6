// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-trust/pkg/authzen"
	"github.com/sirosfoundation/go-trust/pkg/authzenclient"
)

// DefaultAuthZENAction is the action asked of the PDP for signing certificates
const DefaultAuthZENAction = "signing"

// AuthZENValidator asks an AuthZEN trust PDP whether the public key of a
// certificate is bound to its subject name (draft-johansson-authzen-trust).
// The PDP fronts the trust registries of the network, so partners need not
// be listed in a local trust store.
type AuthZENValidator struct {
	client  *authzenclient.Client
	action  string
	timeout time.Duration
}

// AuthZENOption configures an AuthZENValidator
type AuthZENOption func(*AuthZENValidator)

// WithAuthZENAction sets the action sent with every evaluation
func WithAuthZENAction(action string) AuthZENOption {
	return func(v *AuthZENValidator) {
		if action != "" {
			v.action = action
		}
	}
}

// WithAuthZENTimeout bounds every evaluation request
func WithAuthZENTimeout(d time.Duration) AuthZENOption {
	return func(v *AuthZENValidator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewAuthZENValidator creates a validator for the PDP at endpoint, either
// its base URL or the full /evaluation URL
func NewAuthZENValidator(endpoint string, opts ...AuthZENOption) *AuthZENValidator {
	return NewAuthZENValidatorWithClient(authzenclient.New(endpoint), opts...)
}

// NewAuthZENValidatorWithClient creates a validator over a configured client
func NewAuthZENValidatorWithClient(client *authzenclient.Client, opts ...AuthZENOption) *AuthZENValidator {
	v := &AuthZENValidator{
		client:  client,
		action:  DefaultAuthZENAction,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var _ CertificateValidator = (*AuthZENValidator)(nil)

func (v *AuthZENValidator) ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("%w: missing", ErrInvalidCertificate)
	}
	name := subjectName(cert)
	if name == "" {
		return fmt.Errorf("%w: no subject name", ErrInvalidCertificate)
	}

	// x5c entries are standard base64 DER (RFC 7517 4.7)
	x5c := make([]interface{}, 0, 1+len(intermediates))
	x5c = append(x5c, base64.StdEncoding.EncodeToString(cert.Raw))
	for _, c := range intermediates {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(c.Raw))
	}

	request := &authzen.EvaluationRequest{
		Subject: authzen.Subject{
			Type: "key",
			ID:   name,
		},
		Resource: authzen.Resource{
			Type: "x5c",
			ID:   name,
			Key:  x5c,
		},
		Action: &authzen.Action{Name: v.action},
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	response, err := v.client.Evaluate(ctx, request)
	if err != nil {
		return fmt.Errorf("%w: AuthZEN evaluation failed: %v", ErrCertificateUntrusted, err)
	}
	if !response.Decision {
		if response.Context != nil && response.Context.Reason != nil {
			return fmt.Errorf("%w: %v", ErrCertificateUntrusted, response.Context.Reason)
		}
		return fmt.Errorf("%w: denied by PDP", ErrCertificateUntrusted)
	}
	return nil
}

// subjectName is the common name of cert, else its first DNS name, email
// address or URI
func subjectName(cert *x509.Certificate) string {
	switch {
	case cert.Subject.CommonName != "":
		return cert.Subject.CommonName
	case len(cert.DNSNames) > 0:
		return cert.DNSNames[0]
	case len(cert.EmailAddresses) > 0:
		return cert.EmailAddresses[0]
	case len(cert.URIs) > 0:
		return cert.URIs[0].String()
	}
	return ""
}
