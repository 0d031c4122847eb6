// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Signing certificate rejections
var (
	ErrCertificateExpired     = errors.New("certificate expired")
	ErrCertificateNotYetValid = errors.New("certificate not yet valid")
	ErrCertificateUntrusted   = errors.New("certificate not issued by a trusted authority")
	ErrInvalidCertificate     = errors.New("invalid certificate")
)

// CertificateValidator accepts or rejects the certificate a partner signed
// with. intermediates may help to build the chain.
type CertificateValidator interface {
	ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate) error
}

// TrustPool accepts certificates that are currently valid and chain to one
// of its roots
type TrustPool struct {
	roots *x509.CertPool
	clock func() time.Time
}

func NewTrustPool(roots *x509.CertPool) *TrustPool {
	return &TrustPool{roots: roots, clock: time.Now}
}

func (p *TrustPool) ValidateCertificate(cert *x509.Certificate, intermediates []*x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("%w: missing", ErrInvalidCertificate)
	}

	at := p.clock()
	switch {
	case at.Before(cert.NotBefore):
		return fmt.Errorf("%w: valid from %s", ErrCertificateNotYetValid, cert.NotBefore.UTC().Format(time.RFC3339))
	case at.After(cert.NotAfter):
		return fmt.Errorf("%w: valid until %s", ErrCertificateExpired, cert.NotAfter.UTC().Format(time.RFC3339))
	}

	pool := x509.NewCertPool()
	for _, c := range intermediates {
		pool.AddCert(c)
	}
	// any extended key usage is accepted
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:         p.roots,
		Intermediates: pool,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCertificateUntrusted, err)
	}
	return nil
}
