// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"crypto/x509"
	"fmt"
	"io"
	"sync"

	"github.com/finvix/dbna-phase4/pkg/security"
)

// Factory loads key material from a keystore on first use
//
// It implements security.CryptoFactory and is safe for concurrent use.
type Factory struct {
	coords     Coordinates
	trustStore string

	mu     sync.Mutex
	keys   *security.KeyMaterial
	closer io.Closer
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithTrustStore adds the certificates of a PEM bundle as known partner
// certificates and as trust anchors for signature validation.
func WithTrustStore(path string) FactoryOption {
	return func(f *Factory) {
		f.trustStore = path
	}
}

var _ security.CryptoFactory = (*Factory)(nil)

// NewFactory validates coords and returns a factory for them. Nothing is
// loaded until KeyMaterial is called.
func NewFactory(coords Coordinates, opts ...FactoryOption) (*Factory, error) {
	if err := coords.Validate(); err != nil {
		return nil, err
	}
	f := &Factory{coords: coords}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Coordinates returns the coordinates the factory was built from
func (f *Factory) Coordinates() Coordinates {
	return f.coords
}

// KeyMaterial returns the private key, its certificate and the trust
// configuration. The result is cached after the first successful load.
func (f *Factory) KeyMaterial() (*security.KeyMaterial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.keys != nil {
		return f.keys, nil
	}

	var (
		keys   *security.KeyMaterial
		closer io.Closer
		err    error
	)
	switch f.coords.Type {
	case TypePEM:
		keys, err = loadPEMKeyStore(f.coords.Path, f.coords.Alias)
	case TypePKCS12:
		keys, err = loadPKCS12KeyStore(f.coords.Path, *f.coords.Password, *f.coords.KeyPassword, f.coords.Alias)
	case TypePKCS11:
		keys, closer, err = openPKCS11KeyStore(f.coords)
	default:
		err = fmt.Errorf("%w: unknown keystore type %q", ErrInvalidCoordinates, f.coords.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s keystore: %w", f.coords.Type, err)
	}

	if f.trustStore != "" {
		certs, err := LoadCertificates(f.trustStore)
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, fmt.Errorf("loading trust store: %w", err)
		}
		keys.Known = append(keys.Known, certs...)
		keys.Trust = x509.NewCertPool()
		for _, cert := range certs {
			keys.Trust.AddCert(cert)
		}
	}

	f.keys = keys
	f.closer = closer
	return keys, nil
}

// Close releases the keystore session, if any. Key material must not be
// used afterwards.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.keys = nil
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}
