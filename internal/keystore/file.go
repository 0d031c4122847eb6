// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/finvix/dbna-phase4/pkg/security"
)

// loadPEMKeyStore reads {dir}/{alias}.key and {dir}/{alias}.crt. Any
// further certificates in the .crt file are treated as the chain.
//
// This is intended for development and testing only. In production,
// use PKCS#12 or PKCS#11.
func loadPEMKeyStore(dir, alias string) (*security.KeyMaterial, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("checking key directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("key directory is not a directory: %s", dir)
	}

	keyPEM, err := os.ReadFile(filepath.Join(dir, alias+".key"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	certs, err := LoadCertificates(filepath.Join(dir, alias+".crt"))
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}
	if err := checkKeyPair(key, certs[0]); err != nil {
		return nil, err
	}

	return &security.KeyMaterial{
		PrivateKey:  key,
		Certificate: certs[0],
		Known:       certs[1:],
	}, nil
}

// LoadCertificates reads every CERTIFICATE block of a PEM file
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found in %s", path)
	}
	return certs, nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY", "EC PRIVATE KEY", "PRIVATE KEY":
		return parseKeyDER(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

// parseKeyDER tries PKCS#1, SEC 1 and PKCS#8 in turn. PKCS#12 bags are
// labelled "PRIVATE KEY" whatever their encoding.
func parseKeyDER(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("key is not a signer")
	}
	return signer, nil
}

func checkKeyPair(key crypto.Signer, cert *x509.Certificate) error {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return fmt.Errorf("%w: %s", ErrKeyMismatch, cert.Subject)
	}
	return nil
}
