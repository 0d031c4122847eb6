// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/finvix/dbna-phase4/pkg/security"
)

const (
	bagFriendlyName = "friendlyName"
	bagLocalKeyID   = "localKeyId"
)

// loadPKCS12KeyStore decodes a PKCS#12 file and selects the key entry whose
// friendly name matches alias. A store holding a single unnamed key is
// accepted for any alias. The key password is tried when the store
// password does not open the file.
func loadPKCS12KeyStore(path, password, keyPassword, alias string) (*security.KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil && keyPassword != password {
		blocks, err = pkcs12.ToPEM(data, keyPassword)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding PKCS#12 keystore: %w", err)
	}

	var keyBlocks, certBlocks []*pem.Block
	for _, block := range blocks {
		switch block.Type {
		case "CERTIFICATE":
			certBlocks = append(certBlocks, block)
		default:
			keyBlocks = append(keyBlocks, block)
		}
	}

	keyBlock := selectEntry(keyBlocks, alias)
	if keyBlock == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}
	key, err := parseKeyDER(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	var (
		cert  *x509.Certificate
		chain []*x509.Certificate
	)
	for _, block := range certBlocks {
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		if cert == nil && sameEntry(block, keyBlock, key, c) {
			cert = c
			continue
		}
		chain = append(chain, c)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate for %s", ErrKeyNotFound, alias)
	}
	if err := checkKeyPair(key, cert); err != nil {
		return nil, err
	}

	return &security.KeyMaterial{
		PrivateKey:  key,
		Certificate: cert,
		Known:       chain,
	}, nil
}

func selectEntry(blocks []*pem.Block, alias string) *pem.Block {
	named := false
	for _, block := range blocks {
		name, ok := block.Headers[bagFriendlyName]
		if !ok {
			continue
		}
		named = true
		if strings.EqualFold(name, alias) {
			return block
		}
	}
	if !named && len(blocks) == 1 {
		return blocks[0]
	}
	return nil
}

// sameEntry reports whether a certificate bag belongs to the key bag, by
// local key id when both carry one and by public key otherwise.
func sameEntry(certBlock, keyBlock *pem.Block, key crypto.Signer, cert *x509.Certificate) bool {
	certID, ok1 := certBlock.Headers[bagLocalKeyID]
	keyID, ok2 := keyBlock.Headers[bagLocalKeyID]
	if ok1 && ok2 {
		return certID == keyID
	}
	return checkKeyPair(key, cert) == nil
}
