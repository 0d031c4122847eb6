//go:build pkcs11

// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"fmt"
	"io"

	"github.com/ThalesIgnite/crypto11"

	"github.com/finvix/dbna-phase4/pkg/security"
)

// openPKCS11KeyStore opens a session on the token and finds the key pair
// and certificate labelled with the alias. The returned closer ends the
// session.
//
// RSA keys found this way also implement crypto.Decrypter, so they can
// unwrap inbound encryption keys.
func openPKCS11KeyStore(coords Coordinates) (*security.KeyMaterial, io.Closer, error) {
	config := &crypto11.Config{
		Path: coords.Path,
		Pin:  *coords.Password,
	}
	if coords.TokenLabel != "" {
		config.TokenLabel = coords.TokenLabel
	} else if coords.SlotNumber != nil {
		slot := *coords.SlotNumber
		config.SlotNumber = &slot
	}

	ctx, err := crypto11.Configure(config)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring PKCS#11: %w", err)
	}

	label := []byte(coords.Alias)
	key, err := ctx.FindKeyPair(nil, label)
	if err != nil {
		_ = ctx.Close()
		return nil, nil, fmt.Errorf("finding key pair: %w", err)
	}
	if key == nil {
		_ = ctx.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrKeyNotFound, coords.Alias)
	}

	cert, err := ctx.FindCertificate(nil, label, nil)
	if err != nil {
		_ = ctx.Close()
		return nil, nil, fmt.Errorf("finding certificate: %w", err)
	}
	if cert == nil {
		_ = ctx.Close()
		return nil, nil, fmt.Errorf("%w: no certificate for %s", ErrKeyNotFound, coords.Alias)
	}

	return &security.KeyMaterial{
		PrivateKey:  key,
		Certificate: cert,
	}, ctx, nil
}
