//go:build !pkcs11

// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package keystore

import (
	"io"

	"github.com/finvix/dbna-phase4/pkg/security"
)

func openPKCS11KeyStore(Coordinates) (*security.KeyMaterial, io.Closer, error) {
	return nil, nil, ErrPKCS11NotSupported
}
