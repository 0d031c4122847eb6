// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package keystore loads the signing and decryption keys of an access point
//
// A keystore is addressed by its coordinates: a type, a path, a store
// password, a key alias and a key password. Three backends are supported:
//
//   - PEM: a directory holding {alias}.key and {alias}.crt (development only)
//   - PKCS#12: a .p12/.pfx file, the entry selected by its friendly name
//   - PKCS#11: a hardware security module, the path naming the module
//     library and the password being the user PIN (build tag pkcs11)
//
// Factory turns validated coordinates into security.KeyMaterial.
package keystore

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Common errors
var (
	ErrInvalidCoordinates = errors.New("invalid keystore coordinates")
	ErrKeyNotFound        = errors.New("signing key not found")
	ErrKeyMismatch        = errors.New("private key does not match certificate")

	// ErrPKCS11NotSupported is returned when a PKCS#11 keystore is opened
	// but the binary was not compiled with PKCS#11 support.
	ErrPKCS11NotSupported = errors.New("PKCS#11 support not compiled in (build with -tags pkcs11)")
)

// Type identifies a keystore backend
type Type string

const (
	TypePEM    Type = "PEM"
	TypePKCS12 Type = "PKCS12"
	TypePKCS11 Type = "PKCS11"
)

// ParseType parses a keystore type name, ignoring case. "p12" and "pfx"
// are accepted for PKCS#12.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PEM", "FILE":
		return TypePEM, nil
	case "PKCS12", "P12", "PFX":
		return TypePKCS12, nil
	case "PKCS11", "HSM":
		return TypePKCS11, nil
	default:
		return "", fmt.Errorf("%w: unknown keystore type %q", ErrInvalidCoordinates, s)
	}
}

func (t Type) valid() bool {
	switch t {
	case TypePEM, TypePKCS12, TypePKCS11:
		return true
	}
	return false
}

// Coordinates locate a key inside a keystore
//
// Passwords are pointers so that an absent password can be told apart from
// an empty one.
type Coordinates struct {
	// Type selects the backend
	Type Type

	// Path is the PEM directory, the PKCS#12 file or the PKCS#11 module library
	Path string

	// Password unlocks the store; for PKCS#11 it is the user PIN
	Password *string

	// Alias names the key entry; for PKCS#11 it is the key and certificate label
	Alias string

	// KeyPassword unlocks the key entry when it differs from the store password
	KeyPassword *string

	// TokenLabel selects the PKCS#11 token (optional)
	TokenLabel string

	// SlotNumber selects the PKCS#11 slot when no token label is given (optional)
	SlotNumber *int
}

// Validate checks that every coordinate is present and that the keystore
// exists. Checks run in a fixed order and the first failure is returned.
func (c Coordinates) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("%w: keystore type is not set", ErrInvalidCoordinates)
	}
	if !c.Type.valid() {
		return fmt.Errorf("%w: unknown keystore type %q", ErrInvalidCoordinates, c.Type)
	}
	if c.Path == "" {
		return fmt.Errorf("%w: keystore path is not set", ErrInvalidCoordinates)
	}
	if _, err := os.Stat(c.Path); err != nil {
		return fmt.Errorf("%w: keystore %s: %v", ErrInvalidCoordinates, c.Path, err)
	}
	if c.Password == nil {
		return fmt.Errorf("%w: keystore password is not set", ErrInvalidCoordinates)
	}
	if c.Alias == "" {
		return fmt.Errorf("%w: key alias is not set", ErrInvalidCoordinates)
	}
	if c.KeyPassword == nil {
		return fmt.Errorf("%w: key password is not set", ErrInvalidCoordinates)
	}
	return nil
}
