// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package pmode

import (
	"crypto"
	"strings"
)

// SignatureAlgorithm is an XML-DSig signature method URI
type SignatureAlgorithm string

const (
	AlgoUnrecognized  SignatureAlgorithm = ""
	AlgoRSASHA256     SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgoRSASHA384     SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgoRSASHA512     SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
	AlgoRSASHA256MGF1 SignatureAlgorithm = "http://www.w3.org/2007/05/xmldsig-more#sha256-rsa-MGF1"
	AlgoECDSASHA256   SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	AlgoECDSASHA384   SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha384"
	AlgoECDSASHA512   SignatureAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha512"
	AlgoEd25519       SignatureAlgorithm = "http://www.w3.org/2021/04/xmldsig-more#eddsa-ed25519"
)

// HashAlgorithm is an XML-DSig digest method URI
type HashAlgorithm string

const (
	HashUnrecognized HashAlgorithm = ""
	HashSHA256       HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha256"
	HashSHA384       HashAlgorithm = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	HashSHA512       HashAlgorithm = "http://www.w3.org/2001/04/xmlenc#sha512"
)

// KeyEncryptionAlgorithm is an XML-Enc key transport URI
type KeyEncryptionAlgorithm string

const (
	KeyAlgoUnrecognized KeyEncryptionAlgorithm = ""
	KeyAlgoRSAOAEP      KeyEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	KeyAlgoRSAOAEP256   KeyEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#rsa-oaep"
)

// DataEncryptionAlgorithm is an XML-Enc block cipher URI
type DataEncryptionAlgorithm string

const (
	DataAlgoUnrecognized DataEncryptionAlgorithm = ""
	DataAlgoAES128GCM    DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes128-gcm"
	DataAlgoAES192GCM    DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes192-gcm"
	DataAlgoAES256GCM    DataEncryptionAlgorithm = "http://www.w3.org/2009/xmlenc11#aes256-gcm"
	DataAlgoAES128CBC    DataEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#aes128-cbc"
	DataAlgoAES256CBC    DataEncryptionAlgorithm = "http://www.w3.org/2001/04/xmlenc#aes256-cbc"
)

// ParseSignatureAlgorithm maps a URI to a known signature algorithm.
// Unknown URIs yield AlgoUnrecognized.
func ParseSignatureAlgorithm(uri string) SignatureAlgorithm {
	switch a := SignatureAlgorithm(strings.TrimSpace(uri)); a {
	case AlgoRSASHA256, AlgoRSASHA384, AlgoRSASHA512, AlgoRSASHA256MGF1,
		AlgoECDSASHA256, AlgoECDSASHA384, AlgoECDSASHA512, AlgoEd25519:
		return a
	default:
		return AlgoUnrecognized
	}
}

// Recognized reports whether a is a known signature algorithm
func (a SignatureAlgorithm) Recognized() bool {
	return ParseSignatureAlgorithm(string(a)) != AlgoUnrecognized
}

// Hash returns the hash function underlying the signature algorithm
func (a SignatureAlgorithm) Hash() crypto.Hash {
	switch a {
	case AlgoRSASHA384, AlgoECDSASHA384:
		return crypto.SHA384
	case AlgoRSASHA512, AlgoECDSASHA512, AlgoEd25519:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// ParseHashAlgorithm maps a URI to a known digest algorithm.
// Unknown URIs yield HashUnrecognized.
func ParseHashAlgorithm(uri string) HashAlgorithm {
	switch h := HashAlgorithm(strings.TrimSpace(uri)); h {
	case HashSHA256, HashSHA384, HashSHA512:
		return h
	default:
		return HashUnrecognized
	}
}

// Recognized reports whether h is a known digest algorithm
func (h HashAlgorithm) Recognized() bool {
	return ParseHashAlgorithm(string(h)) != HashUnrecognized
}

// Hash returns the crypto.Hash for the digest algorithm, or 0 if unknown
func (h HashAlgorithm) Hash() crypto.Hash {
	switch h {
	case HashSHA256:
		return crypto.SHA256
	case HashSHA384:
		return crypto.SHA384
	case HashSHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// ParseKeyEncryptionAlgorithm maps a URI to a known key transport algorithm
func ParseKeyEncryptionAlgorithm(uri string) KeyEncryptionAlgorithm {
	switch k := KeyEncryptionAlgorithm(strings.TrimSpace(uri)); k {
	case KeyAlgoRSAOAEP, KeyAlgoRSAOAEP256:
		return k
	default:
		return KeyAlgoUnrecognized
	}
}

// OAEPHash returns the OAEP digest and MGF1 hash for the key transport
func (k KeyEncryptionAlgorithm) OAEPHash() crypto.Hash {
	if k == KeyAlgoRSAOAEP {
		return crypto.SHA1
	}
	return crypto.SHA256
}

// ParseDataEncryptionAlgorithm maps a URI to a known data encryption algorithm
func ParseDataEncryptionAlgorithm(uri string) DataEncryptionAlgorithm {
	switch d := DataEncryptionAlgorithm(strings.TrimSpace(uri)); d {
	case DataAlgoAES128GCM, DataAlgoAES192GCM, DataAlgoAES256GCM, DataAlgoAES128CBC, DataAlgoAES256CBC:
		return d
	default:
		return DataAlgoUnrecognized
	}
}

// KeySize returns the symmetric key length in bytes, or 0 if unknown
func (d DataEncryptionAlgorithm) KeySize() int {
	switch d {
	case DataAlgoAES128GCM, DataAlgoAES128CBC:
		return 16
	case DataAlgoAES192GCM:
		return 24
	case DataAlgoAES256GCM, DataAlgoAES256CBC:
		return 32
	default:
		return 0
	}
}

// IsGCM reports whether d is an authenticated GCM mode
func (d DataEncryptionAlgorithm) IsGCM() bool {
	switch d {
	case DataAlgoAES128GCM, DataAlgoAES192GCM, DataAlgoAES256GCM:
		return true
	}
	return false
}
