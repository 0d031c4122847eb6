// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements the WS-Security operations of an AS4 exchange.

The Capability interface is what the message builder and the inbound
processor depend on. WSSecurity is its implementation:

	sec := security.NewWSSecurity(security.WithLogger(logger))
	signed, err := sec.Sign(envelope, attachments, params, keys, lifecycle)

# Signatures

Messages are signed with XML-DSig over the ebMS Messaging header, the
security Timestamp and the SOAP Body, plus every attachment when
SigningParams.SignAttachments is set. References use exclusive
canonicalization, and attachment references use the SwA content signature
transform. The signing certificate is referenced through a
BinarySecurityToken, a Subject Key Identifier or its issuer and serial.

Keys are used through crypto.Signer, so hardware-backed keys work the same
as in-memory ones. RSA PKCS#1 v1.5, RSA-PSS, ECDSA and Ed25519 are
supported.

# Encryption

Attachments are encrypted with AES-GCM under one symmetric key, which is
wrapped for the recipient with RSA-OAEP. The EncryptedKey and one
EncryptedData per attachment go in the security header, as the SOAP with
Attachments profile describes. The original MIME type is kept in
EncryptedData/@MimeType and restored on decryption.

# Verification

VerifyAndDecrypt decrypts first and then checks the signature over the
plaintext attachments. Id values must be unique in a signed envelope. The
signing certificate is accepted only when it is one of KeyMaterial.Known,
chains to KeyMaterial.Trust or passes the validator given with
WithCertificateValidator. AuthZENValidator delegates that decision to an
AuthZEN trust PDP.
*/
package security
