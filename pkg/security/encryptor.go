// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/beevik/etree"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

// ErrNoRecipientCertificate is returned when encryption is requested
// without a recipient certificate
var ErrNoRecipientCertificate = errors.New("no recipient certificate for encryption")

// encryptAttachments encrypts every attachment under one fresh symmetric
// key wrapped for params.Certificate, following the SOAP with Attachments
// profile. A message without attachments is returned unchanged.
func encryptAttachments(envelope []byte, atts []Attachment, params EncryptionParams, tracker ResourceTracker) ([]byte, []Attachment, error) {
	if params.Certificate == nil {
		return nil, nil, ErrNoRecipientCertificate
	}
	if !params.Algorithm.IsGCM() {
		return nil, nil, fmt.Errorf("%w: data encryption %q", ErrUnsupportedAlgorithm, params.Algorithm)
	}
	keyAlg := params.KeyEncryption
	if keyAlg == pmode.KeyAlgoUnrecognized {
		keyAlg = pmode.KeyAlgoRSAOAEP256
	}
	if pmode.ParseKeyEncryptionAlgorithm(string(keyAlg)) == pmode.KeyAlgoUnrecognized {
		return nil, nil, fmt.Errorf("%w: key transport %q", ErrUnsupportedAlgorithm, keyAlg)
	}
	pub, ok := params.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("%w: recipient certificate does not contain an RSA public key", ErrUnsupportedAlgorithm)
	}
	if len(atts) == 0 {
		return envelope, atts, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return nil, nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	security, err := ensureSecurity(doc)
	if err != nil {
		return nil, nil, err
	}

	symmetricKey := make([]byte, params.Algorithm.KeySize())
	if _, err := io.ReadFull(rand.Reader, symmetricKey); err != nil {
		return nil, nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	wrapped, err := rsa.EncryptOAEP(keyAlg.OAEPHash().New(), rand.Reader, pub, symmetricKey, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt symmetric key: %w", err)
	}

	// EncryptedKey precedes the EncryptedData it lists
	encryptedKeyID := "EK-" + generateID()
	encryptedKey := security.CreateElement("xenc:EncryptedKey")
	encryptedKey.CreateAttr("xmlns:xenc", NSXMLEnc)
	encryptedKey.CreateAttr("Id", encryptedKeyID)

	keyMethod := encryptedKey.CreateElement("xenc:EncryptionMethod")
	keyMethod.CreateAttr("Algorithm", string(keyAlg))
	if keyAlg == pmode.KeyAlgoRSAOAEP256 {
		digestMethod := keyMethod.CreateElement("ds:DigestMethod")
		digestMethod.CreateAttr("xmlns:ds", NSXMLDSig)
		digestMethod.CreateAttr("Algorithm", string(pmode.HashSHA256))
		mgf := keyMethod.CreateElement("xenc11:MGF")
		mgf.CreateAttr("xmlns:xenc11", NSXMLEnc11)
		mgf.CreateAttr("Algorithm", AlgorithmMGF1SHA256)
	}

	keyInfo := encryptedKey.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", NSXMLDSig)
	method := pmode.TokenRefIssuerSerial
	if len(GetSubjectKeyIdentifier(params.Certificate)) > 0 {
		method = pmode.TokenRefKeyIdentifier
	}
	if err := addTokenReference(keyInfo, params.Certificate, method, ""); err != nil {
		return nil, nil, err
	}
	encryptedKey.CreateElement("xenc:CipherData").CreateElement("xenc:CipherValue").
		SetText(base64.StdEncoding.EncodeToString(wrapped))
	refList := encryptedKey.CreateElement("xenc:ReferenceList")

	out := make([]Attachment, 0, len(atts))
	for i := range atts {
		plain, err := atts[i].Bytes()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read attachment %s: %w", atts[i].ContentID, err)
		}
		sealed, err := sealGCM(symmetricKey, plain)
		if err != nil {
			return nil, nil, err
		}

		dataID := "ED-" + generateID()
		refList.CreateElement("xenc:DataReference").CreateAttr("URI", "#"+dataID)
		addEncryptedData(security, dataID, encryptedKeyID, &atts[i], params.Algorithm)

		enc := atts[i].withContent(encryptedMediaType, sealed)
		if tracker != nil {
			if err := spool(&enc, tracker); err != nil {
				return nil, nil, err
			}
		}
		out = append(out, enc)
	}

	encrypted, err := doc.WriteToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize encrypted document: %w", err)
	}
	return encrypted, out, nil
}

func addEncryptedData(security *etree.Element, dataID, encryptedKeyID string, att *Attachment, alg pmode.DataEncryptionAlgorithm) {
	encData := security.CreateElement("xenc:EncryptedData")
	encData.CreateAttr("xmlns:xenc", NSXMLEnc)
	encData.CreateAttr("Id", dataID)
	encData.CreateAttr("MimeType", att.ContentType)
	encData.CreateAttr("Type", TypeAttachmentContentOnly)
	encData.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", string(alg))

	keyInfo := encData.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", NSXMLDSig)
	str := keyInfo.CreateElement("wsse:SecurityTokenReference")
	str.CreateAttr("xmlns:wsse", NSSecurityExt)
	str.CreateAttr("xmlns:wsse11", NSSecurityExt11)
	str.CreateAttr("wsse11:TokenType", TokenTypeEncKey)
	str.CreateElement("wsse:Reference").CreateAttr("URI", "#"+encryptedKeyID)

	cipherRef := encData.CreateElement("xenc:CipherData").CreateElement("xenc:CipherReference")
	cipherRef.CreateAttr("URI", "cid:"+att.ContentID)
	transform := cipherRef.CreateElement("xenc:Transforms").CreateElement("ds:Transform")
	transform.CreateAttr("xmlns:ds", NSXMLDSig)
	transform.CreateAttr("Algorithm", TransformAttachmentCiphertext)
}

// sealGCM encrypts data and returns nonce || ciphertext || tag
func sealGCM(key, data []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func openGCM(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted data too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// spool moves the in-memory content of att to a tracked temp file
func spool(att *Attachment, tracker ResourceTracker) error {
	path, err := tracker.CreateTempFile()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, att.Data, 0o600); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", att.ContentID, err)
	}
	att.Path = path
	att.Data = nil
	return nil
}
