// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

// decryptAttachments reverses encryptAttachments. It returns the
// attachments with every referenced part replaced by its plaintext and
// reports whether an EncryptedKey was processed.
func decryptAttachments(doc *etree.Document, atts []Attachment, keys *KeyMaterial) ([]Attachment, bool, error) {
	encryptedKeys := children(findSecurity(doc), NSXMLEnc, "EncryptedKey")
	if len(encryptedKeys) == 0 {
		return atts, false, nil
	}
	if keys == nil || keys.PrivateKey == nil {
		return nil, false, ErrMissingKeyMaterial
	}
	decrypter, ok := keys.PrivateKey.(crypto.Decrypter)
	if !ok {
		return nil, false, fmt.Errorf("%w: private key cannot decrypt", ErrMissingKeyMaterial)
	}

	out := append([]Attachment(nil), atts...)
	for _, ek := range encryptedKeys {
		if err := checkRecipient(doc.Root(), ek, keys); err != nil {
			return nil, false, err
		}

		keyAlg := pmode.ParseKeyEncryptionAlgorithm(attrOf(child(ek, NSXMLEnc, "EncryptionMethod"), "Algorithm"))
		if keyAlg == pmode.KeyAlgoUnrecognized {
			return nil, false, fmt.Errorf("%w: key transport", ErrUnsupportedAlgorithm)
		}
		wrapped, err := decodeBase64Text(child(child(ek, NSXMLEnc, "CipherData"), NSXMLEnc, "CipherValue"))
		if err != nil {
			return nil, false, fmt.Errorf("failed to decode encrypted key: %w", err)
		}
		symmetricKey, err := decrypter.Decrypt(rand.Reader, wrapped, &rsa.OAEPOptions{Hash: keyAlg.OAEPHash()})
		if err != nil {
			return nil, false, fmt.Errorf("failed to decrypt symmetric key: %w", err)
		}

		for _, dataRef := range children(child(ek, NSXMLEnc, "ReferenceList"), NSXMLEnc, "DataReference") {
			id := strings.TrimPrefix(dataRef.SelectAttrValue("URI", ""), "#")
			encData := findByID(doc.Root(), id)
			if encData == nil {
				return nil, false, fmt.Errorf("encrypted data %q not in document", id)
			}
			if err := decryptPart(encData, symmetricKey, out); err != nil {
				return nil, false, err
			}
		}
	}
	return out, true, nil
}

func decryptPart(encData *etree.Element, key []byte, atts []Attachment) error {
	alg := pmode.ParseDataEncryptionAlgorithm(attrOf(child(encData, NSXMLEnc, "EncryptionMethod"), "Algorithm"))
	if !alg.IsGCM() {
		return fmt.Errorf("%w: data encryption %q", ErrUnsupportedAlgorithm, alg)
	}
	if len(key) != alg.KeySize() {
		return fmt.Errorf("symmetric key length %d does not fit %s", len(key), alg)
	}

	cipherRef := child(child(encData, NSXMLEnc, "CipherData"), NSXMLEnc, "CipherReference")
	if cipherRef == nil {
		return fmt.Errorf("%w: only attachment encryption is supported", ErrUnsupportedAlgorithm)
	}
	uri := cipherRef.SelectAttrValue("URI", "")
	i, ok := findAttachment(atts, uri)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingAttachment, uri)
	}

	sealed, err := atts[i].Bytes()
	if err != nil {
		return fmt.Errorf("failed to read attachment %s: %w", uri, err)
	}
	plain, err := openGCM(key, sealed)
	if err != nil {
		return err
	}

	contentType := encData.SelectAttrValue("MimeType", "")
	if contentType == "" {
		contentType = atts[i].ContentType
	}
	atts[i] = atts[i].withContent(contentType, plain)
	return nil
}

// checkRecipient rejects an EncryptedKey whose token reference designates
// a certificate other than the local one
func checkRecipient(root, ek *etree.Element, keys *KeyMaterial) error {
	str := child(child(ek, NSXMLDSig, "KeyInfo"), NSSecurityExt, "SecurityTokenReference")
	if str == nil || keys.Certificate == nil {
		return nil
	}
	if child(str, NSSecurityExt, "Reference") != nil {
		cert, err := resolveTokenReference(root, str, nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(cert.Raw, keys.Certificate.Raw) {
			return ErrNotRecipient
		}
		return nil
	}
	if !tokenReferenceMatches(str, keys.Certificate) {
		return ErrNotRecipient
	}
	return nil
}
