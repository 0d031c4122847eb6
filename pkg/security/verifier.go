// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

// verifyDocument checks the XML signature in the security header of doc.
// It returns a nil certificate when the message carries no signature. Id
// values must be unique in a signed document.
func verifyDocument(doc *etree.Document, atts []Attachment, keys *KeyMaterial) (*x509.Certificate, error) {
	sig := child(findSecurity(doc), NSXMLDSig, "Signature")
	if sig == nil {
		return nil, nil
	}
	if id, ok := duplicateID(doc.Root()); ok {
		return nil, fmt.Errorf("%w: Id %q is not unique", ErrInvalidSignature, id)
	}
	signedInfo := child(sig, NSXMLDSig, "SignedInfo")
	if signedInfo == nil {
		return nil, fmt.Errorf("%w: Signature has no SignedInfo", ErrInvalidSignature)
	}

	method := child(signedInfo, NSXMLDSig, "SignatureMethod")
	alg := pmode.ParseSignatureAlgorithm(attrOf(method, "Algorithm"))
	if alg == pmode.AlgoUnrecognized {
		return nil, fmt.Errorf("%w: signature method", ErrUnsupportedAlgorithm)
	}

	var known []*x509.Certificate
	if keys != nil {
		known = append(known, keys.Known...)
		if keys.Certificate != nil {
			known = append(known, keys.Certificate)
		}
	}
	str := child(child(sig, NSXMLDSig, "KeyInfo"), NSSecurityExt, "SecurityTokenReference")
	cert, err := resolveTokenReference(doc.Root(), str, known)
	if err != nil {
		return nil, err
	}

	refs := children(signedInfo, NSXMLDSig, "Reference")
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: SignedInfo has no Reference", ErrInvalidSignature)
	}
	for _, ref := range refs {
		if err := verifyReference(doc.Root(), ref, atts); err != nil {
			return nil, err
		}
	}

	canonical, err := canonicalize(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize SignedInfo: %w", err)
	}
	value, err := decodeBase64Text(child(sig, NSXMLDSig, "SignatureValue"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := verifyCanonical(cert.PublicKey, alg, canonical, value); err != nil {
		return nil, err
	}
	return cert, nil
}

func verifyReference(root, ref *etree.Element, atts []Attachment) error {
	uri := ref.SelectAttrValue("URI", "")
	digestAlg := pmode.ParseHashAlgorithm(attrOf(child(ref, NSXMLDSig, "DigestMethod"), "Algorithm"))
	if digestAlg == pmode.HashUnrecognized {
		return fmt.Errorf("%w: digest method of %s", ErrUnsupportedAlgorithm, uri)
	}
	expected, err := decodeBase64Text(child(ref, NSXMLDSig, "DigestValue"))
	if err != nil {
		return fmt.Errorf("%w: digest of %s: %v", ErrDigestMismatch, uri, err)
	}

	var actual []byte
	switch {
	case strings.HasPrefix(uri, "cid:"):
		i, ok := findAttachment(atts, uri)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingAttachment, uri)
		}
		if actual, err = digestAttachment(digestAlg.Hash(), &atts[i]); err != nil {
			return fmt.Errorf("failed to digest attachment %s: %w", uri, err)
		}
	case strings.HasPrefix(uri, "#"):
		target := findByID(root, strings.TrimPrefix(uri, "#"))
		if target == nil {
			return fmt.Errorf("%w: %s not in document", ErrDigestMismatch, uri)
		}
		canonical, err := canonicalize(target)
		if err != nil {
			return fmt.Errorf("failed to canonicalize %s: %w", uri, err)
		}
		actual = digestBytes(digestAlg.Hash(), canonical)
	default:
		return fmt.Errorf("%w: reference URI %q", ErrUnsupportedAlgorithm, uri)
	}

	if !bytes.Equal(expected, actual) {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, uri)
	}
	return nil
}

func decodeBase64Text(elem *etree.Element) ([]byte, error) {
	if elem == nil {
		return nil, fmt.Errorf("element missing")
	}
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(elem.Text()), ""))
}
