// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

var oidSubjectKeyIdentifier = asn1.ObjectIdentifier{2, 5, 29, 14}

// GetSubjectKeyIdentifier returns the Subject Key Identifier of cert, or nil
// when it has none.
func GetSubjectKeyIdentifier(cert *x509.Certificate) []byte {
	if len(cert.SubjectKeyId) > 0 {
		return cert.SubjectKeyId
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidSubjectKeyIdentifier) {
			var ski []byte
			if _, err := asn1.Unmarshal(ext.Value, &ski); err == nil {
				return ski
			}
		}
	}
	return nil
}

// addBinarySecurityToken embeds cert in the security header and returns
// the token id.
func addBinarySecurityToken(security *etree.Element, cert *x509.Certificate) string {
	id := "X509-" + generateID()
	bst := security.CreateElement("wsse:BinarySecurityToken")
	bst.CreateAttr("EncodingType", EncodingBase64)
	bst.CreateAttr("ValueType", ValueTypeX509v3)
	bst.CreateAttr("wsu:Id", id)
	bst.SetText(base64.StdEncoding.EncodeToString(cert.Raw))
	return id
}

// addTokenReference adds a wsse:SecurityTokenReference to keyInfo pointing
// at cert with the given method. bstID is used for BinarySecurityToken.
func addTokenReference(keyInfo *etree.Element, cert *x509.Certificate, method pmode.TokenReferenceMethod, bstID string) error {
	str := keyInfo.CreateElement("wsse:SecurityTokenReference")
	str.CreateAttr("xmlns:wsse", NSSecurityExt)

	switch method {
	case pmode.TokenRefBinarySecurityToken, "":
		ref := str.CreateElement("wsse:Reference")
		ref.CreateAttr("URI", "#"+bstID)
		ref.CreateAttr("ValueType", ValueTypeX509v3)

	case pmode.TokenRefKeyIdentifier:
		ski := GetSubjectKeyIdentifier(cert)
		if len(ski) == 0 {
			return fmt.Errorf("certificate does not have a Subject Key Identifier")
		}
		keyID := str.CreateElement("wsse:KeyIdentifier")
		keyID.CreateAttr("EncodingType", EncodingBase64)
		keyID.CreateAttr("ValueType", ValueTypeSKI)
		keyID.SetText(base64.StdEncoding.EncodeToString(ski))

	case pmode.TokenRefIssuerSerial:
		x509Data := str.CreateElement("ds:X509Data")
		x509Data.CreateAttr("xmlns:ds", NSXMLDSig)
		issuerSerial := x509Data.CreateElement("ds:X509IssuerSerial")
		issuerSerial.CreateElement("ds:X509IssuerName").SetText(cert.Issuer.String())
		issuerSerial.CreateElement("ds:X509SerialNumber").SetText(cert.SerialNumber.String())

	default:
		return fmt.Errorf("%w: token reference %q", ErrUnsupportedAlgorithm, method)
	}
	return nil
}

// resolveTokenReference returns the certificate a SecurityTokenReference
// points at. Embedded tokens are looked up in the document, identifiers in
// known.
func resolveTokenReference(root, str *etree.Element, known []*x509.Certificate) (*x509.Certificate, error) {
	if str == nil {
		return nil, fmt.Errorf("%w: no SecurityTokenReference", ErrUnknownToken)
	}

	if ref := child(str, NSSecurityExt, "Reference"); ref != nil {
		id := strings.TrimPrefix(ref.SelectAttrValue("URI", ""), "#")
		bst := findByID(root, id)
		if bst == nil || bst.Tag != "BinarySecurityToken" {
			return nil, fmt.Errorf("%w: token %q not in document", ErrUnknownToken, id)
		}
		der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(bst.Text()))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding token: %v", ErrUnknownToken, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing token: %v", ErrUnknownToken, err)
		}
		return cert, nil
	}

	for _, cert := range known {
		if cert != nil && tokenReferenceMatches(str, cert) {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("%w: no known certificate matches", ErrUnknownToken)
}

// tokenReferenceMatches reports whether a key identifier or issuer/serial
// reference designates cert.
func tokenReferenceMatches(str *etree.Element, cert *x509.Certificate) bool {
	if keyID := child(str, NSSecurityExt, "KeyIdentifier"); keyID != nil {
		ski, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyID.Text()))
		if err != nil {
			return false
		}
		return bytes.Equal(ski, GetSubjectKeyIdentifier(cert))
	}
	if x509Data := child(str, NSXMLDSig, "X509Data"); x509Data != nil {
		issuerSerial := child(x509Data, NSXMLDSig, "X509IssuerSerial")
		if issuerSerial == nil {
			return false
		}
		name := child(issuerSerial, NSXMLDSig, "X509IssuerName")
		serial := child(issuerSerial, NSXMLDSig, "X509SerialNumber")
		if name == nil || serial == nil {
			return false
		}
		return strings.TrimSpace(name.Text()) == cert.Issuer.String() &&
			strings.TrimSpace(serial.Text()) == cert.SerialNumber.String()
	}
	return false
}
