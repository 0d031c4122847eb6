// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/finvix/dbna-phase4/pkg/pmode"
)

const timestampTTL = 5 * time.Minute

// signDocument signs the ebMS header, the timestamp and the body of
// envelope, and the attachments when params asks for it.
func signDocument(envelope []byte, atts []Attachment, params SigningParams, keys *KeyMaterial, now time.Time) ([]byte, error) {
	if !params.Algorithm.Recognized() {
		return nil, fmt.Errorf("%w: signature algorithm %q", ErrUnsupportedAlgorithm, params.Algorithm)
	}
	if !params.Digest.Recognized() {
		return nil, fmt.Errorf("%w: digest algorithm %q", ErrUnsupportedAlgorithm, params.Digest)
	}
	if keys == nil || keys.PrivateKey == nil || keys.Certificate == nil {
		return nil, ErrMissingKeyMaterial
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelope); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	header, body, err := soapParts(doc)
	if err != nil {
		return nil, err
	}
	security, err := ensureSecurity(doc)
	if err != nil {
		return nil, err
	}

	var bstID string
	if params.TokenReference == "" || params.TokenReference == pmode.TokenRefBinarySecurityToken {
		bstID = addBinarySecurityToken(security, keys.Certificate)
	}

	ts := security.CreateElement("wsu:Timestamp")
	ts.CreateAttr("wsu:Id", "TS-"+generateID())
	ts.CreateElement("wsu:Created").SetText(now.UTC().Format(timestampLayout))
	ts.CreateElement("wsu:Expires").SetText(now.UTC().Add(timestampTTL).Format(timestampLayout))

	targets := []*etree.Element{ts, body}
	if messaging := child(header, "", "Messaging"); messaging != nil {
		targets = append([]*etree.Element{messaging}, targets...)
	}

	sig := security.CreateElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NSXMLDSig)
	sig.CreateAttr("Id", "SIG-"+generateID())

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateAttr("xmlns:ds", NSXMLDSig)
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgorithmC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", string(params.Algorithm))

	hash := params.Digest.Hash()
	for _, target := range targets {
		id := ensureWSUId(target, "id-")
		declareNamespaces(target)
		canonical, err := canonicalize(target)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize %s: %w", target.Tag, err)
		}
		addReference(signedInfo, "#"+id, AlgorithmC14N, params.Digest, digestBytes(hash, canonical))
	}

	if params.SignAttachments {
		for i := range atts {
			digest, err := digestAttachment(hash, &atts[i])
			if err != nil {
				return nil, fmt.Errorf("failed to digest attachment %s: %w", atts[i].ContentID, err)
			}
			addReference(signedInfo, "cid:"+atts[i].ContentID, TransformAttachmentSignature, params.Digest, digest)
		}
	}

	sigValue := sig.CreateElement("ds:SignatureValue")
	keyInfo := sig.CreateElement("ds:KeyInfo")
	if err := addTokenReference(keyInfo, keys.Certificate, params.TokenReference, bstID); err != nil {
		return nil, err
	}

	canonicalSignedInfo, err := canonicalize(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize SignedInfo: %w", err)
	}
	value, err := signCanonical(keys.PrivateKey, params.Algorithm, canonicalSignedInfo)
	if err != nil {
		return nil, err
	}
	sigValue.SetText(base64.StdEncoding.EncodeToString(value))

	// no indentation: whitespace nodes would change the canonical form
	signed, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize signed document: %w", err)
	}
	return signed, nil
}

func addReference(signedInfo *etree.Element, uri, transform string, digestAlg pmode.HashAlgorithm, digest []byte) {
	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", uri)
	ref.CreateElement("ds:Transforms").CreateElement("ds:Transform").CreateAttr("Algorithm", transform)
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", string(digestAlg))
	ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(digest))
}

func canonicalize(elem *etree.Element) ([]byte, error) {
	c14n := signedxml.ExclusiveCanonicalization{WithComments: false}
	out, err := c14n.ProcessElement(elem, "")
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func digestBytes(h crypto.Hash, data []byte) []byte {
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}

func digestAttachment(h crypto.Hash, att *Attachment) ([]byte, error) {
	r, err := att.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	hasher := h.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), nil
}

// signCanonical signs canonical SignedInfo bytes with signer. ECDSA
// signatures are emitted as r||s.
func signCanonical(signer crypto.Signer, alg pmode.SignatureAlgorithm, signedInfo []byte) ([]byte, error) {
	h := alg.Hash()

	switch alg {
	case pmode.AlgoEd25519:
		if _, ok := signer.Public().(ed25519.PublicKey); !ok {
			return nil, fmt.Errorf("%w: %s needs an Ed25519 key", ErrUnsupportedAlgorithm, alg)
		}
		return signer.Sign(rand.Reader, signedInfo, crypto.Hash(0))

	case pmode.AlgoRSASHA256, pmode.AlgoRSASHA384, pmode.AlgoRSASHA512:
		if _, ok := signer.Public().(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("%w: %s needs an RSA key", ErrUnsupportedAlgorithm, alg)
		}
		return signer.Sign(rand.Reader, digestBytes(h, signedInfo), h)

	case pmode.AlgoRSASHA256MGF1:
		if _, ok := signer.Public().(*rsa.PublicKey); !ok {
			return nil, fmt.Errorf("%w: %s needs an RSA key", ErrUnsupportedAlgorithm, alg)
		}
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
		return signer.Sign(rand.Reader, digestBytes(h, signedInfo), opts)

	case pmode.AlgoECDSASHA256, pmode.AlgoECDSASHA384, pmode.AlgoECDSASHA512:
		pub, ok := signer.Public().(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs an ECDSA key", ErrUnsupportedAlgorithm, alg)
		}
		der, err := signer.Sign(rand.Reader, digestBytes(h, signedInfo), h)
		if err != nil {
			return nil, err
		}
		return ecdsaDERToRaw(der, (pub.Curve.Params().BitSize+7)/8)

	default:
		return nil, fmt.Errorf("%w: signature algorithm %q", ErrUnsupportedAlgorithm, alg)
	}
}

// verifyCanonical checks value over canonical SignedInfo bytes
func verifyCanonical(pub crypto.PublicKey, alg pmode.SignatureAlgorithm, signedInfo, value []byte) error {
	h := alg.Hash()

	switch key := pub.(type) {
	case *rsa.PublicKey:
		switch alg {
		case pmode.AlgoRSASHA256, pmode.AlgoRSASHA384, pmode.AlgoRSASHA512:
			if err := rsa.VerifyPKCS1v15(key, h, digestBytes(h, signedInfo), value); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			}
			return nil
		case pmode.AlgoRSASHA256MGF1:
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: h}
			if err := rsa.VerifyPSS(key, h, digestBytes(h, signedInfo), value, opts); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
			}
			return nil
		}

	case *ecdsa.PublicKey:
		switch alg {
		case pmode.AlgoECDSASHA256, pmode.AlgoECDSASHA384, pmode.AlgoECDSASHA512:
			if len(value) == 0 || len(value)%2 != 0 {
				return ErrInvalidSignature
			}
			half := len(value) / 2
			r := new(big.Int).SetBytes(value[:half])
			s := new(big.Int).SetBytes(value[half:])
			if !ecdsa.Verify(key, digestBytes(h, signedInfo), r, s) {
				return ErrInvalidSignature
			}
			return nil
		}

	case ed25519.PublicKey:
		if alg == pmode.AlgoEd25519 {
			if !ed25519.Verify(key, signedInfo, value) {
				return ErrInvalidSignature
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s with %T", ErrUnsupportedAlgorithm, alg, pub)
}

func ecdsaDERToRaw(der []byte, size int) ([]byte, error) {
	var (
		r, s  big.Int
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, cbasn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(&r) || !inner.ReadASN1Integer(&s) || !inner.Empty() {
		return nil, fmt.Errorf("malformed ECDSA signature")
	}
	raw := make([]byte, 2*size)
	r.FillBytes(raw[:size])
	s.FillBytes(raw[size:])
	return raw, nil
}
