// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrNoMessaging   = errors.New("envelope has no ebMS Messaging header")
	ErrInvalidBody   = errors.New("body content is not well-formed XML")
	ErrInvalidSOAPNS = errors.New("unsupported SOAP envelope namespace")
)

// SOAPPrefix returns the element prefix used for a SOAP namespace
func SOAPPrefix(soapNS string) string {
	if soapNS == NsSOAP11Env {
		return "S11"
	}
	return "S12"
}

// mustUnderstandValue returns the boolean lexical form each SOAP version expects
func mustUnderstandValue(soapNS string) string {
	if soapNS == NsSOAP11Env {
		return "1"
	}
	return "true"
}

// NewEnvelope creates an envelope for soapNS carrying messaging and an
// optional XML body payload.
func NewEnvelope(soapNS string, messaging *Messaging, body []byte) *Envelope {
	env := &Envelope{
		XMLName: xml.Name{Space: soapNS, Local: "Envelope"},
		Header:  &Header{Messaging: messaging},
		Body:    &Body{},
	}
	if len(body) > 0 {
		env.Body.Content = string(body)
	}
	return env
}

// SOAPNamespace returns the envelope namespace, defaulting to SOAP 1.2
func (e *Envelope) SOAPNamespace() string {
	if e.XMLName.Space == "" {
		return NsSOAP12Env
	}
	return e.XMLName.Space
}

// Marshal serializes the envelope with prefixed SOAP and ebMS elements.
// The Messaging header is flagged mustUnderstand.
func (e *Envelope) Marshal() ([]byte, error) {
	doc, err := e.Document()
	if err != nil {
		return nil, err
	}
	return doc.WriteToBytes()
}

// Document builds the envelope as an etree document so the security layer
// can add headers before serialization.
func (e *Envelope) Document() (*etree.Document, error) {
	if e.Header == nil || e.Header.Messaging == nil {
		return nil, ErrNoMessaging
	}
	soapNS := e.SOAPNamespace()
	if soapNS != NsSOAP12Env && soapNS != NsSOAP11Env {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSOAPNS, soapNS)
	}
	prefix := SOAPPrefix(soapNS)

	raw, err := xml.Marshal(e.Header.Messaging)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messaging header: %w", err)
	}
	raw, err = AddEbMSPrefix(raw)
	if err != nil {
		return nil, err
	}
	fragment := etree.NewDocument()
	if err := fragment.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("failed to parse messaging header: %w", err)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	envelope := doc.CreateElement(prefix + ":Envelope")
	envelope.CreateAttr("xmlns:"+prefix, soapNS)

	header := envelope.CreateElement(prefix + ":Header")
	messaging := fragment.Root().Copy()
	messaging.CreateAttr(prefix+":mustUnderstand", mustUnderstandValue(soapNS))
	header.AddChild(messaging)

	body := envelope.CreateElement(prefix + ":Body")
	if e.Body != nil && strings.TrimSpace(e.Body.Content) != "" {
		payload := etree.NewDocument()
		if err := payload.ReadFromString(e.Body.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
		}
		if payload.Root() == nil {
			return nil, ErrInvalidBody
		}
		body.AddChild(payload.Root().Copy())
	}

	return doc, nil
}

// Parse decodes a SOAP 1.1 or 1.2 envelope
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if ns := env.XMLName.Space; ns != NsSOAP12Env && ns != NsSOAP11Env {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSOAPNS, ns)
	}
	return &env, nil
}

// Messaging returns the parsed Messaging header or ErrNoMessaging
func (e *Envelope) Messaging() (*Messaging, error) {
	if e == nil || e.Header == nil || e.Header.Messaging == nil {
		return nil, ErrNoMessaging
	}
	return e.Header.Messaging, nil
}
