// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package pmode

import (
	"sync"
	"time"
)

// SecurityProfile names a default algorithm suite
type SecurityProfile string

const (
	// ProfileEDelivery uses the eDelivery AS4 1.x suite (RSA-SHA256, AES-128-GCM, RSA-OAEP)
	ProfileEDelivery SecurityProfile = "edelivery"
	// ProfileDomibus is the eDelivery suite as configured by Domibus
	ProfileDomibus SecurityProfile = "domibus"
	// ProfileCustom leaves every algorithm to explicit configuration
	ProfileCustom SecurityProfile = "custom"
)

// Canonicalization algorithms
type CanonicalizationAlgorithm string

const (
	C14NExclusive CanonicalizationAlgorithm = "http://www.w3.org/2001/10/xml-exc-c14n#"
	C14NInclusive CanonicalizationAlgorithm = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
)

// Token reference methods
type TokenReferenceMethod string

const (
	TokenRefBinarySecurityToken TokenReferenceMethod = "BinarySecurityToken"
	TokenRefKeyIdentifier       TokenReferenceMethod = "KeyIdentifier"
	TokenRefIssuerSerial        TokenReferenceMethod = "IssuerSerial"
)

// MEP and binding URIs
const (
	MEPOneWay       = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/oneWay"
	MEPTwoWay       = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/twoWay"
	MEPBindingPush  = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/push"
	MEPBindingPull  = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/pull"
	DefaultMPC      = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultMPC"
	DefaultSOAPVers = "1.2"
)

// ProcessingMode represents an AS4 Processing Mode configuration
type ProcessingMode struct {
	ID string

	Agreement  *Agreement
	MEP        string
	MEPBinding string

	// Business info used for P-Mode lookup
	Service string
	Action  string

	Protocol *Protocol

	// Legs holds leg 1 at index 0 and, for two-leg MEPs, leg 2 at index 1
	Legs []Leg

	// ReceptionAwareness applies to every leg that does not declare its own
	ReceptionAwareness *ReceptionAwareness

	PayloadService  *PayloadService
	SecurityProfile SecurityProfile
}

// Leg represents one leg of a message exchange
type Leg struct {
	Protocol           *Protocol
	BusinessInfo       *BusinessInfo
	ErrorHandling      *ErrorHandling
	Security           *Security
	PayloadService     *PayloadService
	ReceptionAwareness *ReceptionAwareness
}

// Agreement contains agreement reference information
type Agreement struct {
	Name  string
	Type  string
	Pmode string
}

// Protocol contains protocol parameters
type Protocol struct {
	Address     string
	SOAPVersion string
}

// BusinessInfo contains business-level message information
type BusinessInfo struct {
	Service    *Service
	Action     string
	MPC        string
	Properties []Property
}

// Service represents a service
type Service struct {
	Value string
	Type  string
}

// Property represents a message or part property
type Property struct {
	Name  string
	Value string
	Type  string
}

// Security contains the WS-Security parameters of a leg
type Security struct {
	WSSVersion  string
	X509        *X509Config
	SendReceipt *SendReceipt
}

// X509Config contains X.509 certificate-based security settings
type X509Config struct {
	Sign       *SignConfig
	Encryption *EncryptionConfig
}

// SignConfig contains signing configuration
type SignConfig struct {
	Algorithm        SignatureAlgorithm
	HashFunction     HashAlgorithm
	Canonicalization CanonicalizationAlgorithm
	TokenReference   TokenReferenceMethod
	SignAttachments  bool
}

// EncryptionConfig contains encryption configuration
type EncryptionConfig struct {
	Algorithm          KeyEncryptionAlgorithm
	DataEncryption     DataEncryptionAlgorithm
	Certificate        []byte // DER-encoded recipient certificate
	EncryptAttachments bool
}

// SendReceipt contains receipt sending configuration
type SendReceipt struct {
	ReplyPattern   string // "response" or "callback"
	NonRepudiation bool
}

// ReceptionAwareness contains reliability parameters
type ReceptionAwareness struct {
	Enabled bool
	Retry   *RetryConfig
}

// RetryConfig contains retry parameters
type RetryConfig struct {
	Enabled       bool
	MaxRetries    int
	RetryInterval time.Duration
}

// ErrorHandling contains error handling configuration
type ErrorHandling struct {
	Report *ErrorReport
}

// ErrorReport configures error reporting
type ErrorReport struct {
	AsResponse       bool
	ReceiverErrorsTo string
	SenderErrorsTo   string
}

// PayloadService contains payload handling configuration
type PayloadService struct {
	CompressionType string // "application/gzip" or empty
}

// Leg returns leg n (1 or 2), or nil if the P-Mode does not define it
func (pm *ProcessingMode) Leg(n int) *Leg {
	if pm == nil || n < 1 || n > len(pm.Legs) {
		return nil
	}
	return &pm.Legs[n-1]
}

// ReceptionAwarenessFor returns the reliability parameters governing leg,
// preferring the leg's own over the P-Mode's.
func (pm *ProcessingMode) ReceptionAwarenessFor(leg *Leg) *ReceptionAwareness {
	if leg != nil && leg.ReceptionAwareness != nil {
		return leg.ReceptionAwareness
	}
	if pm == nil {
		return nil
	}
	return pm.ReceptionAwareness
}

// IsRetryDefined reports whether the reception awareness declares a retry policy
func (ra *ReceptionAwareness) IsRetryDefined() bool {
	return ra != nil && ra.Retry != nil && ra.Retry.Enabled
}

// PModeManager holds the configured P-Modes by ID. It is safe for
// concurrent use.
type PModeManager struct {
	mu     sync.RWMutex
	pmodes map[string]*ProcessingMode
}

func NewPModeManager() *PModeManager {
	return &PModeManager{pmodes: map[string]*ProcessingMode{}}
}

// AddPMode stores pm, replacing a P-Mode with the same ID
func (m *PModeManager) AddPMode(pm *ProcessingMode) {
	m.mu.Lock()
	m.pmodes[pm.ID] = pm
	m.mu.Unlock()
}

// GetPMode returns the P-Mode with the given ID, or nil
func (m *PModeManager) GetPMode(id string) *ProcessingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pmodes[id]
}

func (m *PModeManager) RemovePMode(id string) {
	m.mu.Lock()
	delete(m.pmodes, id)
	m.mu.Unlock()
}

// FindPMode returns the P-Mode configured for service and action. When
// several match, the one with the lowest ID wins. The party arguments are
// not compared yet.
func (m *PModeManager) FindPMode(service, action string, fromParty, toParty string) *ProcessingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *ProcessingMode
	for id, pm := range m.pmodes {
		if pm.Service != service || pm.Action != action {
			continue
		}
		if found == nil || id < found.ID {
			found = pm
		}
	}
	return found
}

// DefaultPMode is a one-way pull P-Mode whose single leg signs and
// encrypts with the eDelivery suite and retries three times.
func DefaultPMode() *ProcessingMode {
	return &ProcessingMode{
		ID:              "default-pmode",
		MEP:             MEPOneWay,
		MEPBinding:      MEPBindingPull,
		SecurityProfile: ProfileEDelivery,
		Protocol:        &Protocol{Address: "https://receiver.example.com/as4", SOAPVersion: DefaultSOAPVers},
		PayloadService:  &PayloadService{CompressionType: "application/gzip"},
		ReceptionAwareness: &ReceptionAwareness{
			Enabled: true,
			Retry:   &RetryConfig{Enabled: true, MaxRetries: 3, RetryInterval: 12 * time.Second},
		},
		Legs: []Leg{{
			BusinessInfo: &BusinessInfo{MPC: DefaultMPC},
			Security: &Security{
				WSSVersion: "1.1.1",
				X509: &X509Config{
					Sign:       GetDefaultSignConfig(ProfileEDelivery),
					Encryption: GetDefaultEncryptionConfig(ProfileEDelivery),
				},
				SendReceipt: &SendReceipt{ReplyPattern: "response", NonRepudiation: true},
			},
		}},
	}
}

// coversAttachments reports whether profile signs and encrypts the MIME
// attachments along with the envelope
func coversAttachments(profile SecurityProfile) bool {
	return profile == ProfileEDelivery || profile == ProfileDomibus
}

// GetDefaultSignConfig is RSA-SHA256 with exclusive C14N and a binary
// security token, for any profile
func GetDefaultSignConfig(profile SecurityProfile) *SignConfig {
	return &SignConfig{
		Algorithm:        AlgoRSASHA256,
		HashFunction:     HashSHA256,
		Canonicalization: C14NExclusive,
		TokenReference:   TokenRefBinarySecurityToken,
		SignAttachments:  coversAttachments(profile),
	}
}

// GetDefaultEncryptionConfig is RSA-OAEP key transport with AES-128-GCM
func GetDefaultEncryptionConfig(profile SecurityProfile) *EncryptionConfig {
	return &EncryptionConfig{
		Algorithm:          KeyAlgoRSAOAEP256,
		DataEncryption:     DataAlgoAES128GCM,
		EncryptAttachments: coversAttachments(profile),
	}
}
