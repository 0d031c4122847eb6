// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package pmode

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPModeNotFound = errors.New("pmode not found")
	ErrInvalidLeg    = errors.New("leg number must be 1 or 2")
)

// LegPolicy is a read-only snapshot of the policies governing one leg
type LegPolicy struct {
	PModeID     string
	LegNumber   int
	MPC         string
	Security    SecurityPolicy
	Reliability ReliabilityPolicy
}

// SecurityPolicy describes what a leg requires of WS-Security
type SecurityPolicy struct {
	// Declared is false when the leg carries no security section at all
	Declared bool

	SigningRequired    bool
	SignatureAlgorithm SignatureAlgorithm
	DigestAlgorithm    HashAlgorithm
	TokenReference     TokenReferenceMethod
	SignAttachments    bool

	EncryptionRequired     bool
	EncryptionAlgorithm    DataEncryptionAlgorithm
	KeyEncryptionAlgorithm KeyEncryptionAlgorithm
	EncryptAttachments     bool
}

// ReliabilityPolicy describes the retry behaviour of a leg
type ReliabilityPolicy struct {
	RetryDefined  bool
	MaxRetries    int
	RetryInterval time.Duration
}

// SelectLeg returns 2 when the first user message refers to an earlier
// message, 1 otherwise.
func SelectLeg(refToMessageID string) int {
	if strings.TrimSpace(refToMessageID) != "" {
		return 2
	}
	return 1
}

// PolicyFor derives the policy for leg n of pm. A leg the P-Mode does not
// define yields a policy with no security declared.
func PolicyFor(pm *ProcessingMode, n int) (*LegPolicy, error) {
	if pm == nil {
		return nil, ErrPModeNotFound
	}
	if n != 1 && n != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLeg, n)
	}

	leg := pm.Leg(n)
	policy := &LegPolicy{
		PModeID:     pm.ID,
		LegNumber:   n,
		Security:    securityPolicyOf(leg),
		Reliability: reliabilityPolicyOf(pm.ReceptionAwarenessFor(leg)),
	}
	if leg != nil && leg.BusinessInfo != nil {
		policy.MPC = leg.BusinessInfo.MPC
	}
	return policy, nil
}

func securityPolicyOf(leg *Leg) SecurityPolicy {
	if leg == nil || leg.Security == nil {
		return SecurityPolicy{}
	}

	sp := SecurityPolicy{Declared: true}
	if leg.Security.X509 == nil {
		return sp
	}

	if sign := leg.Security.X509.Sign; sign != nil {
		sp.SignatureAlgorithm = sign.Algorithm
		sp.DigestAlgorithm = sign.HashFunction
		sp.TokenReference = sign.TokenReference
		sp.SignAttachments = sign.SignAttachments
		sp.SigningRequired = sign.Algorithm != "" && sign.HashFunction != ""
	}
	if enc := leg.Security.X509.Encryption; enc != nil {
		sp.EncryptionAlgorithm = enc.DataEncryption
		sp.KeyEncryptionAlgorithm = enc.Algorithm
		sp.EncryptAttachments = enc.EncryptAttachments
		sp.EncryptionRequired = enc.DataEncryption != ""
	}
	return sp
}

func reliabilityPolicyOf(ra *ReceptionAwareness) ReliabilityPolicy {
	if !ra.IsRetryDefined() {
		return ReliabilityPolicy{}
	}
	return ReliabilityPolicy{
		RetryDefined:  true,
		MaxRetries:    ra.Retry.MaxRetries,
		RetryInterval: ra.Retry.RetryInterval,
	}
}

// Resolver yields leg policies for P-Modes registered with a manager
type Resolver struct {
	manager *PModeManager
}

// NewResolver creates a resolver backed by manager
func NewResolver(manager *PModeManager) *Resolver {
	return &Resolver{manager: manager}
}

// PMode returns the P-Mode registered under id
func (r *Resolver) PMode(id string) (*ProcessingMode, error) {
	pm := r.manager.GetPMode(id)
	if pm == nil {
		return nil, fmt.Errorf("%w: %s", ErrPModeNotFound, id)
	}
	return pm, nil
}

// Resolve returns the policy of leg n of the P-Mode registered under id.
// Leg 1 and leg 2 resolve independently.
func (r *Resolver) Resolve(id string, n int) (*LegPolicy, error) {
	pm, err := r.PMode(id)
	if err != nil {
		return nil, err
	}
	return PolicyFor(pm, n)
}
