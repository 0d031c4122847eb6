// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package pmode provides Processing Mode (P-Mode) configuration for AS4.

A P-Mode is the negotiated agreement between two parties. It names up to two
legs (leg 1 carries the initiating message, leg 2 the response or second
message) and, per leg, the security policy and the reception awareness
(retry) policy that apply.

# Resolving leg policies

The Resolver turns a P-Mode id and a leg number into an immutable LegPolicy:

	manager := pmode.NewPModeManager()
	manager.AddPMode(pm)

	resolver := pmode.NewResolver(manager)
	policy, err := resolver.Resolve("edelivery-pull", 1)

Inbound processing picks the leg with SelectLeg: a user message that refers
to an earlier message travels on leg 2, everything else on leg 1.

# Algorithm identifiers

Algorithms are carried as their XML-DSig/XML-Enc URIs. The Parse* functions
map unknown URIs to the empty, unrecognized value instead of failing, so
callers can treat "unknown" uniformly:

	if !pmode.ParseSignatureAlgorithm(uri).Recognized() {
	    // reject
	}
*/
package pmode
