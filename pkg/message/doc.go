// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message models the ebMS 3.0 Messaging header used by AS4 and the
SOAP envelope around it.

A Messaging header holds UserMessage units, which carry business payloads,
and SignalMessage units: PullRequest, Receipt and Error. Error codes of the
ebMS core are predefined as ErrorCode values, and NewErrorEntry turns one
into an Error element.

User messages are assembled with options:

	b := message.NewUserMessage(
	    message.WithFrom("ap-1", partyType),
	    message.WithTo("ap-2", partyType),
	    message.WithService("urn:dbna:invoice"),
	    message.WithAction("Submit"),
	)
	b.AddPayload(invoice, "application/xml")
	env, payloads, err := b.BuildEnvelope()

and signals from a MessageInfo:

	pull := message.NewPullRequest(message.NewMessageInfo(id, ""), mpc)

Marshal prefixes SOAP elements with S12 or S11 and ebMS elements with eb.
Parse reads either SOAP version.
*/
package message
