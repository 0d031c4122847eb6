// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package msh implements the receiving side of the AS4 Message Service
Handler.

# Security Processing

SecurityProcessor checks a received message against the leg of its
P-Mode. The leg is selected from the RefToMessageId of the user message
(leg 2 when set, leg 1 otherwise). The steps run in order and every step
either advances the Stage or ends processing with an ebMS error:

	StageStart                 repeated Messaging/Body EBMS:0102
	StageStart                 nil P-Mode              EBMS:0010
	StageLegSelected           no leg security         straight to StageDone
	StageAlgorithmsValidated   unknown algorithm URI   EBMS:0101
	StageAttachmentsValidated  PartInfo mismatch       EBMS:0003
	StageVerified              verify or decrypt fail  EBMS:0102
	StageDone

Signature and decryption failures share EBMS:0102. A verified signature
must reference the Messaging header the message was read from and a
non-empty Body, or processing fails with EBMS:0102 as well. What was learned is
kept in an ExchangeState: the selected leg, whether a signature was
verified, whether content was decrypted, the certificates involved and the
decrypted attachments. Decrypted attachments are written to temp files of
the exchange's resource.Lifecycle.

	processor := msh.NewSecurityProcessor(msh.ProcessorConfig{Factory: keys})
	outcome, err := processor.Process(ctx, &msh.Inbound{
	    PMode:       pm,
	    Document:    envelope,
	    Attachments: attachments,
	    Lifecycle:   lifecycle,
	})
	if !outcome.Success() {
	    signal := outcome.ErrorSignal(message.NewMessageID())
	}

# Receiving

Handler wraps the processor for complete transport entities. It parses the
SOAP or multipart/related body, selects the P-Mode with a PModeSelector,
expands gzip compressed payloads (EBMS:0303 on failure) and records the
outcome in the exchange journal.

# References

  - OASIS ebMS 3.0 Processing: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - AS4 Profile: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package msh
