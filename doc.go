// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package phase4 is the root of an AS4 secure message exchange engine for
e-invoicing access points.

Two parties exchange signed and encrypted SOAP envelopes carrying business
documents as MIME attachments, with retries and pull-based delivery
governed by a negotiated Processing Mode (P-Mode).

# Standards Implemented

  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - WS-Security 1.1.1 and the SwA profile: https://docs.oasis-open.org/wss/v1.1/
  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core1/
  - XML Encryption Syntax and Processing: https://www.w3.org/TR/xmlenc-core1/

# Package Structure

	pkg/as4          - ExchangeConfig, message Builder and the sending Client
	pkg/msh          - inbound security processing and the receiving Handler
	pkg/pmode        - P-Modes, algorithm URIs and per-leg policy resolution
	pkg/mep          - MEP and binding classification of a P-Mode
	pkg/resource     - per-exchange temp files and closeable handles
	pkg/security     - WS-Security signing, verification, encryption, decryption
	pkg/message      - ebMS3 message structures and envelopes
	pkg/mime         - SOAP with attachments (multipart/related)
	pkg/compression  - AS4 gzip payload compression
	pkg/transport    - HTTPS transport with retries
	pkg/reliability  - per-message delivery tracking
	internal/keystore - PEM, PKCS#12 and PKCS#11 key material
	internal/storage  - exchange journal (memory and MongoDB)
	internal/config   - YAML configuration
	cmd/as4client     - pull and send from the command line

# Quick Start

Pull the next message of a partition channel and check it:

	cfg := as4.NewExchangeConfig()
	cfg.SetCryptoFactory(keys)
	client, err := as4.NewClient(cfg)
	if err != nil {
	    return err
	}
	sent, err := client.Send(ctx, endpoint, &as4.PullRequest{MPC: mpc})
	if err != nil {
	    return err
	}

	handler, err := msh.NewHandler(msh.HandlerConfig{
	    Selector:  &msh.ManagerSelector{Manager: pmodes},
	    Processor: msh.NewSecurityProcessor(msh.ProcessorConfig{Factory: keys}),
	})
	if err != nil {
	    return err
	}
	lifecycle := resource.NewLifecycle()
	defer lifecycle.Release()
	received, err := handler.Receive(ctx, sent.Response.Body, sent.Response.ContentType, lifecycle)

# License

BSD-2-Clause License
*/
package phase4
