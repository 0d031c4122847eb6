// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package as4 builds and sends outbound AS4 messages.

An ExchangeConfig carries what a client needs for every send: the keystore
coordinates or an explicit crypto factory, the signing and encryption
parameters, the message id generator, the SOAP version and the retry
settings. It can be filled from a P-Mode leg:

	cfg := as4.NewExchangeConfig()
	cfg.SetKeyStoreType(keystore.TypePKCS12)
	cfg.SetKeyStorePath("ap.p12")
	cfg.SetKeyStorePassword(password)
	cfg.SetKeyAlias("ap")
	cfg.SetKeyPassword(password)
	if err := cfg.ImportFromPMode(pm, pm.Leg(1)); err != nil {
	    return err
	}

# Building

Builder turns one of the payload variants (PullRequest, UserMessage,
Receipt or ErrorSignal) into a transport-ready message. The envelope is
signed when both a signature and a digest algorithm are set, and
attachments are encrypted when a data encryption algorithm is set. A
message without attachments is sent as a plain SOAP document, otherwise as
multipart/related.

# Sending

Client.Send creates one message id, builds the message and posts it,
retrying network failures and 5xx responses with the configured interval:

	client, err := as4.NewClient(cfg)
	sent, err := client.Send(ctx, endpoint, &as4.PullRequest{MPC: pmode.DefaultMPC})

SendForEnvelope and SendAndDecode also decode the response. Attempts are
tracked per message id and, with WithJournal, recorded in the exchange
journal.

Errors caused by the configuration wrap ErrConfiguration and happen before
anything is sent.
*/
package as4
