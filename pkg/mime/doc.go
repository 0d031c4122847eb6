// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime packs a SOAP envelope and its attachments into the HTTP entity
AS4 sends, and unpacks received entities.

An envelope without attachments travels as-is with the SOAP media type.
Otherwise the entity is multipart/related with the envelope as the start
part, as described in SOAP Messages with Attachments:

	msg := mime.NewMessage(envelope, []mime.Payload{
	    mime.CreatePayloadWithID(invoice, "application/gzip", "invoice@ap.example"),
	})
	body, contentType, err := msg.Serialize()

Parse accepts both forms. The start parameter selects the envelope part,
falling back to the first part:

	entity, err := mime.Parse(bytes.NewReader(body), contentType)
	env, err := message.Parse(entity.Envelope)

Content-IDs of parsed payloads are bare, so they compare directly with the
cid: hrefs of PartInfo after message.NormalizeContentID. ApplyPartInfo
copies the declared MimeType, CompressionType and CharacterSet onto the
payloads.
*/
package mime
