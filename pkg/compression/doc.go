// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression gzips and expands AS4 attachments.

An AS4 sender may compress an attachment before it is signed and encrypted.
It then marks the PartInfo with the part property CompressionType set to
CompressionTypeGzip, and records the original media type in MimeType. The
receiver expands the attachment after decryption.

	c := compression.NewCompressor()
	packed, err := c.Compress(invoice)
	...
	plain, err := c.Decompress(packed)

CompressTo and DecompressTo stream between readers and writers so that
large payloads can stay in temporary files. Expanded output is limited to
DefaultMaxDecompressedSize, or the size set with WithMaxDecompressedSize,
and ErrTooLarge is returned past it. The gzip codec comes from
github.com/klauspost/compress.

ShouldCompress skips media types that are already compressed, such as
images and zip archives.

See section 3.1 of the AS4 profile:
https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package compression
