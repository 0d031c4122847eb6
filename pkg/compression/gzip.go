// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// CompressionTypeGzip is the AS4 CompressionType part property value
	CompressionTypeGzip = "application/gzip"

	// DefaultMaxDecompressedSize bounds the output of Decompress
	DefaultMaxDecompressedSize int64 = 256 << 20
)

// ErrTooLarge is returned when expanded data passes the size limit
var ErrTooLarge = errors.New("decompressed payload exceeds size limit")

// precompressed lists the media types ShouldCompress skips
var precompressed = map[string]struct{}{
	"application/gzip":            {},
	"application/x-gzip":          {},
	"application/zip":             {},
	"application/zstd":            {},
	"application/x-7z-compressed": {},
	"image/jpeg":                  {},
	"image/png":                   {},
	"image/webp":                  {},
	"video/mp4":                   {},
	"audio/mpeg":                  {},
	"audio/mp3":                   {},
}

// Compressor gzips payloads at a fixed level and expands them up to a
// size limit
type Compressor struct {
	level   int
	maxSize int64
}

func NewCompressor() *Compressor {
	return NewCompressorWithLevel(gzip.DefaultCompression)
}

// NewCompressorWithLevel uses one of the gzip levels, e.g. gzip.BestSpeed
func NewCompressorWithLevel(level int) *Compressor {
	return &Compressor{level: level, maxSize: DefaultMaxDecompressedSize}
}

// WithMaxDecompressedSize changes the expansion limit. n <= 0 removes it.
func (c *Compressor) WithMaxDecompressedSize(n int64) *Compressor {
	c.maxSize = n
	return c
}

func (c *Compressor) Compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	err := c.CompressTo(&out, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// CompressTo writes the gzip stream of src to dst
func (c *Compressor) CompressTo(dst io.Writer, src io.Reader) error {
	zw, err := gzip.NewWriterLevel(dst, c.level)
	if err != nil {
		return fmt.Errorf("gzip level %d: %w", c.level, err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		return fmt.Errorf("compressing: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing: %w", err)
	}
	return nil
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	err := c.DecompressTo(&out, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecompressTo expands the gzip stream src into dst. Output past the limit
// fails with ErrTooLarge; dst may then hold a truncated prefix.
func (c *Compressor) DecompressTo(dst io.Writer, src io.Reader) error {
	zr, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("reading gzip header: %w", err)
	}
	defer zr.Close()

	var r io.Reader = zr
	if c.maxSize > 0 {
		r = io.LimitReader(zr, c.maxSize+1)
	}
	n, err := io.Copy(dst, r)
	if err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	if c.maxSize > 0 && n > c.maxSize {
		return ErrTooLarge
	}
	return nil
}

// ShouldCompress reports whether contentType is worth compressing
func ShouldCompress(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	_, skip := precompressed[mediaType]
	return !skip
}
