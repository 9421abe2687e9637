package smp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// sniffLookahead is how many leading bytes SniffFormat may buffer before
// deciding; WebP needs 12, gzip 3, so 16 KiB is generous headroom for
// callers that hand us already-buffered readers.
const sniffLookahead = 16 * 1024

var magicTable = []struct {
	prefix []byte
	format TileFormat
}{
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, FormatPng},
	{[]byte{0xFF, 0xD8, 0xFF}, FormatJpg},
	{[]byte{0x1F, 0x8B, 0x08}, FormatMvt},
}

// SniffFormat identifies the tile format of r from its magic bytes and
// returns a reader that replays the peeked prefix followed by the rest.
// The input reader is owned by the returned reader afterwards.
func SniffFormat(r io.Reader) (TileFormat, io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLookahead)
	head, err := br.Peek(12)
	if err != nil && err != io.EOF {
		return FormatUnknown, nil, err
	}

	f, err := SniffBytes(head)
	if err != nil {
		return FormatUnknown, nil, err
	}
	return f, br, nil
}

// SniffBytes classifies a byte prefix. RIFF containers must carry the
// WEBP fourcc; a RIFF header with any other payload is rejected.
func SniffBytes(head []byte) (TileFormat, error) {
	for _, m := range magicTable {
		if bytes.HasPrefix(head, m.prefix) {
			return m.format, nil
		}
	}
	if bytes.HasPrefix(head, []byte("RIFF")) {
		if len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP")) {
			return FormatWebp, nil
		}
		return FormatUnknown, fmt.Errorf("%w: RIFF container without WEBP payload", ErrUnknownFileType)
	}
	if len(head) == 0 {
		return FormatUnknown, fmt.Errorf("%w: empty body", ErrUnknownFileType)
	}
	return FormatUnknown, fmt.Errorf("%w: leading byte 0x%02x", ErrUnknownFileType, head[0])
}
