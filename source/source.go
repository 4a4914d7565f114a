// Package source provides the byte sources an upload session reads its chunks from.
// Seekable sources can serve any offset; stream sources only serve offsets the
// server has not acknowledged yet.
package source

import (
	"errors"
	"fmt"
)

var (
	// ErrShortRead is returned when the underlying reader ends before the declared length.
	ErrShortRead = errors.New("source ended before its declared length")
	// ErrOffsetDiscarded is returned when a stream source is asked for bytes it already dropped.
	ErrOffsetDiscarded = errors.New("offset was already discarded")
	// ErrInvalidOffset is returned for negative offsets, offsets past the end and negative sizes.
	ErrInvalidOffset = errors.New("invalid offset")
)

// Chunk is a contiguous byte range of a source.
type Chunk struct {
	Offset int64
	Data   []byte
	// Final is set when the chunk ends exactly at the end of the source.
	Final bool
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int {
	return len(c.Data)
}

// End returns the offset right after the last byte of the chunk.
func (c Chunk) End() int64 {
	return c.Offset + int64(len(c.Data))
}

// Source provides chunk data for an upload session.
type Source interface {
	// Length returns the total length and whether it is known upfront.
	Length() (int64, bool)

	// ReadChunk returns at most max bytes starting at offset.
	// The session may call it several times for the same offset when a chunk is resent.
	ReadChunk(offset int64, max int) (Chunk, error)
}

func checkBounds(offset int64, max int, size int64) error {
	if max < 0 {
		return fmt.Errorf("%w: negative chunk size %d", ErrInvalidOffset, max)
	}
	if offset < 0 || offset > size {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidOffset, offset, size)
	}
	return nil
}

func chunkLen(offset int64, max int, size int64) int {
	remaining := size - offset
	if int64(max) < remaining {
		return max
	}
	return int(remaining)
}
