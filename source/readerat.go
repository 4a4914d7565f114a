package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ReaderAtSource reads chunks from an io.ReaderAt of known size.
// Safe for concurrent use when the underlying ReaderAt is.
type ReaderAtSource struct {
	r    io.ReaderAt
	size int64
}

// NewReaderAtSource creates a Source over the first size bytes of r.
func NewReaderAtSource(r io.ReaderAt, size int64) *ReaderAtSource {
	return &ReaderAtSource{r: r, size: size}
}

// NewBytesSource creates a Source over an in-memory buffer.
func NewBytesSource(data []byte) *ReaderAtSource {
	return NewReaderAtSource(bytes.NewReader(data), int64(len(data)))
}

// Length ...
func (s *ReaderAtSource) Length() (int64, bool) {
	return s.size, true
}

// ReadChunk ...
func (s *ReaderAtSource) ReadChunk(offset int64, max int) (Chunk, error) {
	if err := checkBounds(offset, max, s.size); err != nil {
		return Chunk{}, err
	}

	data := make([]byte, chunkLen(offset, max, s.size))
	n, err := s.r.ReadAt(data, offset)
	if n < len(data) {
		if err == nil || errors.Is(err, io.EOF) {
			return Chunk{}, fmt.Errorf("%w: got %d of %d bytes at offset %d", ErrShortRead, n, len(data), offset)
		}
		return Chunk{}, fmt.Errorf("read at offset %d: %w", offset, err)
	}

	return Chunk{
		Offset: offset,
		Data:   data,
		Final:  offset+int64(n) == s.size,
	}, nil
}
