package source

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// SeekerSource reads chunks from an io.ReadSeeker.
// The length is taken from the seeker's end position when the source is created.
type SeekerSource struct {
	r    io.ReadSeeker
	size int64
	mu   sync.Mutex
}

// NewSeekerSource creates a Source over r.
func NewSeekerSource(r io.ReadSeeker) (*SeekerSource, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek to end: %w", err)
	}

	return &SeekerSource{r: r, size: size}, nil
}

// Length ...
func (s *SeekerSource) Length() (int64, bool) {
	return s.size, true
}

// ReadChunk ...
func (s *SeekerSource) ReadChunk(offset int64, max int) (Chunk, error) {
	if err := checkBounds(offset, max, s.size); err != nil {
		return Chunk{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.r.Seek(offset, io.SeekStart); err != nil {
		return Chunk{}, fmt.Errorf("seek to position %d: %w", offset, err)
	}

	data := make([]byte, chunkLen(offset, max, s.size))
	n, err := io.ReadFull(s.r, data)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
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
