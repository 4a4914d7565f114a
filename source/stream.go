package source

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// StreamSource reads chunks from a non-seekable reader of unknown length.
//
// It buffers every byte from the lowest offset it may still be asked for.
// Reading at offset X drops the bytes before X, so X must be an offset the
// server has acknowledged. Offsets past the bytes read so far are reached by
// skipping, which is how a resumed upload continues a stream. One byte is read
// ahead to decide whether a chunk is the final one.
type StreamSource struct {
	r    io.Reader
	buf  []byte
	base int64
	eof  bool
	mu   sync.Mutex
}

// NewStreamSource creates a Source over r.
func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{r: r}
}

// Length always reports an unknown length.
func (s *StreamSource) Length() (int64, bool) {
	return 0, false
}

// ReadChunk ...
func (s *StreamSource) ReadChunk(offset int64, max int) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if max < 0 {
		return Chunk{}, fmt.Errorf("%w: negative chunk size %d", ErrInvalidOffset, max)
	}
	if offset < s.base {
		return Chunk{}, fmt.Errorf("%w: requested %d, buffer starts at %d", ErrOffsetDiscarded, offset, s.base)
	}
	if end := s.base + int64(len(s.buf)); offset > end {
		if err := s.skip(offset); err != nil {
			return Chunk{}, err
		}
	} else {
		s.discard(offset)
	}

	if err := s.fill(max + 1); err != nil {
		return Chunk{}, err
	}

	n := max
	if len(s.buf) < n {
		n = len(s.buf)
	}

	data := make([]byte, n)
	copy(data, s.buf[:n])

	return Chunk{
		Offset: offset,
		Data:   data,
		Final:  s.eof && n == len(s.buf),
	}, nil
}

// Buffered returns the number of bytes held in memory.
func (s *StreamSource) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *StreamSource) discard(offset int64) {
	drop := int(offset - s.base)
	if drop == 0 {
		return
	}
	s.buf = append(s.buf[:0], s.buf[drop:]...)
	s.base = offset
}

func (s *StreamSource) skip(offset int64) error {
	end := s.base + int64(len(s.buf))
	s.buf = s.buf[:0]
	if s.eof {
		s.base = end
		return fmt.Errorf("%w: stream ended at %d before offset %d", ErrInvalidOffset, end, offset)
	}

	n, err := io.CopyN(io.Discard, s.r, offset-end)
	s.base = end + n
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true
			return fmt.Errorf("%w: stream ended at %d before offset %d", ErrInvalidOffset, s.base, offset)
		}
		return fmt.Errorf("skip stream to offset %d: %w", offset, err)
	}
	return nil
}

func (s *StreamSource) fill(want int) error {
	if s.eof || len(s.buf) >= want {
		return nil
	}

	tmp := make([]byte, want-len(s.buf))
	n, err := io.ReadFull(s.r, tmp)
	s.buf = append(s.buf, tmp[:n]...)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.eof = true
			return nil
		}
		return fmt.Errorf("read stream at offset %d: %w", s.base+int64(len(s.buf)), err)
	}
	return nil
}
