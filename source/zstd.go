package source

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdSource is a StreamSource over the zstd compressed form of a reader.
type ZstdSource struct {
	*StreamSource
	pr *io.PipeReader
}

// NewZstdSource compresses r on the fly. The compressed length is unknown
// until the last chunk is read. The caller must Close the source.
func NewZstdSource(r io.Reader, opts ...zstd.EOption) (*ZstdSource, error) {
	pr, pw := io.Pipe()

	zstdWriter, err := zstd.NewWriter(pw, opts...)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}

	go func() {
		_, err := io.Copy(zstdWriter, r)
		if closeErr := zstdWriter.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close zstd writer: %w", closeErr)
		}
		// A nil error closes the pipe with io.EOF.
		pw.CloseWithError(err)
	}()

	return &ZstdSource{StreamSource: NewStreamSource(pr), pr: pr}, nil
}

// Close stops the compression goroutine.
func (s *ZstdSource) Close() error {
	return s.pr.Close()
}
