package source

import (
	"fmt"
	"os"
)

// FileSource reads chunks from a file on disk.
type FileSource struct {
	*SeekerSource
	file *os.File
}

// OpenFile opens the file at path as a Source. The caller must Close it.
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	seeker, err := NewSeekerSource(file)
	if err != nil {
		if cerr := file.Close(); cerr != nil {
			return nil, fmt.Errorf("%s, close file: %w", err, cerr)
		}
		return nil, err
	}

	return &FileSource{SeekerSource: seeker, file: file}, nil
}

// Name returns the path the file was opened with.
func (s *FileSource) Name() string {
	return s.file.Name()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
