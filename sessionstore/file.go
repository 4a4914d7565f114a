package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-resumable/internal"
)

// FileStore keeps one JSON file per record in a directory.
type FileStore struct {
	dir     string
	logger  log.Logger
	osProxy internal.OsProxy
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string, logger log.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory must not be empty")
	}
	osProxy := internal.RealOS{}
	if err := osProxy.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger, osProxy: osProxy}, nil
}

// Path returns the file a key is stored in.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, objectName(key))
}

// Save writes the record atomically.
func (s *FileStore) Save(ctx context.Context, key string, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	tmp, err := s.osProxy.CreateTemp(s.dir, "session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err := s.osProxy.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warnf("Failed to remove temp file %s: %s", tmp.Name(), err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session record: %w", err)
	}

	if err := s.osProxy.Rename(tmp.Name(), s.Path(key)); err != nil {
		return fmt.Errorf("move session record: %w", err)
	}

	s.logger.Debugf("Session record saved to %s", s.Path(key))
	return nil
}

// Load ...
func (s *FileStore) Load(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	data, err := s.osProxy.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("read session record: %w", err)
	}

	return decodeRecord(data)
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.osProxy.Remove(s.Path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session record: %w", err)
	}
	return nil
}
