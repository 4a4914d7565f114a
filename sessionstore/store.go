// Package sessionstore persists upload session records so an interrupted
// upload can be resumed by another process.
package sessionstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bitrise-io/go-resumable/codec"
)

// ErrNotFound is returned by Load when no record is stored under the key.
var ErrNotFound = errors.New("session record not found")

// Record is the resumable state of an upload.
type Record struct {
	SessionURI      string    `json:"session_uri"`
	ContentType     string    `json:"content_type,omitempty"`
	TotalLength     int64     `json:"total_length"`
	TotalKnown      bool      `json:"total_known"`
	CommittedOffset int64     `json:"committed_offset"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store saves, loads and deletes records by key.
type Store interface {
	Save(ctx context.Context, key string, record Record) error
	Load(ctx context.Context, key string) (Record, error)
	Delete(ctx context.Context, key string) error
}

// objectName maps an arbitrary key to a file or object name.
func objectName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}

func encodeRecord(record Record) ([]byte, error) {
	return codec.JSON.Encode(record)
}

func decodeRecord(data []byte) (Record, error) {
	var record Record
	if err := codec.JSON.Decode(data, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}
