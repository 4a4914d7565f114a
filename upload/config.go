package upload

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-resumable/backoff"
)

const (
	// MinimumChunkSize is the granularity of chunk sizes accepted by the server.
	MinimumChunkSize = 256 * 1024
	// DefaultChunkSize is used when no chunk size is configured.
	DefaultChunkSize = 10 * 1024 * 1024
)

// Environment variables read by ConfigFromEnv.
const (
	EnvChunkSize      = "RESUMABLE_CHUNK_SIZE"
	EnvMaxTries       = "RESUMABLE_MAX_TRIES"
	EnvInitialBackoff = "RESUMABLE_INITIAL_BACKOFF"
	EnvMaxBackoff     = "RESUMABLE_MAX_BACKOFF"
	EnvDebug          = "RESUMABLE_DEBUG"
)

// minChunkSize is lowered by tests to keep their payloads small.
var minChunkSize = MinimumChunkSize

// Config holds configuration for an upload session.
type Config struct {
	// ChunkSize is the number of bytes sent per request.
	// Must be a positive multiple of MinimumChunkSize.
	// Default: 10 MiB
	ChunkSize int

	// MaxTries is the number of attempts per chunk and per status probe.
	// Default: 3
	MaxTries int

	// InitialBackoff is the wait after the first failed attempt; it doubles after each further failure.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	// Default: 32 seconds
	MaxBackoff time.Duration

	// Debug enables debug logging of every request.
	Debug bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	policy := backoff.Default()
	return Config{
		ChunkSize:      DefaultChunkSize,
		MaxTries:       policy.MaxTries,
		InitialBackoff: policy.InitialDelay,
		MaxBackoff:     policy.MaxDelay,
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.ChunkSize < minChunkSize || c.ChunkSize%minChunkSize != 0 {
		return fmt.Errorf("%w: %d is not a positive multiple of %d", ErrInvalidChunkSize, c.ChunkSize, minChunkSize)
	}
	if c.MaxTries < 1 {
		return fmt.Errorf("max tries must be at least 1, got %d", c.MaxTries)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return fmt.Errorf("backoff delays must not be negative")
	}
	return nil
}

func (c Config) policy() backoff.Policy {
	policy := backoff.Default()
	policy.MaxTries = c.MaxTries
	policy.InitialDelay = c.InitialBackoff
	policy.MaxDelay = c.MaxBackoff
	return policy
}

// ConfigFromEnv reads the configuration from the environment, falling back to
// DefaultConfig for unset values. Chunk sizes are human readable ("512KiB", "8MB").
func ConfigFromEnv(envRepo env.Repository) (Config, error) {
	cfg := DefaultConfig()

	if v := envRepo.Get(EnvChunkSize); v != "" {
		size, err := units.RAMInBytes(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvChunkSize, err)
		}
		cfg.ChunkSize = int(size)
	}

	if v := envRepo.Get(EnvMaxTries); v != "" {
		tries, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvMaxTries, err)
		}
		cfg.MaxTries = tries
	}

	if v := envRepo.Get(EnvInitialBackoff); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvInitialBackoff, err)
		}
		cfg.InitialBackoff = d
	}

	if v := envRepo.Get(EnvMaxBackoff); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvMaxBackoff, err)
		}
		cfg.MaxBackoff = d
	}

	if v := envRepo.Get(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvDebug, err)
		}
		cfg.Debug = debug
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
