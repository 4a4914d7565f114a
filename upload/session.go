// Package upload drives a resumable upload: it opens a session, sends the
// source in sequential chunks, retries transient failures and resumes from the
// offset the server reports.
package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-resumable/backoff"
	"github.com/bitrise-io/go-resumable/codec"
	"github.com/bitrise-io/go-resumable/progress"
	"github.com/bitrise-io/go-resumable/sessionstore"
	"github.com/bitrise-io/go-resumable/source"
	"github.com/bitrise-io/go-resumable/transport"
)

// Transport sends the protocol requests of a session. *transport.Client implements it.
type Transport interface {
	Initiate(ctx context.Context, r transport.InitiateRequest) (string, error)
	SendChunk(ctx context.Context, sessionURI string, chunk source.Chunk, total int64, totalKnown bool) transport.Outcome
	Probe(ctx context.Context, sessionURI string, total int64, totalKnown bool) transport.Outcome
}

// Request describes the initiation request of an upload.
type Request struct {
	// Endpoint is the upload URL of the resource.
	Endpoint string
	// Method defaults to POST.
	Method string
	// Query holds extra query parameters of the initiation request.
	Query url.Values
	// ContentType of the uploaded media.
	ContentType string
	// Metadata is sent as the initiation body when not nil.
	Metadata interface{}
	// Codec encodes Metadata and decodes the final response.
	Codec codec.Codec
	// Header holds extra initiation request headers.
	Header http.Header
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. Default: log.NewLogger().
func WithLogger(logger log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithReporter sets the progress reporter. Default: progress.Nop.
func WithReporter(reporter progress.Reporter) Option {
	return func(s *Session) {
		s.reporter = reporter
	}
}

// WithPolicy replaces the backoff policy derived from the Config.
func WithPolicy(policy backoff.Policy) Option {
	return func(s *Session) {
		s.policy = policy
	}
}

// WithStore persists the session state under key, so that ResumeFromStore
// can continue it in another process.
func WithStore(store sessionstore.Store, key string) Option {
	return func(s *Session) {
		s.store = store
		s.storeKey = key
	}
}

// Session is a single logical upload. It is started once with Upload, Resume
// or ResumeFromStore and cannot be reused after it finished.
//
// The accessors are safe to call while the upload runs in another goroutine.
type Session struct {
	src       source.Source
	transport Transport
	request   Request
	chunkSize int
	policy    backoff.Policy
	logger    log.Logger
	reporter  progress.Reporter
	store     sessionstore.Store
	storeKey  string
	stats     *Stats

	sessionURI  atomic.Value
	totalLength atomic.Int64
	totalKnown  atomic.Bool
	committed   atomic.Int64
	state       atomic.Int32
	running     atomic.Bool
}

// NewSession creates a session uploading src through t.
func NewSession(src source.Source, t Transport, req Request, cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if req.Endpoint == "" {
		return nil, fmt.Errorf("endpoint must not be empty")
	}

	s := &Session{
		src:       src,
		transport: t,
		request:   req,
		chunkSize: cfg.ChunkSize,
		policy:    cfg.policy(),
		logger:    log.NewLogger(),
		reporter:  progress.Nop,
		stats:     NewStats(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Debug {
		s.logger.EnableDebugLog(true)
	}

	total, known := src.Length()
	s.totalLength.Store(total)
	s.totalKnown.Store(known)
	s.sessionURI.Store("")

	return s, nil
}

// State returns the current phase of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SessionURI returns the URI of the server side session, empty before initiation.
func (s *Session) SessionURI() string {
	return s.sessionURI.Load().(string)
}

// CommittedOffset returns the number of bytes the server acknowledged.
func (s *Session) CommittedOffset() int64 {
	return s.committed.Load()
}

// TotalLength returns the upload length and whether it is known yet.
func (s *Session) TotalLength() (int64, bool) {
	return s.totalLength.Load(), s.totalKnown.Load()
}

// Stats returns the chunk statistics of the session.
func (s *Session) Stats() *Stats {
	return s.stats
}

// Upload opens a new server side session and uploads the whole source.
// It blocks until the upload completed, failed or ctx ended.
func (s *Session) Upload(ctx context.Context) (*Result, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.running.Store(false)

	s.report(progress.Starting, nil)

	if res, err := s.initiate(ctx); s.State().Terminal() {
		return res, err
	}
	return s.run(ctx)
}

// UploadAsync runs Upload in a new goroutine. The channel receives exactly one Completion.
func (s *Session) UploadAsync(ctx context.Context) <-chan Completion {
	return async(func() (*Result, error) { return s.Upload(ctx) })
}

// Resume continues the server side session at sessionURI. The committed offset
// is queried from the server before any data is sent.
func (s *Session) Resume(ctx context.Context, sessionURI string) (*Result, error) {
	if sessionURI == "" {
		return nil, ErrNoSessionURI
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.running.Store(false)

	s.sessionURI.Store(sessionURI)
	s.report(progress.Starting, nil)
	s.logger.Infof("Resuming upload session %s", sessionURI)

	if res, err := s.probe(ctx); s.State().Terminal() {
		return res, err
	}
	return s.run(ctx)
}

// ResumeAsync runs Resume in a new goroutine. The channel receives exactly one Completion.
func (s *Session) ResumeAsync(ctx context.Context, sessionURI string) <-chan Completion {
	return async(func() (*Result, error) { return s.Resume(ctx, sessionURI) })
}

// ResumeFromStore resumes the session saved in the session's store, or starts
// a new upload when there is no usable record.
func (s *Session) ResumeFromStore(ctx context.Context) (*Result, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}

	record, err := s.store.Load(ctx, s.storeKey)
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
		s.logger.Debugf("No saved session for %s, starting a new upload", s.storeKey)
		return s.Upload(ctx)
	case err != nil:
		s.logger.Warnf("Failed to load saved session for %s, starting a new upload: %s", s.storeKey, err)
		return s.Upload(ctx)
	}

	total, known := s.TotalLength()
	if record.SessionURI == "" || (known && record.TotalKnown && record.TotalLength != total) {
		s.logger.Warnf("Saved session for %s does not match the source, starting a new upload", s.storeKey)
		if err := s.store.Delete(ctx, s.storeKey); err != nil {
			s.logger.Warnf("Failed to delete saved session: %s", err)
		}
		return s.Upload(ctx)
	}

	return s.Resume(ctx, record.SessionURI)
}

func async(fn func() (*Result, error)) <-chan Completion {
	ch := make(chan Completion, 1)
	go func() {
		defer close(ch)
		res, err := fn()
		ch <- Completion{Result: res, Err: err}
	}()
	return ch
}

func (s *Session) begin() error {
	if s.State().Terminal() {
		return ErrSessionTerminal
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionInUse
	}
	if s.State() != NotStarted {
		s.running.Store(false)
		return ErrSessionTerminal
	}
	return nil
}

func (s *Session) initiate(ctx context.Context) (*Result, error) {
	s.setState(Initiating)
	if err := ctx.Err(); err != nil {
		return s.cancel(err)
	}

	total, known := s.TotalLength()
	sessionURI, err := s.transport.Initiate(ctx, transport.InitiateRequest{
		Endpoint:    s.request.Endpoint,
		Method:      s.request.Method,
		Query:       s.request.Query,
		ContentType: s.request.ContentType,
		TotalLength: total,
		TotalKnown:  known,
		Metadata:    s.request.Metadata,
		Codec:       s.request.Codec,
		Header:      s.request.Header,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.cancel(ctxErr)
		}
		return s.fail(fmt.Errorf("initiate upload: %w", err))
	}

	s.sessionURI.Store(sessionURI)
	s.setState(Uploading)
	s.save(ctx)

	return nil, nil
}

// run sends chunks from the committed offset until the session reaches a terminal state.
func (s *Session) run(ctx context.Context) (*Result, error) {
	attempt := 0
	probed := false

	for {
		if err := ctx.Err(); err != nil {
			return s.cancel(err)
		}

		chunk, err := s.readChunk()
		if err != nil {
			return s.fail(fmt.Errorf("read chunk at offset %d: %w", s.CommittedOffset(), err))
		}

		attempt++
		total, known := s.TotalLength()
		s.logger.Debugf("Uploading bytes %d-%d (%s, attempt %d/%d) [finished=%d] [avg=%v]",
			chunk.Offset, chunk.End(), units.BytesSize(float64(chunk.Len())), attempt, s.policy.MaxTries,
			s.stats.FinishedCount(), s.stats.Average().Round(time.Millisecond))

		start := time.Now()
		outcome := s.transport.SendChunk(ctx, s.SessionURI(), chunk, total, known)
		took := time.Since(start)

		if !known && chunk.Final {
			s.totalLength.Store(chunk.End())
			s.totalKnown.Store(true)
		}

		switch o := outcome.(type) {
		case transport.Completed:
			s.stats.Update(took, chunk.End()-s.CommittedOffset())
			return s.complete(ctx, o.Response)
		case transport.Committed:
			s.stats.Update(took, o.NextOffset-s.CommittedOffset())
			s.acknowledge(ctx, o.NextOffset)
			attempt, probed = 0, false
			continue
		case transport.Incomplete:
			previous := s.CommittedOffset()
			s.acknowledge(ctx, o.ServerOffset)
			if o.ServerOffset > previous {
				s.stats.Update(took, o.ServerOffset-previous)
				attempt, probed = 0, false
				continue
			}
			s.logger.Warnf("Server kept none of bytes %d-%d, it has %d bytes", chunk.Offset, chunk.End(), o.ServerOffset)
			outcome = transport.RetryableFailure{
				Err: fmt.Errorf("server committed %d bytes after receiving bytes %d-%d", o.ServerOffset, chunk.Offset, chunk.End()),
			}
		case transport.FatalFailure:
			return s.fail(fmt.Errorf("upload bytes %d-%d: %w", chunk.Offset, chunk.End(), o.Err))
		case transport.Cancelled:
			return s.cancel(o.Err)
		}

		failure, ok := outcome.(transport.RetryableFailure)
		if !ok {
			return s.fail(fmt.Errorf("%w: unexpected outcome %T", transport.ErrProtocol, outcome))
		}

		if s.policy.ShouldRetry(failure, attempt) {
			delay := s.policy.Delay(failure, attempt)
			s.logger.Warnf("Upload of bytes %d-%d attempt %d failed: %s, retrying after %s",
				chunk.Offset, chunk.End(), attempt, failure.Err, delay.Round(time.Millisecond))
			if err := s.policy.Wait(ctx, delay); err != nil {
				return s.cancel(err)
			}
			continue
		}

		if probed {
			return s.fail(fmt.Errorf("%w: upload bytes %d-%d: %w", ErrRetriesExhausted, chunk.Offset, chunk.End(), failure.Err))
		}

		s.logger.Warnf("Upload of bytes %d-%d failed %d times: %s, querying upload status", chunk.Offset, chunk.End(), attempt, failure.Err)
		if res, err := s.probe(ctx); s.State().Terminal() {
			return res, err
		}
		attempt, probed = 0, true
	}
}

// probe asks the server for its committed offset and moves back to Uploading.
// Failures are retried with their own budget of MaxTries attempts.
func (s *Session) probe(ctx context.Context) (*Result, error) {
	s.setState(Probing)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return s.cancel(err)
		}

		total, known := s.TotalLength()
		outcome := s.transport.Probe(ctx, s.SessionURI(), total, known)

		var offset int64
		switch o := outcome.(type) {
		case transport.Completed:
			return s.complete(ctx, o.Response)
		case transport.Incomplete:
			offset = o.ServerOffset
		case transport.Committed:
			offset = o.NextOffset
		case transport.FatalFailure:
			return s.fail(fmt.Errorf("query upload status: %w", o.Err))
		case transport.Cancelled:
			return s.cancel(o.Err)
		case transport.RetryableFailure:
			if !s.policy.ShouldRetry(o, attempt) {
				return s.fail(fmt.Errorf("%w: query upload status: %w", ErrRetriesExhausted, o.Err))
			}
			delay := s.policy.Delay(o, attempt)
			s.logger.Warnf("Upload status query attempt %d failed: %s, retrying after %s", attempt, o.Err, delay.Round(time.Millisecond))
			if err := s.policy.Wait(ctx, delay); err != nil {
				return s.cancel(err)
			}
			continue
		default:
			return s.fail(fmt.Errorf("%w: unexpected outcome %T", transport.ErrProtocol, outcome))
		}

		// The server holds every byte but did not say so with a final response.
		if known && offset == total {
			s.logger.Infof("Server reports all %d bytes committed", total)
			s.committed.Store(offset)
			return s.complete(ctx, nil)
		}

		s.logger.Infof("Server has %s committed, resuming from offset %d", units.BytesSize(float64(offset)), offset)
		s.committed.Store(offset)
		s.setState(Uploading)
		s.save(ctx)
		return nil, nil
	}
}

func (s *Session) readChunk() (source.Chunk, error) {
	offset := s.CommittedOffset()
	size := s.chunkSize
	if total, known := s.TotalLength(); known {
		if remaining := total - offset; remaining < int64(size) {
			if remaining < 0 {
				return source.Chunk{}, fmt.Errorf("%w: offset %d is past the length %d", source.ErrInvalidOffset, offset, total)
			}
			size = int(remaining)
		}
	}
	return s.src.ReadChunk(offset, size)
}

func (s *Session) acknowledge(ctx context.Context, offset int64) {
	s.committed.Store(offset)
	s.save(ctx)
	s.report(progress.Uploading, nil)
}

func (s *Session) complete(ctx context.Context, resp *transport.Response) (*Result, error) {
	if total, known := s.TotalLength(); known {
		s.committed.Store(total)
	}
	s.setState(Completed)
	s.report(progress.Completed, nil)

	if s.store != nil {
		if err := s.store.Delete(ctx, s.storeKey); err != nil {
			s.logger.Warnf("Failed to delete saved session: %s", err)
		}
	}

	s.logger.Debugf("Upload completed: %d chunks in %s", s.stats.FinishedCount(), s.stats.TotalDuration().Round(time.Millisecond))

	return &Result{
		SessionURI: s.SessionURI(),
		Size:       s.CommittedOffset(),
		Response:   resp,
		codec:      s.request.Codec,
	}, nil
}

func (s *Session) fail(err error) (*Result, error) {
	s.setState(Failed)
	s.report(progress.Failed, err)
	return nil, err
}

func (s *Session) cancel(cause error) (*Result, error) {
	s.setState(Cancelled)
	s.report(progress.Cancelled, nil)
	return nil, fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func (s *Session) setState(state State) {
	s.logger.Debugf("Upload session state: %s -> %s", s.State(), state)
	s.state.Store(int32(state))
}

func (s *Session) report(status progress.Status, err error) {
	total, known := s.TotalLength()
	s.reporter.Report(progress.Progress{
		Status:     status,
		BytesSent:  s.CommittedOffset(),
		TotalBytes: total,
		TotalKnown: known,
		Chunks:     s.stats.FinishedCount(),
		Err:        err,
	})
}

// save stores the session state when a store is configured. Errors are logged, not returned.
func (s *Session) save(ctx context.Context) {
	if s.store == nil || ctx.Err() != nil {
		return
	}

	total, known := s.TotalLength()
	record := sessionstore.Record{
		SessionURI:      s.SessionURI(),
		ContentType:     s.request.ContentType,
		TotalLength:     total,
		TotalKnown:      known,
		CommittedOffset: s.CommittedOffset(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.store.Save(ctx, s.storeKey, record); err != nil {
		s.logger.Warnf("Failed to save session state: %s", err)
	}
}
