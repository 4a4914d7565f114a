package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bitrise-io/go-resumable/codec"
)

// Outcome is the classified result of a chunk send or a status probe.
// It is one of Committed, Completed, Incomplete, RetryableFailure,
// FatalFailure or Cancelled.
type Outcome interface {
	isOutcome()
}

// Committed means the server stored every byte of the chunk.
type Committed struct {
	NextOffset int64
}

// Completed means the server assembled the whole upload.
type Completed struct {
	Response *Response
}

// Incomplete carries the server's committed offset when it differs from what was sent,
// or the answer of a status probe.
type Incomplete struct {
	ServerOffset int64
}

// RetryableFailure is a transient error. RetryAfter is the server's delay hint, zero if none.
type RetryableFailure struct {
	Err        error
	RetryAfter time.Duration
}

// FatalFailure must not be retried.
type FatalFailure struct {
	Err error
}

// Cancelled means the context ended while the request was in flight.
type Cancelled struct {
	Err error
}

func (Committed) isOutcome()        {}
func (Completed) isOutcome()        {}
func (Incomplete) isOutcome()       {}
func (RetryableFailure) isOutcome() {}
func (FatalFailure) isOutcome()     {}
func (Cancelled) isOutcome()        {}

func (o Committed) String() string {
	return fmt.Sprintf("committed up to %d", o.NextOffset)
}

func (o Completed) String() string {
	if o.Response == nil {
		return "completed"
	}
	return fmt.Sprintf("completed with status %d", o.Response.StatusCode)
}

func (o Incomplete) String() string {
	return fmt.Sprintf("incomplete, server has %d bytes", o.ServerOffset)
}

func (o RetryableFailure) String() string {
	return fmt.Sprintf("retryable failure: %v", o.Err)
}

func (o FatalFailure) String() string {
	return fmt.Sprintf("fatal failure: %v", o.Err)
}

func (o Cancelled) String() string {
	return fmt.Sprintf("cancelled: %v", o.Err)
}

// Response is the server's final answer to an upload.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
// A nil codec is picked from the response Content-Type.
func (r *Response) Decode(c codec.Codec, v interface{}) error {
	if len(r.Body) == 0 {
		return ErrEmptyBody
	}
	if c == nil {
		c = codec.ForContentType(r.Header.Get("Content-Type"))
	}
	return c.Decode(r.Body, v)
}
