package upload

import (
	"github.com/bitrise-io/go-resumable/codec"
	"github.com/bitrise-io/go-resumable/transport"
)

// Result is the outcome of a completed upload.
type Result struct {
	SessionURI string
	// Size is the number of bytes the server holds.
	Size int64
	// Response is the server's final answer. It is nil when completion was
	// learned from a status probe that reported every byte as committed.
	Response *transport.Response

	codec codec.Codec
}

// Decode unmarshals the final response body into v with the request's codec,
// or one matching the response Content-Type when the request had none.
func (r *Result) Decode(v interface{}) error {
	if r.Response == nil {
		return transport.ErrEmptyBody
	}
	return r.Response.Decode(r.codec, v)
}

// Completion is delivered by the asynchronous entry points.
type Completion struct {
	Result *Result
	Err    error
}
