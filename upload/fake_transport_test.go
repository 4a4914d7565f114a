package upload

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/bitrise-io/go-resumable/backoff"
	"github.com/bitrise-io/go-resumable/progress"
	"github.com/bitrise-io/go-resumable/source"
	"github.com/bitrise-io/go-resumable/transport"
)

const testSessionURI = "https://upload.example.com/session/1"

type sentChunk struct {
	source.Chunk
	Total      int64
	TotalKnown bool
}

// sendFunc overrides the answer to one chunk request; a nil Outcome keeps the default answer.
type sendFunc func(chunk source.Chunk) transport.Outcome

// fakeTransport acknowledges every chunk unless a scripted answer is queued.
type fakeTransport struct {
	initiateErr error
	sendScript  []sendFunc
	probeScript []transport.Outcome
	beforeSend  func(n int)

	initiated []transport.InitiateRequest
	sends     []sentChunk
	probes    []sentChunk
	mu        sync.Mutex
}

func (f *fakeTransport) Initiate(ctx context.Context, r transport.InitiateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initiated = append(f.initiated, r)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.initiateErr != nil {
		return "", f.initiateErr
	}
	return testSessionURI, nil
}

func (f *fakeTransport) SendChunk(ctx context.Context, sessionURI string, chunk source.Chunk, total int64, totalKnown bool) transport.Outcome {
	f.mu.Lock()
	data := append([]byte(nil), chunk.Data...)
	f.sends = append(f.sends, sentChunk{
		Chunk:      source.Chunk{Offset: chunk.Offset, Data: data, Final: chunk.Final},
		Total:      total,
		TotalKnown: totalKnown,
	})
	n := len(f.sends)
	var script sendFunc
	if len(f.sendScript) > 0 {
		script = f.sendScript[0]
		f.sendScript = f.sendScript[1:]
	}
	hook := f.beforeSend
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return transport.Cancelled{Err: err}
	}
	if script != nil {
		if outcome := script(chunk); outcome != nil {
			return outcome
		}
	}
	return acknowledge(chunk)
}

func (f *fakeTransport) Probe(ctx context.Context, sessionURI string, total int64, totalKnown bool) transport.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.probes = append(f.probes, sentChunk{Total: total, TotalKnown: totalKnown})
	if err := ctx.Err(); err != nil {
		return transport.Cancelled{Err: err}
	}
	if len(f.probeScript) == 0 {
		return transport.FatalFailure{Err: errors.New("unexpected status probe")}
	}
	outcome := f.probeScript[0]
	f.probeScript = f.probeScript[1:]
	return outcome
}

func (f *fakeTransport) sent() []sentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentChunk(nil), f.sends...)
}

func (f *fakeTransport) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probes)
}

func acknowledge(chunk source.Chunk) transport.Outcome {
	if chunk.Final {
		return transport.Completed{Response: &transport.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       []byte(`{"id":"file-1"}`),
		}}
	}
	return transport.Committed{NextOffset: chunk.End()}
}

func retryable() sendFunc {
	return func(source.Chunk) transport.Outcome {
		return transport.RetryableFailure{Err: errors.New("HTTP 503: backend error")}
	}
}

func fatal(err error) sendFunc {
	return func(source.Chunk) transport.Outcome {
		return transport.FatalFailure{Err: err}
	}
}

func partial(keep int) sendFunc {
	return func(chunk source.Chunk) transport.Outcome {
		return transport.Incomplete{ServerOffset: chunk.Offset + int64(keep)}
	}
}

func repeat(fn sendFunc, n int) []sendFunc {
	fns := make([]sendFunc, n)
	for i := range fns {
		fns[i] = fn
	}
	return fns
}

// recorder collects reported progress.
type recorder struct {
	events []progress.Progress
	mu     sync.Mutex
}

func (r *recorder) Report(p progress.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) statuses() []progress.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make([]progress.Status, len(r.events))
	for i, e := range r.events {
		statuses[i] = e.Status
	}
	return statuses
}

func (r *recorder) last() progress.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func useSmallChunks(t *testing.T) {
	t.Helper()
	old := minChunkSize
	minChunkSize = 10
	t.Cleanup(func() {
		minChunkSize = old
	})
}

func testPolicy() backoff.Policy {
	return backoff.Policy{MaxTries: 3, NoSleep: true}
}

func testConfig(chunkSize int) Config {
	return Config{ChunkSize: chunkSize, MaxTries: 3}
}

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}
