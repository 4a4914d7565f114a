package progress

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackedEvent struct {
	name       string
	properties analytics.Properties
}

type fakeTracker struct {
	events []trackedEvent
	waited bool
	mu     sync.Mutex
}

func (f *fakeTracker) Enqueue(eventName string, properties ...analytics.Properties) {
	f.mu.Lock()
	defer f.mu.Unlock()

	merged := analytics.Properties{}
	for _, p := range properties {
		for k, v := range p {
			merged[k] = v
		}
	}
	f.events = append(f.events, trackedEvent{name: eventName, properties: merged})
}

func (f *fakeTracker) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = true
}

func newTestTrackerReporter() (*TrackerReporter, *fakeTracker, *time.Time) {
	tracker := &fakeTracker{}
	r := NewTrackerReporter(tracker)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, tracker, &now
}

func TestTrackerReporterCompleted(t *testing.T) {
	r, tracker, now := newTestTrackerReporter()

	r.Report(Progress{Status: Starting, TotalBytes: 100, TotalKnown: true})
	r.Report(Progress{Status: Uploading, BytesSent: 30, Chunks: 1})
	r.Report(Progress{Status: Uploading, BytesSent: 60, Chunks: 2})
	*now = now.Add(2500 * time.Millisecond)
	r.Report(Progress{Status: Completed, BytesSent: 100, Chunks: 3})
	r.Wait()

	require.Len(t, tracker.events, 2)
	assert.Equal(t, EventUploadStarted, tracker.events[0].name)
	assert.Equal(t, analytics.Properties{"total_size_bytes": int64(100), "total_size_known": true}, tracker.events[0].properties)

	assert.Equal(t, EventUploadCompleted, tracker.events[1].name)
	assert.Equal(t, analytics.Properties{
		"upload_time_s":     2.0,
		"upload_size_bytes": int64(100),
		"chunk_count":       int64(3),
	}, tracker.events[1].properties)
	assert.True(t, tracker.waited)
}

func TestTrackerReporterFailed(t *testing.T) {
	r, tracker, _ := newTestTrackerReporter()

	r.Report(Progress{Status: Starting})
	r.Report(Progress{Status: Failed, BytesSent: 30, Err: errors.New("retries exhausted")})
	r.Report(Progress{Status: Failed})

	require.Len(t, tracker.events, 3)
	assert.Equal(t, EventUploadFailed, tracker.events[1].name)
	assert.Equal(t, "retries exhausted", tracker.events[1].properties["error"])
	assert.Equal(t, int64(30), tracker.events[1].properties["bytes_committed"])
	assert.Equal(t, "unknown", tracker.events[2].properties["error"])
}

func TestTrackerReporterCancelled(t *testing.T) {
	r, tracker, _ := newTestTrackerReporter()

	r.Report(Progress{Status: Cancelled, BytesSent: 60})

	require.Len(t, tracker.events, 1)
	assert.Equal(t, EventUploadCancelled, tracker.events[0].name)
	assert.Equal(t, 0.0, tracker.events[0].properties["upload_time_s"])
}

func TestTrackerReporterChunkCountFollowsAcknowledgedChunks(t *testing.T) {
	r, tracker, _ := newTestTrackerReporter()

	r.Report(Progress{Status: Starting, TotalBytes: 100, TotalKnown: true})
	r.Report(Progress{Status: Uploading, BytesSent: 30, Chunks: 1})
	r.Report(Progress{Status: Uploading, BytesSent: 10, Chunks: 1})
	r.Report(Progress{Status: Uploading, BytesSent: 40, Chunks: 2})
	r.Report(Progress{Status: Completed, BytesSent: 100, Chunks: 2})

	require.Len(t, tracker.events, 2)
	assert.Equal(t, int64(2), tracker.events[1].properties["chunk_count"])
}
