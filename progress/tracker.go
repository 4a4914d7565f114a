package progress

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Analytics event names.
const (
	EventUploadStarted   = "resumable_upload_started"
	EventUploadCompleted = "resumable_upload_completed"
	EventUploadFailed    = "resumable_upload_failed"
	EventUploadCancelled = "resumable_upload_cancelled"
)

// TrackerReporter sends upload lifecycle events to an analytics tracker.
type TrackerReporter struct {
	tracker analytics.Tracker
	started time.Time
	now     func() time.Time
}

// NewTrackerReporter creates a TrackerReporter over tracker.
func NewTrackerReporter(tracker analytics.Tracker) *TrackerReporter {
	return &TrackerReporter{tracker: tracker, now: time.Now}
}

// NewDefaultTrackerReporter sends events with the default analytics tracker.
// properties are attached to every event.
func NewDefaultTrackerReporter(logger log.Logger, properties analytics.Properties) *TrackerReporter {
	return NewTrackerReporter(analytics.NewDefaultTracker(logger, properties))
}

// Report ...
func (r *TrackerReporter) Report(p Progress) {
	switch p.Status {
	case Starting:
		r.started = r.now()
		r.tracker.Enqueue(EventUploadStarted, analytics.Properties{
			"total_size_bytes": p.TotalBytes,
			"total_size_known": p.TotalKnown,
		})
	case Completed:
		r.tracker.Enqueue(EventUploadCompleted, analytics.Properties{
			"upload_time_s":     r.elapsed().Truncate(time.Second).Seconds(),
			"upload_size_bytes": p.BytesSent,
			"chunk_count":       p.Chunks,
		})
	case Failed:
		reason := "unknown"
		if p.Err != nil {
			reason = p.Err.Error()
		}
		r.tracker.Enqueue(EventUploadFailed, analytics.Properties{
			"upload_time_s":   r.elapsed().Truncate(time.Second).Seconds(),
			"bytes_committed": p.BytesSent,
			"error":           reason,
		})
	case Cancelled:
		r.tracker.Enqueue(EventUploadCancelled, analytics.Properties{
			"upload_time_s":   r.elapsed().Truncate(time.Second).Seconds(),
			"bytes_committed": p.BytesSent,
		})
	}
}

// Wait blocks until the queued events are sent.
func (r *TrackerReporter) Wait() {
	r.tracker.Wait()
}

func (r *TrackerReporter) elapsed() time.Duration {
	if r.started.IsZero() {
		return 0
	}
	return r.now().Sub(r.started)
}
