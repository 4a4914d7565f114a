package progress

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// LogReporter writes human readable progress lines.
type LogReporter struct {
	logger  log.Logger
	name    string
	started time.Time
	now     func() time.Time
}

// NewLogReporter creates a LogReporter. name identifies the upload in the log lines.
func NewLogReporter(logger log.Logger, name string) *LogReporter {
	return &LogReporter{logger: logger, name: name, now: time.Now}
}

// Report ...
func (r *LogReporter) Report(p Progress) {
	switch p.Status {
	case Starting:
		r.started = r.now()
		if p.TotalKnown {
			r.logger.Infof("Uploading %s (%s)", r.name, units.HumanSizeWithPrecision(float64(p.TotalBytes), 3))
		} else {
			r.logger.Infof("Uploading %s (size unknown)", r.name)
		}
	case Uploading:
		if percent, ok := p.Percent(); ok {
			r.logger.Printf("Uploaded %s of %s (%.1f%%)", units.BytesSize(float64(p.BytesSent)), units.BytesSize(float64(p.TotalBytes)), percent)
		} else {
			r.logger.Printf("Uploaded %s", units.BytesSize(float64(p.BytesSent)))
		}
	case Completed:
		r.logger.Donef("Uploaded %s (%s) in %s", r.name, units.HumanSizeWithPrecision(float64(p.BytesSent), 3), r.elapsed())
	case Failed:
		r.logger.Errorf("Upload of %s failed after %s: %s", r.name, units.BytesSize(float64(p.BytesSent)), p.Err)
	case Cancelled:
		r.logger.Warnf("Upload of %s cancelled after %s", r.name, units.BytesSize(float64(p.BytesSent)))
	}
}

func (r *LogReporter) elapsed() time.Duration {
	if r.started.IsZero() {
		return 0
	}
	return r.now().Sub(r.started).Round(time.Millisecond)
}
