// Package progress reports the lifecycle of an upload session.
//
// A session reports Starting once, then Uploading after every chunk the server
// acknowledged, then exactly one of Completed, Failed or Cancelled.
package progress

import "fmt"

// Status is the phase of an upload.
type Status int

const (
	// Starting is reported before the first request.
	Starting Status = iota
	// Uploading is reported after a chunk was acknowledged.
	Uploading
	// Completed is reported once the server assembled the upload.
	Completed
	// Failed is reported with the error that stopped the upload.
	Failed
	// Cancelled is reported when the caller's context ended the upload.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Uploading:
		return "uploading"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further progress follows s.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Progress is a snapshot of an upload.
type Progress struct {
	Status Status
	// BytesSent is the offset the server acknowledged.
	BytesSent int64
	// TotalBytes is only meaningful when TotalKnown is set.
	TotalBytes int64
	TotalKnown bool
	// Chunks is the number of chunk requests the server acknowledged.
	Chunks int64
	// Err is set for Failed only.
	Err error
}

// Percent returns the acknowledged share of the upload, if the total is known.
func (p Progress) Percent() (float64, bool) {
	if !p.TotalKnown {
		return 0, false
	}
	if p.TotalBytes == 0 {
		return 100, true
	}
	return float64(p.BytesSent) / float64(p.TotalBytes) * 100, true
}

// Reporter receives progress. Report is called from the session's goroutine
// and should not block for long.
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(p Progress)

// Report ...
func (f ReporterFunc) Report(p Progress) {
	f(p)
}

// Multi fans progress out to several reporters, in order.
type Multi []Reporter

// Report ...
func (m Multi) Report(p Progress) {
	for _, r := range m {
		if r != nil {
			r.Report(p)
		}
	}
}

// Nop discards progress.
var Nop Reporter = ReporterFunc(func(Progress) {})
