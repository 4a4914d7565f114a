package upload

import "fmt"

// State is the phase of an upload session.
type State int32

const (
	// NotStarted ...
	NotStarted State = iota
	// Initiating means the session URI is being requested.
	Initiating
	// Uploading means chunks are being sent.
	Uploading
	// Probing means the server is asked for its committed offset after repeated failures.
	Probing
	// Completed ...
	Completed
	// Failed ...
	Failed
	// Cancelled ...
	Cancelled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Initiating:
		return "initiating"
	case Uploading:
		return "uploading"
	case Probing:
		return "probing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the session can no longer make requests.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}
