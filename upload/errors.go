package upload

import "errors"

var (
	// ErrInvalidChunkSize is returned for chunk sizes the server would reject.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
	// ErrSessionInUse is returned when an upload is started while another call runs the session.
	ErrSessionInUse = errors.New("upload session is already running")
	// ErrSessionTerminal is returned when a completed, failed or cancelled session is started again.
	ErrSessionTerminal = errors.New("upload session already finished")
	// ErrCancelled wraps the context error of a cancelled upload.
	ErrCancelled = errors.New("upload cancelled")
	// ErrRetriesExhausted is returned when neither retries nor a status probe made progress.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNoSessionURI is returned when resuming without a session URI.
	ErrNoSessionURI = errors.New("session URI must not be empty")
	// ErrNoStore is returned by ResumeFromStore on a session without a store.
	ErrNoStore = errors.New("session has no store")
)
