package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProtocol is returned when the server answers in a way the resumable protocol does not allow.
	ErrProtocol = errors.New("resumable upload protocol violation")
	// ErrNoSessionURI is returned when the initiation response has no Location header.
	ErrNoSessionURI = errors.New("initiation response has no session URI")
	// ErrEmptyBody is returned when decoding a response without a body.
	ErrEmptyBody = errors.New("response has no body")
)

// ErrorDetail is a single entry of a Google style error payload.
type ErrorDetail struct {
	Domain       string `json:"domain"`
	Reason       string `json:"reason"`
	Message      string `json:"message"`
	LocationType string `json:"locationType"`
	Location     string `json:"location"`
}

func (d ErrorDetail) String() string {
	return fmt.Sprintf("Message[%s] Location[%s - %s] Reason[%s] Domain[%s]",
		d.Message, d.Location, d.LocationType, d.Reason, d.Domain)
}

// APIError is an unsuccessful HTTP response.
// Code, Message and Errors are filled when the body is a Google style error payload.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Errors     []ErrorDetail
	Body       string
}

type errorPayload struct {
	Error *struct {
		Errors  []ErrorDetail `json:"errors"`
		Code    int           `json:"code"`
		Message string        `json:"message"`
	} `json:"error"`
}

func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Body:       string(body),
	}

	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
		apiErr.Errors = payload.Error.Errors
	}

	return apiErr
}

func (e *APIError) Error() string {
	if e.Message == "" && len(e.Errors) == 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d: %s", e.StatusCode, e.Message)
	if e.Code != 0 {
		fmt.Fprintf(&b, " [%d]", e.Code)
	}
	if len(e.Errors) > 0 {
		b.WriteString("\nErrors [")
		for _, detail := range e.Errors {
			b.WriteString("\n\t")
			b.WriteString(detail.String())
		}
		b.WriteString("\n]")
	}
	return b.String()
}
