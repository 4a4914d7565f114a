package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Fault replaces the normal handling of one chunk request.
type Fault struct {
	// Status is written instead of the normal answer.
	Status int
	// Store is the number of bytes of the chunk kept before failing.
	Store int
	// Drop closes the connection without an answer.
	Drop bool
	// Header is added to the fault response.
	Header map[string]string
}

// RecordedRequest is a request the server received.
type RecordedRequest struct {
	Method       string
	Path         string
	Query        string
	ContentRange string
	BodyLength   int
	Status       int
}

// Upload is the server side state of an upload session.
type Upload struct {
	ID          string
	ContentType string
	Metadata    json.RawMessage
	Total       int64
	TotalKnown  bool
	Data        []byte
	Completed   bool
}

// UploadResponse is the body returned when an upload completes.
type UploadResponse struct {
	ID          string          `json:"id"`
	Size        int64           `json:"size"`
	ContentType string          `json:"contentType,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// ResumableServer is an in-memory server of the resumable upload protocol.
// Protocol violations by the client are collected in Err.
type ResumableServer struct {
	*httptest.Server

	// Token, when set, is required as a bearer token.
	Token string
	// AcceptLimit caps the bytes kept from a single chunk request, 0 means no cap.
	AcceptLimit int

	uploads     map[string]*Upload
	chunkFaults []Fault
	probeFaults []Fault
	requests    []RecordedRequest
	nextID      int
	violations  ErrorCollector
	mu          sync.Mutex
}

// NewResumableServer starts a server. Sessions are initiated at /upload.
func NewResumableServer() *ResumableServer {
	s := &ResumableServer{uploads: map[string]*Upload{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint returns the initiation URL.
func (s *ResumableServer) Endpoint() string {
	return s.URL + "/upload"
}

// FailChunks queues faults for the next chunk requests.
func (s *ResumableServer) FailChunks(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkFaults = append(s.chunkFaults, faults...)
}

// FailProbes queues faults for the next status probes.
func (s *ResumableServer) FailProbes(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probeFaults = append(s.probeFaults, faults...)
}

// Requests returns every request received so far.
func (s *ResumableServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	requests := make([]RecordedRequest, len(s.requests))
	copy(requests, s.requests)
	return requests
}

// Upload returns a copy of the upload with the given session id.
func (s *ResumableServer) Upload(id string) (Upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return Upload{}, false
	}
	cp := *u
	cp.Data = append([]byte(nil), u.Data...)
	return cp, true
}

// Err returns the protocol violations seen so far.
func (s *ResumableServer) Err() error {
	return s.violations.Err()
}

func (s *ResumableServer) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.violations.Add(fmt.Errorf("read request body: %w", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := RecordedRequest{
		Method:       r.Method,
		Path:         r.URL.Path,
		Query:        r.URL.RawQuery,
		ContentRange: r.Header.Get("Content-Range"),
		BodyLength:   len(body),
	}
	status := s.serve(w, r, body)
	rec.Status = status
	s.requests = append(s.requests, rec)
}

func (s *ResumableServer) serve(w http.ResponseWriter, r *http.Request, body []byte) int {
	if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
		return writeError(w, http.StatusUnauthorized, "Login Required", "required", "Authorization", "header")
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload":
		return s.initiate(w, r, body)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/session/"):
		return s.put(w, r, strings.TrimPrefix(r.URL.Path, "/session/"), body)
	default:
		return writeError(w, http.StatusNotFound, "Not Found", "notFound", "", "")
	}
}

func (s *ResumableServer) initiate(w http.ResponseWriter, r *http.Request, body []byte) int {
	if r.URL.Query().Get("uploadType") != "resumable" {
		s.violations.Add(fmt.Errorf("initiation without uploadType=resumable: %s", r.URL.RawQuery))
		return writeError(w, http.StatusBadRequest, "Invalid upload type", "invalid", "uploadType", "parameter")
	}

	s.nextID++
	u := &Upload{
		ID:          strconv.Itoa(s.nextID),
		ContentType: r.Header.Get("X-Upload-Content-Type"),
	}
	if len(body) > 0 {
		if !json.Valid(body) {
			return writeError(w, http.StatusBadRequest, "Invalid metadata", "parseError", "", "")
		}
		u.Metadata = json.RawMessage(body)
	}
	if length := r.Header.Get("X-Upload-Content-Length"); length != "" {
		total, err := strconv.ParseInt(length, 10, 64)
		if err != nil {
			return writeError(w, http.StatusBadRequest, "Invalid content length", "invalid", "X-Upload-Content-Length", "header")
		}
		u.Total, u.TotalKnown = total, true
	}
	s.uploads[u.ID] = u

	w.Header().Set("Location", "/session/"+u.ID)
	w.WriteHeader(http.StatusOK)
	return http.StatusOK
}

func (s *ResumableServer) put(w http.ResponseWriter, r *http.Request, id string, body []byte) int {
	u, ok := s.uploads[id]
	if !ok {
		return writeError(w, http.StatusNotFound, "Upload session not found", "notFound", "", "")
	}

	cr, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		s.violations.Add(err)
		return writeError(w, http.StatusBadRequest, err.Error(), "invalid", "Content-Range", "header")
	}

	if cr.totalKnown {
		if u.TotalKnown && u.Total != cr.total {
			s.violations.Add(fmt.Errorf("total changed from %d to %d", u.Total, cr.total))
		}
		u.Total, u.TotalKnown = cr.total, true
	}

	if u.Completed {
		return s.complete(w, u)
	}

	if !cr.hasRange {
		if len(body) != 0 {
			s.violations.Add(fmt.Errorf("status request with a body of %d bytes", len(body)))
		}
		if len(s.probeFaults) > 0 {
			f := s.probeFaults[0]
			s.probeFaults = s.probeFaults[1:]
			return writeFault(w, f)
		}
		return s.status(w, u)
	}

	if want := int(cr.last - cr.first + 1); want != len(body) {
		s.violations.Add(fmt.Errorf("content range %d-%d with a body of %d bytes", cr.first, cr.last, len(body)))
	}

	if cr.first > int64(len(u.Data)) {
		s.violations.Add(fmt.Errorf("chunk at %d leaves a gap after %d committed bytes", cr.first, len(u.Data)))
		return s.status(w, u)
	}

	accept := body
	if s.AcceptLimit > 0 && len(accept) > s.AcceptLimit {
		accept = accept[:s.AcceptLimit]
	}

	var fault *Fault
	if len(s.chunkFaults) > 0 {
		f := s.chunkFaults[0]
		s.chunkFaults = s.chunkFaults[1:]
		fault = &f
		if f.Store < len(accept) {
			accept = accept[:f.Store]
		}
	}

	s.store(u, cr.first, accept)

	if fault != nil {
		return writeFault(w, *fault)
	}
	return s.status(w, u)
}

func (s *ResumableServer) store(u *Upload, first int64, data []byte) {
	committed := int64(len(u.Data))
	end := first + int64(len(data))
	if end <= committed {
		s.checkOverlap(u, first, data)
		return
	}

	s.checkOverlap(u, first, data[:committed-first])
	u.Data = append(u.Data, data[committed-first:]...)
}

func (s *ResumableServer) checkOverlap(u *Upload, first int64, data []byte) {
	for i, b := range data {
		if u.Data[first+int64(i)] != b {
			s.violations.Add(fmt.Errorf("resent byte at offset %d differs", first+int64(i)))
			return
		}
	}
}

func (s *ResumableServer) status(w http.ResponseWriter, u *Upload) int {
	if u.TotalKnown && int64(len(u.Data)) == u.Total {
		u.Completed = true
		return s.complete(w, u)
	}

	if len(u.Data) > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(u.Data)-1))
	}
	w.WriteHeader(308)
	return 308
}

func (s *ResumableServer) complete(w http.ResponseWriter, u *Upload) int {
	resp, err := json.Marshal(UploadResponse{
		ID:          u.ID,
		Size:        int64(len(u.Data)),
		ContentType: u.ContentType,
		Metadata:    u.Metadata,
	})
	if err != nil {
		s.violations.Add(err)
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
	return http.StatusOK
}

func writeFault(w http.ResponseWriter, f Fault) int {
	if f.Drop {
		if hijacker, ok := w.(http.Hijacker); ok {
			if conn, _, err := hijacker.Hijack(); err == nil {
				_ = conn.Close()
				return 0
			}
		}
	}

	for k, v := range f.Header {
		w.Header().Set(k, v)
	}
	if f.Status >= 400 {
		return writeError(w, f.Status, http.StatusText(f.Status), "backendError", "", "")
	}
	w.WriteHeader(f.Status)
	return f.Status
}

func writeError(w http.ResponseWriter, status int, message, reason, location, locationType string) int {
	payload := map[string]interface{}{
		"error": map[string]interface{}{
			"errors": []map[string]string{{
				"domain":       "global",
				"reason":       reason,
				"message":      message,
				"location":     location,
				"locationType": locationType,
			}},
			"code":    status,
			"message": message,
		},
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
	return status
}

type contentRange struct {
	hasRange    bool
	first, last int64
	total       int64
	totalKnown  bool
}

func parseContentRange(header string) (contentRange, error) {
	if !strings.HasPrefix(header, "bytes ") {
		return contentRange{}, fmt.Errorf("invalid Content-Range %q", header)
	}

	parts := strings.SplitN(strings.TrimPrefix(header, "bytes "), "/", 2)
	if len(parts) != 2 {
		return contentRange{}, fmt.Errorf("invalid Content-Range %q", header)
	}

	var cr contentRange
	if parts[1] != "*" {
		total, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return contentRange{}, fmt.Errorf("invalid total in Content-Range %q", header)
		}
		cr.total, cr.totalKnown = total, true
	}

	if parts[0] == "*" {
		return cr, nil
	}

	bounds := strings.SplitN(parts[0], "-", 2)
	if len(bounds) != 2 {
		return contentRange{}, fmt.Errorf("invalid range in Content-Range %q", header)
	}
	first, err := strconv.ParseInt(bounds[0], 10, 64)
	if err != nil {
		return contentRange{}, fmt.Errorf("invalid range in Content-Range %q", header)
	}
	last, err := strconv.ParseInt(bounds[1], 10, 64)
	if err != nil || last < first {
		return contentRange{}, fmt.Errorf("invalid range in Content-Range %q", header)
	}
	cr.hasRange, cr.first, cr.last = true, first, last
	return cr, nil
}
