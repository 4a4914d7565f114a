// Package transport speaks the resumable upload protocol over HTTP.
// Every response is classified into an Outcome; the client itself never retries.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bitrise-io/go-resumable/codec"
	"github.com/bitrise-io/go-resumable/source"
)

// StatusResumeIncomplete is the status code of a partially received upload.
const StatusResumeIncomplete = 308

// Options configures a Client.
type Options struct {
	// Authorizer is applied to the initiation, chunk and probe requests. Optional.
	Authorizer Authorizer

	// HTTPClient is the underlying client.
	// If nil, DefaultHTTPClient is used.
	HTTPClient *http.Client

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options without authorization.
func DefaultOptions() Options {
	return Options{
		UserAgent: "go-resumable",
	}
}

// DefaultHTTPClient creates an HTTP client for chunk uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout, requests are bounded by their context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// Client sends initiation, chunk and probe requests. Safe for concurrent use
// by independent upload sessions.
type Client struct {
	httpClient *retryablehttp.Client
	authorizer Authorizer
	userAgent  string
	logger     log.Logger
	now        func() time.Time
}

// New creates a Client. Retries are owned by the upload session, so the
// retryable client is configured to pass every response through untouched.
func New(opts Options, logger log.Logger) *Client {
	httpClient := retryhttp.NewClient(logger)
	httpClient.RetryMax = 0
	httpClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, nil
	}
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.HTTPClient = opts.HTTPClient
	if httpClient.HTTPClient == nil {
		httpClient.HTTPClient = DefaultHTTPClient()
	}

	return &Client{
		httpClient: httpClient,
		authorizer: opts.Authorizer,
		userAgent:  opts.UserAgent,
		logger:     logger,
		now:        time.Now,
	}
}

// InitiateRequest describes the request opening an upload session.
type InitiateRequest struct {
	// Endpoint is the upload URL of the resource, without uploadType.
	Endpoint string
	// Method defaults to POST.
	Method string
	// Query holds extra query parameters.
	Query url.Values
	// ContentType of the uploaded media, sent as X-Upload-Content-Type.
	ContentType string
	// TotalLength is sent as X-Upload-Content-Length when TotalKnown is set.
	TotalLength int64
	TotalKnown  bool
	// Metadata is encoded with Codec as the request body when not nil.
	Metadata interface{}
	// Codec defaults to codec.JSON.
	Codec codec.Codec
	// Header holds extra request headers.
	Header http.Header
}

// Initiate opens an upload session and returns its URI.
// It is never retried.
func (c *Client) Initiate(ctx context.Context, r InitiateRequest) (string, error) {
	endpoint, err := url.Parse(r.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	query := endpoint.Query()
	for key, values := range r.Query {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	query.Set("uploadType", "resumable")
	endpoint.RawQuery = query.Encode()

	method := r.Method
	if method == "" {
		method = http.MethodPost
	}

	enc := r.Codec
	if enc == nil {
		enc = codec.JSON
	}

	var body interface{}
	if r.Metadata != nil {
		data, err := enc.Encode(r.Metadata)
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		body = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", enc.ContentType())
	}
	if r.ContentType != "" {
		req.Header.Set("X-Upload-Content-Type", r.ContentType)
	}
	if r.TotalKnown {
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(r.TotalLength, 10))
	}
	if err := c.prepare(req); err != nil {
		return "", err
	}

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Initiate request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read initiate response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", newAPIError(resp.StatusCode, respBody)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrNoSessionURI
	}

	sessionURI, err := endpoint.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid session URI %q: %s", ErrProtocol, location, err)
	}

	c.logger.Debugf("Upload session created: %s", sessionURI)

	return sessionURI.String(), nil
}

// SendChunk uploads one chunk to the session URI.
func (c *Client) SendChunk(ctx context.Context, sessionURI string, chunk source.Chunk, total int64, totalKnown bool) Outcome {
	contentRange := contentRange(chunk, total, totalKnown)
	c.logger.Debugf("Sending %s to %s", contentRange, sessionURI)

	var body interface{}
	if chunk.Len() > 0 {
		body = chunk.Data
	}

	resp, outcome := c.put(ctx, sessionURI, contentRange, body)
	if outcome != nil {
		return outcome
	}

	if resp.StatusCode == StatusResumeIncomplete {
		committed, err := parseRangeHeader(resp.Header.Get("Range"))
		if err != nil {
			return FatalFailure{Err: err}
		}

		switch {
		case committed > chunk.End():
			return FatalFailure{Err: fmt.Errorf("%w: server committed %d bytes but only %d were sent", ErrProtocol, committed, chunk.End())}
		case committed == chunk.End():
			return Committed{NextOffset: committed}
		default:
			return Incomplete{ServerOffset: committed}
		}
	}

	return c.interpret(resp)
}

// Probe asks the server how many bytes of the upload it committed.
func (c *Client) Probe(ctx context.Context, sessionURI string, total int64, totalKnown bool) Outcome {
	contentRange := probeRange(total, totalKnown)
	c.logger.Debugf("Probing upload status of %s (%s)", sessionURI, contentRange)

	resp, outcome := c.put(ctx, sessionURI, contentRange, nil)
	if outcome != nil {
		return outcome
	}

	if resp.StatusCode == StatusResumeIncomplete {
		committed, err := parseRangeHeader(resp.Header.Get("Range"))
		if err != nil {
			return FatalFailure{Err: err}
		}
		if totalKnown && committed > total {
			return FatalFailure{Err: fmt.Errorf("%w: server committed %d bytes of %d", ErrProtocol, committed, total)}
		}
		return Incomplete{ServerOffset: committed}
	}

	return c.interpret(resp)
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// put performs the request. It returns a non nil Outcome when no response could be classified.
func (c *Client) put(ctx context.Context, sessionURI, contentRange string, body interface{}) (*response, Outcome) {
	if err := ctx.Err(); err != nil {
		return nil, Cancelled{Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, sessionURI, body)
	if err != nil {
		return nil, FatalFailure{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Range", contentRange)
	if err := c.prepare(req); err != nil {
		return nil, FatalFailure{Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Cancelled{Err: ctxErr}
		}
		return nil, RetryableFailure{Err: fmt.Errorf("do request: %w", err)}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Cancelled{Err: ctxErr}
		}
		return nil, RetryableFailure{Err: fmt.Errorf("read response: %w", err)}
	}

	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (c *Client) interpret(resp *response) Outcome {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return Completed{Response: &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
		}}
	case IsRetryableStatus(resp.StatusCode):
		return RetryableFailure{
			Err:        newAPIError(resp.StatusCode, resp.Body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	default:
		return FatalFailure{Err: newAPIError(resp.StatusCode, resp.Body)}
	}
}

func (c *Client) prepare(req *retryablehttp.Request) error {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.authorizer != nil {
		if err := c.authorizer.Authorize(req.Request); err != nil {
			return fmt.Errorf("authorize request: %w", err)
		}
	}
	return nil
}

// IsRetryableStatus reports whether a response status is a transient server condition.
// Every 4xx status is final.
func IsRetryableStatus(statusCode int) bool {
	return statusCode >= http.StatusInternalServerError
}

// IsCancellation reports whether err was caused by a context ending.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
