// Package transport is the single request/response capability the sync
// adapters use to talk to remote backends.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds one request when the caller sets none.
const DefaultTimeout = 30 * time.Second

// maxBodySize caps how much of a response body is buffered.
const maxBodySize = 64 << 20

// Request describes one HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Basic auth, used when Username is set.
	Username string
	Password string

	// Timeout overrides the requester default.
	Timeout time.Duration
}

// Response is a fully buffered reply.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Requester performs a request. Non-2xx statuses are not errors; only
// failures to get any response are.
type Requester interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPRequester implements Requester with net/http.
type HTTPRequester struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewHTTPRequester creates a requester. A nil client uses a dedicated one.
func NewHTTPRequester(client *http.Client, timeout time.Duration, userAgent string) *HTTPRequester {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPRequester{client: client, timeout: timeout, userAgent: userAgent}
}

// Do sends req and buffers the response body.
func (h *HTTPRequester) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := h.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if h.userAgent != "" {
		httpReq.Header.Set("User-Agent", h.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Username != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    data,
	}, nil
}
