package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"time"

	retry "github.com/appleboy/go-httpretry"
)

// DefaultRequestTimeout bounds a single HTTP exchange.
const DefaultRequestTimeout = 30 * time.Second

// OutboundRequest is what the executor hands to a Transport.
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport sends one HTTP request. Failures that produced no response are
// reported as *TransportError.
type Transport interface {
	Send(ctx context.Context, req *OutboundRequest) (*Response, error)
}

// TransportError is a failure without an HTTP response.
type TransportError struct {
	// Offline is set when the local network is known to be down.
	Offline bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Offline {
		return fmt.Sprintf("network offline: %v", e.Err)
	}
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPTransport sends requests through a go-httpretry client.
type HTTPTransport struct {
	client *retry.Client
}

// NewHTTPTransport builds the default transport. maxRetries is the number of
// transport-level retries; zero sends every request exactly once.
func NewHTTPTransport(timeout time.Duration, maxRetries int) (*HTTPTransport, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative, got: %d", maxRetries)
	}

	baseHTTPClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	client, err := retry.NewClient(
		retry.WithHTTPClient(baseHTTPClient),
		retry.WithMaxRetries(maxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return &HTTPTransport{client: client}, nil
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, out *OutboundRequest) (*Response, error) {
	var body io.Reader
	if out.Body != nil {
		body = bytes.NewReader(out.Body)
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range out.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := t.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, &TransportError{Offline: isOffline(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// isOffline reports whether err means the host has no usable network,
// as opposed to the server being unreachable or slow.
func isOffline(err error) bool {
	return errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ENETDOWN)
}
