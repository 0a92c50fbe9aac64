package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_RetriesServerErrors(t *testing.T) {
	var attemptCount atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attemptCount.Add(1)
		if count < 2 {
			// Fail first attempt
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"attempt":%d}`, count)
	}))
	defer srv.Close()

	transport, err := NewHTTPTransport(5*time.Second, 2)
	require.NoError(t, err)

	resp, err := transport.Send(context.Background(), &OutboundRequest{
		Method: http.MethodGet,
		URL:    srv.URL + "/api/v1/items",
		Header: http.Header{"Accept": {"application/json"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"attempt":2}`, string(resp.Body))
	assert.Equal(t, int32(2), attemptCount.Load(), "expected 2 attempts (1 retry)")
}

func TestHTTPTransport_NoRetriesByDefault(t *testing.T) {
	var attemptCount atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount.Add(1)
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	transport, err := NewHTTPTransport(0, 0)
	require.NoError(t, err)

	resp, err := transport.Send(context.Background(), &OutboundRequest{
		Method: http.MethodGet,
		URL:    srv.URL,
		Header: http.Header{"Authorization": {"Bearer A1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, int32(1), attemptCount.Load())
}

func TestHTTPTransport_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	transport, err := NewHTTPTransport(time.Second, 0)
	require.NoError(t, err)

	_, err = transport.Send(context.Background(), &OutboundRequest{Method: http.MethodGet, URL: target})
	var tErr *TransportError
	require.ErrorAs(t, err, &tErr)
	assert.False(t, tErr.Offline)
}

func TestNewHTTPTransport_NegativeRetries(t *testing.T) {
	_, err := NewHTTPTransport(time.Second, -1)
	assert.Error(t, err)
}

func TestIsOffline(t *testing.T) {
	unreachable := &os.SyscallError{Syscall: "connect", Err: syscall.ENETUNREACH}
	assert.True(t, isOffline(fmt.Errorf("dial tcp: %w", unreachable)))
	assert.True(t, isOffline(syscall.ENETDOWN))
	assert.False(t, isOffline(syscall.ECONNREFUSED))
	assert.False(t, isOffline(errors.New("timeout")))
}
