package apiclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/verigate/session-cli/apiclient"
	"github.com/verigate/session-cli/store"
)

const refreshPath = "/api/v1/users/refresh-token"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readRefreshToken(r *http.Request) string {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body["refresh_token"]
}

// recorder counts observer callbacks.
type recorder struct {
	apiclient.NopObserver

	mu         sync.Mutex
	started    int
	joined     int
	succeeded  int
	failed     int
	terminated int
	rejected   int
}

func (r *recorder) AccessTokenRejected(_, _ string) { r.mu.Lock(); r.rejected++; r.mu.Unlock() }
func (r *recorder) RefreshStarted()                 { r.mu.Lock(); r.started++; r.mu.Unlock() }
func (r *recorder) RefreshJoined()                  { r.mu.Lock(); r.joined++; r.mu.Unlock() }
func (r *recorder) RefreshSucceeded(_ int)          { r.mu.Lock(); r.succeeded++; r.mu.Unlock() }
func (r *recorder) RefreshFailed(_ error, _ int)    { r.mu.Lock(); r.failed++; r.mu.Unlock() }
func (r *recorder) SessionTerminated()              { r.mu.Lock(); r.terminated++; r.mu.Unlock() }

type session struct {
	client *apiclient.Client
	store  *store.Memory
	hooks  *atomic.Int32
	events *recorder
}

func newSession(t *testing.T, serverURL string, initial *apiclient.Credential, opts ...apiclient.Option) *session {
	t.Helper()

	s := &session{hooks: &atomic.Int32{}, events: &recorder{}}
	if initial != nil {
		s.store = store.NewMemory(*initial)
	} else {
		s.store = store.NewMemory()
	}

	opts = append([]apiclient.Option{
		apiclient.WithTerminator(func() { s.hooks.Add(1) }),
		apiclient.WithObserver(s.events),
	}, opts...)

	client, err := apiclient.New(serverURL, s.store, opts...)
	require.NoError(t, err)
	s.client = client
	return s
}

func (s *session) stored(t *testing.T) *apiclient.Credential {
	t.Helper()
	cred, err := s.store.Get(context.Background())
	require.NoError(t, err)
	return cred
}

func runBurst(n int, fn func() error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = fn()
		}(i)
	}
	wg.Wait()
	return errs
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const burst = 5

	var (
		exchanges     atomic.Int32
		refreshTokens sync.Map
		arrived       sync.WaitGroup
	)
	arrived.Add(burst)

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		refreshTokens.Store(readRefreshToken(r), true)
		time.Sleep(50 * time.Millisecond)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "A2",
			"refresh_token": "R2",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer A1":
			// hold every request until the whole burst has been sent with A1
			arrived.Done()
			arrived.Wait()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		case "Bearer A2":
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	errs := runBurst(burst, func() error {
		var out map[string]string
		if err := s.client.Get(context.Background(), "/api/v1/items", nil, &out); err != nil {
			return err
		}
		if out["status"] != "ok" {
			return errors.New("unexpected body")
		}
		return nil
	})
	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}

	assert.Equal(t, int32(1), exchanges.Load(), "exactly one refresh exchange")
	_, usedR1 := refreshTokens.Load("R1")
	assert.True(t, usedR1)

	cred := s.stored(t)
	require.NotNil(t, cred)
	assert.Equal(t, "A2", cred.AccessToken)
	assert.Equal(t, "R2", cred.RefreshToken)
	assert.Equal(t, int32(0), s.hooks.Load())
	assert.Equal(t, 1, s.events.started)
	assert.Equal(t, 1, s.events.succeeded)
	assert.Equal(t, burst, s.events.rejected)
}

func TestClient_ConcurrentRefreshFailureTerminatesOnce(t *testing.T) {
	const burst = 5

	var (
		exchanges atomic.Int32
		arrived   sync.WaitGroup
	)
	arrived.Add(burst)

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		time.Sleep(50 * time.Millisecond)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token revoked",
		})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer A1" {
			arrived.Done()
			arrived.Wait()
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	errs := runBurst(burst, func() error {
		return s.client.Get(context.Background(), "/api/v1/items", nil, nil)
	})
	for i, err := range errs {
		assert.ErrorIs(t, err, apiclient.ErrSessionExpired, "request %d", i)
	}

	assert.Equal(t, int32(1), exchanges.Load())
	assert.Equal(t, int32(1), s.hooks.Load(), "terminator fires once per burst")
	assert.Nil(t, s.stored(t))
	assert.Equal(t, 1, s.events.failed)
	assert.Equal(t, 1, s.events.terminated)
	assert.True(t, s.client.Terminator().Terminated())
}

func TestClient_RefreshFailureCarriesServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "refresh token expired",
		})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	err := s.client.Get(context.Background(), "/api/v1/items", nil, nil)
	require.ErrorIs(t, err, apiclient.ErrSessionExpired)

	var retrieveErr *oauth2.RetrieveError
	require.ErrorAs(t, err, &retrieveErr)
	assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)
	assert.Equal(t, http.StatusBadRequest, retrieveErr.Response.StatusCode)
}

func TestClient_LoginUnauthorizedIsInvalidCredentials(t *testing.T) {
	var exchanges atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc(apiclient.DefaultLoginPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "wrong_password"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	_, err := s.client.Login(context.Background(), "user@example.com", "nope")
	require.ErrorIs(t, err, apiclient.ErrInvalidCredentials)

	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "wrong_password", apiErr.ServerCode)

	assert.Equal(t, int32(0), exchanges.Load())
	assert.Equal(t, int32(0), s.hooks.Load())
	assert.NotNil(t, s.stored(t), "failed login keeps the existing credential")
}

func TestClient_RetriedRequestRejectedAgain(t *testing.T) {
	var exchanges atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "A2", "refresh_token": "R2"})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	err := s.client.Get(context.Background(), "/api/v1/items", nil, nil)
	require.ErrorIs(t, err, apiclient.ErrSessionExpired)

	assert.Equal(t, int32(1), exchanges.Load(), "no second refresh for the retried request")
	assert.Equal(t, int32(1), s.hooks.Load())
	assert.Nil(t, s.stored(t))
	assert.Equal(t, 2, s.events.rejected)
}

func TestClient_NoCredentialRequiresAuthentication(t *testing.T) {
	var exchanges atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, nil)

	err := s.client.Get(context.Background(), "/api/v1/items", nil, nil)
	require.ErrorIs(t, err, apiclient.ErrAuthenticationRequired)
	assert.Equal(t, http.StatusUnauthorized, err.(*apiclient.Error).Status)
	assert.Equal(t, int32(0), exchanges.Load())
	assert.Equal(t, int32(1), s.hooks.Load())
}

func TestClient_StatusClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/status/"))
		if err != nil {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{
			"error":             "server_reason",
			"error_description": "teapot is busy",
		})
	}))
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	tests := []struct {
		status  int
		want    apiclient.Code
		message string
	}{
		{http.StatusBadRequest, apiclient.CodeBadRequest, apiclient.CodeBadRequest.Message()},
		{http.StatusForbidden, apiclient.CodeForbidden, apiclient.CodeForbidden.Message()},
		{http.StatusNotFound, apiclient.CodeNotFound, apiclient.CodeNotFound.Message()},
		{http.StatusConflict, apiclient.CodeConflict, apiclient.CodeConflict.Message()},
		{http.StatusTooManyRequests, apiclient.CodeRateLimit, apiclient.CodeRateLimit.Message()},
		{http.StatusInternalServerError, apiclient.CodeServerError, apiclient.CodeServerError.Message()},
		{http.StatusServiceUnavailable, apiclient.CodeServerError, apiclient.CodeServerError.Message()},
		{http.StatusTeapot, apiclient.CodeUnknown, "teapot is busy"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			err := s.client.Get(context.Background(), "/status/"+strconv.Itoa(tt.status), nil, nil)
			require.Error(t, err)

			var apiErr *apiclient.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.want, apiErr.Code)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "server_reason", apiErr.ServerCode)
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}

	assert.Equal(t, int32(0), s.hooks.Load())
	assert.NotNil(t, s.stored(t), "non-401 failures leave the session alone")
}

type failingTransport struct {
	err   error
	calls atomic.Int32
}

func (f *failingTransport) Send(context.Context, *apiclient.OutboundRequest) (*apiclient.Response, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestClient_TransportFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"offline", &apiclient.TransportError{Offline: true, Err: errors.New("network is unreachable")}, apiclient.ErrNetworkOffline},
		{"unreachable server", &apiclient.TransportError{Err: errors.New("connection refused")}, apiclient.ErrNetworkError},
		{"plain error", errors.New("boom"), apiclient.ErrNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &failingTransport{err: tt.err}
			s := newSession(t, "https://api.example.com",
				&apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"},
				apiclient.WithTransport(transport))

			err := s.client.Get(context.Background(), "/api/v1/items", nil, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, int32(1), transport.calls.Load())
			assert.Equal(t, int32(0), s.hooks.Load())
		})
	}
}

func TestClient_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := newSession(t, url, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})
	err := s.client.Get(context.Background(), "/api/v1/items", nil, nil)

	assert.ErrorIs(t, err, apiclient.ErrNetworkError)
	var tErr *apiclient.TransportError
	assert.ErrorAs(t, err, &tErr)
	assert.NotNil(t, s.stored(t))
}

func TestClient_RequestIDStableAcrossRetry(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "R1", readRefreshToken(r))
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "A2", "refresh_token": "R2"})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(apiclient.RequestIDHeader))
		mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		writeJSON(w, http.StatusCreated, map[string]string{"id": "42"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	var out map[string]string
	require.NoError(t, s.client.Post(context.Background(), "/api/v1/items", map[string]string{"name": "x"}, &out))
	assert.Equal(t, "42", out["id"])

	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
	_, err := uuid.Parse(ids[0])
	assert.NoError(t, err)
}

func TestClient_RefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "A2",
			"expires_at":   "2030-01-02T03:04:05Z",
		})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})
	require.NoError(t, s.client.Delete(context.Background(), "/api/v1/items", nil))

	cred := s.stored(t)
	require.NotNil(t, cred)
	assert.Equal(t, "A2", cred.AccessToken)
	assert.Equal(t, "R1", cred.RefreshToken)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), cred.ExpiresAt.UTC())
}

func TestClient_LoginStoresCredentialAndRearms(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc(apiclient.DefaultLoginPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "user@example.com" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "A1",
			"refresh_token": "R1",
			"token_type":    "Bearer",
			"expires_in":    900,
			"user":          map[string]string{"email": "user@example.com"},
		})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, nil, apiclient.WithClock(func() time.Time { return now }))

	// with nothing stored the first request ends the session
	require.ErrorIs(t, s.client.Get(context.Background(), "/api/v1/items", nil, nil), apiclient.ErrAuthenticationRequired)
	require.True(t, s.client.Terminator().Terminated())

	result, err := s.client.Login(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"user@example.com"}`, string(result.User))
	assert.Equal(t, now.Add(900*time.Second), result.Credential.ExpiresAt)
	assert.False(t, s.client.Terminator().Terminated())

	cred := s.stored(t)
	require.NotNil(t, cred)
	assert.Equal(t, "A1", cred.AccessToken)
	assert.Equal(t, "R1", cred.RefreshToken)

	require.NoError(t, s.client.Terminator().Terminate(context.Background()))
	assert.Equal(t, int32(2), s.hooks.Load(), "a new login re-arms the terminator")
}

func TestClient_LogoutRefreshesExpiredToken(t *testing.T) {
	var (
		exchanges atomic.Int32
		rejected  atomic.Int32
		loggedOut atomic.Int32
	)

	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		if readRefreshToken(r) != "R1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "A2",
			"refresh_token": "R2",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc(apiclient.DefaultLogoutPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			rejected.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		loggedOut.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	require.NoError(t, s.client.Logout(context.Background()))
	assert.Equal(t, int32(1), exchanges.Load())
	assert.Equal(t, int32(1), rejected.Load())
	assert.Equal(t, int32(1), loggedOut.Load(), "server revokes the refreshed session")
	assert.Nil(t, s.stored(t))
	assert.Equal(t, int32(0), s.hooks.Load())
}

func TestClient_LogoutClearsWhenServerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newSession(t, srv.URL, &apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"})

	require.NoError(t, s.client.Logout(context.Background()))
	assert.Nil(t, s.stored(t))
	assert.Equal(t, int32(0), s.hooks.Load())
}

func TestClient_LogoutWithoutCredentialSendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := newSession(t, srv.URL, nil)

	require.NoError(t, s.client.Logout(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int32(0), s.hooks.Load())
}

func TestClient_TokenSource(t *testing.T) {
	s := newSession(t, "https://api.example.com", nil)

	_, err := s.client.Token()
	require.ErrorIs(t, err, apiclient.ErrAuthenticationRequired)

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.client.SetCredential(context.Background(),
		apiclient.Credential{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: expiry}))

	var src oauth2.TokenSource = s.client
	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "A1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.True(t, tok.Valid())
	assert.Equal(t, expiry, tok.Expiry)
}

func TestClient_SetCredentialRejectsPartial(t *testing.T) {
	s := newSession(t, "https://api.example.com", nil)
	err := s.client.SetCredential(context.Background(), apiclient.Credential{AccessToken: "A1"})
	assert.ErrorIs(t, err, apiclient.ErrPartialCredential)
}

func TestClient_Metrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "A2", "refresh_token": "R2"})
	})
	mux.HandleFunc("/api/v1/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	reg := prometheus.NewRegistry()
	s := newSession(t, srv.URL,
		&apiclient.Credential{AccessToken: "A1", RefreshToken: "R1"},
		apiclient.WithMetrics(apiclient.NewMetrics(reg)))

	require.NoError(t, s.client.Get(context.Background(), "/api/v1/items", nil, nil))
	require.ErrorIs(t, s.client.Get(context.Background(), "/api/v1/missing", nil, nil), apiclient.ErrNotFound)

	expected := `
# HELP verigate_refresh_exchanges_total Refresh-token exchanges issued, by result.
# TYPE verigate_refresh_exchanges_total counter
verigate_refresh_exchanges_total{result="success"} 1
# HELP verigate_requests_total Completed logical requests, by classification code.
# TYPE verigate_requests_total counter
verigate_requests_total{code="not_found"} 1
verigate_requests_total{code="ok"} 1
# HELP verigate_unauthorized_responses_total Responses rejected with 401 outside of login.
# TYPE verigate_unauthorized_responses_total counter
verigate_unauthorized_responses_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"verigate_refresh_exchanges_total",
		"verigate_requests_total",
		"verigate_unauthorized_responses_total",
	)
	assert.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		store   apiclient.CredentialStore
		wantErr string
	}{
		{"valid", "https://api.example.com", store.NewMemory(), ""},
		{"nil store", "https://api.example.com", nil, "credential store is required"},
		{"bad scheme", "ftp://api.example.com", store.NewMemory(), "URL scheme must be http or https"},
		{"no host", "https://", store.NewMemory(), "URL must include a host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := apiclient.New(tt.baseURL, tt.store)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClient_RejectsAbsolutePath(t *testing.T) {
	transport := &failingTransport{err: errors.New("unused")}
	s := newSession(t, "https://api.example.com", nil, apiclient.WithTransport(transport))

	err := s.client.Get(context.Background(), "https://evil.example.com/steal", nil, nil)
	assert.ErrorIs(t, err, apiclient.ErrUnknown)
	assert.Equal(t, int32(0), transport.calls.Load())
}
