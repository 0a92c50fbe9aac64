package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultRefreshTimeout bounds one refresh-token exchange.
const DefaultRefreshTimeout = 10 * time.Second

// refreshCall is the single in-flight refresh. Its result fields are written
// before done is closed and only read after.
type refreshCall struct {
	done    chan struct{}
	cred    Credential
	err     error
	waiters int
}

type exchangeFunc func(ctx context.Context, refreshToken string) (Credential, error)

// coordinator serializes refresh-token exchanges. It is Idle while inflight
// is nil and Refreshing otherwise. All credential writes go through it so
// that a store update and the release of waiting callers happen under the
// same lock.
type coordinator struct {
	mu       sync.Mutex
	inflight *refreshCall
	// failed is the access token whose refresh last failed. Until the next
	// install, late callers holding it, or any older token once the store is
	// empty, get session_expired without a new exchange.
	failed string

	store    CredentialStore
	exchange exchangeFunc
	term     *Terminator
	observer Observer
	log      zerolog.Logger
	timeout  time.Duration
}

// refresh returns a credential that replaces rejected, the access token a
// request was refused with. At most one exchange runs at a time; callers
// arriving while it runs share its outcome.
func (c *coordinator) refresh(ctx context.Context, rejected string) (Credential, error) {
	c.mu.Lock()

	if call := c.inflight; call != nil {
		call.waiters++
		c.mu.Unlock()
		c.observer.RefreshJoined()
		c.log.Debug().Msg("joining in-flight token refresh")
		return c.wait(ctx, call)
	}

	bg := context.WithoutCancel(ctx)
	current, err := c.store.Get(bg)
	if err != nil {
		c.mu.Unlock()
		return Credential{}, newError(CodeUnknown, 0, fmt.Errorf("failed to read credentials: %w", err))
	}

	// Another caller already refreshed after this request was sent.
	if current != nil && current.AccessToken != "" && current.AccessToken != rejected {
		c.mu.Unlock()
		return *current, nil
	}

	if rejected != "" && (rejected == c.failed || (current == nil && c.failed != "")) {
		c.mu.Unlock()
		return Credential{}, newError(CodeSessionExpired, http.StatusUnauthorized, nil)
	}

	if current == nil || current.RefreshToken == "" {
		c.mu.Unlock()
		c.log.Info().Msg("no refresh token stored, authentication required")
		if err := c.term.Terminate(bg); err != nil {
			c.log.Warn().Err(err).Msg("failed to clear credentials")
		}
		return Credential{}, newError(CodeAuthenticationRequired, http.StatusUnauthorized, nil)
	}

	call := &refreshCall{done: make(chan struct{}), waiters: 1}
	c.inflight = call
	c.mu.Unlock()

	c.observer.RefreshStarted()
	c.log.Info().Str("access_token", preview(rejected)).Msg("access token rejected, refreshing")

	exCtx, cancel := context.WithTimeout(bg, c.timeout)
	cred, exErr := c.exchange(exCtx, current.RefreshToken)
	cancel()

	c.mu.Lock()
	if exErr == nil {
		if err := c.store.Set(bg, cred); err != nil {
			exErr = fmt.Errorf("failed to store refreshed credential: %w", err)
		}
	}
	if exErr != nil {
		if err := c.store.Clear(bg); err != nil {
			c.log.Warn().Err(err).Msg("failed to clear credentials")
		}
		c.failed = current.AccessToken
		call.err = newError(CodeSessionExpired, http.StatusUnauthorized, exErr)
	} else {
		c.failed = ""
		call.cred = cred
	}
	waiters := call.waiters
	c.inflight = nil
	close(call.done)
	c.mu.Unlock()

	if exErr != nil {
		c.log.Warn().Err(exErr).Int("waiters", waiters).Msg("token refresh failed")
		c.observer.RefreshFailed(exErr, waiters)
		c.term.signal()
		return Credential{}, call.err
	}

	c.log.Info().Int("waiters", waiters).Msg("token refreshed")
	c.observer.RefreshSucceeded(waiters)
	return cred, nil
}

func (c *coordinator) wait(ctx context.Context, call *refreshCall) (Credential, error) {
	select {
	case <-call.done:
		if call.err != nil {
			return Credential{}, call.err
		}
		return call.cred, nil
	case <-ctx.Done():
		return Credential{}, newError(CodeNetworkError, 0, ctx.Err())
	}
}

// expire ends the session after a retried request was refused again. The
// store is left alone if it already holds a newer credential.
func (c *coordinator) expire(ctx context.Context, rejected string) {
	bg := context.WithoutCancel(ctx)

	c.mu.Lock()
	current, err := c.store.Get(bg)
	if err != nil || (current != nil && current.AccessToken != rejected) {
		c.mu.Unlock()
		return
	}
	if err := c.store.Clear(bg); err != nil {
		c.log.Warn().Err(err).Msg("failed to clear credentials")
	}
	c.failed = rejected
	c.mu.Unlock()

	c.term.signal()
}

// install stores a credential issued by login.
func (c *coordinator) install(ctx context.Context, cred Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Set(context.WithoutCancel(ctx), cred); err != nil {
		return err
	}
	c.failed = ""
	return nil
}

// clear removes the stored credential without signalling the host.
func (c *coordinator) clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Clear(context.WithoutCancel(ctx))
}
