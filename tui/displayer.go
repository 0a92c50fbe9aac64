package tui

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/verigate/session-cli/apiclient"
)

// Displayer abstracts all output of the CLI. It also observes the session
// events of the API client, so it may be called from several goroutines.
type Displayer interface {
	apiclient.Observer

	Banner()
	CredentialsFound()
	CredentialsNotFound()
	LoginOK(email string)
	LoginFailed(err error)
	LoggedOut()
	Requesting(method, path string, n int)
	ResponseOK(index int, body string)
	Status(preview string, expiresIn time.Duration)
	Done(summary string)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner() {
	p.printf("=== Verigate Session Client ===\n\n")
}

func (p *PlainDisplayer) CredentialsFound() {
	p.printf("Found stored credentials.\n")
}

func (p *PlainDisplayer) CredentialsNotFound() {
	p.printf("No stored credentials, run `verigate login` first.\n")
}

func (p *PlainDisplayer) LoginOK(email string) {
	p.printf("Logged in as %s.\n", email)
}

func (p *PlainDisplayer) LoginFailed(err error) {
	p.printf("Login failed: %s\n", describe(err))
}

func (p *PlainDisplayer) LoggedOut() {
	p.printf("Logged out, local credentials removed.\n")
}

func (p *PlainDisplayer) Requesting(method, path string, n int) {
	if n > 1 {
		p.printf("Sending %d concurrent %s %s requests...\n", n, method, path)
		return
	}
	p.printf("Sending %s %s...\n", method, path)
}

func (p *PlainDisplayer) ResponseOK(index int, body string) {
	if body == "" {
		p.printf("[%d] OK (empty body)\n", index)
		return
	}
	p.printf("[%d] %s\n", index, body)
}

func (p *PlainDisplayer) Status(preview string, expiresIn time.Duration) {
	p.printf("Access Token: %s\n", preview)
	p.printf("Expires In: %s\n", formatExpiry(expiresIn))
}

func (p *PlainDisplayer) Done(summary string) {
	p.printf("\n========================================\n")
	p.printf("%s\n", summary)
	p.printf("========================================\n")
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %s\n", describe(err))
}

func (p *PlainDisplayer) AccessTokenRejected(method, path string) {
	p.printf("Access token rejected (401) for %s %s\n", method, path)
}

func (p *PlainDisplayer) RefreshStarted() {
	p.printf("Refreshing access token...\n")
}

func (p *PlainDisplayer) RefreshJoined() {
	p.printf("Waiting for the running token refresh...\n")
}

func (p *PlainDisplayer) RefreshSucceeded(waiters int) {
	p.printf("Token refreshed successfully (%d waiting request(s) released)\n", waiters)
}

func (p *PlainDisplayer) RefreshFailed(err error, waiters int) {
	p.printf("Refresh failed for %d request(s): %v\n", waiters, err)
}

func (p *PlainDisplayer) SessionTerminated() {
	p.printf("Session ended, run `verigate login` to sign in again.\n")
}

func (p *PlainDisplayer) RequestFinished(method, path string, err error) {
	if err != nil {
		p.printf("%s %s failed: %s\n", method, path, describe(err))
	}
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct {
	apiclient.NopObserver
}

func (NoopDisplayer) Banner()                          {}
func (NoopDisplayer) CredentialsFound()                {}
func (NoopDisplayer) CredentialsNotFound()             {}
func (NoopDisplayer) LoginOK(_ string)                 {}
func (NoopDisplayer) LoginFailed(_ error)              {}
func (NoopDisplayer) LoggedOut()                       {}
func (NoopDisplayer) Requesting(_, _ string, _ int)    {}
func (NoopDisplayer) ResponseOK(_ int, _ string)       {}
func (NoopDisplayer) Status(_ string, _ time.Duration) {}
func (NoopDisplayer) Done(_ string)                    {}
func (NoopDisplayer) Fatal(_ error)                    {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) CredentialsFound() {
	t.p.Send(MsgCredentialsFound{})
}

func (t *ProgramDisplayer) CredentialsNotFound() {
	t.p.Send(MsgCredentialsNotFound{})
}

func (t *ProgramDisplayer) LoginOK(email string) {
	t.p.Send(MsgLoginOK{Email: email})
}

func (t *ProgramDisplayer) LoginFailed(err error) {
	t.p.Send(MsgLoginFailed{Err: err})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) Requesting(method, path string, n int) {
	t.p.Send(MsgRequesting{Method: method, Path: path, Count: n})
}

func (t *ProgramDisplayer) ResponseOK(index int, body string) {
	t.p.Send(MsgResponseOK{Index: index, Body: body})
}

func (t *ProgramDisplayer) Status(preview string, expiresIn time.Duration) {
	t.p.Send(MsgStatus{Preview: preview, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) Done(summary string) {
	t.p.Send(MsgDone{Summary: summary})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}

func (t *ProgramDisplayer) AccessTokenRejected(method, path string) {
	t.p.Send(MsgAccessTokenRejected{Method: method, Path: path})
}

func (t *ProgramDisplayer) RefreshStarted() {
	t.p.Send(MsgRefreshStarted{})
}

func (t *ProgramDisplayer) RefreshJoined() {
	t.p.Send(MsgRefreshJoined{})
}

func (t *ProgramDisplayer) RefreshSucceeded(waiters int) {
	t.p.Send(MsgRefreshOK{Waiters: waiters})
}

func (t *ProgramDisplayer) RefreshFailed(err error, waiters int) {
	t.p.Send(MsgRefreshFailed{Err: err, Waiters: waiters})
}

func (t *ProgramDisplayer) SessionTerminated() {
	t.p.Send(MsgSessionTerminated{})
}

func (t *ProgramDisplayer) RequestFinished(method, path string, err error) {
	t.p.Send(MsgRequestFinished{Method: method, Path: path, Err: err})
}

// describe renders an error for the user: the classified message when the
// API client produced it, the raw error otherwise.
func describe(err error) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		if apiErr.ServerCode != "" {
			return fmt.Sprintf("%s [%s]", apiErr.Message, apiErr.ServerCode)
		}
		return apiErr.Message
	}
	return err.Error()
}

// formatExpiry renders the remaining lifetime of an access token.
func formatExpiry(d time.Duration) string {
	switch {
	case d == 0:
		return "unknown"
	case d < 0:
		return "expired " + formatDuration(-d) + " ago"
	default:
		return formatDuration(d)
	}
}
