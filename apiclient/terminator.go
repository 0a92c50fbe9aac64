package apiclient

import (
	"context"
	"sync"
)

// Terminator ends a session: it clears the credential store and tells the
// host application that the user has to sign in again. The hook fires at
// most once until Rearm is called.
type Terminator struct {
	mu         sync.Mutex
	store      CredentialStore
	hook       func()
	observer   Observer
	terminated bool
}

// NewTerminator returns a Terminator over store. hook may be nil.
func NewTerminator(store CredentialStore, hook func()) *Terminator {
	return &Terminator{
		store:    store,
		hook:     hook,
		observer: NopObserver{},
	}
}

// Terminate clears the store and signals the host.
func (t *Terminator) Terminate(ctx context.Context) error {
	err := t.store.Clear(context.WithoutCancel(ctx))
	t.signal()
	return err
}

// signal invokes the hook unless it already fired since the last Rearm.
func (t *Terminator) signal() {
	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		return
	}
	t.terminated = true
	hook, observer := t.hook, t.observer
	t.mu.Unlock()

	observer.SessionTerminated()
	if hook != nil {
		hook()
	}
}

// Rearm allows the next Terminate to signal again. Called after a new
// credential was issued by login.
func (t *Terminator) Rearm() {
	t.mu.Lock()
	t.terminated = false
	t.mu.Unlock()
}

// Terminated reports whether the session was ended and not re-armed since.
func (t *Terminator) Terminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated
}
