// Package store provides CredentialStore implementations: in memory, a
// JSON token file shared between profiles, and SQLite.
package store

import (
	"context"
	"sync"

	"github.com/verigate/session-cli/apiclient"
)

// Memory keeps the credential in process memory.
type Memory struct {
	mu   sync.RWMutex
	cred *apiclient.Credential
}

var _ apiclient.CredentialStore = (*Memory)(nil)

// NewMemory returns an empty store, or one holding initial if it is valid.
func NewMemory(initial ...apiclient.Credential) *Memory {
	m := &Memory{}
	if len(initial) > 0 && initial[0].Validate() == nil {
		cred := initial[0]
		m.cred = &cred
	}
	return m
}

func (m *Memory) Get(_ context.Context) (*apiclient.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return nil, nil
	}
	cred := *m.cred
	return &cred, nil
}

func (m *Memory) Set(_ context.Context, cred apiclient.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.cred = &cred
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.cred = nil
	m.mu.Unlock()
	return nil
}
