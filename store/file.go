package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/verigate/session-cli/apiclient"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultProfile names the entry used when none is configured.
const DefaultProfile = "default"

// fileEntry is the saved credential of one profile.
type fileEntry struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Profile      string    `json:"profile"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// fileContents is the token file layout; one entry per profile.
type fileContents struct {
	Tokens map[string]*fileEntry `json:"tokens"`
}

// File stores credentials in a JSON token file. Profiles other than its own
// are preserved on every write.
type File struct {
	path    string
	profile string
}

var _ apiclient.CredentialStore = (*File)(nil)

// NewFile returns a store for profile inside the token file at path.
func NewFile(path, profile string) *File {
	if profile == "" {
		profile = DefaultProfile
	}
	return &File{path: path, profile: profile}
}

// Get loads the profile's credential; a missing file or entry yields nil.
func (f *File) Get(_ context.Context) (*apiclient.Credential, error) {
	contents, err := f.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	entry, ok := contents.Tokens[f.profile]
	if !ok || entry == nil {
		return nil, nil
	}
	return &apiclient.Credential{
		AccessToken:  entry.AccessToken,
		RefreshToken: entry.RefreshToken,
		ExpiresAt:    entry.ExpiresAt,
	}, nil
}

// Set saves the credential, merging with other profiles' entries.
func (f *File) Set(ctx context.Context, cred apiclient.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	return f.update(ctx, func(contents *fileContents) bool {
		contents.Tokens[f.profile] = &fileEntry{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			TokenType:    "Bearer",
			ExpiresAt:    cred.ExpiresAt,
			Profile:      f.profile,
			UpdatedAt:    time.Now().UTC(),
		}
		return true
	})
}

// Clear removes the profile's entry and keeps the rest of the file.
func (f *File) Clear(ctx context.Context) error {
	return f.update(ctx, func(contents *fileContents) bool {
		if _, ok := contents.Tokens[f.profile]; !ok {
			return false
		}
		delete(contents.Tokens, f.profile)
		return true
	})
}

func (f *File) read() (*fileContents, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if contents.Tokens == nil {
		contents.Tokens = make(map[string]*fileEntry)
	}
	return &contents, nil
}

// update applies mutate to the file under the lock. mutate reports whether
// anything changed; unchanged contents are not rewritten.
func (f *File) update(ctx context.Context, mutate func(*fileContents) bool) error {
	lock, err := acquireFileLock(ctx, f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release lock: %v\n", releaseErr)
		}
	}()

	// Load inside the lock; an unreadable file starts over empty
	contents, err := f.read()
	if err != nil {
		contents = &fileContents{Tokens: make(map[string]*fileEntry)}
	}

	if !mutate(contents) {
		return nil
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename over the old one
	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
