package apiclient

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrPartialCredential is returned when only one of the two tokens is present.
var ErrPartialCredential = errors.New("credential must carry both access and refresh token")

// Credential is the token pair issued by login or refresh.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CredentialStore holds the current credential of a session.
// Get returns nil, nil when nothing is stored.
type CredentialStore interface {
	Get(ctx context.Context) (*Credential, error)
	Set(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
}

// IsZero reports whether neither token is set.
func (c Credential) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// Validate rejects credentials that would leave the store half-populated.
func (c Credential) Validate() error {
	if c.AccessToken == "" || c.RefreshToken == "" {
		return ErrPartialCredential
	}
	return nil
}

// Expired reports whether the access token is past its expiry at now.
// An unknown expiry is never considered expired.
func (c Credential) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (c Credential) ExpiresWithin(now time.Time, d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(d).After(c.ExpiresAt)
}

// Token converts the credential into an oauth2 bearer token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       c.ExpiresAt,
	}
}

// CredentialFromToken is the inverse of Credential.Token.
func CredentialFromToken(t *oauth2.Token) Credential {
	if t == nil {
		return Credential{}
	}
	return Credential{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
}

// Preview returns a shortened access token suitable for display and logs.
func (c Credential) Preview() string {
	return preview(c.AccessToken)
}

func preview(token string) string {
	if len(token) > 12 {
		return token[:12] + "..."
	}
	if token == "" {
		return ""
	}
	return "***"
}
