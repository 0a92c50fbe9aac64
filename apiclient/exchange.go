package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// tokenResponse is the body of both the login and refresh endpoints.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    string `json:"expires_at"`
	ExpiresIn    int    `json:"expires_in"`
}

// validateTokenResponse validates the token fields returned by the server
func validateTokenResponse(accessToken, tokenType string, expiresIn int) error {
	if accessToken == "" {
		return errors.New("access_token is empty")
	}

	if expiresIn < 0 {
		return fmt.Errorf("expires_in must not be negative, got: %d", expiresIn)
	}

	// Token type is optional, but if present, should be "Bearer"
	if tokenType != "" && tokenType != "Bearer" && tokenType != "bearer" {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", tokenType)
	}

	return nil
}

// credential converts the response into a Credential. previousRefresh is
// kept when the server does not rotate the refresh token.
func (r tokenResponse) credential(now time.Time, previousRefresh string) (Credential, error) {
	if err := validateTokenResponse(r.AccessToken, r.TokenType, r.ExpiresIn); err != nil {
		return Credential{}, err
	}

	refreshToken := r.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefresh
	}

	cred := Credential{
		AccessToken:  r.AccessToken,
		RefreshToken: refreshToken,
	}

	switch {
	case r.ExpiresAt != "":
		expiresAt, err := time.Parse(time.RFC3339, r.ExpiresAt)
		if err != nil {
			return Credential{}, fmt.Errorf("invalid expires_at %q: %w", r.ExpiresAt, err)
		}
		cred.ExpiresAt = expiresAt
	case r.ExpiresIn > 0:
		cred.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	default:
		cred.ExpiresAt = jwtExpiry(r.AccessToken)
	}

	if err := cred.Validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// jwtExpiry reads the exp claim of a JWT access token without verifying it.
// Opaque tokens yield the zero time.
func jwtExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// exchangeRefreshToken performs the refresh-token exchange. It goes straight
// to the transport so that a 401 here can never recurse into another refresh.
func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (Credential, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return Credential{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	target, err := c.resolve(c.refreshPath, nil)
	if err != nil {
		return Credential{}, err
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	resp, err := c.transport.Send(ctx, &OutboundRequest{
		Method: http.MethodPost,
		URL:    target,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return Credential{}, fmt.Errorf("refresh request failed: %w", err)
	}

	if resp.Status < 200 || resp.Status > 299 {
		retrieveErr := &oauth2.RetrieveError{
			Response: &http.Response{
				Status:     fmt.Sprintf("%d %s", resp.Status, http.StatusText(resp.Status)),
				StatusCode: resp.Status,
				Header:     resp.Header,
			},
			Body: resp.Body,
		}
		var errResp apiErrorBody
		if json.Unmarshal(resp.Body, &errResp) == nil {
			retrieveErr.ErrorCode = errResp.Error
			retrieveErr.ErrorDescription = errResp.ErrorDescription
		}
		return Credential{}, retrieveErr
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return Credential{}, fmt.Errorf("failed to parse token response: %w", err)
	}

	cred, err := tokenResp.credential(c.now(), refreshToken)
	if err != nil {
		return Credential{}, fmt.Errorf("invalid token response: %w", err)
	}
	return cred, nil
}
