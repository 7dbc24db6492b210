/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartauth

import (
	"errors"
	"fmt"
)

var (
	// ErrStateNotFound is returned when there is no authorization state for the key.
	ErrStateNotFound = errors.New("authorization state not found")

	// ErrMissingState is returned when the redirect URL has no "state" parameter.
	ErrMissingState = errors.New(`no "state" parameter found in the redirect URL`)

	// ErrMissingCode is returned when the redirect URL has no "code" parameter but the server has a token endpoint.
	ErrMissingCode = errors.New(`no "code" parameter found in the redirect URL`)

	// ErrNoRefreshToken is returned by Refresh when the state has no refresh token.
	ErrNoRefreshToken = errors.New("unable to refresh: no refresh_token found")

	// ErrNoTokenEndpoint is returned when the server does not declare a token endpoint.
	ErrNoTokenEndpoint = errors.New("unable to request tokens: no token endpoint found")

	// ErrMissingAccessToken is returned when the token endpoint responds without an access token.
	ErrMissingAccessToken = errors.New("token response has no access_token")
)

// OAuthError is an error returned by the authorization server to the redirect URI.
type OAuthError struct {
	Code        string
	Description string
	URI         string
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
	}
	return "authorization failed: " + e.Code
}
