/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartauth

import (
	"github.com/acronis/go-smartkit/smarttoken"
)

// State is the authorization state persisted between the launch and the redirect back to the app.
type State struct {
	Key           string                   `json:"key" yaml:"key"`
	ServerURL     string                   `json:"serverUrl" yaml:"serverUrl"`
	ClientID      string                   `json:"clientId" yaml:"clientId"`
	ClientSecret  string                   `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	Scope         string                   `json:"scope,omitempty" yaml:"scope,omitempty"`
	RedirectURI   string                   `json:"redirectUri" yaml:"redirectUri"`
	AuthorizeURI  string                   `json:"authorizeUri,omitempty" yaml:"authorizeUri,omitempty"`
	TokenURI      string                   `json:"tokenUri,omitempty" yaml:"tokenUri,omitempty"`
	TokenResponse smarttoken.TokenResponse `json:"tokenResponse,omitempty" yaml:"tokenResponse,omitempty"`

	// ExpiresAt is the access token expiration time in seconds since the Unix epoch.
	ExpiresAt int64 `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

// Authorized reports whether an access token has been obtained.
func (s *State) Authorized() bool {
	return s.TokenResponse.AccessToken() != ""
}

// Patient returns the id of the patient in the launch context.
func (s *State) Patient() string {
	return s.TokenResponse.Fields().Patient
}

func (s *State) clone() *State {
	c := *s
	if s.TokenResponse != nil {
		c.TokenResponse = make(smarttoken.TokenResponse, len(s.TokenResponse))
		for k, v := range s.TokenResponse {
			c.TokenResponse[k] = v
		}
	}
	return &c
}
