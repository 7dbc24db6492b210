/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartauth

import (
	"context"
	"fmt"
	"net/http"
)

// TokenProviderFunc returns an access token to authorize a request with.
type TokenProviderFunc func(ctx context.Context) (string, error)

// BearerRoundTripper sets the "Authorization: Bearer <token>" header on outgoing requests.
type BearerRoundTripper struct {
	Delegate http.RoundTripper
	Tokens   TokenProviderFunc
}

// NewBearerRoundTripper creates a new BearerRoundTripper. http.DefaultTransport is used if delegate is nil.
func NewBearerRoundTripper(delegate http.RoundTripper, tokens TokenProviderFunc) *BearerRoundTripper {
	if delegate == nil {
		delegate = http.DefaultTransport
	}
	return &BearerRoundTripper{Delegate: delegate, Tokens: tokens}
}

// RoundTrip implements http.RoundTripper.
func (rt *BearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := rt.Tokens(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, fmt.Errorf("get access token: %w", err)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return rt.Delegate.RoundTrip(r)
}
