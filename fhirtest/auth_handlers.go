/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenExpiresIn is the lifetime of the access tokens issued by TokenHandler by default.
const DefaultTokenExpiresIn = time.Hour

// DefaultPatientID is the patient put into the launch context of issued tokens.
const DefaultPatientID = "smart-1288992"

// OAuth2 error codes.
const (
	OAuthErrorInvalidRequest       = "invalid_request"
	OAuthErrorInvalidClient        = "invalid_client"
	OAuthErrorInvalidGrant         = "invalid_grant"
	OAuthErrorUnsupportedGrantType = "unsupported_grant_type"
	OAuthErrorAccessDenied         = "access_denied"
)

type authorization struct {
	clientID    string
	redirectURI string
	scope       string
	launch      string
}

// grantStore keeps the issued authorization codes and refresh tokens.
type grantStore struct {
	mu            sync.Mutex
	codes         map[string]authorization
	refreshTokens map[string]authorization
}

func newGrantStore() *grantStore {
	return &grantStore{codes: make(map[string]authorization), refreshTokens: make(map[string]authorization)}
}

func (s *grantStore) issueCode(a authorization) string {
	code := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = a
	return code
}

// redeemCode returns the authorization of the code. Codes are single-use.
func (s *grantStore) redeemCode(code string) (authorization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.codes[code]
	delete(s.codes, code)
	return a, ok
}

func (s *grantStore) issueRefreshToken(a authorization) string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token] = a
	return token
}

// redeemRefreshToken returns the authorization of the refresh token. Refresh tokens are rotated.
func (s *grantStore) redeemRefreshToken(token string) (authorization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.refreshTokens[token]
	delete(s.refreshTokens, token)
	return a, ok
}

// AuthorizeHandler is an HTTP handler of the authorization endpoint.
// It approves every valid request and redirects back to redirect_uri with an authorization code.
type AuthorizeHandler struct {
	servedCount atomic.Uint64
	grants      *grantStore
	// Deny makes the handler redirect back with the "access_denied" error.
	Deny bool
}

func (h *AuthorizeHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.servedCount.Add(1)

	query := r.URL.Query()
	redirectURI, err := url.Parse(query.Get("redirect_uri"))
	if err != nil || !redirectURI.IsAbs() {
		http.Error(rw, "redirect_uri must be an absolute URL", http.StatusBadRequest)
		return
	}
	params := redirectURI.Query()
	if state := query.Get("state"); state != "" {
		params.Set("state", state)
	}
	switch {
	case query.Get("response_type") != "code":
		params.Set("error", "unsupported_response_type")
	case query.Get("client_id") == "":
		params.Set("error", OAuthErrorInvalidRequest)
		params.Set("error_description", "client_id is required")
	case h.Deny:
		params.Set("error", OAuthErrorAccessDenied)
		params.Set("error_description", "the user denied the request")
	default:
		params.Set("code", h.grants.issueCode(authorization{
			clientID:    query.Get("client_id"),
			redirectURI: query.Get("redirect_uri"),
			scope:       query.Get("scope"),
			launch:      query.Get("launch"),
		}))
	}
	redirectURI.RawQuery = params.Encode()
	http.Redirect(rw, r, redirectURI.String(), http.StatusFound)
}

// ServedCount returns the number of times the handler has been served.
func (h *AuthorizeHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// TokenHandler is an HTTP handler of the token endpoint.
// It supports the "authorization_code" and "refresh_token" grants.
type TokenHandler struct {
	servedCount atomic.Uint64
	grants      *grantStore
	Issuer      string
	// ClientSecrets maps client IDs of confidential clients to their secrets.
	// Such clients must authenticate with HTTP basic auth.
	ClientSecrets map[string]string
	// ExpiresIn is the lifetime of issued access tokens. DefaultTokenExpiresIn is used if not set.
	ExpiresIn time.Duration
	// PatientID is put into the response when the "launch/patient" or "launch" scope is granted.
	PatientID string
}

func (h *TokenHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	if err := r.ParseForm(); err != nil {
		writeOAuthError(rw, http.StatusBadRequest, OAuthErrorInvalidRequest, "cannot parse form")
		return
	}

	var auth authorization
	var ok bool
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if auth, ok = h.grants.redeemCode(r.PostForm.Get("code")); !ok {
			writeOAuthError(rw, http.StatusBadRequest, OAuthErrorInvalidGrant, "unknown or already used code")
			return
		}
		if auth.redirectURI != r.PostForm.Get("redirect_uri") {
			writeOAuthError(rw, http.StatusBadRequest, OAuthErrorInvalidGrant, "redirect_uri mismatch")
			return
		}
	case "refresh_token":
		if auth, ok = h.grants.redeemRefreshToken(r.PostForm.Get("refresh_token")); !ok {
			writeOAuthError(rw, http.StatusBadRequest, OAuthErrorInvalidGrant, "unknown refresh token")
			return
		}
	default:
		writeOAuthError(rw, http.StatusBadRequest, OAuthErrorUnsupportedGrantType, "")
		return
	}

	if !h.authenticateClient(r, auth.clientID) {
		writeOAuthError(rw, http.StatusUnauthorized, OAuthErrorInvalidClient, "client authentication failed")
		return
	}

	expiresIn := h.ExpiresIn
	if expiresIn == 0 {
		expiresIn = DefaultTokenExpiresIn
	}
	now := time.Now()
	accessToken, err := MakeAccessToken(jwtgo.MapClaims{
		"iss":   h.Issuer,
		"sub":   auth.clientID,
		"jti":   uuid.NewString(),
		"scope": auth.scope,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	})
	if err != nil {
		http.Error(rw, fmt.Sprintf("Error signing token: %v", err), http.StatusInternalServerError)
		return
	}

	response := TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(expiresIn.Seconds()),
		Scope:        auth.scope,
		RefreshToken: h.grants.issueRefreshToken(auth),
	}
	if auth.launch != "" || hasScope(auth.scope, "launch/patient") {
		response.Patient = h.PatientID
		if response.Patient == "" {
			response.Patient = DefaultPatientID
		}
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store")
	if err = json.NewEncoder(rw).Encode(response); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
		return
	}
}

func (h *TokenHandler) authenticateClient(r *http.Request, clientID string) bool {
	secret, confidential := h.ClientSecrets[clientID]
	if !confidential {
		return true
	}
	user, pass, ok := r.BasicAuth()
	return ok && user == clientID && pass == secret
}

// ServedCount returns the number of times the handler has been served.
func (h *TokenHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *TokenHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

// TokenResponse is a response of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Patient      string `json:"patient,omitempty"`
}

func writeOAuthError(rw http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}
