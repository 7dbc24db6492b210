/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartauth_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-smartkit/fhirtest"
	"github.com/acronis/go-smartkit/smartauth"
	"github.com/acronis/go-smartkit/smarttoken"
	"github.com/acronis/go-smartkit/targetwindow"
)

const (
	testClientID    = "growth-chart-app"
	testRedirectURI = "https://app.example.com/callback"
	testScope       = "launch/patient patient/*.read offline_access"
)

type fixedClockEnv struct {
	smarttoken.Env
	now atomic.Int64
}

func newFixedClockEnv(now time.Time) *fixedClockEnv {
	env := &fixedClockEnv{Env: smarttoken.DefaultEnv}
	env.now.Store(now.Unix())
	return env
}

func (e *fixedClockEnv) Now() time.Time {
	return time.Unix(e.now.Load(), 0)
}

func startFHIRServer(t *testing.T, options ...fhirtest.HTTPServerOption) *fhirtest.HTTPServer {
	t.Helper()
	server := fhirtest.NewHTTPServer(options...)
	require.NoError(t, server.StartAndWaitForReady(time.Second))
	t.Cleanup(func() { _ = server.Close() })
	return server
}

// visit emulates the user agent following the authorization URL and returns the redirect back to the app.
func visit(t *testing.T, authorizeURL string) string {
	t.Helper()
	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(authorizeURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}

func authorizeParams(server *fhirtest.HTTPServer) smartauth.AuthorizeParams {
	return smartauth.AuthorizeParams{
		ServerURL:   server.URL(),
		ClientID:    testClientID,
		Scope:       testScope,
		RedirectURI: testRedirectURI,
	}
}

func TestAuthorizer_Authorize(t *testing.T) {
	t.Run("SMART configuration", func(t *testing.T) {
		server := startFHIRServer(t)
		browser := fhirtest.NewBrowser()
		authorizer, err := smartauth.NewAuthorizerWithOpts(smartauth.AuthorizerOpts{
			Resolver: targetwindow.NewResolver(browser),
		})
		require.NoError(t, err)

		params := authorizeParams(server)
		params.Launch = "xyz123"
		redirectURL, err := authorizer.Authorize(context.Background(), params)
		require.NoError(t, err)
		require.Equal(t, redirectURL, browser.SelfWindow.Location())

		u, err := url.Parse(redirectURL)
		require.NoError(t, err)
		require.Equal(t, server.URL()+fhirtest.AuthorizeEndpointPath, u.Scheme+"://"+u.Host+u.Path)
		query := u.Query()
		require.Equal(t, "code", query.Get("response_type"))
		require.Equal(t, testClientID, query.Get("client_id"))
		require.Equal(t, testScope, query.Get("scope"))
		require.Equal(t, testRedirectURI, query.Get("redirect_uri"))
		require.Equal(t, server.URL(), query.Get("aud"))
		require.Equal(t, "xyz123", query.Get("launch"))

		state, err := authorizer.Storage().Get(context.Background(), query.Get("state"))
		require.NoError(t, err)
		require.Equal(t, server.URL()+fhirtest.TokenEndpointPath, state.TokenURI)
		require.Equal(t, server.URL()+fhirtest.AuthorizeEndpointPath, state.AuthorizeURI)
		require.False(t, state.Authorized())

		require.EqualValues(t, 0, server.MetadataHandler.ServedCount())
	})

	t.Run("conformance statement fallback", func(t *testing.T) {
		server := startFHIRServer(t, fhirtest.WithoutSMARTConfiguration())
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)

		redirectURL, err := authorizer.Authorize(context.Background(), authorizeParams(server))
		require.NoError(t, err)
		u, err := url.Parse(redirectURL)
		require.NoError(t, err)
		require.Equal(t, fhirtest.AuthorizeEndpointPath, u.Path)
		require.Empty(t, u.Query().Get("launch"))
		require.EqualValues(t, 1, server.MetadataHandler.ServedCount())
	})

	t.Run("popup target", func(t *testing.T) {
		server := startFHIRServer(t)
		browser := fhirtest.NewBrowser()
		authorizer, err := smartauth.NewAuthorizerWithOpts(smartauth.AuthorizerOpts{
			Resolver: targetwindow.NewResolver(browser),
		})
		require.NoError(t, err)

		params := authorizeParams(server)
		params.Target = targetwindow.TargetPopup
		redirectURL, err := authorizer.Authorize(context.Background(), params)
		require.NoError(t, err)

		require.Len(t, browser.Opened(), 1)
		require.Equal(t, targetwindow.PopupName, browser.Opened()[0].Name)
		require.Equal(t, redirectURL, browser.Frames[targetwindow.PopupName].Location())
		require.Empty(t, browser.SelfWindow.Location())
	})

	t.Run("open server", func(t *testing.T) {
		server := startFHIRServer(t, fhirtest.WithoutSMARTConfiguration(),
			fhirtest.WithConformanceStatement(map[string]interface{}{"resourceType": "CapabilityStatement"}))
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)

		params := authorizeParams(server)
		params.RedirectURI = testRedirectURI + "?foo=bar"
		redirectURL, err := authorizer.Authorize(context.Background(), params)
		require.NoError(t, err)
		u, err := url.Parse(redirectURL)
		require.NoError(t, err)
		require.Equal(t, "app.example.com", u.Host)
		require.Equal(t, "bar", u.Query().Get("foo"))
		require.NotEmpty(t, u.Query().Get("state"))

		state, err := authorizer.Complete(context.Background(), redirectURL)
		require.NoError(t, err)
		require.False(t, state.Authorized())
		require.Empty(t, state.TokenURI)
	})

	t.Run("invalid params", func(t *testing.T) {
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)
		_, err = authorizer.Authorize(context.Background(), smartauth.AuthorizeParams{RedirectURI: testRedirectURI})
		require.ErrorIs(t, err, smartauth.ErrInvalidAuthorizeParams)
		_, err = authorizer.Authorize(context.Background(), smartauth.AuthorizeParams{ServerURL: "http://fhir.example"})
		require.ErrorIs(t, err, smartauth.ErrInvalidAuthorizeParams)
	})

	t.Run("navigation error", func(t *testing.T) {
		server := startFHIRServer(t)
		browser := fhirtest.NewBrowser()
		browser.SelfWindow.NavigateErr = errors.New("navigation blocked")
		authorizer, err := smartauth.NewAuthorizerWithOpts(smartauth.AuthorizerOpts{
			Resolver: targetwindow.NewResolver(browser),
		})
		require.NoError(t, err)
		_, err = authorizer.Authorize(context.Background(), authorizeParams(server))
		require.ErrorIs(t, err, browser.SelfWindow.NavigateErr)
	})
}

func TestAuthorizer_Complete(t *testing.T) {
	t.Run("public client", func(t *testing.T) {
		server := startFHIRServer(t, fhirtest.WithTokenExpiresIn(10*time.Minute))
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)

		authorizeURL, err := authorizer.Authorize(context.Background(), authorizeParams(server))
		require.NoError(t, err)
		callbackURL := visit(t, authorizeURL)

		before := time.Now().Unix()
		state, err := authorizer.Complete(context.Background(), callbackURL)
		require.NoError(t, err)
		require.True(t, state.Authorized())
		require.Equal(t, fhirtest.DefaultPatientID, state.Patient())
		require.NotEmpty(t, state.TokenResponse.RefreshToken())
		require.GreaterOrEqual(t, state.ExpiresAt, before+600)
		require.LessOrEqual(t, state.ExpiresAt, time.Now().Unix()+600)

		claims, err := fhirtest.ParseAccessToken(state.TokenResponse.AccessToken())
		require.NoError(t, err)
		require.Equal(t, testClientID, claims["sub"])

		stored, err := authorizer.Storage().Get(context.Background(), state.Key)
		require.NoError(t, err)
		require.Equal(t, state, stored)
	})

	t.Run("confidential client", func(t *testing.T) {
		server := startFHIRServer(t, fhirtest.WithClientSecret(testClientID, "s3cret"))
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)

		params := authorizeParams(server)
		params.ClientSecret = "s3cret"
		authorizeURL, err := authorizer.Authorize(context.Background(), params)
		require.NoError(t, err)
		state, err := authorizer.Complete(context.Background(), visit(t, authorizeURL))
		require.NoError(t, err)
		require.True(t, state.Authorized())

		params.ClientSecret = "wrong"
		authorizeURL, err = authorizer.Authorize(context.Background(), params)
		require.NoError(t, err)
		_, err = authorizer.Complete(context.Background(), visit(t, authorizeURL))
		require.Error(t, err)
		require.Contains(t, err.Error(), fhirtest.OAuthErrorInvalidClient)
	})

	t.Run("access denied", func(t *testing.T) {
		server := fhirtest.NewHTTPServer()
		server.AuthorizeHandler.Deny = true
		require.NoError(t, server.StartAndWaitForReady(time.Second))
		defer func() { _ = server.Close() }()

		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)
		authorizeURL, err := authorizer.Authorize(context.Background(), authorizeParams(server))
		require.NoError(t, err)

		_, err = authorizer.Complete(context.Background(), visit(t, authorizeURL))
		var oauthErr *smartauth.OAuthError
		require.ErrorAs(t, err, &oauthErr)
		require.Equal(t, fhirtest.OAuthErrorAccessDenied, oauthErr.Code)
		require.Equal(t, "authorization failed: access_denied: the user denied the request", oauthErr.Error())
	})

	t.Run("bad redirect URLs", func(t *testing.T) {
		server := startFHIRServer(t)
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)
		authorizeURL, err := authorizer.Authorize(context.Background(), authorizeParams(server))
		require.NoError(t, err)
		key, err := url.Parse(authorizeURL)
		require.NoError(t, err)

		_, err = authorizer.Complete(context.Background(), testRedirectURI+"?code=abc")
		require.ErrorIs(t, err, smartauth.ErrMissingState)

		_, err = authorizer.Complete(context.Background(), testRedirectURI+"?code=abc&state=unknown")
		require.ErrorIs(t, err, smartauth.ErrStateNotFound)

		_, err = authorizer.Complete(context.Background(), testRedirectURI+"?state="+key.Query().Get("state"))
		require.ErrorIs(t, err, smartauth.ErrMissingCode)

		_, err = authorizer.Complete(context.Background(), testRedirectURI+"?code=forged&state="+key.Query().Get("state"))
		require.Error(t, err)
		require.Contains(t, err.Error(), fhirtest.OAuthErrorInvalidGrant)
	})
}

func TestAuthorizer_Refresh(t *testing.T) {
	authorize := func(t *testing.T, server *fhirtest.HTTPServer, authorizer *smartauth.Authorizer) *smartauth.State {
		t.Helper()
		authorizeURL, err := authorizer.Authorize(context.Background(), authorizeParams(server))
		require.NoError(t, err)
		state, err := authorizer.Complete(context.Background(), visit(t, authorizeURL))
		require.NoError(t, err)
		return state
	}

	t.Run("rotates tokens", func(t *testing.T) {
		server := startFHIRServer(t)
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)
		state := authorize(t, server, authorizer)

		refreshed, err := authorizer.Refresh(context.Background(), state.Key)
		require.NoError(t, err)
		require.NotEqual(t, state.TokenResponse.AccessToken(), refreshed.TokenResponse.AccessToken())
		require.NotEqual(t, state.TokenResponse.RefreshToken(), refreshed.TokenResponse.RefreshToken())
		require.Equal(t, fhirtest.DefaultPatientID, refreshed.Patient())
	})

	t.Run("concurrent refreshes share one request", func(t *testing.T) {
		release := make(chan struct{})
		var tokenRequests atomic.Int32
		server := startFHIRServer(t, fhirtest.WithHTTPMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				if r.URL.Path == fhirtest.TokenEndpointPath && r.FormValue("grant_type") == "refresh_token" {
					tokenRequests.Add(1)
					<-release
				}
				next.ServeHTTP(rw, r)
			})
		}))
		authorizer, err := smartauth.NewAuthorizer()
		require.NoError(t, err)
		state := authorize(t, server, authorizer)

		const callers = 10
		results := make([]*smartauth.State, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = authorizer.Refresh(context.Background(), state.Key)
			}(i)
		}
		require.Eventually(t, func() bool { return tokenRequests.Load() == 1 }, time.Second, 10*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		close(release)
		wg.Wait()

		require.EqualValues(t, 1, tokenRequests.Load())
		for i := 0; i < callers; i++ {
			require.NoError(t, errs[i])
			require.Equal(t, results[0].TokenResponse.AccessToken(), results[i].TokenResponse.AccessToken())
		}
	})

	t.Run("no refresh token", func(t *testing.T) {
		storage := smartauth.NewInMemoryStorage()
		require.NoError(t, storage.Set(context.Background(), "k", &smartauth.State{
			Key:           "k",
			TokenURI:      "http://127.0.0.1:1/token",
			TokenResponse: smarttoken.TokenResponse{"access_token": "abc"},
		}))
		authorizer, err := smartauth.NewAuthorizerWithOpts(smartauth.AuthorizerOpts{Storage: storage})
		require.NoError(t, err)
		_, err = authorizer.Refresh(context.Background(), "k")
		require.ErrorIs(t, err, smartauth.ErrNoRefreshToken)
	})
}

func TestAuthorizer_AccessToken(t *testing.T) {
	server := startFHIRServer(t, fhirtest.WithTokenExpiresIn(5*time.Minute), fhirtest.WithBearerTokenRequired())
	env := newFixedClockEnv(time.Now())
	authorizer, err := smartauth.NewAuthorizerWithOpts(smartauth.AuthorizerOpts{Env: env})
	require.NoError(t, err)

	_, err = authorizer.AccessToken(context.Background(), "unknown")
	require.ErrorIs(t, err, smartauth.ErrStateNotFound)

	authorizeURL, err := authorizer.Authorize(context.Background(), authorizeParams(server))
	require.NoError(t, err)
	key, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	stateKey := key.Query().Get("state")

	_, err = authorizer.AccessToken(context.Background(), stateKey)
	require.ErrorIs(t, err, smartauth.ErrNotAuthorized)

	state, err := authorizer.Complete(context.Background(), visit(t, authorizeURL))
	require.NoError(t, err)
	server.TokenHandler.ResetServedCount()

	token, err := authorizer.AccessToken(context.Background(), stateKey)
	require.NoError(t, err)
	require.Equal(t, state.TokenResponse.AccessToken(), token)
	require.EqualValues(t, 0, server.TokenHandler.ServedCount())

	// Within the refresh leeway.
	env.now.Add(int64((5*time.Minute - 30*time.Second) / time.Second))
	token, err = authorizer.AccessToken(context.Background(), stateKey)
	require.NoError(t, err)
	require.NotEqual(t, state.TokenResponse.AccessToken(), token)
	require.EqualValues(t, 1, server.TokenHandler.ServedCount())

	server.ResourceHandler.Put("Patient", fhirtest.DefaultPatientID, map[string]interface{}{})
	client := &http.Client{Transport: authorizer.BearerRoundTripper(nil, stateKey)}
	resp, err := client.Get(server.URL() + "/Patient/" + fhirtest.DefaultPatientID)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
