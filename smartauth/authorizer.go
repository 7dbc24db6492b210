/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/acronis/go-smartkit/conformance"
	"github.com/acronis/go-smartkit/fhirhttp"
	"github.com/acronis/go-smartkit/internal/metrics"
	"github.com/acronis/go-smartkit/internal/smartutil"
	"github.com/acronis/go-smartkit/smarttoken"
	"github.com/acronis/go-smartkit/targetwindow"
)

// DefaultRefreshLeeway is how long before the expiration AccessToken starts refreshing the token.
const DefaultRefreshLeeway = time.Minute

const (
	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"
)

// ErrInvalidAuthorizeParams is returned by Authorize when the required parameters are missing.
var ErrInvalidAuthorizeParams = errors.New("invalid authorize params")

// ErrNotAuthorized is returned by AccessToken when the state has no access token yet.
var ErrNotAuthorized = errors.New("not authorized")

// AuthorizerOpts contains options for Authorizer.
type AuthorizerOpts struct {
	// Client sends discovery and token requests. A new client is created if not specified.
	Client *fhirhttp.Client

	// Storage keeps authorization states. InMemoryStorage is used if not specified.
	Storage Storage

	// Resolver resolves the window that is navigated to the authorization endpoint.
	// Authorize only builds the URL if not specified.
	Resolver *targetwindow.Resolver

	// TokenDecoder computes the access token expiration. A decoder without cache is created if not specified.
	TokenDecoder *smarttoken.Decoder

	// Env is used for time calculations. smarttoken.DefaultEnv is used if not specified.
	Env smarttoken.Env

	// RefreshLeeway is how long before the expiration AccessToken refreshes the token.
	// DefaultRefreshLeeway is used if not specified.
	RefreshLeeway time.Duration

	// Logger is a logger for the authorizer.
	Logger log.FieldLogger

	// LoggerProvider returns a logger bound to the request context. Logger is used when it returns nil.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// AuthorizeParams describes a single launch.
type AuthorizeParams struct {
	// ServerURL is the FHIR server base URL. It is also sent as the "aud" parameter.
	ServerURL string

	ClientID     string
	ClientSecret string
	Scope        string
	RedirectURI  string

	// Launch is the launch context id passed by the EHR.
	Launch string

	// Target is resolved with targetwindow.Resolver. "_self" is used if nil.
	Target interface{}

	// Width and Height are the popup dimensions.
	Width  int
	Height int
}

// Authorizer performs the SMART App Launch sequence.
type Authorizer struct {
	client         *fhirhttp.Client
	storage        Storage
	resolver       *targetwindow.Resolver
	decoder        *smarttoken.Decoder
	env            smarttoken.Env
	refreshLeeway  time.Duration
	logger         log.FieldLogger
	loggerProvider func(ctx context.Context) log.FieldLogger
	promMetrics    *metrics.PrometheusMetrics
	sfGroup        singleflight.Group
}

// NewAuthorizer creates a new Authorizer with default options.
func NewAuthorizer() (*Authorizer, error) {
	return NewAuthorizerWithOpts(AuthorizerOpts{})
}

// NewAuthorizerWithOpts creates a new Authorizer with options.
func NewAuthorizerWithOpts(opts AuthorizerOpts) (*Authorizer, error) {
	opts.Logger = smartutil.PrepareLogger(opts.Logger)
	if opts.Env == nil {
		opts.Env = smarttoken.DefaultEnv
	}
	if opts.Client == nil {
		opts.Client = fhirhttp.NewClientWithOpts(fhirhttp.ClientOpts{
			Logger:                     opts.Logger,
			PrometheusLibInstanceLabel: opts.PrometheusLibInstanceLabel,
		})
	}
	if opts.Storage == nil {
		opts.Storage = NewInMemoryStorage()
	}
	if opts.TokenDecoder == nil {
		decoder, err := smarttoken.NewDecoderWithOpts(smarttoken.DecoderOpts{Env: opts.Env, CacheDisabled: true})
		if err != nil {
			return nil, fmt.Errorf("new token decoder: %w", err)
		}
		opts.TokenDecoder = decoder
	}
	if opts.RefreshLeeway == 0 {
		opts.RefreshLeeway = DefaultRefreshLeeway
	}
	return &Authorizer{
		client:         opts.Client,
		storage:        opts.Storage,
		resolver:       opts.Resolver,
		decoder:        opts.TokenDecoder,
		env:            opts.Env,
		refreshLeeway:  opts.RefreshLeeway,
		logger:         opts.Logger,
		loggerProvider: opts.LoggerProvider,
		promMetrics:    metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceAuthorizer),
	}, nil
}

// Storage returns the storage of authorization states.
func (a *Authorizer) Storage() Storage {
	return a.storage
}

// Authorize starts the launch and returns the URL the target window was navigated to.
// If the server declares no authorization endpoint, the URL is the redirect URI itself with the "state" parameter,
// and Complete finishes such launches without requesting tokens.
func (a *Authorizer) Authorize(ctx context.Context, params AuthorizeParams) (string, error) {
	if params.ServerURL == "" {
		return "", fmt.Errorf("%w: server URL is required", ErrInvalidAuthorizeParams)
	}
	if params.RedirectURI == "" {
		return "", fmt.Errorf("%w: redirect URI is required", ErrInvalidAuthorizeParams)
	}
	logger := a.getLogger(ctx)

	uris, err := a.discoverOAuthURIs(ctx, params.ServerURL)
	if err != nil {
		return "", err
	}

	state := &State{
		Key:          uuid.NewString(),
		ServerURL:    params.ServerURL,
		ClientID:     params.ClientID,
		ClientSecret: params.ClientSecret,
		Scope:        params.Scope,
		RedirectURI:  params.RedirectURI,
		AuthorizeURI: uris.Authorize,
		TokenURI:     uris.Token,
	}
	if err = a.storage.Set(ctx, state.Key, state); err != nil {
		return "", fmt.Errorf("save authorization state: %w", err)
	}

	var redirectURL string
	if uris.Authorize == "" {
		logger.Debug("no authorization endpoint declared, redirecting to the app", log.String("server", params.ServerURL))
		redirectURL, err = addQueryParams(params.RedirectURI, url.Values{"state": {state.Key}})
	} else {
		query := url.Values{
			"response_type": {"code"},
			"client_id":     {params.ClientID},
			"scope":         {params.Scope},
			"redirect_uri":  {params.RedirectURI},
			"aud":           {params.ServerURL},
			"state":         {state.Key},
		}
		if params.Launch != "" {
			query.Set("launch", params.Launch)
		}
		redirectURL, err = addQueryParams(uris.Authorize, query)
	}
	if err != nil {
		return "", fmt.Errorf("build authorization URL: %w", err)
	}

	if a.resolver != nil {
		target := params.Target
		if target == nil {
			target = targetwindow.TargetSelf
		}
		if w := a.resolver.GetTargetWindow(ctx, target, params.Width, params.Height); w != nil {
			if err = w.Navigate(redirectURL); err != nil {
				return "", fmt.Errorf("navigate window %q: %w", w.Name(), err)
			}
		}
	}
	logger.Info("authorization started", log.String("state", state.Key), log.String("server", params.ServerURL))
	return redirectURL, nil
}

// Complete handles the redirect back to the app.
// It exchanges the authorization code for tokens and returns the updated state.
func (a *Authorizer) Complete(ctx context.Context, callbackURL string) (*State, error) {
	parsed, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("parse redirect URL: %w", err)
	}
	query := parsed.Query()
	if code := query.Get("error"); code != "" {
		return nil, &OAuthError{Code: code, Description: query.Get("error_description"), URI: query.Get("error_uri")}
	}
	key := query.Get("state")
	if key == "" {
		return nil, ErrMissingState
	}
	state, err := a.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load authorization state %q: %w", key, err)
	}

	code := query.Get("code")
	if code == "" {
		if state.TokenURI == "" {
			return state, nil
		}
		return nil, ErrMissingCode
	}
	if state.TokenURI == "" {
		return nil, ErrNoTokenEndpoint
	}

	tokenResp, err := a.requestToken(ctx, state, url.Values{
		"grant_type":   {grantTypeAuthorizationCode},
		"code":         {code},
		"redirect_uri": {state.RedirectURI},
	})
	if err != nil {
		return nil, err
	}
	state.TokenResponse = tokenResp
	state.ExpiresAt = a.decoder.GetAccessTokenExpiration(tokenResp)
	if err = a.storage.Set(ctx, key, state); err != nil {
		return nil, fmt.Errorf("save authorization state: %w", err)
	}
	a.getLogger(ctx).Infof("(%s): authorization completed, access token expires on %s",
		key, time.Unix(state.ExpiresAt, 0).UTC())
	return state, nil
}

// Refresh renews the access token of the state with its refresh token.
// Concurrent calls for the same key share one token request.
func (a *Authorizer) Refresh(ctx context.Context, key string) (*State, error) {
	result, err, _ := a.sfGroup.Do(key, func() (interface{}, error) {
		return a.refresh(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return result.(*State).clone(), nil
}

func (a *Authorizer) refresh(ctx context.Context, key string) (*State, error) {
	state, err := a.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load authorization state %q: %w", key, err)
	}
	refreshToken := state.TokenResponse.RefreshToken()
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	if state.TokenURI == "" {
		return nil, ErrNoTokenEndpoint
	}

	tokenResp, err := a.requestToken(ctx, state, url.Values{
		"grant_type":    {grantTypeRefreshToken},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		return nil, err
	}
	merged := make(smarttoken.TokenResponse, len(state.TokenResponse)+len(tokenResp))
	for k, v := range state.TokenResponse {
		merged[k] = v
	}
	for k, v := range tokenResp {
		merged[k] = v
	}
	if tokenResp.ExpiresIn() <= 0 {
		delete(merged, "expires_in")
	}
	state.TokenResponse = merged
	state.ExpiresAt = a.decoder.GetAccessTokenExpiration(merged)
	if err = a.storage.Set(ctx, key, state); err != nil {
		return nil, fmt.Errorf("save authorization state: %w", err)
	}
	a.getLogger(ctx).Infof("(%s): access token refreshed, expires on %s", key, time.Unix(state.ExpiresAt, 0).UTC())
	return state, nil
}

// AccessToken returns the access token of the state.
// The token is refreshed first if it expires within the refresh leeway and a refresh token is available.
func (a *Authorizer) AccessToken(ctx context.Context, key string) (string, error) {
	state, err := a.storage.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load authorization state %q: %w", key, err)
	}
	if !state.Authorized() {
		return "", ErrNotAuthorized
	}
	expiresSoon := state.ExpiresAt-a.env.Now().Unix() <= int64(a.refreshLeeway/time.Second)
	if expiresSoon && state.TokenResponse.RefreshToken() != "" {
		if state, err = a.Refresh(ctx, key); err != nil {
			return "", err
		}
	}
	return state.TokenResponse.AccessToken(), nil
}

// BearerRoundTripper returns a round tripper authorizing requests with the access token of the state.
func (a *Authorizer) BearerRoundTripper(delegate http.RoundTripper, key string) *BearerRoundTripper {
	return NewBearerRoundTripper(delegate, func(ctx context.Context) (string, error) {
		return a.AccessToken(ctx, key)
	})
}

func (a *Authorizer) discoverOAuthURIs(ctx context.Context, serverURL string) (conformance.OAuthURIs, error) {
	logger := a.getLogger(ctx)
	smartCfg, err := a.client.FetchSMARTConfiguration(ctx, serverURL, fhirhttp.RequestOpts{})
	if err == nil {
		uris := conformance.OAuthURIs{}
		uris.Authorize, _ = smartCfg["authorization_endpoint"].(string)
		uris.Token, _ = smartCfg["token_endpoint"].(string)
		uris.Register, _ = smartCfg["registration_endpoint"].(string)
		uris.Manage, _ = smartCfg["management_endpoint"].(string)
		uris.Introspect, _ = smartCfg["introspection_endpoint"].(string)
		uris.Revoke, _ = smartCfg["revocation_endpoint"].(string)
		if uris.Authorize != "" || uris.Token != "" {
			return uris, nil
		}
	} else {
		logger.Debug("SMART configuration is not available, falling back to the conformance statement", log.Error(err))
	}

	statement, err := a.client.FetchConformanceStatement(ctx, serverURL, fhirhttp.RequestOpts{})
	if err != nil {
		return conformance.OAuthURIs{}, err
	}
	return conformance.GetSecurityExtensions(statement), nil
}

func (a *Authorizer) requestToken(ctx context.Context, state *State, form url.Values) (smarttoken.TokenResponse, error) {
	grantType := form.Get("grant_type")
	headers := map[string]string{"content-type": "application/x-www-form-urlencoded"}
	if state.ClientSecret != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(state.ClientID + ":" + state.ClientSecret))
		headers["authorization"] = "Basic " + credentials
	} else {
		form.Set("client_id", state.ClientID)
	}

	result, err := a.client.Request(ctx, state.TokenURI, fhirhttp.RequestOpts{
		Method:  http.MethodPost,
		Headers: headers,
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		a.promMetrics.IncTokenRequests(grantType, metrics.TokenRequestResultError)
		return nil, fmt.Errorf("request token (%s): %w", grantType, err)
	}
	body, ok := result.Body.JSON.(map[string]interface{})
	if !ok {
		a.promMetrics.IncTokenRequests(grantType, metrics.TokenRequestResultError)
		return nil, fmt.Errorf("request token (%s): response is not a JSON object", grantType)
	}
	tokenResp := smarttoken.TokenResponse(body)
	if tokenResp.AccessToken() == "" {
		a.promMetrics.IncTokenRequests(grantType, metrics.TokenRequestResultError)
		return nil, fmt.Errorf("request token (%s): %w", grantType, ErrMissingAccessToken)
	}
	a.promMetrics.IncTokenRequests(grantType, metrics.TokenRequestResultOK)
	return tokenResp, nil
}

func (a *Authorizer) getLogger(ctx context.Context) log.FieldLogger {
	return smartutil.GetLoggerFromProvider(ctx, a.loggerProvider, a.logger)
}

func addQueryParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	query := u.Query()
	for k, values := range params {
		query[k] = values
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
