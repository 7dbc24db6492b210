/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartkit

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/acronis/go-smartkit/internal/smartutil"
	"github.com/acronis/go-smartkit/smartauth"
)

// Launch callback error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeAuthorizationDenied = "authorizationDenied"
	ErrCodeInvalidLaunchState  = "invalidLaunchState"
	ErrCodeTokenExchangeFailed = "tokenExchangeFailed"
)

// Launch callback error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageAuthorizationDenied = "Authorization is denied by the authorization server."
	ErrMessageInvalidLaunchState  = "Launch state is missing or unknown."
	ErrMessageTokenExchangeFailed = "Authorization code cannot be exchanged for an access token."
)

type ctxKey int

const (
	ctxKeyLaunchState ctxKey = iota
)

// LaunchCompleter completes the launch by the URL the authorization server redirected to.
type LaunchCompleter interface {
	Complete(ctx context.Context, callbackURL string) (*smartauth.State, error)
}

type launchCallbackHandler struct {
	next           http.Handler
	errorDomain    string
	completer      LaunchCompleter
	loggerProvider func(ctx context.Context) log.FieldLogger
}

type launchCallbackMiddlewareOpts struct {
	loggerProvider func(ctx context.Context) log.FieldLogger
}

// LaunchCallbackMiddlewareOption is an option for LaunchCallbackMiddleware.
type LaunchCallbackMiddlewareOption func(options *launchCallbackMiddlewareOpts)

// WithLaunchCallbackMiddlewareLoggerProvider is an option to set a logger provider for LaunchCallbackMiddleware.
func WithLaunchCallbackMiddlewareLoggerProvider(
	loggerProvider func(ctx context.Context) log.FieldLogger,
) LaunchCallbackMiddlewareOption {
	return func(options *launchCallbackMiddlewareOpts) {
		options.loggerProvider = loggerProvider
	}
}

// LaunchCallbackMiddleware is a middleware for the redirect URI of the app.
// It completes the launch (exchanges the authorization code for an access token)
// and puts the resulting smartauth.State into the request context.
// errorDomain is used for error responses, for example if the user denied the authorization:
//
//	{"error": {"domain": "MyApp", "code": "authorizationDenied", "message": "Authorization is denied by the authorization server."}}
func LaunchCallbackMiddleware(
	errorDomain string, completer LaunchCompleter, opts ...LaunchCallbackMiddlewareOption,
) func(next http.Handler) http.Handler {
	options := launchCallbackMiddlewareOpts{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}
	return func(next http.Handler) http.Handler {
		return &launchCallbackHandler{
			next:           next,
			errorDomain:    errorDomain,
			completer:      completer,
			loggerProvider: options.loggerProvider,
		}
	}
}

func (h *launchCallbackHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := smartutil.GetLoggerFromProvider(r.Context(), h.loggerProvider, nil)

	state, err := h.completer.Complete(r.Context(), r.URL.String())
	if err != nil {
		var oauthErr *smartauth.OAuthError
		switch {
		case errors.As(err, &oauthErr):
			logger.Warn("authorization denied", log.Error(err))
			apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthorizationDenied, ErrMessageAuthorizationDenied)
			restapi.RespondError(rw, http.StatusForbidden, apiErr, logger)
		case errors.Is(err, smartauth.ErrMissingState), errors.Is(err, smartauth.ErrStateNotFound),
			errors.Is(err, smartauth.ErrMissingCode):
			logger.Warn("invalid launch state", log.Error(err))
			apiErr := restapi.NewError(h.errorDomain, ErrCodeInvalidLaunchState, ErrMessageInvalidLaunchState)
			restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		default:
			logger.Error("token exchange failed", log.Error(err))
			apiErr := restapi.NewError(h.errorDomain, ErrCodeTokenExchangeFailed, ErrMessageTokenExchangeFailed)
			restapi.RespondError(rw, http.StatusBadGateway, apiErr, logger)
		}
		return
	}

	h.next.ServeHTTP(rw, r.WithContext(NewContextWithLaunchState(r.Context(), state)))
}

// NewContextWithLaunchState creates a new context with the launch state.
func NewContextWithLaunchState(ctx context.Context, state *smartauth.State) context.Context {
	return context.WithValue(ctx, ctxKeyLaunchState, state)
}

// GetLaunchStateFromContext extracts the launch state from the context.
func GetLaunchStateFromContext(ctx context.Context) *smartauth.State {
	value := ctx.Value(ctxKeyLaunchState)
	if value == nil {
		return nil
	}
	return value.(*smartauth.State)
}
