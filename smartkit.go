/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartkit

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-smartkit/fhirhttp"
	"github.com/acronis/go-smartkit/internal/smartutil"
	"github.com/acronis/go-smartkit/smartauth"
	"github.com/acronis/go-smartkit/smarttoken"
	"github.com/acronis/go-smartkit/targetwindow"
)

// NewFHIRClient creates a new fhirhttp.Client with the given configuration.
func NewFHIRClient(cfg *Config, opts ...FHIRClientOption) *fhirhttp.Client {
	var options fhirClientOptions
	for _, opt := range opts {
		opt(&options)
	}
	logger := smartutil.PrepareLogger(options.logger)
	return fhirhttp.NewClientWithOpts(fhirhttp.ClientOpts{
		HTTPClient: smartutil.MakeDefaultHTTPClient(
			time.Duration(cfg.HTTPClient.RequestTimeout), cfg.HTTPClient.MaxRetryAttempts, logger),
		Logger:                     options.logger,
		DefaultHeaders:             cfg.HTTPClient.DefaultHeaders,
		PrometheusLibInstanceLabel: options.prometheusLibInstanceLabel,
	})
}

type fhirClientOptions struct {
	logger                     log.FieldLogger
	prometheusLibInstanceLabel string
}

// FHIRClientOption is an option for creating fhirhttp.Client.
type FHIRClientOption func(options *fhirClientOptions)

// WithFHIRClientLogger sets the logger for fhirhttp.Client.
func WithFHIRClientLogger(logger log.FieldLogger) FHIRClientOption {
	return func(options *fhirClientOptions) {
		options.logger = logger
	}
}

// WithFHIRClientPrometheusLibInstanceLabel sets the Prometheus lib instance label for fhirhttp.Client.
func WithFHIRClientPrometheusLibInstanceLabel(label string) FHIRClientOption {
	return func(options *fhirClientOptions) {
		options.prometheusLibInstanceLabel = label
	}
}

// NewTokenDecoder creates a new smarttoken.Decoder with the given configuration.
// If cfg.TokenDecoder.ClaimsCache.Enabled is false, decoded claims are not cached.
func NewTokenDecoder(cfg *Config, opts ...TokenDecoderOption) (*smarttoken.Decoder, error) {
	var options tokenDecoderOptions
	for _, opt := range opts {
		opt(&options)
	}
	decoder, err := smarttoken.NewDecoderWithOpts(smarttoken.DecoderOpts{
		Env:                        options.env,
		CacheDisabled:              !cfg.TokenDecoder.ClaimsCache.Enabled,
		CacheMaxEntries:            cfg.TokenDecoder.ClaimsCache.MaxEntries,
		PrometheusLibInstanceLabel: options.prometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("new token decoder: %w", err)
	}
	return decoder, nil
}

type tokenDecoderOptions struct {
	env                        smarttoken.Env
	prometheusLibInstanceLabel string
}

// TokenDecoderOption is an option for creating smarttoken.Decoder.
type TokenDecoderOption func(options *tokenDecoderOptions)

// WithTokenDecoderEnv sets the environment (base64 decoding and clock) for smarttoken.Decoder.
func WithTokenDecoderEnv(env smarttoken.Env) TokenDecoderOption {
	return func(options *tokenDecoderOptions) {
		options.env = env
	}
}

// WithTokenDecoderPrometheusLibInstanceLabel sets the Prometheus lib instance label for smarttoken.Decoder.
func WithTokenDecoderPrometheusLibInstanceLabel(label string) TokenDecoderOption {
	return func(options *tokenDecoderOptions) {
		options.prometheusLibInstanceLabel = label
	}
}

// NewTargetWindowResolver creates a new targetwindow.Resolver for the window namespace.
func NewTargetWindowResolver(ns targetwindow.Namespace, logger log.FieldLogger) *targetwindow.Resolver {
	return targetwindow.NewResolverWithOpts(ns, targetwindow.ResolverOpts{Logger: logger})
}

// NewAuthorizer creates a new smartauth.Authorizer with the given configuration.
// The FHIR client and the token decoder are created from the same configuration.
// Without a window namespace the authorizer only builds authorization URLs.
func NewAuthorizer(cfg *Config, opts ...AuthorizerOption) (*smartauth.Authorizer, error) {
	options := authorizerOptions{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}

	client := NewFHIRClient(cfg,
		WithFHIRClientLogger(options.logger),
		WithFHIRClientPrometheusLibInstanceLabel(options.prometheusLibInstanceLabel))
	decoder, err := NewTokenDecoder(cfg,
		WithTokenDecoderEnv(options.env),
		WithTokenDecoderPrometheusLibInstanceLabel(options.prometheusLibInstanceLabel))
	if err != nil {
		return nil, err
	}
	var resolver *targetwindow.Resolver
	if options.namespace != nil {
		resolver = NewTargetWindowResolver(options.namespace, options.logger)
	}

	return smartauth.NewAuthorizerWithOpts(smartauth.AuthorizerOpts{
		Client:                     client,
		Storage:                    options.storage,
		Resolver:                   resolver,
		TokenDecoder:               decoder,
		Env:                        options.env,
		RefreshLeeway:              time.Duration(cfg.Authorization.RefreshLeeway),
		Logger:                     options.logger,
		LoggerProvider:             options.loggerProvider,
		PrometheusLibInstanceLabel: options.prometheusLibInstanceLabel,
	})
}

type authorizerOptions struct {
	logger                     log.FieldLogger
	loggerProvider             func(ctx context.Context) log.FieldLogger
	storage                    smartauth.Storage
	namespace                  targetwindow.Namespace
	env                        smarttoken.Env
	prometheusLibInstanceLabel string
}

// AuthorizerOption is an option for creating smartauth.Authorizer.
type AuthorizerOption func(options *authorizerOptions)

// WithAuthorizerLogger sets the logger used when the request context carries no logger.
func WithAuthorizerLogger(logger log.FieldLogger) AuthorizerOption {
	return func(options *authorizerOptions) {
		options.logger = logger
	}
}

// WithAuthorizerLoggerProvider sets the logger provider for smartauth.Authorizer.
func WithAuthorizerLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) AuthorizerOption {
	return func(options *authorizerOptions) {
		options.loggerProvider = loggerProvider
	}
}

// WithAuthorizerStorage sets the storage of authorization states.
func WithAuthorizerStorage(storage smartauth.Storage) AuthorizerOption {
	return func(options *authorizerOptions) {
		options.storage = storage
	}
}

// WithAuthorizerNamespace sets the window namespace the authorization endpoint is opened in.
func WithAuthorizerNamespace(ns targetwindow.Namespace) AuthorizerOption {
	return func(options *authorizerOptions) {
		options.namespace = ns
	}
}

// WithAuthorizerEnv sets the environment (base64 decoding and clock) for smartauth.Authorizer.
func WithAuthorizerEnv(env smarttoken.Env) AuthorizerOption {
	return func(options *authorizerOptions) {
		options.env = env
	}
}

// WithAuthorizerPrometheusLibInstanceLabel sets the Prometheus lib instance label for smartauth.Authorizer.
func WithAuthorizerPrometheusLibInstanceLabel(label string) AuthorizerOption {
	return func(options *authorizerOptions) {
		options.prometheusLibInstanceLabel = label
	}
}
