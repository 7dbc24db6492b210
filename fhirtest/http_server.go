/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirtest

import (
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

const (
	MetadataPath           = "/metadata"
	SMARTConfigurationPath = "/.well-known/smart-configuration"
	AuthorizeEndpointPath  = "/auth/authorize"
	TokenEndpointPath      = "/auth/token" // nolint:gosec // This server is used for testing purposes only.
)

const localhostWithDynamicPortAddr = "127.0.0.1:0"

// HTTPServerOption is an option for HTTPServer.
type HTTPServerOption func(s *HTTPServer)

// WithHTTPAddress is an option to set HTTP server address.
func WithHTTPAddress(addr string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.addr.Store(addr)
	}
}

// WithHTTPMiddleware is an option to wrap the router with the middleware.
func WithHTTPMiddleware(mw func(http.Handler) http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.middleware = mw
	}
}

// WithConformanceStatement is an option to serve the given conformance statement instead of the default one.
func WithConformanceStatement(statement map[string]interface{}) HTTPServerOption {
	return func(s *HTTPServer) {
		s.statement = statement
	}
}

// WithoutSMARTConfiguration is an option to respond 404 to SMART configuration discovery requests,
// so clients have to read the OAuth endpoints from the conformance statement.
func WithoutSMARTConfiguration() HTTPServerOption {
	return func(s *HTTPServer) {
		s.SMARTConfigurationHandler.Disabled = true
	}
}

// WithClientSecret is an option to register a confidential client.
func WithClientSecret(clientID, secret string) HTTPServerOption {
	return func(s *HTTPServer) {
		if s.TokenHandler.ClientSecrets == nil {
			s.TokenHandler.ClientSecrets = make(map[string]string)
		}
		s.TokenHandler.ClientSecrets[clientID] = secret
	}
}

// WithTokenExpiresIn is an option to set the lifetime of issued access tokens.
func WithTokenExpiresIn(expiresIn time.Duration) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenHandler.ExpiresIn = expiresIn
	}
}

// WithBearerTokenRequired is an option to protect the resource endpoints with issued access tokens.
func WithBearerTokenRequired() HTTPServerOption {
	return func(s *HTTPServer) {
		s.ResourceHandler.RequireBearerToken = true
	}
}

// HTTPServer is a mock FHIR server with SMART authorization endpoints for testing purposes.
type HTTPServer struct {
	*http.Server
	addr                      atomic.Value
	middleware                func(http.Handler) http.Handler
	statement                 map[string]interface{}
	MetadataHandler           *MetadataHandler
	SMARTConfigurationHandler *SMARTConfigurationHandler
	AuthorizeHandler          *AuthorizeHandler
	TokenHandler              *TokenHandler
	ResourceHandler           *ResourceHandler
	Router                    *chi.Mux
	afterListenCallbacks      []func()
}

// NewHTTPServer creates a new HTTPServer with provided options.
func NewHTTPServer(options ...HTTPServerOption) *HTTPServer {
	grants := newGrantStore()
	s := &HTTPServer{
		MetadataHandler:           &MetadataHandler{},
		SMARTConfigurationHandler: &SMARTConfigurationHandler{},
		AuthorizeHandler:          &AuthorizeHandler{grants: grants},
		TokenHandler:              &TokenHandler{grants: grants},
		ResourceHandler: &ResourceHandler{loggerProvider: func(r *http.Request) log.FieldLogger {
			return middleware.GetLoggerFromContext(r.Context())
		}},
	}
	for _, opt := range options {
		opt(s)
	}

	s.afterListenCallbacks = append(s.afterListenCallbacks, func() {
		s.SMARTConfigurationHandler.AuthorizationEndpoint = s.URL() + AuthorizeEndpointPath
		s.SMARTConfigurationHandler.TokenEndpoint = s.URL() + TokenEndpointPath
		s.TokenHandler.Issuer = s.URL()
		if s.statement == nil {
			s.statement = NewConformanceStatement(
				DefaultResourceSearchParams, s.URL()+AuthorizeEndpointPath, s.URL()+TokenEndpointPath)
		}
		s.MetadataHandler.SetStatement(s.statement)
	})

	s.Router = chi.NewRouter()
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}))
	s.Router.Method(http.MethodGet, MetadataPath, s.MetadataHandler)
	s.Router.Method(http.MethodGet, SMARTConfigurationPath, s.SMARTConfigurationHandler)
	s.Router.Method(http.MethodGet, AuthorizeEndpointPath, s.AuthorizeHandler)
	s.Router.Handle(TokenEndpointPath, s.TokenHandler)
	s.Router.Post("/{resourceType}", s.ResourceHandler.create)
	s.Router.Get("/{resourceType}/{id}", s.ResourceHandler.read)

	// nolint:gosec // This server is used for testing purposes only.
	s.Server = &http.Server{Handler: s.Router}
	if s.middleware != nil {
		s.Server.Handler = s.middleware(s.Router)
	}

	return s
}

// URL method returns the URL of the server.
func (s *HTTPServer) URL() string {
	if srvURL := s.addr.Load(); srvURL != nil {
		return "http://" + srvURL.(string)
	}
	return ""
}

// Start starts the HTTPServer.
func (s *HTTPServer) Start() error {
	addr, ok := s.addr.Load().(string)
	if !ok {
		addr = localhostWithDynamicPortAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.addr.Store(ln.Addr().String())

	for _, cb := range s.afterListenCallbacks {
		cb()
	}

	go func() { _ = s.Server.Serve(ln) }()

	return nil
}

// StartAndWaitForReady starts the server waits for the server to start listening.
func (s *HTTPServer) StartAndWaitForReady(timeout time.Duration) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return testutil.WaitListeningServer(s.addr.Load().(string), timeout)
}
