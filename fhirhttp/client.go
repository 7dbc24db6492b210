/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-smartkit/internal/metrics"
	"github.com/acronis/go-smartkit/internal/smartutil"
)

const (
	// MetadataPath is appended to the FHIR server base URL to get the conformance statement.
	MetadataPath = "metadata"

	// SMARTConfigurationPath is appended to the FHIR server base URL to get the SMART configuration.
	SMARTConfigurationPath = ".well-known/smart-configuration"
)

const defaultAcceptHeader = "application/json"

// ClientOpts contains options for the Client.
type ClientOpts struct {
	// HTTPClient is an HTTP client for making requests.
	HTTPClient *http.Client

	// Logger is a logger for the client.
	Logger log.FieldLogger

	// DefaultHeaders are sent with every request. Header names are case-insensitive.
	// Headers passed in RequestOpts take precedence.
	DefaultHeaders map[string]string

	// Cache is used by GetAndCache. A new empty cache is created if not specified.
	Cache *Cache

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// RequestOpts describes a single request.
type RequestOpts struct {
	// Method is an HTTP method. GET is used if empty.
	Method string

	// Headers are merged case-insensitively over the default "accept: application/json".
	Headers map[string]string

	// Body is a request body.
	Body []byte

	// IncludeResponse makes Result.Response set to the final HTTP response.
	IncludeResponse bool
}

// Client performs requests to FHIR and SMART authorization servers.
type Client struct {
	httpClient     *http.Client
	logger         log.FieldLogger
	defaultHeaders map[string]string
	cache          *Cache
	promMetrics    *metrics.PrometheusMetrics
}

// NewClient returns a new Client.
func NewClient() *Client {
	return NewClientWithOpts(ClientOpts{})
}

// NewClientWithOpts returns a new Client with options.
func NewClientWithOpts(opts ClientOpts) *Client {
	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceFHIRClient)
	opts.Logger = smartutil.PrepareLogger(opts.Logger)
	if opts.HTTPClient == nil {
		opts.HTTPClient = smartutil.MakeDefaultHTTPClient(smartutil.DefaultHTTPRequestTimeout, 0, opts.Logger)
	}
	if opts.Cache == nil {
		opts.Cache = NewCacheWithOpts(CacheOpts{PrometheusLibInstanceLabel: opts.PrometheusLibInstanceLabel})
	}
	defaultHeaders := make(map[string]string, len(opts.DefaultHeaders))
	for k, v := range opts.DefaultHeaders {
		defaultHeaders[strings.ToLower(k)] = v
	}
	return &Client{
		httpClient:     opts.HTTPClient,
		logger:         opts.Logger,
		defaultHeaders: defaultHeaders,
		cache:          opts.Cache,
		promMetrics:    promMetrics,
	}
}

// Cache returns the cache used by GetAndCache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Request sends the request and interprets the response.
// Non-2xx responses are returned as *HTTPError.
// JSON bodies are decoded, text bodies are read, other bodies are left unread in Result.Body.Raw
// and must be closed by the caller.
// A "201 Created" response with an empty body and a Location header is replaced
// by the result of GET Location sent with the same headers.
func (c *Client) Request(ctx context.Context, rawURL string, opts RequestOpts) (*Result, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	headers := c.mergeHeaders(opts.Headers)

	resp, err := c.do(ctx, method, rawURL, headers, opts.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.newHTTPError(method, rawURL, resp)
	}

	body, err := c.readBody(method, rawURL, resp)
	if err != nil {
		c.promMetrics.ObserveHTTPClientRequest(method, rawURL, resp.StatusCode, 0, metrics.HTTPRequestErrorDecodeBody)
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}

	location := resp.Header.Get("Location")
	if ShouldFollowLocation(resp.StatusCode, body, location) {
		if body.Kind == BodyKindRaw {
			c.closeBody(method, rawURL, resp)
		}
		locationURL, resolveErr := resolveLocation(rawURL, location)
		if resolveErr != nil {
			return nil, fmt.Errorf("resolve location %q: %w", location, resolveErr)
		}
		c.logger.Debug(fmt.Sprintf("%s %s: created, following location %s", method, rawURL, locationURL))
		return c.Request(ctx, locationURL, RequestOpts{
			Method:          http.MethodGet,
			Headers:         opts.Headers,
			IncludeResponse: opts.IncludeResponse,
		})
	}

	result := &Result{Body: body}
	if opts.IncludeResponse {
		result.Response = resp
	}
	return result, nil
}

// GetAndCache works like Request but memoizes the result per URL.
// Concurrent calls for the same URL share one request. If force is true, the cached entry is refreshed.
// Raw bodies are read into memory before caching, and every caller gets its own reader.
func (c *Client) GetAndCache(ctx context.Context, rawURL string, opts RequestOpts, force bool) (*Result, error) {
	return c.cache.Get(ctx, rawURL, func(ctx context.Context) (*Result, error) {
		result, err := c.Request(ctx, rawURL, opts)
		if err != nil {
			return nil, err
		}
		if err = result.buffer(); err != nil {
			return nil, fmt.Errorf("%s: %w", rawURL, err)
		}
		return result, nil
	}, force)
}

// FetchConformanceStatement returns the (cached) conformance statement of the FHIR server.
// Any failure is returned as *ConformanceFetchError.
func (c *Client) FetchConformanceStatement(
	ctx context.Context, baseURL string, opts RequestOpts,
) (map[string]interface{}, error) {
	metadataURL := JoinURL(baseURL, MetadataPath)
	result, err := c.GetAndCache(ctx, metadataURL, opts, false)
	if err != nil {
		return nil, &ConformanceFetchError{URL: metadataURL, Inner: err}
	}
	statement, ok := result.Body.JSON.(map[string]interface{})
	if !ok {
		return nil, &ConformanceFetchError{URL: metadataURL, Inner: ErrUnexpectedConformanceBody}
	}
	return statement, nil
}

// FetchSMARTConfiguration returns the (cached) SMART configuration
// published by the server at the .well-known/smart-configuration endpoint.
func (c *Client) FetchSMARTConfiguration(
	ctx context.Context, baseURL string, opts RequestOpts,
) (map[string]interface{}, error) {
	configURL := JoinURL(baseURL, SMARTConfigurationPath)
	result, err := c.GetAndCache(ctx, configURL, opts, false)
	if err != nil {
		return nil, fmt.Errorf("get SMART configuration from %q: %w", configURL, err)
	}
	cfg, ok := result.Body.JSON.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("get SMART configuration from %q: response is not a JSON object", configURL)
	}
	return cfg, nil
}

// JoinURL appends the path to the base URL, which is normalized to end with exactly one slash.
func JoinURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + path
}

func (c *Client) mergeHeaders(headers map[string]string) map[string]string {
	merged := make(map[string]string, len(c.defaultHeaders)+len(headers)+1)
	merged["accept"] = defaultAcceptHeader
	for k, v := range c.defaultHeaders {
		merged[k] = v
	}
	for k, v := range headers {
		merged[strings.ToLower(k)] = v
	}
	return merged
}

func (c *Client) do(
	ctx context.Context, method, rawURL string, headers map[string]string, body []byte,
) (*http.Response, error) {
	var bodyReader io.Reader = http.NoBody
	if len(body) != 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(startTime)
	if err != nil {
		c.promMetrics.ObserveHTTPClientRequest(method, rawURL, 0, elapsed, metrics.HTTPRequestErrorDo)
		return nil, fmt.Errorf("do request %s %s: %w", method, rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.promMetrics.ObserveHTTPClientRequest(
			method, rawURL, resp.StatusCode, elapsed, metrics.HTTPRequestErrorUnexpectedStatusCode)
	} else {
		c.promMetrics.ObserveHTTPClientRequest(method, rawURL, resp.StatusCode, elapsed, "")
	}
	return resp, nil
}

func (c *Client) readBody(method, rawURL string, resp *http.Response) (Body, error) {
	kind := ClassifyContentType(resp.Header.Get("Content-Type"))
	if kind == BodyKindRaw {
		return Body{Kind: BodyKindRaw, Raw: resp}, nil
	}
	defer c.closeBody(method, rawURL, resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Body{}, fmt.Errorf("read response body: %w", err)
	}
	if kind == BodyKindText {
		return Body{Kind: BodyKindText, Text: string(data)}, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Body{Kind: BodyKindJSON}, nil
	}
	var value interface{}
	if err = json.Unmarshal(data, &value); err != nil {
		return Body{}, fmt.Errorf("decode response body json: %w", err)
	}
	return Body{Kind: BodyKindJSON, JSON: value}, nil
}

// newHTTPError consumes the response body and parses it if possible. Parsing errors are ignored.
func (c *Client) newHTTPError(method, rawURL string, resp *http.Response) *HTTPError {
	defer c.closeBody(method, rawURL, resp)

	httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL, Header: resp.Header}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("reading error response body for %s", rawURL), log.Error(err))
		return httpErr
	}
	switch ClassifyContentType(resp.Header.Get("Content-Type")) {
	case BodyKindJSON:
		var value interface{}
		if json.Unmarshal(data, &value) == nil {
			httpErr.Body = value
		}
	case BodyKindText:
		httpErr.Body = string(data)
	}
	return httpErr
}

func (c *Client) closeBody(method, rawURL string, resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Error(fmt.Sprintf("closing response body error for %s %s", method, rawURL), log.Error(err))
	}
}

func resolveLocation(requestURL, location string) (string, error) {
	base, err := url.Parse(requestURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
