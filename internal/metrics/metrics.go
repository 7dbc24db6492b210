/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metrics

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acronis/go-appkit/lrucache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-smartkit/internal/libinfo"
)

const PrometheusNamespace = "go_smartkit"

const DefaultPrometheusLibInstanceLabel = "default"

const (
	PrometheusLibInstanceLabel = "lib_instance"
	PrometheusLibSourceLabel   = "lib_source"
)

const (
	SourceFHIRClient   = "fhir_client"
	SourceTokenDecoder = "token_decoder"
	SourceAuthorizer   = "authorizer"
)

func PrometheusLabels() prometheus.Labels {
	return prometheus.Labels{"lib_version": libinfo.GetLibVersion()}
}

const (
	HTTPClientRequestLabelMethod     = "method"
	HTTPClientRequestLabelURL        = "url"
	HTTPClientRequestLabelStatusCode = "status_code"
	HTTPClientRequestLabelError      = "error"

	CacheLookupLabelResult = "result"

	TokenRequestLabelGrantType = "grant_type"
	TokenRequestLabelResult    = "result"
)

const (
	HTTPRequestErrorDo                   = "do_request_error"
	HTTPRequestErrorDecodeBody           = "decode_body_error"
	HTTPRequestErrorUnexpectedStatusCode = "unexpected_status_code"
)

const (
	CacheLookupResultHit      = "hit"
	CacheLookupResultMiss     = "miss"
	CacheLookupResultInFlight = "in_flight"
	CacheLookupResultForced   = "forced"
)

const (
	TokenRequestResultOK    = "ok"
	TokenRequestResultError = "error"
)

var requestDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	prometheusMetrics     *PrometheusMetrics
	prometheusMetricsOnce sync.Once
)

// PrometheusMetrics represents the collector of metrics.
type PrometheusMetrics struct {
	HTTPClientRequestDuration *prometheus.HistogramVec
	CacheLookups              *prometheus.CounterVec
	TokenRequests             *prometheus.CounterVec
	TokenClaimsCache          *lrucache.PrometheusMetrics
}

func GetPrometheusMetrics(instance string, source string) *PrometheusMetrics {
	prometheusMetricsOnce.Do(func() {
		prometheusMetrics = newPrometheusMetrics()
		prometheusMetrics.MustRegister()
	})
	if instance == "" {
		instance = DefaultPrometheusLibInstanceLabel
	}
	return prometheusMetrics.MustCurryWith(map[string]string{
		PrometheusLibInstanceLabel: instance,
		PrometheusLibSourceLabel:   source,
	})
}

func newPrometheusMetrics() *PrometheusMetrics {
	curriedLabelNames := []string{PrometheusLibInstanceLabel, PrometheusLibSourceLabel}
	makeLabelNames := func(names ...string) []string {
		l := append(make([]string, 0, len(curriedLabelNames)+len(names)), curriedLabelNames...)
		return append(l, names...)
	}

	httpClientReqDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   PrometheusNamespace,
			Name:        "http_client_request_duration_seconds",
			Help:        "A histogram of the http client request durations to FHIR and authorization servers.",
			Buckets:     requestDurationBuckets,
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(HTTPClientRequestLabelMethod, HTTPClientRequestLabelURL,
			HTTPClientRequestLabelStatusCode, HTTPClientRequestLabelError),
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "cache_lookups_total",
			Help:        "A counter of the per-URL response cache lookups.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(CacheLookupLabelResult),
	)
	tokenRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "token_requests_total",
			Help:        "A counter of the requests to the token endpoint of authorization servers.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(TokenRequestLabelGrantType, TokenRequestLabelResult),
	)

	tokenClaimsCache := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace:         PrometheusNamespace + "_token_claims",
		ConstLabels:       PrometheusLabels(),
		CurriedLabelNames: curriedLabelNames,
	})

	return &PrometheusMetrics{
		HTTPClientRequestDuration: httpClientReqDuration,
		CacheLookups:              cacheLookups,
		TokenRequests:             tokenRequests,
		TokenClaimsCache:          tokenClaimsCache,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		HTTPClientRequestDuration: pm.HTTPClientRequestDuration.MustCurryWith(labels).(*prometheus.HistogramVec),
		CacheLookups:              pm.CacheLookups.MustCurryWith(labels),
		TokenRequests:             pm.TokenRequests.MustCurryWith(labels),
		TokenClaimsCache:          pm.TokenClaimsCache.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.HTTPClientRequestDuration,
		pm.CacheLookups,
		pm.TokenRequests,
	)
	pm.TokenClaimsCache.MustRegister()
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.HTTPClientRequestDuration)
	prometheus.Unregister(pm.CacheLookups)
	prometheus.Unregister(pm.TokenRequests)
	pm.TokenClaimsCache.Unregister()
}

func (pm *PrometheusMetrics) ObserveHTTPClientRequest(
	method string, targetURL string, statusCode int, elapsed time.Duration, errorType string,
) {
	pm.HTTPClientRequestDuration.With(prometheus.Labels{
		HTTPClientRequestLabelMethod:     method,
		HTTPClientRequestLabelURL:        URLLabel(targetURL),
		HTTPClientRequestLabelStatusCode: strconv.Itoa(statusCode),
		HTTPClientRequestLabelError:      errorType,
	}).Observe(elapsed.Seconds())
}

func (pm *PrometheusMetrics) IncCacheLookups(result string) {
	pm.CacheLookups.With(prometheus.Labels{CacheLookupLabelResult: result}).Inc()
}

func (pm *PrometheusMetrics) IncTokenRequests(grantType string, result string) {
	pm.TokenRequests.With(prometheus.Labels{
		TokenRequestLabelGrantType: grantType,
		TokenRequestLabelResult:    result,
	}).Inc()
}

// URLLabel reduces the request URL to a value with bounded cardinality:
// query, fragment and user info are dropped, resource ids that follow a resource type
// are replaced with "{id}" and history versions with "{vid}".
// For example, "https://fhir.example.com/r4/Patient/123/_history/2?_format=json"
// becomes "https://fhir.example.com/r4/Patient/{id}/_history/{vid}".
func URLLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	segments := strings.Split(u.Path, "/")
	for i := 1; i < len(segments); i++ {
		prev, seg := segments[i-1], segments[i]
		if seg == "" || seg[0] == '_' || seg[0] == '$' {
			continue
		}
		switch {
		case prev == "_history":
			segments[i] = "{vid}"
		case isResourceType(prev):
			segments[i] = "{id}"
		}
	}
	return u.Scheme + "://" + u.Host + strings.Join(segments, "/")
}

func isResourceType(seg string) bool {
	return seg != "" && seg[0] >= 'A' && seg[0] <= 'Z'
}
