/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirhttp_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acronis/go-appkit/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-smartkit/fhirhttp"
	"github.com/acronis/go-smartkit/internal/metrics"
)

func writeJSON(rw http.ResponseWriter, status int, body string) {
	rw.Header().Set("Content-Type", "application/fhir+json; charset=utf-8")
	rw.WriteHeader(status)
	_, _ = io.WriteString(rw, body)
}

func TestClient_Request(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, `{"resourceType":"Patient","id":"1"}`)
	})
	mux.HandleFunc("/empty-json", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, "")
	})
	mux.HandleFunc("/text", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(rw, "plain text")
	})
	mux.HandleFunc("/binary", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/pdf")
		_, _ = rw.Write([]byte{0x25, 0x50, 0x44, 0x46})
	})
	mux.HandleFunc("/headers", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, fmt.Sprintf(`{"accept":%q,"x-custom":%q,"x-default":%q}`,
			r.Header.Get("Accept"), r.Header.Get("X-Custom"), r.Header.Get("X-Default")))
	})
	mux.HandleFunc("/broken-json", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, `{"resourceType":`)
	})
	mux.HandleFunc("/oauth-error", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(rw, `{"error":"invalid_grant","error_description":"bad code"}`)
	})
	mux.HandleFunc("/text-error", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		rw.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(rw, "maintenance")
	})
	mux.HandleFunc("/broken-error", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusInternalServerError, `{not json`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := fhirhttp.NewClientWithOpts(fhirhttp.ClientOpts{DefaultHeaders: map[string]string{"X-Default": "default"}})
	ctx := context.Background()

	t.Run("json", func(t *testing.T) {
		result, err := client.Request(ctx, server.URL+"/json", fhirhttp.RequestOpts{})
		require.NoError(t, err)
		require.Equal(t, fhirhttp.BodyKindJSON, result.Body.Kind)
		require.Equal(t, map[string]interface{}{"resourceType": "Patient", "id": "1"}, result.Value())
		require.Nil(t, result.Response)
	})

	t.Run("empty json", func(t *testing.T) {
		result, err := client.Request(ctx, server.URL+"/empty-json", fhirhttp.RequestOpts{})
		require.NoError(t, err)
		require.Equal(t, fhirhttp.BodyKindJSON, result.Body.Kind)
		require.True(t, result.Body.IsEmpty())
	})

	t.Run("text", func(t *testing.T) {
		result, err := client.Request(ctx, server.URL+"/text", fhirhttp.RequestOpts{})
		require.NoError(t, err)
		require.Equal(t, "plain text", result.Value())
	})

	t.Run("raw", func(t *testing.T) {
		result, err := client.Request(ctx, server.URL+"/binary", fhirhttp.RequestOpts{})
		require.NoError(t, err)
		require.Equal(t, fhirhttp.BodyKindRaw, result.Body.Kind)
		resp, ok := result.Value().(*http.Response)
		require.True(t, ok)
		defer func() { require.NoError(t, resp.Body.Close()) }()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, []byte("%PDF"), data)
	})

	t.Run("include response", func(t *testing.T) {
		result, err := client.Request(ctx, server.URL+"/json", fhirhttp.RequestOpts{IncludeResponse: true})
		require.NoError(t, err)
		require.NotNil(t, result.Response)
		require.Equal(t, http.StatusOK, result.Response.StatusCode)
	})

	t.Run("headers are merged case-insensitively", func(t *testing.T) {
		result, err := client.Request(ctx, server.URL+"/headers", fhirhttp.RequestOpts{})
		require.NoError(t, err)
		require.Equal(t, map[string]interface{}{
			"accept": "application/json", "x-custom": "", "x-default": "default",
		}, result.Value())

		result, err = client.Request(ctx, server.URL+"/headers", fhirhttp.RequestOpts{Headers: map[string]string{
			"ACCEPT": "application/fhir+json", "X-Custom": "custom", "x-default": "overridden",
		}})
		require.NoError(t, err)
		require.Equal(t, map[string]interface{}{
			"accept": "application/fhir+json", "x-custom": "custom", "x-default": "overridden",
		}, result.Value())
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := client.Request(ctx, server.URL+"/broken-json", fhirhttp.RequestOpts{})
		require.ErrorContains(t, err, "decode response body json")
	})

	t.Run("oauth error", func(t *testing.T) {
		_, err := client.Request(ctx, server.URL+"/oauth-error", fhirhttp.RequestOpts{})
		var httpErr *fhirhttp.HTTPError
		require.ErrorAs(t, err, &httpErr)
		require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		require.Equal(t, server.URL+"/oauth-error", httpErr.URL)
		require.Equal(t, "400 Bad Request\nURL: "+server.URL+"/oauth-error\ninvalid_grant: bad code", err.Error())
	})

	t.Run("text error", func(t *testing.T) {
		_, err := client.Request(ctx, server.URL+"/text-error", fhirhttp.RequestOpts{})
		var httpErr *fhirhttp.HTTPError
		require.ErrorAs(t, err, &httpErr)
		require.Equal(t, "maintenance", httpErr.Body)
	})

	t.Run("unparsable error body is ignored", func(t *testing.T) {
		_, err := client.Request(ctx, server.URL+"/broken-error", fhirhttp.RequestOpts{})
		var httpErr *fhirhttp.HTTPError
		require.ErrorAs(t, err, &httpErr)
		require.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
		require.Nil(t, httpErr.Body)
	})
}

func TestClient_Request_MetricsURLLabel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Patient/", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, `{"resourceType":"Patient"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	const libInstance = "metrics_url_label_test"
	client := fhirhttp.NewClientWithOpts(fhirhttp.ClientOpts{PrometheusLibInstanceLabel: libInstance})
	for _, id := range []string{"pat-1", "pat-2"} {
		_, err := client.Request(context.Background(), server.URL+"/Patient/"+id+"?_format=json", fhirhttp.RequestOpts{})
		require.NoError(t, err)
	}

	promMetrics := metrics.GetPrometheusMetrics(libInstance, metrics.SourceFHIRClient)
	labels := prometheus.Labels{
		metrics.HTTPClientRequestLabelMethod:     http.MethodGet,
		metrics.HTTPClientRequestLabelURL:        server.URL + "/Patient/{id}",
		metrics.HTTPClientRequestLabelStatusCode: "200",
		metrics.HTTPClientRequestLabelError:      "",
	}
	hist := promMetrics.HTTPClientRequestDuration.With(labels).(prometheus.Histogram)
	testutil.AssertSamplesCountInHistogram(t, hist, 2)
}

func TestClient_Request_FollowsLocationOfCreatedResource(t *testing.T) {
	var getCalls atomic.Int32
	var lastGet struct {
		sync.Mutex
		method, custom string
		bodyLen        int
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/Patient", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Location", "/redirect/Patient/1")
		rw.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/redirect/Patient/1", func(rw http.ResponseWriter, r *http.Request) {
		// Chained: another empty "201 Created" pointing to the final location.
		rw.Header().Set("Location", "/Patient/1")
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(rw, "null")
	})
	mux.HandleFunc("/Patient/1", func(rw http.ResponseWriter, r *http.Request) {
		getCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		lastGet.Lock()
		lastGet.method, lastGet.custom, lastGet.bodyLen = r.Method, r.Header.Get("X-Custom"), len(body)
		lastGet.Unlock()
		writeJSON(rw, http.StatusOK, `{"resourceType":"Patient","id":"1"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := fhirhttp.NewClient()
	result, err := client.Request(context.Background(), server.URL+"/Patient", fhirhttp.RequestOpts{
		Method:          http.MethodPost,
		Headers:         map[string]string{"X-Custom": "value"},
		Body:            []byte(`{"resourceType":"Patient"}`),
		IncludeResponse: true,
	})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"resourceType": "Patient", "id": "1"}, result.Value())
	require.Equal(t, http.StatusOK, result.Response.StatusCode)
	require.EqualValues(t, 1, getCalls.Load())

	lastGet.Lock()
	defer lastGet.Unlock()
	require.Equal(t, http.MethodGet, lastGet.method)
	require.Equal(t, "value", lastGet.custom)
	require.Zero(t, lastGet.bodyLen)
}

func TestClient_GetAndCache(t *testing.T) {
	var served atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata", func(rw http.ResponseWriter, r *http.Request) {
		served.Add(1)
		<-release
		writeJSON(rw, http.StatusOK, `{"resourceType":"CapabilityStatement"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	const libInstance = "get_and_cache_test"
	client := fhirhttp.NewClientWithOpts(fhirhttp.ClientOpts{PrometheusLibInstanceLabel: libInstance})
	promMetrics := metrics.GetPrometheusMetrics(libInstance, metrics.SourceFHIRClient)

	const callers = 10
	results := make([]interface{}, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := client.GetAndCache(context.Background(), server.URL+"/metadata", fhirhttp.RequestOpts{}, false)
			errs[i] = err
			if err == nil {
				results[i] = result.Value()
			}
		}(i)
	}
	require.Eventually(t, func() bool { return served.Load() == 1 }, time.Second*5, time.Millisecond*10)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, served.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, map[string]interface{}{"resourceType": "CapabilityStatement"}, results[i])
	}
	require.Equal(t, 1, client.Cache().Len())
	testutil.RequireSamplesCountInCounter(t,
		promMetrics.CacheLookups.WithLabelValues(metrics.CacheLookupResultMiss), 1)

	// Cached.
	_, err := client.GetAndCache(context.Background(), server.URL+"/metadata", fhirhttp.RequestOpts{}, false)
	require.NoError(t, err)
	require.EqualValues(t, 1, served.Load())

	// Forced refresh.
	_, err = client.GetAndCache(context.Background(), server.URL+"/metadata", fhirhttp.RequestOpts{}, true)
	require.NoError(t, err)
	require.EqualValues(t, 2, served.Load())
	testutil.RequireSamplesCountInCounter(t,
		promMetrics.CacheLookups.WithLabelValues(metrics.CacheLookupResultForced), 1)

	// Invalidated.
	client.Cache().Invalidate(server.URL + "/metadata")
	_, err = client.GetAndCache(context.Background(), server.URL+"/metadata", fhirhttp.RequestOpts{}, false)
	require.NoError(t, err)
	require.EqualValues(t, 3, served.Load())
}

func TestClient_GetAndCache_FailuresAreNotCached(t *testing.T) {
	var served atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, http.StatusOK, `{"ok":true}`)
	}))
	defer server.Close()

	client := fhirhttp.NewClient()
	_, err := client.GetAndCache(context.Background(), server.URL, fhirhttp.RequestOpts{}, false)
	var httpErr *fhirhttp.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, 0, client.Cache().Len())

	result, err := client.GetAndCache(context.Background(), server.URL, fhirhttp.RequestOpts{}, false)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"ok": true}, result.Value())
	require.EqualValues(t, 2, served.Load())
}

func TestClient_GetAndCache_RawBodyIsReadableByEveryCaller(t *testing.T) {
	var served atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		served.Add(1)
		rw.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(rw, "attachment")
	}))
	defer server.Close()

	client := fhirhttp.NewClient()
	for i := 0; i < 3; i++ {
		result, err := client.GetAndCache(context.Background(), server.URL, fhirhttp.RequestOpts{}, false)
		require.NoError(t, err)
		data, err := io.ReadAll(result.Body.Raw.Body)
		require.NoError(t, err)
		require.Equal(t, "attachment", string(data))
	}
	require.EqualValues(t, 1, served.Load())
}

func TestClient_GetAndCache_WaiterCancellation(t *testing.T) {
	var served atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		served.Add(1)
		<-release
		writeJSON(rw, http.StatusOK, `{"ok":true}`)
	}))
	defer server.Close()

	client := fhirhttp.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	_, err := client.GetAndCache(ctx, server.URL, fhirhttp.RequestOpts{}, false)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	// The shared fetch goes on and its result is kept.
	close(release)
	result, err := client.GetAndCache(context.Background(), server.URL, fhirhttp.RequestOpts{}, false)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"ok": true}, result.Value())
	require.EqualValues(t, 1, served.Load())
}

func TestClient_FetchConformanceStatement(t *testing.T) {
	var served atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/fhir/metadata", func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			rw.WriteHeader(http.StatusNotAcceptable)
			return
		}
		served.Add(1)
		writeJSON(rw, http.StatusOK, `{"resourceType":"CapabilityStatement","rest":[]}`)
	})
	mux.HandleFunc("/array/metadata", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, `[]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := fhirhttp.NewClient()
	ctx := context.Background()

	for _, baseURL := range []string{server.URL + "/fhir", server.URL + "/fhir/", server.URL + "/fhir//"} {
		statement, err := client.FetchConformanceStatement(ctx, baseURL, fhirhttp.RequestOpts{})
		require.NoError(t, err)
		require.Equal(t, "CapabilityStatement", statement["resourceType"])
	}
	require.EqualValues(t, 1, served.Load())

	t.Run("not found", func(t *testing.T) {
		_, err := client.FetchConformanceStatement(ctx, server.URL+"/missing", fhirhttp.RequestOpts{})
		var fetchErr *fhirhttp.ConformanceFetchError
		require.ErrorAs(t, err, &fetchErr)
		require.Equal(t, server.URL+"/missing/metadata", fetchErr.URL)
		var httpErr *fhirhttp.HTTPError
		require.ErrorAs(t, err, &httpErr)
		require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
		require.Contains(t, err.Error(), "failed to fetch the conformance statement from")
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := client.FetchConformanceStatement(ctx, server.URL+"/array", fhirhttp.RequestOpts{})
		var fetchErr *fhirhttp.ConformanceFetchError
		require.ErrorAs(t, err, &fetchErr)
		require.ErrorIs(t, err, fhirhttp.ErrUnexpectedConformanceBody)
	})
}

func TestJoinURL(t *testing.T) {
	require.Equal(t, "https://fhir.example.com/r4/metadata", fhirhttp.JoinURL("https://fhir.example.com/r4", "metadata"))
	require.Equal(t, "https://fhir.example.com/r4/metadata", fhirhttp.JoinURL("https://fhir.example.com/r4///", "metadata"))
}
