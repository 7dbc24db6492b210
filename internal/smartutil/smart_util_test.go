/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/acronis/go-appkit/log"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-smartkit/internal/libinfo"
)

func TestMakeDefaultHTTPClient(t *testing.T) {
	userAgents := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		userAgents <- r.UserAgent()
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := MakeDefaultHTTPClient(0, 0, nil)
	require.Equal(t, DefaultHTTPRequestTimeout, client.Timeout)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.True(t, strings.HasPrefix(<-userAgents, libinfo.LibName+"/"))
}

func TestGetLoggerFromProvider(t *testing.T) {
	ctx := context.Background()
	fallback := log.NewDisabledLogger()

	require.NotNil(t, GetLoggerFromProvider(ctx, nil, nil))
	require.Equal(t, fallback, GetLoggerFromProvider(ctx, nil, fallback))

	nilProvider := func(context.Context) log.FieldLogger { return nil }
	require.Equal(t, fallback, GetLoggerFromProvider(ctx, nilProvider, fallback))

	ctxLogger := log.NewDisabledLogger()
	provider := func(context.Context) log.FieldLogger { return ctxLogger }
	logger := GetLoggerFromProvider(ctx, provider, fallback)
	require.NotNil(t, logger)
	require.NotEqual(t, fallback, logger)
}
