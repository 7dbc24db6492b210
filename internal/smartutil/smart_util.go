/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartutil

import (
	"context"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-smartkit/internal/libinfo"
)

const DefaultHTTPRequestTimeout = 30 * time.Second

// MakeDefaultHTTPClient creates an HTTP client that sets the library User-Agent.
// Retries are disabled unless maxRetryAttempts is positive.
func MakeDefaultHTTPClient(reqTimeout time.Duration, maxRetryAttempts int, logger log.FieldLogger) *http.Client {
	if reqTimeout == 0 {
		reqTimeout = DefaultHTTPRequestTimeout
	}
	var tr http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if maxRetryAttempts > 0 {
		tr, _ = httpclient.NewRetryableRoundTripperWithOpts(tr, httpclient.RetryableRoundTripperOpts{
			MaxRetryAttempts: maxRetryAttempts, Logger: logger}) // error is always nil
	}
	tr = httpclient.NewUserAgentRoundTripper(tr, libinfo.UserAgent())
	return &http.Client{Timeout: reqTimeout, Transport: tr}
}

func PrepareLogger(logger log.FieldLogger) log.FieldLogger {
	if logger == nil {
		return log.NewDisabledLogger()
	}
	return log.NewPrefixedLogger(logger, libinfo.LogPrefix())
}

// GetLoggerFromProvider returns a prefixed logger from the provider.
// The fallback is returned as is when the provider is nil or has no logger for the context.
func GetLoggerFromProvider(
	ctx context.Context, provider func(ctx context.Context) log.FieldLogger, fallback log.FieldLogger,
) log.FieldLogger {
	if provider != nil {
		if logger := provider(ctx); logger != nil {
			return PrepareLogger(logger)
		}
	}
	if fallback == nil {
		return log.NewDisabledLogger()
	}
	return fallback
}
