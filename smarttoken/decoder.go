/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smarttoken

import (
	"crypto/sha256"

	"github.com/acronis/go-appkit/lrucache"
	jwtgo "github.com/golang-jwt/jwt/v5"

	"github.com/acronis/go-smartkit/internal/metrics"
)

const DefaultClaimsCacheMaxEntries = 1000

// DecoderOpts contains options for Decoder.
type DecoderOpts struct {
	// Env is used for decoding and time calculations. DefaultEnv is used if not specified.
	Env Env

	// CacheDisabled turns off caching of decoded claims.
	CacheDisabled bool

	// CacheMaxEntries is a maximum number of decoded claims kept in the cache.
	// DefaultClaimsCacheMaxEntries is used if not specified.
	CacheMaxEntries int

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// ClaimsCache is an interface that must be implemented by used cache implementations.
type ClaimsCache interface {
	Get(key [sha256.Size]byte) (jwtgo.MapClaims, bool)
	Add(key [sha256.Size]byte, claims jwtgo.MapClaims)
	Purge()
	Len() int
}

// Decoder decodes JWT claims like JWTDecode and keeps the results in an LRU cache keyed by the token hash.
// Claims returned by Decoder are shared and must not be modified.
type Decoder struct {
	env         Env
	ClaimsCache ClaimsCache
}

// NewDecoder creates a new Decoder with default options.
func NewDecoder() (*Decoder, error) {
	return NewDecoderWithOpts(DecoderOpts{})
}

// NewDecoderWithOpts creates a new Decoder with the given options.
func NewDecoderWithOpts(opts DecoderOpts) (*Decoder, error) {
	if opts.Env == nil {
		opts.Env = DefaultEnv
	}
	d := &Decoder{env: opts.Env}
	if opts.CacheDisabled {
		return d, nil
	}
	if opts.CacheMaxEntries == 0 {
		opts.CacheMaxEntries = DefaultClaimsCacheMaxEntries
	}
	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceTokenDecoder)
	cache, err := lrucache.New[[sha256.Size]byte, jwtgo.MapClaims](opts.CacheMaxEntries, promMetrics.TokenClaimsCache)
	if err != nil {
		return nil, err
	}
	d.ClaimsCache = cache
	return d, nil
}

// Decode returns the claims of the token or nil if they cannot be decoded.
// Only successfully decoded claims are cached.
func (d *Decoder) Decode(token string) jwtgo.MapClaims {
	if d.ClaimsCache == nil {
		return JWTDecode(token, d.env)
	}
	key := sha256.Sum256([]byte(token))
	if claims, ok := d.ClaimsCache.Get(key); ok {
		return claims
	}
	claims := JWTDecode(token, d.env)
	if claims != nil {
		d.ClaimsCache.Add(key, claims)
	}
	return claims
}

// GetAccessTokenExpiration works like the package-level GetAccessTokenExpiration but decodes claims through the cache.
func (d *Decoder) GetAccessTokenExpiration(tr TokenResponse) int64 {
	return accessTokenExpiration(tr, d.env, d.Decode)
}

// InvalidateClaimsCache removes all decoded claims from the cache.
func (d *Decoder) InvalidateClaimsCache() {
	if d.ClaimsCache != nil {
		d.ClaimsCache.Purge()
	}
}
