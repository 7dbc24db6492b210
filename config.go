/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartkit

import (
	"fmt"
	"net/url"
	"time"

	"github.com/acronis/go-appkit/config"

	"github.com/acronis/go-smartkit/internal/smartutil"
	"github.com/acronis/go-smartkit/smartauth"
	"github.com/acronis/go-smartkit/smarttoken"
	"github.com/acronis/go-smartkit/targetwindow"
)

const cfgDefaultKeyPrefix = "smart"

const (
	cfgKeyHTTPClientRequestTimeout          = "httpClient.requestTimeout"
	cfgKeyHTTPClientMaxRetryAttempts        = "httpClient.maxRetryAttempts"
	cfgKeyHTTPClientDefaultHeaders          = "httpClient.defaultHeaders"
	cfgKeyTokenDecoderClaimsCacheEnabled    = "tokenDecoder.claimsCache.enabled"
	cfgKeyTokenDecoderClaimsCacheMaxEntries = "tokenDecoder.claimsCache.maxEntries"
	cfgKeyAuthorizationClientID             = "authorization.clientId"
	cfgKeyAuthorizationClientSecret         = "authorization.clientSecret" // nolint:gosec // false positive
	cfgKeyAuthorizationScope                = "authorization.scope"
	cfgKeyAuthorizationRedirectURI          = "authorization.redirectUri"
	cfgKeyAuthorizationTarget               = "authorization.target"
	cfgKeyAuthorizationPopupWidth           = "authorization.popup.width"
	cfgKeyAuthorizationPopupHeight          = "authorization.popup.height"
	cfgKeyAuthorizationRefreshLeeway        = "authorization.refreshLeeway"
)

// Config represents a set of configuration parameters for SMART on FHIR clients.
type Config struct {
	HTTPClient    HTTPClientConfig    `mapstructure:"httpClient" yaml:"httpClient" json:"httpClient"`
	TokenDecoder  TokenDecoderConfig  `mapstructure:"tokenDecoder" yaml:"tokenDecoder" json:"tokenDecoder"`
	Authorization AuthorizationConfig `mapstructure:"authorization" yaml:"authorization" json:"authorization"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix: opts.keyPrefix,
		HTTPClient: HTTPClientConfig{
			RequestTimeout: config.TimeDuration(smartutil.DefaultHTTPRequestTimeout),
		},
		TokenDecoder: TokenDecoderConfig{
			ClaimsCache: ClaimsCacheConfig{
				Enabled:    true,
				MaxEntries: smarttoken.DefaultClaimsCacheMaxEntries,
			},
		},
		Authorization: AuthorizationConfig{
			Target: targetwindow.TargetSelf,
			Popup: PopupConfig{
				Width:  targetwindow.DefaultPopupWidth,
				Height: targetwindow.DefaultPopupHeight,
			},
			RefreshLeeway: config.TimeDuration(smartauth.DefaultRefreshLeeway),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyHTTPClientRequestTimeout, smartutil.DefaultHTTPRequestTimeout.String())
	dp.SetDefault(cfgKeyTokenDecoderClaimsCacheEnabled, true)
	dp.SetDefault(cfgKeyTokenDecoderClaimsCacheMaxEntries, smarttoken.DefaultClaimsCacheMaxEntries)
	dp.SetDefault(cfgKeyAuthorizationTarget, targetwindow.TargetSelf)
	dp.SetDefault(cfgKeyAuthorizationPopupWidth, targetwindow.DefaultPopupWidth)
	dp.SetDefault(cfgKeyAuthorizationPopupHeight, targetwindow.DefaultPopupHeight)
	dp.SetDefault(cfgKeyAuthorizationRefreshLeeway, smartauth.DefaultRefreshLeeway.String())
}

// HTTPClientConfig is a configuration of the HTTP client used for FHIR and authorization server requests.
type HTTPClientConfig struct {
	RequestTimeout   config.TimeDuration `mapstructure:"requestTimeout" yaml:"requestTimeout" json:"requestTimeout"`
	MaxRetryAttempts int                 `mapstructure:"maxRetryAttempts" yaml:"maxRetryAttempts" json:"maxRetryAttempts"`
	DefaultHeaders   map[string]string   `mapstructure:"defaultHeaders" yaml:"defaultHeaders" json:"defaultHeaders"`
}

// TokenDecoderConfig is a configuration of how access token claims are decoded.
type TokenDecoderConfig struct {
	ClaimsCache ClaimsCacheConfig `mapstructure:"claimsCache" yaml:"claimsCache" json:"claimsCache"`
}

// ClaimsCacheConfig is a configuration of how claims cache will be used.
type ClaimsCacheConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxEntries int  `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
}

// AuthorizationConfig describes the registered app and how the authorization screen is shown.
type AuthorizationConfig struct {
	ClientID      string              `mapstructure:"clientId" yaml:"clientId" json:"clientId"`
	ClientSecret  string              `mapstructure:"clientSecret" yaml:"clientSecret" json:"clientSecret"`
	Scope         string              `mapstructure:"scope" yaml:"scope" json:"scope"`
	RedirectURI   string              `mapstructure:"redirectUri" yaml:"redirectUri" json:"redirectUri"`
	Target        string              `mapstructure:"target" yaml:"target" json:"target"`
	Popup         PopupConfig         `mapstructure:"popup" yaml:"popup" json:"popup"`
	RefreshLeeway config.TimeDuration `mapstructure:"refreshLeeway" yaml:"refreshLeeway" json:"refreshLeeway"`
}

type PopupConfig struct {
	Width  int `mapstructure:"width" yaml:"width" json:"width"`
	Height int `mapstructure:"height" yaml:"height" json:"height"`
}

// AuthorizeParams returns the parameters of a launch against the FHIR server.
func (c *AuthorizationConfig) AuthorizeParams(serverURL, launch string) smartauth.AuthorizeParams {
	params := smartauth.AuthorizeParams{
		ServerURL:    serverURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scope:        c.Scope,
		RedirectURI:  c.RedirectURI,
		Launch:       launch,
		Width:        c.Popup.Width,
		Height:       c.Popup.Height,
	}
	if c.Target != "" {
		params.Target = c.Target
	}
	return params
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.setHTTPClientConfig(dp); err != nil {
		return err
	}
	if err := c.setTokenDecoderConfig(dp); err != nil {
		return err
	}
	if err := c.setAuthorizationConfig(dp); err != nil {
		return err
	}
	return nil
}

func (c *Config) setHTTPClientConfig(dp config.DataProvider) error {
	var err error

	var reqTimeout time.Duration
	if reqTimeout, err = dp.GetDuration(cfgKeyHTTPClientRequestTimeout); err != nil {
		return err
	}
	c.HTTPClient.RequestTimeout = config.TimeDuration(reqTimeout)
	if c.HTTPClient.MaxRetryAttempts, err = dp.GetInt(cfgKeyHTTPClientMaxRetryAttempts); err != nil {
		return err
	}
	if c.HTTPClient.MaxRetryAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyHTTPClientMaxRetryAttempts, fmt.Errorf("max retry attempts should be non-negative"))
	}
	if c.HTTPClient.DefaultHeaders, err = dp.GetStringMapString(cfgKeyHTTPClientDefaultHeaders); err != nil {
		return err
	}
	return nil
}

func (c *Config) setTokenDecoderConfig(dp config.DataProvider) error {
	var err error

	if c.TokenDecoder.ClaimsCache.Enabled, err = dp.GetBool(cfgKeyTokenDecoderClaimsCacheEnabled); err != nil {
		return err
	}
	if c.TokenDecoder.ClaimsCache.MaxEntries, err = dp.GetInt(cfgKeyTokenDecoderClaimsCacheMaxEntries); err != nil {
		return err
	}
	if c.TokenDecoder.ClaimsCache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyTokenDecoderClaimsCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	return nil
}

func (c *Config) setAuthorizationConfig(dp config.DataProvider) error {
	var err error

	if c.Authorization.ClientID, err = dp.GetString(cfgKeyAuthorizationClientID); err != nil {
		return err
	}
	if c.Authorization.ClientSecret, err = dp.GetString(cfgKeyAuthorizationClientSecret); err != nil {
		return err
	}
	if c.Authorization.Scope, err = dp.GetString(cfgKeyAuthorizationScope); err != nil {
		return err
	}
	if c.Authorization.RedirectURI, err = dp.GetString(cfgKeyAuthorizationRedirectURI); err != nil {
		return err
	}
	if _, err = url.Parse(c.Authorization.RedirectURI); err != nil {
		return dp.WrapKeyErr(cfgKeyAuthorizationRedirectURI, err)
	}
	if c.Authorization.Target, err = dp.GetString(cfgKeyAuthorizationTarget); err != nil {
		return err
	}
	if c.Authorization.Popup.Width, err = dp.GetInt(cfgKeyAuthorizationPopupWidth); err != nil {
		return err
	}
	if c.Authorization.Popup.Width < 0 {
		return dp.WrapKeyErr(cfgKeyAuthorizationPopupWidth, fmt.Errorf("popup width should be non-negative"))
	}
	if c.Authorization.Popup.Height, err = dp.GetInt(cfgKeyAuthorizationPopupHeight); err != nil {
		return err
	}
	if c.Authorization.Popup.Height < 0 {
		return dp.WrapKeyErr(cfgKeyAuthorizationPopupHeight, fmt.Errorf("popup height should be non-negative"))
	}
	var refreshLeeway time.Duration
	if refreshLeeway, err = dp.GetDuration(cfgKeyAuthorizationRefreshLeeway); err != nil {
		return err
	}
	c.Authorization.RefreshLeeway = config.TimeDuration(refreshLeeway)
	return nil
}
