/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smarttoken

import (
	"encoding/json"
	"strings"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// DefaultTimeInFutureSeconds is the default offset used by GetTimeInFuture.
const DefaultTimeInFutureSeconds = 120

// FallbackExpiresInSeconds is the token lifetime assumed when neither expires_in nor the exp claim is available.
const FallbackExpiresInSeconds = 300

// Env provides the environment primitives the token calculations depend on.
type Env interface {
	// Atob decodes a base64-encoded string.
	Atob(payload string) (string, error)

	// Now returns the current time.
	Now() time.Time
}

type defaultEnv struct {
	parser *jwtgo.Parser
}

// DefaultEnv decodes base64url (with or without padding) JWT segments and uses the wall clock.
var DefaultEnv Env = defaultEnv{parser: jwtgo.NewParser(jwtgo.WithPaddingAllowed())}

func (e defaultEnv) Atob(payload string) (string, error) {
	data, err := e.parser.DecodeSegment(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (e defaultEnv) Now() time.Time {
	return time.Now()
}

// TokenResponse is a JSON-decoded response of the token endpoint.
// Besides the standard OAuth2 fields it may contain SMART launch context (patient, encounter, etc.).
type TokenResponse map[string]interface{}

// TokenFields are the well-known fields of TokenResponse.
type TokenFields struct {
	AccessToken  string  `mapstructure:"access_token"`
	TokenType    string  `mapstructure:"token_type"`
	ExpiresIn    float64 `mapstructure:"expires_in"`
	RefreshToken string  `mapstructure:"refresh_token"`
	Scope        string  `mapstructure:"scope"`
	IDToken      string  `mapstructure:"id_token"`
	Patient      string  `mapstructure:"patient"`
	Encounter    string  `mapstructure:"encounter"`
}

// Fields decodes the well-known fields. Numbers may be passed as JSON numbers or strings.
// Fields of unexpected types are left empty.
func (tr TokenResponse) Fields() TokenFields {
	var fields TokenFields
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &fields})
	if err != nil {
		return fields
	}
	_ = decoder.Decode(map[string]interface{}(tr)) // fields that cannot be decoded stay empty
	return fields
}

func (tr TokenResponse) AccessToken() string {
	return tr.Fields().AccessToken
}

func (tr TokenResponse) RefreshToken() string {
	return tr.Fields().RefreshToken
}

// ExpiresIn returns the access token lifetime in whole seconds, or 0 if it's absent.
func (tr TokenResponse) ExpiresIn() int64 {
	return int64(tr.Fields().ExpiresIn)
}

// GetAccessTokenExpiration returns the access token expiration as Unix time in seconds.
// In order of priority it uses now + expires_in, the exp claim of the access token,
// and now + FallbackExpiresInSeconds.
func GetAccessTokenExpiration(tr TokenResponse, env Env) int64 {
	return accessTokenExpiration(tr, env, func(token string) jwtgo.MapClaims {
		return JWTDecode(token, env)
	})
}

func accessTokenExpiration(tr TokenResponse, env Env, decode func(token string) jwtgo.MapClaims) int64 {
	if env == nil {
		env = DefaultEnv
	}
	now := env.Now().Unix()
	fields := tr.Fields()
	if expiresIn := int64(fields.ExpiresIn); expiresIn > 0 {
		return now + expiresIn
	}
	if fields.AccessToken != "" {
		if claims := decode(fields.AccessToken); claims != nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				return exp.Unix()
			}
		}
	}
	return now + FallbackExpiresInSeconds
}

// JWTDecode decodes the claims (the second segment) of the token.
// It returns nil if the token has no second segment or the segment cannot be decoded.
// The signature is not verified.
func JWTDecode(token string, env Env) (claims jwtgo.MapClaims) {
	if env == nil {
		env = DefaultEnv
	}
	defer func() {
		if recover() != nil {
			claims = nil
		}
	}()

	segments := strings.Split(token, ".")
	if len(segments) < 2 || segments[1] == "" {
		return nil
	}
	payload, err := env.Atob(segments[1])
	if err != nil {
		return nil
	}
	if err = json.Unmarshal([]byte(payload), &claims); err != nil {
		return nil
	}
	return claims
}

// GetTimeInFuture returns from + secondsAhead as Unix time in seconds.
// The current time is used if from is zero.
func GetTimeInFuture(secondsAhead int64, from time.Time) int64 {
	if from.IsZero() {
		from = time.Now()
	}
	return from.Unix() + secondsAhead
}
