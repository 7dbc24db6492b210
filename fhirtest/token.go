/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirtest

import (
	"fmt"

	jwtgo "github.com/golang-jwt/jwt/v5"
)

// TestSigningKey is the HMAC key the test server signs access tokens with.
var TestSigningKey = []byte("fhirtest-signing-key") // nolint:gosec // This key is used for testing purposes only.

// MakeAccessToken returns an HS256-signed JWT with the given claims.
func MakeAccessToken(claims jwtgo.MapClaims) (string, error) {
	return jwtgo.NewWithClaims(jwtgo.SigningMethodHS256, claims).SignedString(TestSigningKey)
}

// MustMakeAccessToken is like MakeAccessToken but panics on error.
func MustMakeAccessToken(claims jwtgo.MapClaims) string {
	token, err := MakeAccessToken(claims)
	if err != nil {
		panic(err)
	}
	return token
}

// ParseAccessToken verifies the token signed with TestSigningKey and returns its claims.
func ParseAccessToken(token string) (jwtgo.MapClaims, error) {
	claims := jwtgo.MapClaims{}
	_, err := jwtgo.ParseWithClaims(token, claims, func(t *jwtgo.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtgo.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return TestSigningKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
