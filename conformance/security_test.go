/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package conformance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetSecurityExtensions(t *testing.T) {
	conformance := parseConformance(t, `{"rest":[{"security":{"extension":[
		{"url":"http://example.com/other","valueString":"ignored"},
		{"url":"`+OAuthURIsExtensionURL+`","extension":[
			{"url":"authorize","valueUri":"https://auth.example.com/authorize"},
			{"url":"token","valueUri":"https://auth.example.com/token"},
			{"url":"register","valueUri":"https://auth.example.com/register"},
			{"url":"manage","valueUri":"https://auth.example.com/manage"},
			{"url":"introspect","valueUri":"https://auth.example.com/introspect"},
			{"url":"revoke","valueUri":"https://auth.example.com/revoke"},
			{"url":"unknown","valueUri":"https://auth.example.com/unknown"}
		]}
	]}}]}`)
	require.Equal(t, OAuthURIs{
		Authorize:  "https://auth.example.com/authorize",
		Token:      "https://auth.example.com/token",
		Register:   "https://auth.example.com/register",
		Manage:     "https://auth.example.com/manage",
		Introspect: "https://auth.example.com/introspect",
		Revoke:     "https://auth.example.com/revoke",
	}, GetSecurityExtensions(conformance))

	require.Equal(t, OAuthURIs{}, GetSecurityExtensions(parseConformance(t, `{"rest":[{}]}`)))
	require.Equal(t, OAuthURIs{}, GetSecurityExtensions(nil))
}
