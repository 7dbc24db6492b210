/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package conformance

import (
	"github.com/acronis/go-smartkit/objpath"
)

// OAuthURIsExtensionURL identifies the SMART extension listing the OAuth endpoints in the conformance statement.
const OAuthURIsExtensionURL = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"

// OAuthURIs are the OAuth endpoints declared by the server.
type OAuthURIs struct {
	Authorize  string
	Token      string
	Register   string
	Manage     string
	Introspect string
	Revoke     string
}

// GetSecurityExtensions reads the OAuth endpoints from the "oauth-uris" extension
// of the first "rest" entry security section. Missing endpoints are left empty.
func GetSecurityExtensions(conformance map[string]interface{}) OAuthURIs {
	var uris OAuthURIs
	extensions, _ := objpath.Get(conformance, "rest.0.security.extension").([]interface{})
	for _, ext := range extensions {
		if objpath.Get(ext, "url") != OAuthURIsExtensionURL {
			continue
		}
		nested, _ := objpath.Get(ext, "extension").([]interface{})
		for _, item := range nested {
			value, _ := objpath.Get(item, "valueUri").(string)
			switch objpath.Get(item, "url") {
			case "authorize":
				uris.Authorize = value
			case "token":
				uris.Token = value
			case "register":
				uris.Register = value
			case "manage":
				uris.Manage = value
			case "introspect":
				uris.Introspect = value
			case "revoke":
				uris.Revoke = value
			}
		}
	}
	return uris
}
