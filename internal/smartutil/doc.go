/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package smartutil provides utilities shared by the FHIR client, token and authorization packages.
// It's used in the internal code and not exposed to the public API.
package smartutil
