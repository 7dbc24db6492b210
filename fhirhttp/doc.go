/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package fhirhttp provides the HTTP request pipeline used to talk to FHIR and SMART authorization servers.
//
// Client.Request normalizes heterogeneous responses into a tagged Body (JSON, text or raw),
// follows "201 Created" responses with an empty body and a Location header,
// and converts non-2xx responses into *HTTPError.
// Client.GetAndCache memoizes results per URL with at most one in-flight request per URL.
package fhirhttp
