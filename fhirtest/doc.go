/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package fhirtest provides an in-process FHIR server with SMART authorization endpoints
// and a fake browser window namespace for testing purposes.
package fhirtest
