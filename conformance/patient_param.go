/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package conformance reads FHIR conformance (capability) statements:
// it picks the search parameter that scopes queries to a patient
// and extracts the SMART OAuth endpoints.
package conformance

import (
	"context"
	"fmt"

	"github.com/acronis/go-smartkit/fhirhttp"
	"github.com/acronis/go-smartkit/objpath"
)

// PatientParams are the search parameters that may scope a resource to a patient, in order of preference.
var PatientParams = []string{"patient", "subject", "requester", "member", "actor", "beneficiary"}

// CapabilityErrorKind tells which capability the server lacks.
type CapabilityErrorKind int

const (
	// ResourceNotSupported means the resource type is not declared in the conformance statement.
	ResourceNotSupported CapabilityErrorKind = iota + 1
	// NoSearchParams means the resource type declares no search parameters.
	NoSearchParams
	// UnknownPatientParam means none of the declared search parameters scopes the resource to a patient.
	UnknownPatientParam
)

// CapabilityError is returned when the server doesn't support what is needed to scope a query to a patient.
// It reflects the static server capabilities, so retrying makes no sense.
type CapabilityError struct {
	Kind         CapabilityErrorKind
	ResourceType string
}

func (e *CapabilityError) Error() string {
	switch e.Kind {
	case ResourceNotSupported:
		return fmt.Sprintf("resource %q is not supported by this FHIR server", e.ResourceType)
	case NoSearchParams:
		return fmt.Sprintf("no search parameters supported for %q on this FHIR server", e.ResourceType)
	default:
		return fmt.Sprintf("don't know what param to use for %q", e.ResourceType)
	}
}

// GetPatientParam returns the search parameter to use to scope resourceType queries to a patient.
// Only the first "rest" entry of the conformance statement is examined.
// For Patient, "_id" is preferred if the server declares it.
func GetPatientParam(conformance map[string]interface{}, resourceType string) (string, error) {
	resources, _ := objpath.Get(conformance, "rest.0.resource").([]interface{})
	var meta map[string]interface{}
	for _, r := range resources {
		if m, ok := r.(map[string]interface{}); ok && m["type"] == resourceType {
			meta = m
			break
		}
	}
	if meta == nil {
		return "", &CapabilityError{Kind: ResourceNotSupported, ResourceType: resourceType}
	}

	searchParams, _ := meta["searchParam"].([]interface{})
	if len(searchParams) == 0 {
		return "", &CapabilityError{Kind: NoSearchParams, ResourceType: resourceType}
	}
	declared := make(map[string]struct{}, len(searchParams))
	for _, p := range searchParams {
		if name, ok := objpath.Get(p, "name").(string); ok {
			declared[name] = struct{}{}
		}
	}

	if resourceType == "Patient" {
		if _, ok := declared["_id"]; ok {
			return "_id", nil
		}
	}
	for _, name := range PatientParams {
		if _, ok := declared[name]; ok {
			return name, nil
		}
	}
	return "", &CapabilityError{Kind: UnknownPatientParam, ResourceType: resourceType}
}

// FetchPatientParam fetches the (cached) conformance statement of the server and calls GetPatientParam.
func FetchPatientParam(
	ctx context.Context, client *fhirhttp.Client, baseURL string, resourceType string,
) (string, error) {
	statement, err := client.FetchConformanceStatement(ctx, baseURL, fhirhttp.RequestOpts{})
	if err != nil {
		return "", err
	}
	return GetPatientParam(statement, resourceType)
}
