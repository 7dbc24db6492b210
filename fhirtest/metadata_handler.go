/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/acronis/go-smartkit/conformance"
)

// FHIRContentType is the content type of the FHIR resources served by the test server.
const FHIRContentType = "application/fhir+json; charset=utf-8"

// MetadataHandler is an HTTP handler that responds with the conformance statement.
type MetadataHandler struct {
	servedCount atomic.Uint64
	mu          sync.RWMutex
	statement   map[string]interface{}
}

func (h *MetadataHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.servedCount.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	rw.Header().Set("Content-Type", FHIRContentType)
	if err := json.NewEncoder(rw).Encode(h.statement); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
		return
	}
}

// SetStatement replaces the conformance statement.
func (h *MetadataHandler) SetStatement(statement map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statement = statement
}

// ServedCount returns the number of times the handler has been served.
func (h *MetadataHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *MetadataHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

// DefaultResourceSearchParams are the resources and search parameters declared by the default conformance statement.
var DefaultResourceSearchParams = map[string][]string{
	"Patient":           {"_id", "name", "birthdate"},
	"Observation":       {"code", "category", "subject", "patient"},
	"MedicationRequest": {"requester", "subject"},
	"Encounter":         {"patient", "date"},
	"Group":             {"member"},
	"Coverage":          {"beneficiary"},
	"Binary":            nil,
}

// NewConformanceStatement builds a CapabilityStatement declaring the given resources
// and, if authorizeURL or tokenURL is set, the SMART "oauth-uris" security extension.
func NewConformanceStatement(resources map[string][]string, authorizeURL, tokenURL string) map[string]interface{} {
	resourceList := make([]interface{}, 0, len(resources))
	for _, resourceType := range sortedKeys(resources) {
		searchParams := make([]interface{}, 0, len(resources[resourceType]))
		for _, name := range resources[resourceType] {
			searchParams = append(searchParams, map[string]interface{}{"name": name, "type": "token"})
		}
		resourceList = append(resourceList, map[string]interface{}{
			"type":        resourceType,
			"searchParam": searchParams,
		})
	}

	rest := map[string]interface{}{"mode": "server", "resource": resourceList}
	if authorizeURL != "" || tokenURL != "" {
		rest["security"] = map[string]interface{}{
			"extension": []interface{}{
				map[string]interface{}{
					"url": conformance.OAuthURIsExtensionURL,
					"extension": []interface{}{
						map[string]interface{}{"url": "authorize", "valueUri": authorizeURL},
						map[string]interface{}{"url": "token", "valueUri": tokenURL},
					},
				},
			},
		}
	}
	return map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []interface{}{"json"},
		"rest":         []interface{}{rest},
	}
}
