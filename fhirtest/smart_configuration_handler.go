/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
)

// SMARTConfigurationHandler is an HTTP handler that responds with the SMART configuration.
type SMARTConfigurationHandler struct {
	servedCount           atomic.Uint64
	AuthorizationEndpoint string
	TokenEndpoint         string
	// Disabled makes the handler respond with 404 as servers without SMART configuration discovery do.
	Disabled bool
}

func (h *SMARTConfigurationHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h.servedCount.Add(1)

	if h.Disabled {
		http.NotFound(rw, r)
		return
	}
	cfg := SMARTConfigurationResponse{
		AuthorizationEndpoint: h.AuthorizationEndpoint,
		TokenEndpoint:         h.TokenEndpoint,
		GrantTypesSupported:   []string{"authorization_code", "refresh_token"},
		Capabilities:          []string{"launch-ehr", "launch-standalone", "client-public", "client-confidential-symmetric"},
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(cfg); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
		return
	}
}

// ServedCount returns the number of times the handler has been served.
func (h *SMARTConfigurationHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// SMARTConfigurationResponse is a response for the .well-known/smart-configuration endpoint.
type SMARTConfigurationResponse struct {
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	GrantTypesSupported   []string `json:"grant_types_supported"`
	Capabilities          []string `json:"capabilities"`
}
