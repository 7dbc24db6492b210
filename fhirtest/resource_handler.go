/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ErrorDomain is the domain of the errors the test server responds with.
const ErrorDomain = "FHIRTest"

// Error codes of the resource endpoints.
const (
	ErrCodeNotFound     = "notFound"
	ErrCodeInvalidBody  = "invalidBody"
	ErrCodeUnauthorized = "unauthorized"
)

// ResourceHandler stores FHIR resources in memory.
// POST /{type} creates a resource and responds "201 Created" with an empty body and the Location header.
// GET /{type}/{id} reads a resource.
type ResourceHandler struct {
	mu        sync.RWMutex
	resources map[string]map[string]interface{}
	// RequireBearerToken makes the handler accept only requests with a valid access token issued by the server.
	RequireBearerToken bool
	loggerProvider     func(r *http.Request) log.FieldLogger
}

// Put stores the resource under resourceType/id.
func (h *ResourceHandler) Put(resourceType, id string, resource map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.resources == nil {
		h.resources = make(map[string]map[string]interface{})
	}
	resource["resourceType"] = resourceType
	resource["id"] = id
	h.resources[resourceType+"/"+id] = resource
}

// Get returns the stored resource.
func (h *ResourceHandler) Get(resourceType, id string) (map[string]interface{}, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	resource, ok := h.resources[resourceType+"/"+id]
	return resource, ok
}

func (h *ResourceHandler) create(rw http.ResponseWriter, r *http.Request) {
	if !h.authorize(rw, r) {
		return
	}
	resourceType := chi.URLParam(r, "resourceType")
	var resource map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&resource); err != nil || resource == nil {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeInvalidBody, "Request body must be a JSON object.")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, h.logger(r))
		return
	}
	id := uuid.NewString()
	h.Put(resourceType, id, resource)
	rw.Header().Set("Location", "/"+resourceType+"/"+id)
	rw.WriteHeader(http.StatusCreated)
}

func (h *ResourceHandler) read(rw http.ResponseWriter, r *http.Request) {
	if !h.authorize(rw, r) {
		return
	}
	resourceType, id := chi.URLParam(r, "resourceType"), chi.URLParam(r, "id")
	resource, ok := h.Get(resourceType, id)
	if !ok {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeNotFound, fmt.Sprintf("Resource %s/%s is not known.", resourceType, id))
		restapi.RespondError(rw, http.StatusNotFound, apiErr, h.logger(r))
		return
	}
	h.mu.RLock()
	data, err := json.Marshal(resource)
	h.mu.RUnlock()
	if err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", FHIRContentType)
	_, _ = rw.Write(data)
}

func (h *ResourceHandler) authorize(rw http.ResponseWriter, r *http.Request) bool {
	if !h.RequireBearerToken {
		return true
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if found {
		if _, err := ParseAccessToken(token); err == nil {
			return true
		}
	}
	apiErr := restapi.NewError(ErrorDomain, ErrCodeUnauthorized, "A valid bearer token is required.")
	restapi.RespondError(rw, http.StatusUnauthorized, apiErr, h.logger(r))
	return false
}

func (h *ResourceHandler) logger(r *http.Request) log.FieldLogger {
	if h.loggerProvider != nil {
		if logger := h.loggerProvider(r); logger != nil {
			return logger
		}
	}
	return log.NewDisabledLogger()
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
