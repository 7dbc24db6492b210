/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrUnexpectedConformanceBody is returned (wrapped in *ConformanceFetchError)
// when the server replies to the metadata request with something other than a JSON object.
var ErrUnexpectedConformanceBody = errors.New("conformance statement is not a JSON object")

// HTTPError is returned when the server responds with a non-2xx status code.
// Body holds the parsed error body when it could be parsed:
// a decoded JSON value for JSON responses, a string for text responses, nil otherwise.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Header     http.Header
	Body       interface{}
}

func (e *HTTPError) Error() string {
	status := e.Status
	if status == "" {
		status = strings.TrimSpace(strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode))
	}
	msg := status + "\nURL: " + e.URL

	switch body := e.Body.(type) {
	case nil:
	case string:
		if body != "" {
			msg += "\n\n" + body
		}
	case map[string]interface{}:
		if oauthErr, ok := body["error"].(string); ok && oauthErr != "" {
			msg += "\n" + oauthErr
			if desc, ok := body["error_description"].(string); ok && desc != "" {
				msg += ": " + desc
			}
			return msg
		}
		msg += "\n\n" + prettyJSON(body)
	default:
		msg += "\n\n" + prettyJSON(body)
	}
	return msg
}

func prettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ConformanceFetchError wraps any failure of fetching or parsing the conformance statement.
type ConformanceFetchError struct {
	URL   string
	Inner error
}

func (e *ConformanceFetchError) Error() string {
	return fmt.Sprintf("failed to fetch the conformance statement from %q: %s", e.URL, e.Inner.Error())
}

func (e *ConformanceFetchError) Unwrap() error {
	return e.Inner
}
