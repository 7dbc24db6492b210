/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartutil

import (
	"mime"
	"strings"

	"github.com/vasayxtx/go-glob"
)

// mediaTypeWordSeparators are the non-word characters allowed in media type names (RFC 6838) plus "/".
const mediaTypeWordSeparators = "/+-.!#$&^"

// JSONMediaTypePatterns match media types having "json" as a separate word
// (application/json, application/fhir+json, application/json-patch+json, application/vnd.api.json, ...).
var JSONMediaTypePatterns = makeWordPatterns("json", mediaTypeWordSeparators)

// TextMediaTypePatterns match media types whose bodies are returned as text.
var TextMediaTypePatterns = []string{"text/*"}

var (
	jsonMatchers = compileMatchers(JSONMediaTypePatterns)
	textMatchers = compileMatchers(TextMediaTypePatterns)
)

// makeWordPatterns returns glob patterns matching strings that contain word
// bounded by the start, the end, or one of the separators.
func makeWordPatterns(word string, separators string) []string {
	patterns := []string{word}
	for _, before := range separators {
		patterns = append(patterns, "*"+string(before)+word, word+string(before)+"*")
		for _, after := range separators {
			patterns = append(patterns, "*"+string(before)+word+string(after)+"*")
		}
	}
	return patterns
}

func compileMatchers(patterns []string) []func(string) bool {
	matchers := make([]func(string) bool, 0, len(patterns))
	for _, p := range patterns {
		matchers = append(matchers, glob.Compile(p))
	}
	return matchers
}

// MediaType returns the lower-cased media type of the Content-Type header value without parameters.
func MediaType(contentType string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func IsJSONContentType(contentType string) bool {
	return matchAny(jsonMatchers, MediaType(contentType))
}

func IsTextContentType(contentType string) bool {
	return matchAny(textMatchers, MediaType(contentType))
}

func matchAny(matchers []func(string) bool, s string) bool {
	if s == "" {
		return false
	}
	for _, m := range matchers {
		if m(s) {
			return true
		}
	}
	return false
}
