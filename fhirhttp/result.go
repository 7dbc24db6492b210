/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fhirhttp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/acronis/go-smartkit/internal/smartutil"
)

// BodyKind tells how the response body was interpreted.
type BodyKind int

const (
	// BodyKindRaw means the body was not read. Body.Raw holds the response for streaming.
	BodyKindRaw BodyKind = iota
	// BodyKindJSON means the body was decoded as JSON into Body.JSON.
	BodyKindJSON
	// BodyKindText means the body was read as a string into Body.Text.
	BodyKindText
)

func (k BodyKind) String() string {
	switch k {
	case BodyKindJSON:
		return "json"
	case BodyKindText:
		return "text"
	default:
		return "raw"
	}
}

// Body is the tagged response body.
type Body struct {
	Kind BodyKind
	JSON interface{}
	Text string
	Raw  *http.Response

	buffered []byte
}

// IsEmpty reports whether the body carries no data: empty or null JSON, empty text, or an unread raw response.
func (b Body) IsEmpty() bool {
	switch b.Kind {
	case BodyKindJSON:
		return b.JSON == nil
	case BodyKindText:
		return b.Text == ""
	default:
		return true
	}
}

// Result is the outcome of a successful request.
// Response is set only when RequestOpts.IncludeResponse was requested.
type Result struct {
	Body     Body
	Response *http.Response
}

// Value returns the decoded JSON value, the text or the raw *http.Response, depending on the body kind.
func (r *Result) Value() interface{} {
	switch r.Body.Kind {
	case BodyKindJSON:
		return r.Body.JSON
	case BodyKindText:
		return r.Body.Text
	default:
		return r.Body.Raw
	}
}

// ClassifyContentType maps the Content-Type header value to the body kind.
func ClassifyContentType(contentType string) BodyKind {
	switch {
	case smartutil.IsJSONContentType(contentType):
		return BodyKindJSON
	case smartutil.IsTextContentType(contentType):
		return BodyKindText
	default:
		return BodyKindRaw
	}
}

// ShouldFollowLocation reports whether the response must be replaced by the result of GET Location.
// It's the case for "201 Created" responses with an empty body and a non-empty Location header.
func ShouldFollowLocation(statusCode int, body Body, location string) bool {
	return statusCode == http.StatusCreated && location != "" && body.IsEmpty()
}

// buffer reads the raw response body into memory, so the result may be shared between several callers.
func (r *Result) buffer() error {
	if r.Body.Kind != BodyKindRaw || r.Body.Raw == nil || r.Body.buffered != nil {
		return nil
	}
	data, err := io.ReadAll(r.Body.Raw.Body)
	closeErr := r.Body.Raw.Body.Close()
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close response body: %w", closeErr)
	}
	if data == nil {
		data = []byte{}
	}
	r.Body.buffered = data
	return nil
}

// clone returns a copy of the result. Buffered raw responses get their own body readers.
func (r *Result) clone() *Result {
	cp := *r
	if r.Body.buffered == nil {
		return &cp
	}
	raw := *r.Body.Raw
	raw.Body = io.NopCloser(bytes.NewReader(r.Body.buffered))
	cp.Body.Raw = &raw
	if r.Response == r.Body.Raw {
		cp.Response = &raw
	}
	return &cp
}
