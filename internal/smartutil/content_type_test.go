/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package smartutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentTypeMatching(t *testing.T) {
	tests := []struct {
		contentType string
		wantJSON    bool
		wantText    bool
	}{
		{contentType: "application/json", wantJSON: true},
		{contentType: "application/fhir+json; charset=utf-8", wantJSON: true},
		{contentType: "Application/JSON", wantJSON: true},
		{contentType: "application/json-patch+json", wantJSON: true},
		{contentType: "text/json", wantJSON: true, wantText: true},
		{contentType: "application/vnd.api.json", wantJSON: true},
		{contentType: "application/x.json", wantJSON: true},
		{contentType: "application/geo+json-seq", wantJSON: true},
		{contentType: "application/json+ld", wantJSON: true},
		{contentType: "json", wantJSON: true},
		{contentType: "application/jsonp"},
		{contentType: "application/x-jsonlines"},
		{contentType: "application/vnd.myjson"},
		{contentType: "text/plain", wantText: true},
		{contentType: "text/html;charset=UTF-8", wantText: true},
		{contentType: "application/pdf"},
		{contentType: "image/png"},
		{contentType: ""},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			require.Equal(t, tt.wantJSON, IsJSONContentType(tt.contentType))
			require.Equal(t, tt.wantText, IsTextContentType(tt.contentType))
		})
	}
}
