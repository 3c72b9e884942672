// cmd/session_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachTargetValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  attachTarget
		wantErr string
	}{
		{"launch at url", attachTarget{URL: "https://example.test/"}, ""},
		{"attach to tab", attachTarget{TabID: 2}, ""},
		{"attach and navigate", attachTarget{URL: "https://example.test/", TabID: 2}, ""},
		{"nothing to open", attachTarget{}, "a page url or --tab is required"},
		{"negative tab", attachTarget{TabID: -1}, "invalid --tab -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"example.test/form":       "https://example.test/form",
		"  example.test  ":        "https://example.test",
		"http://localhost:8080/":  "http://localhost:8080/",
		"file:///tmp/page.html":   "file:///tmp/page.html",
		"about:blank":             "about:blank",
		"data:text/html,<button>": "data:text/html,<button>",
		"":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeURL(in), "input %q", in)
	}
}
