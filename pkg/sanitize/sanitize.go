// Package sanitize strips markup from operator-supplied strings before they
// are returned on the unauthenticated signer surface.
package sanitize

import (
	"html"
	"regexp"
	"strings"
)

var (
	reTag    = regexp.MustCompile(`<[^>]*>`)
	reSpaces = regexp.MustCompile(`[ \t]+`)
)

// Text removes tags, unescapes entities and collapses runs of whitespace.
// The result is plain text safe to embed in a signer-facing JSON view.
func Text(s string) string {
	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	// Unescaping may have re-introduced angle brackets.
	s = strings.ReplaceAll(s, "<", "")
	s = strings.ReplaceAll(s, ">", "")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
