package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	richTextPolicy = bluemonday.UGCPolicy()
	stripPolicy    = bluemonday.StrictPolicy()
)

// SanitizeRichText keeps safe formatting markup in task descriptions and comments
func SanitizeRichText(s string) string {
	return strings.TrimSpace(richTextPolicy.Sanitize(s))
}

// StripHTML reduces rich text to plain text for exports
func StripHTML(s string) string {
	plain := html.UnescapeString(stripPolicy.Sanitize(s))
	return strings.Join(strings.Fields(plain), " ")
}
