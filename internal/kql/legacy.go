package kql

import (
	"fmt"
	"regexp"
	"strings"

	"kipgate/internal/logging"
)

// legacyPattern recognizes the restricted legacy dialect:
// FIND <Label> WHERE <field> = '<value>'
// The \w+ field is non-dotted by construction.
var legacyPattern = regexp.MustCompile(`^FIND\s+(\w+)\s+WHERE\s+(\w+)\s*=\s*'([^']+)'$`)

// RewriteLegacy rewrites a legacy-dialect query into canonical KQL and
// reports whether a rewrite happened. There is exactly one parser; this is a
// pre-parse substitution, observable only through the query_type metadata.
func RewriteLegacy(query string) (string, bool) {
	trimmed := strings.TrimSpace(query)
	m := legacyPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return query, false
	}
	label, field, value := m[1], m[2], m[3]

	// Keywords in label or field position mean this is really canonical KQL
	// that happens to match the shape (e.g. FIND Task WHERE type = 'x').
	if keywords[strings.ToUpper(label)] || functions[strings.ToUpper(label)] ||
		keywords[strings.ToUpper(field)] || functions[strings.ToUpper(field)] {
		return query, false
	}

	rewritten := fmt.Sprintf("FIND Concept WHERE type = '%s' FILTER %s = '%s'", label, field, value)
	logging.ParserDebug("Legacy dialect rewrite: %q -> %q", trimmed, rewritten)
	return rewritten, true
}
