// Package signature classifies raw issue messages into stable signatures.
// Two observations of the same underlying defect must map to the same
// signature even when the message text varies, since signatures key issue
// dedup, repair verification, and pattern clustering.
package signature

import (
	"regexp"
	"strings"
)

// rule pairs a message pattern with the signature it produces. Rules are
// evaluated in declaration order; the first match wins.
type rule struct {
	pattern *regexp.Regexp
	name    string
}

// rules is the ordered classification table. More specific patterns sit above
// more general ones so, e.g., a CORS failure is not swallowed by the generic
// network rule below it.
var rules = []rule{
	{regexp.MustCompile(`(?i)\bHTTP[ /]?[1-5]\d{2}\b`), "HTTP_ERROR"},
	{regexp.MustCompile(`(?i)\bstatus(?: code)?(?: of)?[ :=]+[1-5]\d{2}\b`), "HTTP_ERROR"},
	{regexp.MustCompile(`(?i)TypeError.*undefined`), "UNDEFINED_ERROR"},
	{regexp.MustCompile(`(?i)cannot read propert(y|ies) .* of (undefined|null)`), "UNDEFINED_ERROR"},
	{regexp.MustCompile(`(?i)ReferenceError`), "REFERENCE_ERROR"},
	{regexp.MustCompile(`(?i)SyntaxError`), "SYNTAX_ERROR"},
	{regexp.MustCompile(`(?i)Content.Security.Policy|CSP`), "CSP_VIOLATION"},
	{regexp.MustCompile(`(?i)\bCORS\b|cross-origin`), "CORS_ERROR"},
	{regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`), "TIMEOUT"},
	{regexp.MustCompile(`(?i)certificate|TLS|SSL`), "TLS_ERROR"},
	{regexp.MustCompile(`(?i)net::ERR_|ECONNREFUSED|connection (refused|reset|closed)`), "CONNECTION_ERROR"},
	{regexp.MustCompile(`(?i)out of memory|heap (limit|usage)|memory pressure`), "MEMORY_PRESSURE"},
	{regexp.MustCompile(`(?i)(^|[\s:])panic:|"level":"(panic|fatal)"`), "BACKEND_PANIC"},
	{regexp.MustCompile(`(?i)missing .*landmark|landmark .*missing`), "MISSING_LANDMARK"},
}

// tokenPattern strips everything but letters and digits when tokenizing for
// the fallback signature.
var tokenPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Extract returns the signature for a raw issue message. Rule table first;
// when no rule matches, the fallback joins the first three non-trivial tokens
// of the lowercased message with underscores. A message with no usable tokens
// yields "UNCLASSIFIED".
func Extract(message string) string {
	for _, r := range rules {
		if r.pattern.MatchString(message) {
			return r.name
		}
	}
	return fallback(message)
}

// fallback builds a signature from the message text itself. Tokens of one or
// two characters carry too little meaning to key a cluster on, so they are
// skipped.
func fallback(message string) string {
	words := tokenPattern.Split(strings.ToLower(message), -1)

	tokens := make([]string, 0, 3)
	for _, w := range words {
		if len(w) <= 2 {
			continue
		}
		tokens = append(tokens, w)
		if len(tokens) == 3 {
			break
		}
	}

	if len(tokens) == 0 {
		return "UNCLASSIFIED"
	}
	return strings.ToUpper(strings.Join(tokens, "_"))
}
