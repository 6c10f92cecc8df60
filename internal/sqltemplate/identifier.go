package sqltemplate

import (
	"regexp"

	"github.com/market-insight/retriever/internal/retrieval"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidIdentifier reports whether s may be used as an unquoted SQL identifier.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// QuoteIdentifier validates s against the allowlist and double-quotes it.
// Anything outside [A-Za-z0-9_] fails closed and never reaches SQL text.
func QuoteIdentifier(s string) (string, error) {
	if !ValidIdentifier(s) {
		return "", retrieval.NewInvalidIdentifierError(s)
	}
	return `"` + s + `"`, nil
}
