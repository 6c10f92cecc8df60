package sqltemplate

import (
	"strings"

	"github.com/market-insight/retriever/internal/retrieval"
)

// Selection is the set of live columns chosen for each role.
type Selection struct {
	Date       string
	SecurityID string
	Symbol     string
	Region     string
	Property   string
	Projection []string
}

// ResolveColumns picks, per role, the first candidate present in live. The
// projection is the date and key columns followed by every present select
// column, in candidate order and without duplicates. It is a pure function of
// its inputs.
func ResolveColumns(spec Spec, live []string) (Selection, error) {
	byLower := make(map[string]string, len(live))
	for _, c := range live {
		lc := strings.ToLower(c)
		if _, dup := byLower[lc]; !dup {
			byLower[lc] = c
		}
	}

	first := func(candidates []string) string {
		for _, c := range candidates {
			if actual, ok := byLower[strings.ToLower(c)]; ok {
				return actual
			}
		}
		return ""
	}

	sel := Selection{
		Date:       first(spec.DateColumns),
		SecurityID: first(spec.SecurityIDColumns),
		Symbol:     first(spec.SymbolColumns),
		Region:     first(spec.RegionColumns),
		Property:   first(spec.PropertyColumns),
	}
	if sel.Date == "" {
		return Selection{}, retrieval.NewSchemaMismatchError("table %s has none of the date columns %v", spec.Table, spec.DateColumns)
	}

	seen := make(map[string]bool)
	add := func(c string) {
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		sel.Projection = append(sel.Projection, c)
	}

	add(sel.Date)
	add(sel.SecurityID)
	add(sel.Symbol)
	add(sel.Region)
	add(sel.Property)

	keyCount := len(sel.Projection)
	for _, c := range spec.SelectColumns {
		if actual, ok := byLower[strings.ToLower(c)]; ok {
			add(actual)
		}
	}
	if len(spec.SelectColumns) > 0 && len(sel.Projection) == keyCount {
		return Selection{}, retrieval.NewSchemaMismatchError("table %s has none of the projection columns %v", spec.Table, spec.SelectColumns)
	}

	return sel, nil
}
