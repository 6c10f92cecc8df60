package sqltemplate

import (
	"fmt"
	"strings"
)

// Filters are the literal values a template query binds.
type Filters struct {
	SecurityIDs  []string
	Symbols      []string
	Region       string
	PropertyType string
	// Since is a lower bound on the date column, already formatted for the
	// template's DateFormat.
	Since string
}

// Query is a parameterized statement using '?' placeholders.
type Query struct {
	Text   string
	Params []any
}

// SecurityFilter is the key column and values a query narrows securities by,
// or "" when it cannot be narrowed. Symbol codes are what every source table
// carries; security ids only filter tables that lack a symbol column.
func SecurityFilter(sel Selection, f Filters) (string, []string) {
	switch {
	case sel.Symbol != "" && len(f.Symbols) > 0:
		return sel.Symbol, f.Symbols
	case sel.SecurityID != "" && len(f.SecurityIDs) > 0:
		return sel.SecurityID, f.SecurityIDs
	default:
		return "", nil
	}
}

// BuildQuery renders SELECT ... WHERE ... ORDER BY <date> DESC LIMIT ?.
// Every identifier goes through QuoteIdentifier; every literal is bound.
func BuildQuery(table string, sel Selection, f Filters, limit int) (Query, error) {
	quotedTable, err := QuoteIdentifier(table)
	if err != nil {
		return Query{}, err
	}

	cols := make([]string, 0, len(sel.Projection))
	for _, c := range sel.Projection {
		q, err := QuoteIdentifier(c)
		if err != nil {
			return Query{}, err
		}
		cols = append(cols, q)
	}
	if len(cols) == 0 {
		return Query{}, fmt.Errorf("empty projection for table %s", table)
	}

	dateCol, err := QuoteIdentifier(sel.Date)
	if err != nil {
		return Query{}, err
	}

	var where []string
	var params []any

	in := func(column string, values []string) error {
		q, err := QuoteIdentifier(column)
		if err != nil {
			return err
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = "?"
			params = append(params, v)
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", q, strings.Join(marks, ", ")))
		return nil
	}
	eq := func(column, op, value string) error {
		q, err := QuoteIdentifier(column)
		if err != nil {
			return err
		}
		where = append(where, fmt.Sprintf("%s %s ?", q, op))
		params = append(params, value)
		return nil
	}

	if column, keys := SecurityFilter(sel, f); column != "" {
		if err := in(column, keys); err != nil {
			return Query{}, err
		}
	}
	if sel.Region != "" && f.Region != "" {
		if err := eq(sel.Region, "=", f.Region); err != nil {
			return Query{}, err
		}
	}
	if sel.Property != "" && f.PropertyType != "" {
		if err := eq(sel.Property, "=", f.PropertyType); err != nil {
			return Query{}, err
		}
	}
	if f.Since != "" {
		if err := eq(sel.Date, ">=", f.Since); err != nil {
			return Query{}, err
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(quotedTable)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(dateCol)
	b.WriteString(" DESC LIMIT ?")
	params = append(params, limit)

	return Query{Text: b.String(), Params: params}, nil
}
