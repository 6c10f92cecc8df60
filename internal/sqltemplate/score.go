package sqltemplate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/market-insight/retriever/internal/retrieval"
)

const (
	scoreCountryMatch  = 120
	scoreIntentMatch   = 100
	scoreKRSymbolShape = 80
	scoreUSSymbolShape = 50
	scoreOHLCVTemplate = 10
)

var usTickerPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,14}$`)

// IsKRCode reports whether symbol is a purely numeric KR listing code of at most 6 digits.
func IsKRCode(symbol string) bool {
	if symbol == "" || len(symbol) > 6 {
		return false
	}
	for _, c := range symbol {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsUSTicker reports whether symbol is letter-led alphanumeric ticker shape.
func IsUSTicker(symbol string) bool {
	return usTickerPattern.MatchString(symbol)
}

// CountryForSymbol infers a listing country from the symbol's shape.
func CountryForSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case IsKRCode(s):
		return "KR"
	case IsUSTicker(s):
		return "US"
	default:
		return ""
	}
}

// Symbols merges request focus symbols and route-matched symbols, upper-cased
// and de-duplicated in first-seen order.
func Symbols(req retrieval.QueryRequest, route retrieval.RouteDecision) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{req.FocusSymbols, route.Symbols} {
		for _, s := range list {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// PreferredCountry resolves which country's tables a request should prefer:
// an explicit single country, then symbol shape, then the route's country
// hint, then the selected intent.
func PreferredCountry(req retrieval.QueryRequest, route retrieval.RouteDecision) string {
	if countries := req.Countries(); len(countries) == 1 {
		return countries[0]
	}
	for _, s := range Symbols(req, route) {
		if c := CountryForSymbol(s); c != "" {
			return c
		}
	}
	if route.Country != "" && !strings.Contains(route.Country, "-") {
		return strings.ToUpper(route.Country)
	}
	switch route.SelectedType {
	case retrieval.IntentUSSingleStock:
		return "US"
	case retrieval.IntentKRSingleStock:
		return "KR"
	}
	return ""
}

// Score ranks one spec for the request. Higher is tried first.
func Score(spec Spec, req retrieval.QueryRequest, route retrieval.RouteDecision) int {
	country := spec.InferredCountry()
	score := 0

	if pref := PreferredCountry(req, route); pref != "" && country == pref {
		score += scoreCountryMatch
	}

	switch {
	case route.SelectedType == retrieval.IntentUSSingleStock && country == "US":
		score += scoreIntentMatch
	case route.SelectedType == retrieval.IntentKRSingleStock && country == "KR":
		score += scoreIntentMatch
	}

	var krBonus, usBonus bool
	for _, s := range Symbols(req, route) {
		if IsKRCode(s) && country == "KR" {
			krBonus = true
		}
		if IsUSTicker(s) && country == "US" {
			usBonus = true
		}
	}
	if krBonus {
		score += scoreKRSymbolShape
	}
	if usBonus {
		score += scoreUSSymbolShape
	}

	if strings.Contains(strings.ToLower(spec.TemplateID), "ohlcv") {
		score += scoreOHLCVTemplate
	}

	return score
}

type ScoredSpec struct {
	Spec  Spec
	Score int
	Index int
}

// Prioritize orders specs by (-score, original index); ties keep catalog order.
func Prioritize(specs []Spec, req retrieval.QueryRequest, route retrieval.RouteDecision) []ScoredSpec {
	scored := make([]ScoredSpec, len(specs))
	for i, s := range specs {
		scored[i] = ScoredSpec{Spec: s, Score: Score(s, req, route), Index: i}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Index < scored[j].Index
	})
	return scored
}
