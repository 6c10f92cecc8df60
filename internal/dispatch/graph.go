package dispatch

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/retrieval"
	"github.com/market-insight/retriever/pkg/logger"
)

// GraphBreakerKey guards the graph store.
const GraphBreakerKey = "graph"

// GraphReader is the read primitive of the graph store.
type GraphReader interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

type graphQuery struct {
	templateID string
	cypher     string
	params     map[string]any
}

const companyRelationsCypher = `MATCH (c:Company)
WHERE c.symbol IN $symbols OR toLower(c.name) IN $names
OPTIONAL MATCH (c)-[r]-(n)
RETURN c.symbol AS symbol, c.name AS company, type(r) AS relation,
       head(labels(n)) AS related_label, coalesce(n.name, n.symbol, n.code) AS related,
       coalesce(r.weight, r.confidence) AS weight
ORDER BY weight DESC
LIMIT $limit`

const indicatorLinksCypher = `MATCH (i:Indicator)
WHERE size($countries) = 0 OR i.country IN $countries
OPTIONAL MATCH (i)-[r]-(n)
RETURN i.code AS indicator, i.name AS name, i.country AS country, type(r) AS relation,
       head(labels(n)) AS related_label, coalesce(n.name, n.symbol, n.code) AS related
LIMIT $limit`

const regionLinksCypher = `MATCH (g:Region {code: $region})
OPTIONAL MATCH (g)-[r]-(n)
RETURN g.code AS region, g.name AS name, type(r) AS relation,
       head(labels(n)) AS related_label, coalesce(n.name, n.code) AS related
LIMIT $limit`

// graphQueryFor picks the anchor query for a request: companies when any
// symbol or company matched, else indicators for macro-flavored intents,
// else the requested region.
func graphQueryFor(req retrieval.QueryRequest, route retrieval.RouteDecision, limit int) (graphQuery, bool) {
	symbols := mergeUpper(req.FocusSymbols, route.Symbols)
	var names []string
	for _, list := range [][]string{req.Companies, route.Companies} {
		for _, c := range list {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				names = append(names, c)
			}
		}
	}

	if len(symbols) > 0 || len(names) > 0 {
		if symbols == nil {
			symbols = []string{}
		}
		if names == nil {
			names = []string{}
		}
		return graphQuery{
			templateID: "company_relations",
			cypher:     companyRelationsCypher,
			params:     map[string]any{"symbols": symbols, "names": names, "limit": limit},
		}, true
	}

	switch route.SelectedType {
	case retrieval.IntentMacroSummary, retrieval.IntentIndicatorLookup, retrieval.IntentCompareOutlook:
		countries := req.Countries()
		if len(countries) == 0 && route.Country != "" {
			countries = retrieval.QueryRequest{CountryCode: route.Country}.Countries()
		}
		if countries == nil {
			countries = []string{}
		}
		return graphQuery{
			templateID: "indicator_links",
			cypher:     indicatorLinksCypher,
			params:     map[string]any{"countries": countries, "limit": limit},
		}, true
	}

	if region := strings.TrimSpace(req.RegionCode); region != "" {
		return graphQuery{
			templateID: "region_links",
			cypher:     regionLinksCypher,
			params:     map[string]any{"region": region, "limit": limit},
		}, true
	}

	return graphQuery{}, false
}

func mergeUpper(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
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

func (d *Dispatcher) graphProbe(ctx context.Context, agent string, req retrieval.QueryRequest, route retrieval.RouteDecision) retrieval.ToolProbe {
	if d.breaker != nil && d.breaker.IsBlocked(GraphBreakerKey) {
		return retrieval.ToolProbe{Status: retrieval.StatusDegraded, Reason: retrieval.ReasonFastFailWindow}
	}
	if d.graph == nil {
		err := retrieval.NewConfigurationError("graph store is not configured")
		probe := retrieval.ToolProbe{Status: retrieval.StatusError, Reason: retrieval.ReasonFor(err)}
		probe.AddDetail("error", err.Error())
		return probe
	}

	q, ok := graphQueryFor(req, route, d.cfg.GraphRowLimit)
	if !ok {
		return retrieval.ToolProbe{Status: retrieval.StatusDegraded, Reason: retrieval.ReasonNoGraphAnchors}
	}

	probe := retrieval.ToolProbe{TemplateID: q.templateID, Query: q.cypher}
	probe.AddDetail("params", q.params)

	rows, err := d.graph.Read(ctx, q.cypher, q.params)
	if err != nil {
		qerr := retrieval.NewQueryExecutionError(err, "graph read %s failed", q.templateID)
		logger.Warn("Graph probe failed",
			zap.String("agent", agent),
			zap.String("template_id", q.templateID),
			zap.Error(qerr),
		)
		if d.breaker != nil {
			d.breaker.RecordFailure(GraphBreakerKey)
		}
		probe.Status = retrieval.StatusError
		probe.Reason = retrieval.ReasonFor(qerr)
		probe.AddDetail("error", qerr.Error())
		return probe
	}
	if d.breaker != nil {
		d.breaker.RecordSuccess(GraphBreakerKey)
	}

	probe.SetRowCount(len(rows))
	probe.Rows = rows
	if len(rows) == 0 {
		probe.Status = retrieval.StatusDegraded
		probe.Reason = retrieval.ReasonNoGraphRows
		return probe
	}
	probe.Status = retrieval.StatusOK
	probe.Reason = retrieval.ReasonGraphRowsFound
	return probe
}
