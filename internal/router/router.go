// Package router classifies a QueryRequest into a RouteDecision: which
// intent it is, which branches it needs and which agents run them.
package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/llm"
	"github.com/market-insight/retriever/internal/retrieval"
	"github.com/market-insight/retriever/internal/sqltemplate"
	"github.com/market-insight/retriever/pkg/logger"
	"github.com/market-insight/retriever/pkg/utils"
)

// Route sources.
const (
	SourceQuestionID = "question_id"
	SourceRule       = "rule"
	SourceLLM        = "llm"
	SourceLLMCache   = "llm_cache"
)

var (
	textTickerPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9.\-]{0,14}\b`)
	textKRCodePattern = regexp.MustCompile(`\b\d{6}\b`)
)

// Classifier is the low-confidence fallback.
type Classifier interface {
	SuggestRoute(ctx context.Context, question string) (*llm.RouteSuggestion, error)
}

type SuggestionCache interface {
	GetRoute(ctx context.Context, questionHash string, dst any) (bool, error)
	SetRoute(ctx context.Context, questionHash string, suggestion any, ttl time.Duration) error
}

type Config struct {
	// DefaultModel and AgentModels build RouteDecision.ModelPolicy.
	DefaultModel string
	AgentModels  map[string]string
	CacheTTL     time.Duration
}

type Router struct {
	cfg        Config
	classifier Classifier
	cache      SuggestionCache
	companies  []Company
}

type Option func(*Router)

func WithClassifier(c Classifier) Option {
	return func(r *Router) { r.classifier = c }
}

func WithCache(c SuggestionCache) Option {
	return func(r *Router) { r.cache = c }
}

func WithCompanies(companies []Company) Option {
	return func(r *Router) { r.companies = companies }
}

func New(cfg Config, opts ...Option) *Router {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	r := &Router{cfg: cfg, companies: DefaultCompanies}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// signals is everything the deterministic pass extracts from a request.
type signals struct {
	symbols      []string
	companies    []string
	hints        []string
	compare      bool
	relationship bool
	realEstate   bool
	indicator    bool
	macro        bool
	stock        bool
}

// Classify never fails: an unreachable classifier degrades to the
// deterministic decision.
func (r *Router) Classify(ctx context.Context, req retrieval.QueryRequest) retrieval.RouteDecision {
	sig := r.extract(req)

	if intent, ok := questionCatalog[strings.ToLower(strings.TrimSpace(req.QuestionID))]; ok {
		return r.decide(intent, retrieval.ConfidenceHigh, SourceQuestionID, sig, req)
	}

	intent, confidence := deterministic(sig)
	source := SourceRule

	if confidence == retrieval.ConfidenceLow && r.classifier != nil && strings.TrimSpace(req.Question) != "" {
		if suggestion, from := r.suggest(ctx, req.Question); suggestion != nil {
			var merged bool
			intent, confidence, merged = merge(intent, confidence, suggestion, &sig)
			if merged {
				source = from
			}
		}
	}

	return r.decide(intent, confidence, source, sig, req)
}

func (r *Router) extract(req retrieval.QueryRequest) signals {
	var sig signals
	seenSymbol := make(map[string]bool)
	addSymbol := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seenSymbol[s] {
			return
		}
		seenSymbol[s] = true
		sig.symbols = append(sig.symbols, s)
	}
	seenCompany := make(map[string]bool)
	addCompany := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || seenCompany[strings.ToLower(c)] {
			return
		}
		seenCompany[strings.ToLower(c)] = true
		sig.companies = append(sig.companies, c)
	}

	for _, s := range req.FocusSymbols {
		addSymbol(s)
	}
	for _, c := range req.Companies {
		addCompany(c)
	}

	text := req.Question
	lower := strings.ToLower(text)

	// single letters (F, T, C) only count as tickers next to stock wording
	stockContext := containsAny(lower, stockWords)
	for _, m := range textTickerPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".-")
		if m == "" || tickerStoplist[m] || (len(m) == 1 && !stockContext) {
			continue
		}
		addSymbol(m)
	}
	for _, m := range textKRCodePattern.FindAllString(text, -1) {
		addSymbol(m)
	}

	for _, company := range r.companies {
		for _, name := range company.Names {
			if strings.Contains(lower, strings.ToLower(name)) {
				addSymbol(company.Symbol)
				addCompany(name)
				break
			}
		}
	}
	for _, c := range req.Companies {
		for _, company := range r.companies {
			if containsFold(company.Names, c) {
				addSymbol(company.Symbol)
			}
		}
	}

	if containsAny(lower, usHints) {
		sig.hints = append(sig.hints, "US")
	}
	if containsAny(lower, krHints) {
		sig.hints = append(sig.hints, "KR")
	}

	symbolCountries := make(map[string]bool)
	for _, s := range sig.symbols {
		if c := sqltemplate.CountryForSymbol(s); c != "" {
			symbolCountries[c] = true
		}
	}

	sig.compare = req.CompareMode ||
		req.IsCompareScope() ||
		containsAny(lower, compareWords) ||
		len(sig.hints) > 1 ||
		len(symbolCountries) > 1
	sig.relationship = containsAny(lower, relationshipWords)
	sig.realEstate = containsAny(lower, realEstateWords) || strings.TrimSpace(req.PropertyType) != ""
	sig.indicator = containsAny(lower, indicatorWords)
	sig.macro = containsAny(lower, macroWords)
	sig.stock = stockContext
	return sig
}

// deterministic maps signals to an intent. A detected symbol always yields a
// stock intent; relationship wording is served by its graph branch.
func deterministic(sig signals) (retrieval.Intent, retrieval.Confidence) {
	switch {
	case sig.compare:
		return retrieval.IntentCompareOutlook, retrieval.ConfidenceHigh
	case len(sig.symbols) > 0:
		return stockIntent(sig.symbols, sig.hints), retrieval.ConfidenceHigh
	case sig.realEstate:
		return retrieval.IntentRealEstateDetail, retrieval.ConfidenceMedium
	case sig.relationship && len(sig.companies) > 0:
		return retrieval.IntentRelationshipQuery, retrieval.ConfidenceMedium
	case sig.indicator:
		return retrieval.IntentIndicatorLookup, retrieval.ConfidenceMedium
	case sig.macro:
		return retrieval.IntentMacroSummary, retrieval.ConfidenceMedium
	default:
		return retrieval.IntentGeneralKnowledge, retrieval.ConfidenceLow
	}
}

func stockIntent(symbols, hints []string) retrieval.Intent {
	country := ""
	if len(symbols) > 0 {
		country = sqltemplate.CountryForSymbol(symbols[0])
	}
	if country == "" && len(hints) > 0 {
		country = hints[0]
	}
	if country == "KR" {
		return retrieval.IntentKRSingleStock
	}
	return retrieval.IntentUSSingleStock
}

// merge folds an LLM suggestion under the deterministic result. A symbol
// match always keeps a stock intent.
func merge(intent retrieval.Intent, confidence retrieval.Confidence, s *llm.RouteSuggestion, sig *signals) (retrieval.Intent, retrieval.Confidence, bool) {
	suggested := retrieval.Intent(s.SelectedType)
	if _, ok := intentTable[suggested]; !ok {
		logger.Warn("Ignoring unknown LLM route suggestion", zap.String("selected_type", s.SelectedType))
		return intent, confidence, false
	}

	hadSymbols := len(sig.symbols) > 0
	for _, sym := range s.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || tickerStoplist[sym] || sqltemplate.CountryForSymbol(sym) == "" || contains(sig.symbols, sym) {
			continue
		}
		sig.symbols = append(sig.symbols, sym)
	}
	for _, c := range s.Companies {
		if c = strings.TrimSpace(c); c != "" && !containsFold(sig.companies, c) {
			sig.companies = append(sig.companies, c)
		}
	}
	if len(sig.hints) == 0 && (s.Country == "US" || s.Country == "KR") {
		sig.hints = append(sig.hints, s.Country)
	}

	mergedConfidence := retrieval.ConfidenceMedium
	if s.Confidence == string(retrieval.ConfidenceLow) {
		mergedConfidence = retrieval.ConfidenceLow
	}

	if len(sig.symbols) > 0 {
		switch suggested {
		case retrieval.IntentUSSingleStock, retrieval.IntentKRSingleStock, retrieval.IntentRelationshipQuery, retrieval.IntentCompareOutlook:
		default:
			if hadSymbols {
				return stockIntent(sig.symbols, sig.hints), retrieval.ConfidenceHigh, true
			}
			return stockIntent(sig.symbols, sig.hints), mergedConfidence, true
		}
	}
	return suggested, mergedConfidence, true
}

func (r *Router) suggest(ctx context.Context, question string) (*llm.RouteSuggestion, string) {
	key := utils.HashKey("route", question)

	if r.cache != nil {
		var cached llm.RouteSuggestion
		found, err := r.cache.GetRoute(ctx, key, &cached)
		if err != nil {
			logger.Warn("Route cache lookup failed", zap.Error(err))
		} else if found {
			return &cached, SourceLLMCache
		}
	}

	suggestion, err := r.classifier.SuggestRoute(ctx, question)
	if err != nil {
		logger.Warn("LLM route fallback failed", zap.Error(err))
		return nil, ""
	}

	if r.cache != nil {
		if err := r.cache.SetRoute(ctx, key, suggestion, r.cfg.CacheTTL); err != nil {
			logger.Warn("Failed to cache route suggestion", zap.Error(err))
		}
	}
	return suggestion, SourceLLM
}

func (r *Router) decide(intent retrieval.Intent, confidence retrieval.Confidence, source string, sig signals, req retrieval.QueryRequest) retrieval.RouteDecision {
	profile, ok := Profile(intent)
	if !ok {
		intent = retrieval.IntentGeneralKnowledge
		profile, _ = Profile(intent)
	}

	decision := retrieval.RouteDecision{
		SelectedType:  intent,
		Confidence:    confidence,
		Source:        source,
		SQLNeed:       profile.SQLNeed,
		GraphNeed:     profile.GraphNeed,
		LLMDirectNeed: !profile.SQLNeed && !profile.GraphNeed,
		ToolMode:      profile.ToolMode,
		TargetAgents:  profile.Agents,
		ModelPolicy:   r.modelPolicy(profile.Agents),
		Symbols:       sig.symbols,
		Companies:     sig.companies,
		Country:       routeCountry(intent, sig, req),
	}
	for _, s := range sig.symbols {
		if c := sqltemplate.CountryForSymbol(s); c != "" {
			decision.SecurityIDs = append(decision.SecurityIDs, fmt.Sprintf("%s:%s", c, s))
		}
	}

	logger.Debug("Route decided",
		zap.String("selected_type", string(decision.SelectedType)),
		zap.String("confidence", string(decision.Confidence)),
		zap.String("source", decision.Source),
		zap.Strings("symbols", decision.Symbols),
	)
	return decision
}

func routeCountry(intent retrieval.Intent, sig signals, req retrieval.QueryRequest) string {
	if countries := req.Countries(); len(countries) > 0 {
		return strings.Join(countries, "-")
	}
	if intent == retrieval.IntentCompareOutlook {
		return "US-KR"
	}
	for _, s := range sig.symbols {
		if c := sqltemplate.CountryForSymbol(s); c != "" {
			return c
		}
	}
	if len(sig.hints) > 0 {
		return sig.hints[0]
	}
	switch intent {
	case retrieval.IntentUSSingleStock:
		return "US"
	case retrieval.IntentKRSingleStock:
		return "KR"
	}
	return ""
}

func (r *Router) modelPolicy(agents []string) map[string]string {
	policy := make(map[string]string, len(agents))
	for _, a := range agents {
		if m := r.cfg.AgentModels[a]; m != "" {
			policy[a] = m
		} else if r.cfg.DefaultModel != "" {
			policy[a] = r.cfg.DefaultModel
		}
	}
	if len(policy) == 0 {
		return nil
	}
	return policy
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
