package router

import "github.com/market-insight/retriever/internal/retrieval"

// IntentProfile is the fixed branch/agent tuple an intent maps to.
type IntentProfile struct {
	SQLNeed   bool
	GraphNeed bool
	ToolMode  retrieval.DispatchMode
	Agents    []string
}

var intentTable = map[retrieval.Intent]IntentProfile{
	retrieval.IntentUSSingleStock: {
		SQLNeed: true, GraphNeed: true, ToolMode: retrieval.ModeParallel,
		Agents: []string{retrieval.AgentEquityAnalyst, retrieval.AgentOntologyMaster},
	},
	retrieval.IntentKRSingleStock: {
		SQLNeed: true, GraphNeed: true, ToolMode: retrieval.ModeParallel,
		Agents: []string{retrieval.AgentEquityAnalyst, retrieval.AgentOntologyMaster},
	},
	retrieval.IntentMacroSummary: {
		SQLNeed: true, GraphNeed: true, ToolMode: retrieval.ModeParallel,
		Agents: []string{retrieval.AgentMacroEconomy, retrieval.AgentOntologyMaster},
	},
	retrieval.IntentIndicatorLookup: {
		SQLNeed: true, ToolMode: retrieval.ModeSingle,
		Agents: []string{retrieval.AgentMacroEconomy},
	},
	retrieval.IntentRealEstateDetail: {
		SQLNeed: true, ToolMode: retrieval.ModeSingle,
		Agents: []string{retrieval.AgentRealEstate},
	},
	retrieval.IntentCompareOutlook: {
		SQLNeed: true, GraphNeed: true, ToolMode: retrieval.ModeParallel,
		Agents: []string{retrieval.AgentMacroEconomy, retrieval.AgentEquityAnalyst, retrieval.AgentOntologyMaster},
	},
	retrieval.IntentRelationshipQuery: {
		GraphNeed: true, ToolMode: retrieval.ModeSingle,
		Agents: []string{retrieval.AgentOntologyMaster},
	},
	retrieval.IntentGeneralKnowledge: {
		ToolMode: retrieval.ModeSingle,
		Agents:   []string{retrieval.AgentGeneralKnowledge},
	},
}

// Profile returns the profile for intent and whether the intent is known.
func Profile(intent retrieval.Intent) (IntentProfile, bool) {
	p, ok := intentTable[intent]
	if !ok {
		return IntentProfile{}, false
	}
	p.Agents = append([]string(nil), p.Agents...)
	return p, true
}

// questionCatalog pins intents for known question ids.
var questionCatalog = map[string]retrieval.Intent{
	"us_stock_outlook":     retrieval.IntentUSSingleStock,
	"kr_stock_outlook":     retrieval.IntentKRSingleStock,
	"macro_weekly_summary": retrieval.IntentMacroSummary,
	"indicator_snapshot":   retrieval.IntentIndicatorLookup,
	"real_estate_trend":    retrieval.IntentRealEstateDetail,
	"us_kr_compare":        retrieval.IntentCompareOutlook,
	"company_relations":    retrieval.IntentRelationshipQuery,
	"general_question":     retrieval.IntentGeneralKnowledge,
}

type Company struct {
	Symbol  string
	Country string
	Names   []string
}

// DefaultCompanies is the built-in company dictionary. Names are matched
// case-insensitively as substrings of the question.
var DefaultCompanies = []Company{
	{Symbol: "PLTR", Country: "US", Names: []string{"palantir", "팔란티어"}},
	{Symbol: "AAPL", Country: "US", Names: []string{"apple", "애플"}},
	{Symbol: "NVDA", Country: "US", Names: []string{"nvidia", "엔비디아"}},
	{Symbol: "TSLA", Country: "US", Names: []string{"tesla", "테슬라"}},
	{Symbol: "MSFT", Country: "US", Names: []string{"microsoft", "마이크로소프트"}},
	{Symbol: "005930", Country: "KR", Names: []string{"samsung electronics", "삼성전자"}},
	{Symbol: "000660", Country: "KR", Names: []string{"sk hynix", "sk하이닉스", "하이닉스"}},
	{Symbol: "035420", Country: "KR", Names: []string{"naver", "네이버"}},
	{Symbol: "035720", Country: "KR", Names: []string{"kakao", "카카오"}},
	{Symbol: "005380", Country: "KR", Names: []string{"hyundai motor", "현대차", "현대자동차"}},
}

var (
	usHints = []string{"미국", "나스닥", "뉴욕", "s&p", "nasdaq", "nyse", "wall street", "fed", "연준"}
	krHints = []string{"한국", "국내", "코스피", "코스닥", "kospi", "kosdaq", "한은", "한국은행"}

	compareWords      = []string{"비교", "대비", " vs", "vs.", "versus", "compare", "comparison", "차이"}
	relationshipWords = []string{"관계", "공급망", "경쟁사", "협력사", "고객사", "supplier", "competitor", "relationship", "partner", "supply chain"}
	realEstateWords   = []string{"부동산", "아파트", "주택", "매매가", "전세", "실거래", "real estate", "housing", "apartment", "home price"}
	indicatorWords    = []string{"금리", "기준금리", "cpi", "물가", "환율", "gdp", "실업률", "pmi", "interest rate", "inflation", "exchange rate", "unemployment", "yield"}
	macroWords        = []string{"경제", "경기", "거시", "매크로", "macro", "economy", "economic", "주간 요약", "weekly"}
	stockWords        = []string{"주가", "주식", "종목", "stock", "share price", "shares", "실적", "earnings"}
)

// tickerStoplist holds upper-case words that look like tickers but are not.
var tickerStoplist = map[string]bool{
	"A": true, "I": true, "US": true, "USA": true, "KR": true, "KOR": true, "UK": true, "EU": true,
	"GDP": true, "CPI": true, "PPI": true, "PMI": true, "FOMC": true, "FED": true, "ECB": true, "BOK": true,
	"ETF": true, "IPO": true, "CEO": true, "CFO": true, "AI": true, "API": true, "EPS": true, "PER": true, "PBR": true,
	"ROE": true, "YOY": true, "QOQ": true, "MOM": true, "YTD": true, "MA": true, "VS": true, "OK": true,
	"KOSPI": true, "KOSDAQ": true, "NASDAQ": true, "NYSE": true, "SP": true, "USD": true, "KRW": true, "FX": true,
	"SK": true, "LG": true, "Q1": true, "Q2": true, "Q3": true, "Q4": true,
}
