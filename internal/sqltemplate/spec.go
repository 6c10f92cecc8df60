// Package sqltemplate resolves an agent's SQL templates against the live
// schema, ranks them for the request, and runs them in priority order.
package sqltemplate

import (
	"strings"

	"github.com/market-insight/retriever/internal/retrieval"
)

type Kind string

const (
	KindOHLCV        Kind = "ohlcv"
	KindFundamentals Kind = "fundamentals"
	KindIndicator    Kind = "indicator"
	KindRealEstate   Kind = "real_estate"
	KindEvents       Kind = "events"
)

type DateFormat string

const (
	DateFormatDay        DateFormat = "day"
	DateFormatCompactDay DateFormat = "compact_day"
	DateFormatMonth      DateFormat = "month"
)

// Spec is one candidate template: a table plus ordered candidate column
// names per role. The first candidate present in the live schema wins.
// DateColumnFormats overrides DateFormat for columns stored differently,
// such as KRX "bas_dd" and DART "rcept_dt" in YYYYMMDD.
type Spec struct {
	TemplateID        string
	Table             string
	Country           string
	Kind              Kind
	DateFormat        DateFormat
	DateColumnFormats map[string]DateFormat
	DateColumns       []string
	SecurityIDColumns []string
	SymbolColumns     []string
	RegionColumns     []string
	PropertyColumns   []string
	SelectColumns     []string
}

// InferredCountry is the explicit Country or the one implied by a
// "us_"/"kr_" table prefix.
func (s Spec) InferredCountry() string {
	if s.Country != "" {
		return strings.ToUpper(s.Country)
	}
	lower := strings.ToLower(s.Table)
	switch {
	case strings.HasPrefix(lower, "us_"):
		return "US"
	case strings.HasPrefix(lower, "kr_"):
		return "KR"
	default:
		return ""
	}
}

// DateFormatFor is the storage format of the resolved date column.
func (s Spec) DateFormatFor(column string) DateFormat {
	for c, f := range s.DateColumnFormats {
		if strings.EqualFold(c, column) {
			return f
		}
	}
	return s.DateFormat
}

func (s Spec) IsOHLCV() bool {
	return s.Kind == KindOHLCV || strings.Contains(strings.ToLower(s.TemplateID), "ohlcv")
}

var priceColumns = []string{"open", "high", "low", "close", "adj_close", "close_price", "volume", "change_pct"}

// DefaultSpecs is the static template catalog keyed by agent name.
func DefaultSpecs() map[string][]Spec {
	return map[string][]Spec{
		retrieval.AgentEquityAnalyst: {
			{
				TemplateID:        "us_equity_ohlcv_daily",
				Table:             "us_daily_prices",
				Kind:              KindOHLCV,
				DateFormat:        DateFormatDay,
				DateColumns:       []string{"trade_date", "base_date", "date"},
				SecurityIDColumns: []string{"security_id"},
				SymbolColumns:     []string{"symbol", "ticker"},
				SelectColumns:     priceColumns,
			},
			{
				TemplateID:        "kr_equity_ohlcv_daily",
				Table:             "kr_daily_prices",
				Kind:              KindOHLCV,
				DateFormat:        DateFormatDay,
				DateColumnFormats: map[string]DateFormat{"bas_dd": DateFormatCompactDay},
				DateColumns:       []string{"trade_date", "base_date", "bas_dd", "date"},
				SecurityIDColumns: []string{"security_id", "isin"},
				SymbolColumns:     []string{"stock_code", "isu_srt_cd", "symbol"},
				SelectColumns:     append([]string{"stock_name"}, priceColumns...),
			},
			{
				TemplateID:        "equity_ohlcv_daily",
				Table:             "equity_daily_prices",
				Kind:              KindOHLCV,
				DateFormat:        DateFormatDay,
				DateColumns:       []string{"trade_date", "date"},
				SecurityIDColumns: []string{"security_id"},
				SymbolColumns:     []string{"symbol", "ticker", "stock_code"},
				RegionColumns:     []string{"country_code", "market"},
				SelectColumns:     priceColumns,
			},
			{
				TemplateID:        "equity_fundamentals_quarterly",
				Table:             "equity_fundamentals",
				Kind:              KindFundamentals,
				DateFormat:        DateFormatDay,
				DateColumns:       []string{"period_end", "report_date", "fiscal_date"},
				SecurityIDColumns: []string{"security_id"},
				SymbolColumns:     []string{"symbol", "ticker", "stock_code"},
				SelectColumns:     []string{"revenue", "operating_income", "net_income", "eps", "per", "pbr", "roe"},
			},
		},
		retrieval.AgentMacroEconomy: {
			{
				TemplateID:    "kr_macro_indicator_series",
				Table:         "kr_macro_indicators",
				Kind:          KindIndicator,
				DateFormat:    DateFormatDay,
				DateColumns:   []string{"obs_date", "base_date", "date"},
				SelectColumns: []string{"indicator_code", "indicator_name", "value", "unit", "source"},
			},
			{
				TemplateID:    "us_macro_indicator_series",
				Table:         "us_macro_indicators",
				Kind:          KindIndicator,
				DateFormat:    DateFormatDay,
				DateColumns:   []string{"obs_date", "date"},
				SelectColumns: []string{"series_id", "indicator_name", "value", "unit", "source"},
			},
			{
				TemplateID:    "macro_indicator_series",
				Table:         "macro_indicators",
				Kind:          KindIndicator,
				DateFormat:    DateFormatDay,
				DateColumns:   []string{"obs_date", "base_date", "date"},
				RegionColumns: []string{"country_code", "region_code"},
				SelectColumns: []string{"indicator_code", "indicator_name", "value", "unit", "source"},
			},
		},
		retrieval.AgentRealEstate: {
			{
				TemplateID:      "kr_real_estate_monthly_trades",
				Table:           "kr_real_estate_trades",
				Kind:            KindRealEstate,
				DateFormat:      DateFormatMonth,
				DateColumns:     []string{"stat_ym", "deal_ym", "contract_ym"},
				RegionColumns:   []string{"lawd_cd", "region_code", "sigungu_code"},
				PropertyColumns: []string{"property_type", "house_type"},
				SelectColumns:   []string{"region_name", "property_type", "tx_count", "trade_count", "avg_price", "avg_deal_amount", "median_price"},
			},
			{
				TemplateID:      "real_estate_monthly_summary",
				Table:           "real_estate_monthly_stats",
				Kind:            KindRealEstate,
				DateFormat:      DateFormatMonth,
				DateColumns:     []string{"stat_ym", "stat_month"},
				RegionColumns:   []string{"region_code", "lawd_cd"},
				PropertyColumns: []string{"property_type"},
				SelectColumns:   []string{"region_name", "property_type", "tx_count", "avg_price"},
			},
		},
	}
}

// DefaultEventSpecs are the earnings/disclosure event templates used to align
// earnings reactions with price bars.
func DefaultEventSpecs() []Spec {
	return []Spec{
		{
			TemplateID:    "us_earnings_events",
			Table:         "us_earnings_calendar",
			Kind:          KindEvents,
			DateFormat:    DateFormatDay,
			DateColumns:   []string{"report_date", "event_date", "earnings_date"},
			SymbolColumns: []string{"symbol", "ticker"},
		},
		{
			TemplateID:        "kr_earnings_disclosures",
			Table:             "kr_disclosures",
			Kind:              KindEvents,
			DateFormat:        DateFormatDay,
			DateColumnFormats: map[string]DateFormat{"rcept_dt": DateFormatCompactDay},
			DateColumns:       []string{"rcept_dt", "disclosure_date", "event_date"},
			SymbolColumns:     []string{"stock_code", "symbol"},
		},
	}
}
