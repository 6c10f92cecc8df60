package sqltemplate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-insight/retriever/internal/retrieval"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "us_daily_prices", want: `"us_daily_prices"`},
		{in: "Close2", want: `"Close2"`},
		{in: "", wantErr: true},
		{in: "trade date", wantErr: true},
		{in: `x"; DROP TABLE y; --`, wantErr: true},
		{in: "public.prices", wantErr: true},
		{in: "가격", wantErr: true},
	}
	for _, tt := range tests {
		got, err := QuoteIdentifier(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			assert.True(t, errors.Is(err, retrieval.ErrInvalidIdentifier))
			assert.Empty(t, got)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestBuildQuery_RejectsInvalidColumn(t *testing.T) {
	sel := Selection{Date: "trade_date", Projection: []string{"trade_date", "close;--"}}
	q, err := BuildQuery("prices", sel, Filters{}, 5)

	assert.True(t, errors.Is(err, retrieval.ErrInvalidIdentifier))
	assert.Empty(t, q.Text)
}

func TestBuildQuery(t *testing.T) {
	sel := Selection{
		Date:       "trade_date",
		SecurityID: "security_id",
		Symbol:     "symbol",
		Region:     "country_code",
		Projection: []string{"trade_date", "security_id", "symbol", "country_code", "close"},
	}
	q, err := BuildQuery("equity_daily_prices", sel, Filters{
		SecurityIDs: []string{"S1"},
		Symbols:     []string{"PLTR", "NVDA"},
		Region:      "US",
		Since:       "2025-01-01",
	}, 260)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "trade_date", "security_id", "symbol", "country_code", "close" FROM "equity_daily_prices" `+
			`WHERE "symbol" IN (?, ?) AND "country_code" = ? AND "trade_date" >= ? ORDER BY "trade_date" DESC LIMIT ?`,
		q.Text)
	assert.Equal(t, []any{"PLTR", "NVDA", "US", "2025-01-01", 260}, q.Params)
}

func TestBuildQuery_SecurityIDWhenNoSymbolColumn(t *testing.T) {
	sel := Selection{Date: "d", SecurityID: "security_id", Projection: []string{"d", "security_id"}}
	q, err := BuildQuery("t", sel, Filters{SecurityIDs: []string{"S1"}, Symbols: []string{"PLTR"}}, 5)
	require.NoError(t, err)

	assert.Equal(t, `SELECT "d", "security_id" FROM "t" WHERE "security_id" IN (?) ORDER BY "d" DESC LIMIT ?`, q.Text)
	assert.Equal(t, []any{"S1", 5}, q.Params)
}

func TestResolveColumns_CandidatePrecedence(t *testing.T) {
	spec := DefaultSpecs()[retrieval.AgentEquityAnalyst][1]
	live := []string{"close", "BAS_DD", "trade_date", "isu_srt_cd", "stock_code", "volume", "Stock_Name"}

	sel, err := ResolveColumns(spec, live)
	require.NoError(t, err)

	assert.Equal(t, "trade_date", sel.Date)
	assert.Equal(t, "stock_code", sel.Symbol)
	assert.Empty(t, sel.SecurityID)
	assert.Equal(t, []string{"trade_date", "stock_code", "Stock_Name", "close", "volume"}, sel.Projection)
}

func TestResolveColumns_Idempotent(t *testing.T) {
	spec := DefaultSpecs()[retrieval.AgentRealEstate][0]
	live := []string{"stat_ym", "lawd_cd", "house_type", "tx_count", "avg_price", "region_name"}

	first, err := ResolveColumns(spec, live)
	require.NoError(t, err)
	second, err := ResolveColumns(spec, live)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolveColumns_SchemaMismatch(t *testing.T) {
	spec := DefaultSpecs()[retrieval.AgentMacroEconomy][0]

	_, err := ResolveColumns(spec, []string{"value", "unit"})
	assert.True(t, errors.Is(err, retrieval.ErrSchemaMismatch), "no date column")

	_, err = ResolveColumns(spec, []string{"obs_date", "other"})
	assert.True(t, errors.Is(err, retrieval.ErrSchemaMismatch), "no projection column")
}

func TestPreferredCountry(t *testing.T) {
	tests := []struct {
		name  string
		req   retrieval.QueryRequest
		route retrieval.RouteDecision
		want  string
	}{
		{"us ticker", retrieval.QueryRequest{FocusSymbols: []string{"PLTR"}}, retrieval.RouteDecision{}, "US"},
		{"kr code", retrieval.QueryRequest{FocusSymbols: []string{"005930"}}, retrieval.RouteDecision{}, "KR"},
		{"route symbol", retrieval.QueryRequest{}, retrieval.RouteDecision{Symbols: []string{"pltr"}}, "US"},
		{"explicit country wins", retrieval.QueryRequest{CountryCode: "kr", FocusSymbols: []string{"PLTR"}}, retrieval.RouteDecision{}, "KR"},
		{"compare scope falls through", retrieval.QueryRequest{CountryCode: "US-KR"}, retrieval.RouteDecision{SelectedType: retrieval.IntentCompareOutlook}, ""},
		{"route country", retrieval.QueryRequest{}, retrieval.RouteDecision{Country: "KR"}, "KR"},
		{"intent", retrieval.QueryRequest{}, retrieval.RouteDecision{SelectedType: retrieval.IntentKRSingleStock}, "KR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PreferredCountry(tt.req, tt.route))
		})
	}
}

func TestScore(t *testing.T) {
	specs := DefaultSpecs()[retrieval.AgentEquityAnalyst]
	req := retrieval.QueryRequest{FocusSymbols: []string{"PLTR"}}
	route := retrieval.RouteDecision{SelectedType: retrieval.IntentUSSingleStock}

	assert.Equal(t, 120+100+50+10, Score(specs[0], req, route))
	assert.Equal(t, 10, Score(specs[1], req, route))
	assert.Equal(t, 10, Score(specs[2], req, route))
	assert.Equal(t, 0, Score(specs[3], req, route))
}

func TestPrioritize_StableOnTies(t *testing.T) {
	specs := []Spec{
		{TemplateID: "a", Table: "a"},
		{TemplateID: "b_ohlcv", Table: "b"},
		{TemplateID: "c", Table: "c"},
		{TemplateID: "d_ohlcv", Table: "d"},
	}

	ranked := Prioritize(specs, retrieval.QueryRequest{}, retrieval.RouteDecision{})

	var order []string
	for _, r := range ranked {
		order = append(order, r.Spec.Table)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, order)
	assert.Equal(t, 1, ranked[0].Index)
}

func TestSpec_DateFormatFor(t *testing.T) {
	var krPrices, krEvents Spec
	for _, s := range DefaultSpecs()[retrieval.AgentEquityAnalyst] {
		if s.Table == "kr_daily_prices" {
			krPrices = s
		}
	}
	for _, s := range DefaultEventSpecs() {
		if s.Table == "kr_disclosures" {
			krEvents = s
		}
	}

	assert.Equal(t, DateFormatCompactDay, krPrices.DateFormatFor("bas_dd"))
	assert.Equal(t, DateFormatCompactDay, krPrices.DateFormatFor("BAS_DD"))
	assert.Equal(t, DateFormatDay, krPrices.DateFormatFor("trade_date"))
	assert.Equal(t, DateFormatCompactDay, krEvents.DateFormatFor("rcept_dt"))
	assert.Equal(t, DateFormatDay, krEvents.DateFormatFor("disclosure_date"))
}

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"30d", now.AddDate(0, 0, -30), true},
		{"2w", now.AddDate(0, 0, -14), true},
		{"6M", now.AddDate(0, -6, 0), true},
		{" 3y ", now.AddDate(-3, 0, 0), true},
		{"ytd", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"0d", time.Time{}, false},
		{"forever", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseTimeRange(tt.in, now)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.True(t, tt.want.Equal(got), tt.in)
	}

	assert.Equal(t, "202509", FormatBound(time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), DateFormatMonth))
	assert.Equal(t, "2025-09-30", FormatBound(time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), DateFormatDay))
	assert.Equal(t, "20250930", FormatBound(time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), DateFormatCompactDay))
}
