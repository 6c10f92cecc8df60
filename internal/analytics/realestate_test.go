package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeRealEstate_WeightedMonthlyAggregates(t *testing.T) {
	rows := []map[string]any{
		{"stat_ym": "202401", "tx_count": int64(10), "avg_price": 100.0},
		{"stat_ym": "202401", "tx_count": int64(30), "avg_price": 200.0},
		{"stat_ym": "2024-02", "tx_count": int64(20), "avg_price": 180.0},
		{"stat_ym": "202403", "tx_count": int64(20), "avg_price": 190.0},
		{"stat_ym": "202404", "tx_count": int64(20), "avg_price": 190.0},
		{"stat_ym": "202405", "tx_count": int64(20), "avg_price": 195.0},
		{"stat_ym": "202406", "tx_count": []byte("60"), "avg_price": "210"},
	}

	trend := AnalyzeRealEstate(rows, RealEstateOptions{MonthColumn: "stat_ym"})

	assert.Equal(t, "ok", trend.Status)
	require.Equal(t, 6, trend.MonthCount)
	assert.Equal(t, "2024-01", trend.StartMonth)
	assert.Equal(t, "2024-06", trend.EndMonth)

	assert.Equal(t, 40.0, trend.Months[0].TxCount)
	assert.InDelta(t, 175.0, trend.Months[0].AvgPrice, 1e-9)

	require.NotNil(t, trend.PriceChangePct)
	assert.InDelta(t, 20.0, *trend.PriceChangePct, 1e-4)
	require.NotNil(t, trend.TxCountChangePct)
	assert.InDelta(t, 50.0, *trend.TxCountChangePct, 1e-4)
}

func TestAnalyzeRealEstate_Limited(t *testing.T) {
	rows := []map[string]any{
		{"deal_ym": "202410", "trade_count": 5, "avg_deal_amount": 90000},
		{"deal_ym": "202411", "trade_count": 4, "avg_deal_amount": 99000},
	}

	trend := AnalyzeRealEstate(rows, RealEstateOptions{MonthColumn: "deal_ym"})

	assert.Equal(t, "limited", trend.Status)
	assert.Equal(t, 2, trend.DataPoints())
	assert.InDelta(t, 10.0, *trend.PriceChangePct, 1e-4)
	assert.InDelta(t, -20.0, *trend.TxCountChangePct, 1e-4)
}

func TestAnalyzeRealEstate_NoData(t *testing.T) {
	trend := AnalyzeRealEstate([]map[string]any{{"stat_ym": nil}}, RealEstateOptions{MonthColumn: "stat_ym"})

	assert.Equal(t, "degraded", trend.Status)
	assert.Equal(t, "no_monthly_data", trend.Reason)
	assert.Equal(t, 0, trend.DataPoints())
}

func TestAnalyzeRealEstate_UnweightedFallback(t *testing.T) {
	rows := []map[string]any{
		{"stat_ym": "202401", "avg_price": 100.0},
		{"stat_ym": "202401", "avg_price": 300.0},
	}

	trend := AnalyzeRealEstate(rows, RealEstateOptions{MonthColumn: "stat_ym"})

	require.Len(t, trend.Months, 1)
	assert.InDelta(t, 200.0, trend.Months[0].AvgPrice, 1e-9)
	assert.Nil(t, trend.PriceChangePct)
}
