package analytics

import (
	"sort"

	"github.com/market-insight/retriever/internal/retrieval"
)

// MinTrendMonths is the window below which a real-estate trend is reported as limited.
const MinTrendMonths = 6

var (
	TxCountColumns = []string{"tx_count", "trade_count", "deal_count", "transaction_count"}
	PriceColumns   = []string{"avg_price", "avg_deal_amount", "mean_price", "price"}
)

type RealEstateOptions struct {
	MonthColumn string
}

type monthAgg struct {
	txCount     float64
	weighted    float64
	priceSum    float64
	priceCount  int
	weightTotal float64
}

// AnalyzeRealEstate groups rows by statistic month, sums transaction counts,
// computes a transaction-weighted average price, and compares the latest
// month against the earliest.
func AnalyzeRealEstate(rows []map[string]any, opts RealEstateOptions) *retrieval.TrendAnalysis {
	groups := make(map[string]*monthAgg)
	for _, row := range rows {
		month, ok := ToMonth(row[opts.MonthColumn])
		if !ok {
			continue
		}
		agg, ok := groups[month]
		if !ok {
			agg = &monthAgg{}
			groups[month] = agg
		}

		count := 0.0
		if raw, ok := firstValue(row, TxCountColumns); ok {
			if c, ok := ToFloat(raw); ok && c > 0 {
				count = c
			}
		}
		agg.txCount += count

		if raw, ok := firstValue(row, PriceColumns); ok {
			if p, ok := ToFloat(raw); ok {
				agg.priceSum += p
				agg.priceCount++
				agg.weighted += p * count
				agg.weightTotal += count
			}
		}
	}

	if len(groups) == 0 {
		return &retrieval.TrendAnalysis{
			Status: "degraded",
			Reason: "no_monthly_data",
		}
	}

	months := make([]string, 0, len(groups))
	for m := range groups {
		months = append(months, m)
	}
	sort.Strings(months)

	points := make([]retrieval.MonthlyPoint, 0, len(months))
	for _, m := range months {
		agg := groups[m]
		points = append(points, retrieval.MonthlyPoint{
			Month:    m,
			TxCount:  agg.txCount,
			AvgPrice: Round(agg.avgPrice(), 4),
		})
	}

	trend := &retrieval.TrendAnalysis{
		Status:     "ok",
		Months:     points,
		MonthCount: len(points),
		StartMonth: points[0].Month,
		EndMonth:   points[len(points)-1].Month,
	}

	first, latest := points[0], points[len(points)-1]
	if len(points) > 1 {
		if pct, ok := PctChange(first.AvgPrice, latest.AvgPrice); ok {
			trend.PriceChangePct = floatPtr(pct)
		}
		if pct, ok := PctChange(first.TxCount, latest.TxCount); ok {
			trend.TxCountChangePct = floatPtr(pct)
		}
	}

	if len(points) < MinTrendMonths {
		trend.Status = "limited"
		trend.Reason = "fewer_than_6_months"
	}

	return trend
}

// avgPrice weights by transaction count and falls back to a plain mean when
// no counts were reported for the month.
func (a *monthAgg) avgPrice() float64 {
	if a.weightTotal > 0 {
		return a.weighted / a.weightTotal
	}
	if a.priceCount > 0 {
		return a.priceSum / float64(a.priceCount)
	}
	return 0
}
