package analytics

import (
	"sort"
	"strconv"
	"time"

	"github.com/market-insight/retriever/internal/retrieval"
)

const (
	TrendUp      = "up"
	TrendDown    = "down"
	TrendNeutral = "neutral"

	SignalGoldenCross = "golden_cross"
	SignalDeadCross   = "dead_cross"
	SignalNone        = "none"
)

// ReturnHorizons are the bar offsets reported in EquityAnalysis.Returns.
var ReturnHorizons = []int{1, 5, 20, 60, 120}

// CloseColumns are tried in order to find the closing price in a row.
var CloseColumns = []string{"close", "close_price", "adj_close", "closing_price", "price"}

type Bar struct {
	Date  time.Time
	Close float64
}

type EquityOptions struct {
	DateColumn string
	// EarningsEventLimit keeps only the most recent N reactions. Zero means 3.
	EarningsEventLimit int
}

// BarsByKey splits rows into one (date, close) series per security, keyed by
// ToKey of keyColumn. Rows without a key land under "". Rows without a
// parsable date or close are dropped.
func BarsByKey(rows []map[string]any, keyColumn, dateColumn string) map[string][]Bar {
	out := make(map[string][]Bar)
	for _, row := range rows {
		b, ok := barFromRow(row, dateColumn)
		if !ok {
			continue
		}
		key := ToKey(row[keyColumn])
		out[key] = append(out[key], b)
	}
	return out
}

func barFromRow(row map[string]any, dateColumn string) (Bar, bool) {
	d, ok := ToDate(row[dateColumn])
	if !ok {
		return Bar{}, false
	}
	raw, ok := firstValue(row, CloseColumns)
	if !ok {
		return Bar{}, false
	}
	c, ok := ToFloat(raw)
	if !ok {
		return Bar{}, false
	}
	return Bar{Date: d, Close: c}, true
}

// AnalyzeEquity computes moving averages, trend labels, cross signals,
// horizon returns and earnings reactions. Bars may arrive in any order.
func AnalyzeEquity(bars []Bar, eventDates []time.Time, opts EquityOptions) *retrieval.EquityAnalysis {
	if len(bars) == 0 {
		return &retrieval.EquityAnalysis{
			Status:         "degraded",
			Reason:         "no_price_bars",
			ShortTermTrend: TrendNeutral,
			LongTermTrend:  TrendNeutral,
			CrossSignal:    SignalNone,
		}
	}

	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	closes := make([]float64, len(sorted))
	for i, b := range sorted {
		closes[i] = b.Close
	}

	last := len(sorted) - 1
	price := closes[last]
	ma20 := movingAverage(closes, last, 20)
	ma60 := movingAverage(closes, last, 60)
	ma120 := movingAverage(closes, last, 120)

	analysis := &retrieval.EquityAnalysis{
		Status:         "ok",
		BarCount:       len(sorted),
		AsOf:           sorted[last].Date.Format("2006-01-02"),
		LastClose:      price,
		MA20:           roundPtr(ma20),
		MA60:           roundPtr(ma60),
		MA120:          roundPtr(ma120),
		ShortTermTrend: classifyTrend(price, ma20, ma60),
		LongTermTrend:  classifyTrend(price, ma60, ma120),
		Returns:        horizonReturns(closes),
	}

	signals := CrossSignals(closes)
	analysis.CrossSignal = signals[last]
	for i := last; i >= 0; i-- {
		if signals[i] != SignalNone {
			analysis.LastCrossSignal = signals[i]
			analysis.LastCrossDate = sorted[i].Date.Format("2006-01-02")
			break
		}
	}

	if len(sorted) < 120 {
		analysis.Status = "limited"
		analysis.Reason = "insufficient_history_for_ma120"
	}

	limit := opts.EarningsEventLimit
	if limit <= 0 {
		limit = 3
	}
	analysis.EarningsReaction = EarningsReactions(sorted, eventDates, limit)

	return analysis
}

// movingAverage is the mean of the period closes ending at index end, or nil
// when there is not enough history.
func movingAverage(closes []float64, end, period int) *float64 {
	if end+1 < period {
		return nil
	}
	var sum float64
	for i := end - period + 1; i <= end; i++ {
		sum += closes[i]
	}
	avg := sum / float64(period)
	return &avg
}

func roundPtr(f *float64) *float64 {
	if f == nil {
		return nil
	}
	return floatPtr(Round(*f, 4))
}

// classifyTrend labels up when price > fast > slow, down when price < fast < slow.
func classifyTrend(price float64, fast, slow *float64) string {
	if fast == nil || slow == nil {
		return TrendNeutral
	}
	switch {
	case price > *fast && *fast > *slow:
		return TrendUp
	case price < *fast && *fast < *slow:
		return TrendDown
	default:
		return TrendNeutral
	}
}

// CrossSignals labels every bar by comparing the MA20/MA60 relationship on
// that bar against the previous one. A bar without both averages on the
// previous bar counts as neither above nor below.
func CrossSignals(closes []float64) []string {
	signals := make([]string, len(closes))
	prevAbove, prevBelow := false, false
	for i := range closes {
		signals[i] = SignalNone
		fast := movingAverage(closes, i, 20)
		slow := movingAverage(closes, i, 60)
		if fast == nil || slow == nil {
			prevAbove, prevBelow = false, false
			continue
		}

		above := *fast > *slow
		below := *fast < *slow
		switch {
		case above && !prevAbove:
			signals[i] = SignalGoldenCross
		case below && !prevBelow:
			signals[i] = SignalDeadCross
		}
		prevAbove, prevBelow = above, below
	}
	return signals
}

func horizonReturns(closes []float64) map[string]float64 {
	last := len(closes) - 1
	out := make(map[string]float64, len(ReturnHorizons))
	for _, h := range ReturnHorizons {
		base := last - h
		if base < 0 {
			continue
		}
		if pct, ok := PctChange(closes[base], closes[last]); ok {
			out[strconv.Itoa(h)+"d"] = pct
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// EarningsReactions aligns event dates to the first bar on or after each
// event and measures moves against the close of the bar before it. Bars must
// be sorted ascending. Only the most recent limit events are kept, newest first.
func EarningsReactions(bars []Bar, eventDates []time.Time, limit int) []retrieval.EarningsReaction {
	if len(bars) < 2 || len(eventDates) == 0 {
		return nil
	}

	events := make([]time.Time, 0, len(eventDates))
	seen := make(map[time.Time]bool, len(eventDates))
	for _, d := range eventDates {
		d = truncateDay(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		events = append(events, d)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].After(events[j]) })

	var reactions []retrieval.EarningsReaction
	for _, event := range events {
		if len(reactions) >= limit {
			break
		}

		idx := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(event) })
		if idx == 0 || idx >= len(bars) {
			continue
		}

		pre := bars[idx-1].Close
		eventPct, ok := PctChange(pre, bars[idx].Close)
		if !ok {
			continue
		}

		reaction := retrieval.EarningsReaction{
			EventDate:     event.Format("2006-01-02"),
			TradeDate:     bars[idx].Date.Format("2006-01-02"),
			PreEventClose: pre,
			EventDayPct:   eventPct,
		}
		if idx+1 < len(bars) {
			if pct, ok := PctChange(pre, bars[idx+1].Close); ok {
				reaction.Day1Pct = floatPtr(pct)
			}
		}
		if idx+5 < len(bars) {
			if pct, ok := PctChange(pre, bars[idx+5].Close); ok {
				reaction.Day5Pct = floatPtr(pct)
			}
		}
		reactions = append(reactions, reaction)
	}
	return reactions
}

// EventDatesByKey groups disclosure dates per security, keyed by ToKey of
// keyColumn. Rows without a key land under "".
func EventDatesByKey(rows []map[string]any, keyColumn, dateColumn string) map[string][]time.Time {
	out := make(map[string][]time.Time)
	for _, row := range rows {
		if d, ok := ToDate(row[dateColumn]); ok {
			key := ToKey(row[keyColumn])
			out[key] = append(out[key], d)
		}
	}
	return out
}
