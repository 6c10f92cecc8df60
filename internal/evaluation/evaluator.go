// Package evaluation measures routing quality against a labeled question set.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/retrieval"
	"github.com/market-insight/retriever/pkg/logger"
)

type Classifier interface {
	Classify(ctx context.Context, req retrieval.QueryRequest) retrieval.RouteDecision
}

type Evaluator struct {
	router Classifier
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	Request         retrieval.QueryRequest `json:"request"`
	ExpectedIntent  retrieval.Intent       `json:"expected_intent"`
	ExpectedSymbols []string               `json:"expected_symbols,omitempty"`
}

type Mismatch struct {
	Question       string           `json:"question"`
	ExpectedIntent retrieval.Intent `json:"expected_intent"`
	SelectedIntent retrieval.Intent `json:"selected_intent"`
	MissingSymbols []string         `json:"missing_symbols,omitempty"`
	Source         string           `json:"source"`
}

type IntentStats struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
}

type Report struct {
	Total          int                              `json:"total"`
	IntentCorrect  int                              `json:"intent_correct"`
	SymbolsCorrect int                              `json:"symbols_correct"`
	IntentAccuracy float64                          `json:"intent_accuracy"`
	SymbolAccuracy float64                          `json:"symbol_accuracy"`
	PerIntent      map[retrieval.Intent]IntentStats `json:"per_intent"`
	Mismatches     []Mismatch                       `json:"mismatches,omitempty"`
}

func NewEvaluator(router Classifier) *Evaluator {
	return &Evaluator{router: router}
}

func LoadDataset(data []byte) (*Dataset, error) {
	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	for i, item := range dataset.Items {
		if item.ExpectedIntent == "" {
			return nil, fmt.Errorf("dataset item %d has no expected_intent", i)
		}
	}
	return &dataset, nil
}

// Run classifies every item. A symbol check passes when every expected
// symbol was matched; extra matches are not penalized.
func (e *Evaluator) Run(ctx context.Context, dataset *Dataset) *Report {
	logger.Info("Running routing evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		Total:     len(dataset.Items),
		PerIntent: make(map[retrieval.Intent]IntentStats),
	}

	for _, item := range dataset.Items {
		route := e.router.Classify(ctx, item.Request)

		stats := report.PerIntent[item.ExpectedIntent]
		stats.Total++

		intentOK := route.SelectedType == item.ExpectedIntent
		if intentOK {
			stats.Correct++
			report.IntentCorrect++
		}
		report.PerIntent[item.ExpectedIntent] = stats

		missing := missingSymbols(item.ExpectedSymbols, route.Symbols)
		if len(missing) == 0 {
			report.SymbolsCorrect++
		}

		if !intentOK || len(missing) > 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Question:       item.Request.Question,
				ExpectedIntent: item.ExpectedIntent,
				SelectedIntent: route.SelectedType,
				MissingSymbols: missing,
				Source:         route.Source,
			})
		}
	}

	if report.Total > 0 {
		report.IntentAccuracy = float64(report.IntentCorrect) / float64(report.Total) * 100
		report.SymbolAccuracy = float64(report.SymbolsCorrect) / float64(report.Total) * 100
	}

	logger.Info("Routing evaluation completed",
		zap.Int("total", report.Total),
		zap.Int("intent_correct", report.IntentCorrect),
		zap.Int("mismatches", len(report.Mismatches)),
	)
	return report
}

func missingSymbols(expected, matched []string) []string {
	var missing []string
	for _, want := range expected {
		found := false
		for _, got := range matched {
			if strings.EqualFold(want, got) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, strings.ToUpper(want))
		}
	}
	return missing
}

func GenerateReport(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Routing Evaluation Report
=========================

Total Questions: %d
Intent Accuracy: %d/%d (%.1f%%)
Symbol Recall:   %d/%d (%.1f%%)

Per Intent:
`,
		report.Total,
		report.IntentCorrect, report.Total, report.IntentAccuracy,
		report.SymbolsCorrect, report.Total, report.SymbolAccuracy,
	)

	intents := make([]string, 0, len(report.PerIntent))
	for intent := range report.PerIntent {
		intents = append(intents, string(intent))
	}
	sort.Strings(intents)
	for _, intent := range intents {
		stats := report.PerIntent[retrieval.Intent(intent)]
		fmt.Fprintf(&b, "- %s: %d/%d\n", intent, stats.Correct, stats.Total)
	}

	if len(report.Mismatches) > 0 {
		b.WriteString("\nMismatches:\n")
		for _, m := range report.Mismatches {
			fmt.Fprintf(&b, "- %q: expected %s, got %s (%s)", m.Question, m.ExpectedIntent, m.SelectedIntent, m.Source)
			if len(m.MissingSymbols) > 0 {
				fmt.Fprintf(&b, " missing %s", strings.Join(m.MissingSymbols, ","))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
