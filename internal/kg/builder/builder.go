// Package builder mirrors the router's company dictionary into the graph
// store so graph probes have company anchors to expand from.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/market-insight/retriever/internal/kg/neo4j"
	"github.com/market-insight/retriever/internal/router"
	"github.com/market-insight/retriever/pkg/logger"
)

type Writer interface {
	MergeCompany(ctx context.Context, company neo4j.CompanyNode) (neo4j.WriteSummary, error)
}

type Builder struct {
	kg Writer
}

type SeedReport struct {
	Merged       int
	Skipped      int
	Failed       int
	NodesCreated int
}

func NewBuilder(kg Writer) *Builder {
	return &Builder{kg: kg}
}

// SeedCompanies merges each company once by symbol. Every company is
// attempted; failures are joined into the returned error.
func (b *Builder) SeedCompanies(ctx context.Context, companies []router.Company) (SeedReport, error) {
	var (
		report SeedReport
		errs   []error
	)

	for _, node := range deduplicateCompanies(companies) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		summary, err := b.kg.MergeCompany(ctx, node)
		if err != nil {
			logger.Error("Failed to merge company", zap.String("symbol", node.Symbol), zap.Error(err))
			report.Failed++
			errs = append(errs, err)
			continue
		}
		report.Merged++
		report.NodesCreated += summary.NodesCreated
	}
	report.Skipped = len(companies) - report.Merged - report.Failed

	logger.Info("Company anchors seeded",
		zap.Int("merged", report.Merged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("nodes_created", report.NodesCreated),
	)

	if len(errs) > 0 {
		return report, fmt.Errorf("failed to seed %d of %d companies: %w", report.Failed, report.Merged+report.Failed, errors.Join(errs...))
	}
	return report, nil
}

// deduplicateCompanies folds entries sharing a symbol, merging their names
// as aliases. Entries without a symbol are dropped.
func deduplicateCompanies(companies []router.Company) []neo4j.CompanyNode {
	var nodes []neo4j.CompanyNode
	index := make(map[string]int)

	for _, c := range companies {
		symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if symbol == "" {
			continue
		}
		i, seen := index[symbol]
		if !seen {
			node := neo4j.CompanyNode{Symbol: symbol, Country: c.Country}
			if len(c.Names) > 0 {
				node.Name = c.Names[0]
			}
			nodes = append(nodes, node)
			i = len(nodes) - 1
			index[symbol] = i
		}
		for _, name := range c.Names {
			if !containsFold(nodes[i].Aliases, name) {
				nodes[i].Aliases = append(nodes[i].Aliases, name)
			}
		}
	}
	return nodes
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
