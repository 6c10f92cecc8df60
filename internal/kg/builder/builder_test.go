package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-insight/retriever/internal/kg/neo4j"
	"github.com/market-insight/retriever/internal/router"
)

type fakeWriter struct {
	merged []neo4j.CompanyNode
	fail   map[string]bool
}

func (f *fakeWriter) MergeCompany(_ context.Context, c neo4j.CompanyNode) (neo4j.WriteSummary, error) {
	if f.fail[c.Symbol] {
		return neo4j.WriteSummary{}, errors.New("Neo.ClientError.Security.Unauthorized")
	}
	f.merged = append(f.merged, c)
	return neo4j.WriteSummary{NodesCreated: 1, PropertiesSet: 4}, nil
}

func TestSeedCompanies_DeduplicatesBySymbol(t *testing.T) {
	w := &fakeWriter{}
	companies := []router.Company{
		{Symbol: "PLTR", Country: "US", Names: []string{"palantir", "팔란티어"}},
		{Symbol: "pltr", Country: "US", Names: []string{"Palantir", "Palantir Technologies"}},
		{Symbol: "", Names: []string{"nameless"}},
		{Symbol: "005930", Country: "KR", Names: []string{"삼성전자"}},
	}

	report, err := NewBuilder(w).SeedCompanies(context.Background(), companies)
	require.NoError(t, err)

	assert.Equal(t, SeedReport{Merged: 2, Skipped: 2, NodesCreated: 2}, report)
	require.Len(t, w.merged, 2)
	assert.Equal(t, "PLTR", w.merged[0].Symbol)
	assert.Equal(t, "palantir", w.merged[0].Name)
	assert.Equal(t, []string{"palantir", "팔란티어", "Palantir Technologies"}, w.merged[0].Aliases)
	assert.Equal(t, "KR", w.merged[1].Country)
}

func TestSeedCompanies_ContinuesPastFailures(t *testing.T) {
	w := &fakeWriter{fail: map[string]bool{"AAPL": true}}

	report, err := NewBuilder(w).SeedCompanies(context.Background(), router.DefaultCompanies)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to seed 1 of")
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, len(router.DefaultCompanies)-1, report.Merged)
}
