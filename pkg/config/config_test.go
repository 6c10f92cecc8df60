package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Relational.Driver)
	assert.Equal(t, 5, cfg.Retrieval.RowLimit)
	assert.Equal(t, 260, cfg.Retrieval.EquityLookbackBars)
	assert.Equal(t, 3, cfg.Retrieval.EarningsEventLimit)
	assert.Equal(t, 20, cfg.Breaker.SQLTTLSec)
	assert.True(t, cfg.Retrieval.ConcurrentDispatch)
	assert.Equal(t, 20*time.Second, cfg.Retrieval.RequestTimeout())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MARKET_RETRIEVER_BREAKER_SQLTTLSEC", "7")
	t.Setenv("MARKET_RETRIEVER_RETRIEVAL_ROWLIMIT", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.Breaker.TTLs()["sql"])
	assert.Equal(t, 9, cfg.Retrieval.RowLimit)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Relational: RelationalConfig{Driver: "mysql"},
		Retrieval:  RetrievalConfig{RowLimit: 5, RequestTimeoutSec: 10},
	}
	assert.Error(t, cfg.Validate())

	cfg.Relational.Driver = "postgres"
	assert.NoError(t, cfg.Validate())

	cfg.Retrieval.RowLimit = 0
	assert.Error(t, cfg.Validate())
}
