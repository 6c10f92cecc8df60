// Package neo4j is the graph store collaborator: a read primitive returning
// row maps for retrieval and a write primitive for mirroring jobs.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/market-insight/retriever/pkg/logger"
	"github.com/market-insight/retriever/pkg/retry"
)

type Config struct {
	URI            string
	Username       string
	Password       string
	Database       string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

type Client struct {
	driver       neo4j.DriverWithContext
	database     string
	queryTimeout time.Duration
	retryConfig  retry.Config
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.SocketConnectTimeout = cfg.ConnectTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      neo4j.IsRetryable,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))

	return &Client{
		driver:       driver,
		database:     cfg.Database,
		queryTimeout: cfg.QueryTimeout,
		retryConfig:  retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, mode neo4j.AccessMode, operation func(context.Context, neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: mode})
		defer session.Close(ctx)
		return operation(ctx, session)
	})
}

// Read runs a read-only Cypher query and returns one map per record, with
// graph values converted to plain JSON-friendly values.
func (c *Client) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	var rows []map[string]any

	err := c.executeWithRetry(ctx, neo4j.AccessModeRead, func(ctx context.Context, session neo4j.SessionWithContext) error {
		rows = rows[:0]
		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return fmt.Errorf("failed to run read query: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			row := make(map[string]any, len(record.Keys))
			for i, key := range record.Keys {
				row[key] = plainValue(record.Values[i])
			}
			rows = append(rows, row)
		}

		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Graph read completed", zap.Int("rows", len(rows)))
	return rows, nil
}

// WriteSummary reports what a write changed.
type WriteSummary struct {
	NodesCreated         int
	RelationshipsCreated int
	PropertiesSet        int
}

// Write runs a write query. Retrieval never calls it; it exists for mirroring jobs.
func (c *Client) Write(ctx context.Context, cypher string, params map[string]any) (WriteSummary, error) {
	var summary WriteSummary

	err := c.executeWithRetry(ctx, neo4j.AccessModeWrite, func(ctx context.Context, session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, cypher, params)
		if err != nil {
			return fmt.Errorf("failed to run write query: %w", err)
		}
		rs, err := result.Consume(ctx)
		if err != nil {
			return fmt.Errorf("failed to consume write result: %w", err)
		}
		counters := rs.Counters()
		summary = WriteSummary{
			NodesCreated:         counters.NodesCreated(),
			RelationshipsCreated: counters.RelationshipsCreated(),
			PropertiesSet:        counters.PropertiesSet(),
		}
		return nil
	})
	if err != nil {
		return WriteSummary{}, err
	}

	logger.Debug("Graph write completed",
		zap.Int("nodes_created", summary.NodesCreated),
		zap.Int("relationships_created", summary.RelationshipsCreated),
	)
	return summary, nil
}

type CompanyNode struct {
	Symbol  string
	Name    string
	Country string
	Aliases []string
}

const mergeCompanyCypher = `
MERGE (c:Company {symbol: $symbol})
SET c.name = $name,
    c.country = $country,
    c.aliases = $aliases,
    c.updated_at = timestamp()
WITH c
MERGE (k:Country {code: $country})
MERGE (c)-[:LISTED_IN]->(k)`

// MergeCompany mirrors one company anchor into the graph.
func (c *Client) MergeCompany(ctx context.Context, company CompanyNode) (WriteSummary, error) {
	summary, err := c.Write(ctx, mergeCompanyCypher, CompanyParams(company))
	if err != nil {
		return WriteSummary{}, fmt.Errorf("failed to merge company %s: %w", company.Symbol, err)
	}
	return summary, nil
}

func CompanyParams(company CompanyNode) map[string]any {
	aliases := company.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return map[string]any{
		"symbol":  company.Symbol,
		"name":    company.Name,
		"country": company.Country,
		"aliases": aliases,
	}
}

func plainValue(v any) any {
	switch x := v.(type) {
	case neo4j.Node:
		return map[string]any{
			"labels":     x.Labels,
			"properties": plainMap(x.Props),
		}
	case neo4j.Relationship:
		return map[string]any{
			"type":       x.Type,
			"properties": plainMap(x.Props),
		}
	case neo4j.Path:
		nodes := make([]any, len(x.Nodes))
		for i, n := range x.Nodes {
			nodes[i] = plainValue(n)
		}
		rels := make([]any, len(x.Relationships))
		for i, r := range x.Relationships {
			rels[i] = plainValue(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case neo4j.Date:
		return x.Time().Format("2006-01-02")
	case neo4j.LocalDateTime:
		return x.Time().Format("2006-01-02T15:04:05")
	case time.Time:
		return x.Format(time.RFC3339)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plainValue(e)
		}
		return out
	case map[string]any:
		return plainMap(x)
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}
