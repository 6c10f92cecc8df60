// Package relational is the relational store collaborator: read-only schema
// introspection and parameterized queries for retrieval, plus the
// retrieval-run audit log.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/market-insight/retriever/pkg/logger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver         string
	DSN            string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTimeout time.Duration
}

type Client struct {
	db     *sqlx.DB
	driver string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Driver != DriverSQLite && cfg.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported relational driver %q", cfg.Driver)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	logger.Info("Relational client initialized", zap.String("driver", cfg.Driver))

	return &Client{db: db, driver: cfg.Driver}, nil
}

// NewFromDB wraps an open *sql.DB; driver selects the SQL dialect.
func NewFromDB(db *sql.DB, driver string) *Client {
	return &Client{db: sqlx.NewDb(db, driver), driver: driver}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// ExistingTables returns the subset of tables present in the live schema.
func (c *Client) ExistingTables(ctx context.Context, tables []string) ([]string, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	var (
		query string
		args  []any
		err   error
	)
	switch c.driver {
	case DriverPostgres:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = ANY(current_schemas(false)) AND table_name = ANY($1)`
		args = []any{pq.Array(tables)}
	default:
		query, args, err = sqlx.In(`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name IN (?)`, tables)
		if err != nil {
			return nil, fmt.Errorf("failed to build table lookup: %w", err)
		}
		query = c.db.Rebind(query)
	}

	var existing []string
	if err := c.db.SelectContext(ctx, &existing, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return existing, nil
}

// TableColumns lists the live columns of table in ordinal order.
func (c *Client) TableColumns(ctx context.Context, table string) ([]string, error) {
	var query string
	switch c.driver {
	case DriverPostgres:
		query = `SELECT column_name FROM information_schema.columns
			WHERE table_schema = ANY(current_schemas(false)) AND table_name = $1
			ORDER BY ordinal_position`
	default:
		query = `SELECT name FROM pragma_table_info(?) ORDER BY cid`
	}

	var columns []string
	if err := c.db.SelectContext(ctx, &columns, query, table); err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	return columns, nil
}

// QueryRows runs a '?'-placeholder query, rebinding it for the dialect, and
// returns one map per row. Byte slices come back as strings.
func (c *Client) QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := c.db.QueryxContext(ctx, c.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
