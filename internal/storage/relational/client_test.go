package relational

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-insight/retriever/internal/storage/models"
)

func newMock(t *testing.T, driver string) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewFromDB(db, driver), mock
}

func TestExistingTables_Postgres(t *testing.T) {
	c, mock := newMock(t, DriverPostgres)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.tables")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("kr_daily_prices"))

	got, err := c.ExistingTables(context.Background(), []string{"us_daily_prices", "kr_daily_prices"})
	require.NoError(t, err)
	assert.Equal(t, []string{"kr_daily_prices"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingTables_SQLiteExpandsIn(t *testing.T) {
	c, mock := newMock(t, DriverSQLite)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sqlite_master WHERE type IN ('table', 'view') AND name IN (?, ?)")).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))

	got, err := c.ExistingTables(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingTables_Error(t *testing.T) {
	c, mock := newMock(t, DriverPostgres)
	mock.ExpectQuery("information_schema").WillReturnError(errors.New("connection reset"))

	_, err := c.ExistingTables(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "failed to list tables")
}

func TestTableColumns_Postgres(t *testing.T) {
	c, mock := newMock(t, DriverPostgres)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("us_daily_prices").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("trade_date").AddRow("symbol").AddRow("close"))

	got, err := c.TableColumns(context.Background(), "us_daily_prices")
	require.NoError(t, err)
	assert.Equal(t, []string{"trade_date", "symbol", "close"}, got)
}

func TestQueryRows_RebindsForPostgres(t *testing.T) {
	c, mock := newMock(t, DriverPostgres)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "trade_date", "close" FROM "us_daily_prices" WHERE "symbol" IN ($1) ORDER BY "trade_date" DESC LIMIT $2`)).
		WithArgs("PLTR", 5).
		WillReturnRows(sqlmock.NewRows([]string{"trade_date", "close"}).
			AddRow([]byte("2026-03-02"), 24.5).
			AddRow([]byte("2026-02-27"), 23.9))

	rows, err := c.QueryRows(context.Background(),
		`SELECT "trade_date", "close" FROM "us_daily_prices" WHERE "symbol" IN (?) ORDER BY "trade_date" DESC LIMIT ?`, "PLTR", 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-03-02", rows[0]["trade_date"])
	assert.Equal(t, 24.5, rows[0]["close"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRun_Transaction(t *testing.T) {
	c, mock := newMock(t, DriverSQLite)

	rowCount := 3
	run := models.RetrievalRun{
		ID:                "run-1",
		Question:          "PLTR 주가 어때?",
		Intent:            "us_single_stock",
		Status:            "executed",
		DispatchMode:      "parallel",
		InvokedAgentCount: 2,
		LatencyMS:         42,
		CreatedAt:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	agents := []models.AgentRunRecord{
		{RunID: "run-1", Seq: 0, Agent: "equity_analyst_agent", Branch: "sql", Status: "ok", RowCount: &rowCount},
		{RunID: "run-1", Seq: 1, Agent: "ontology_master_agent", Branch: "graph", Status: "degraded"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO retrieval_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO retrieval_agent_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO retrieval_agent_runs").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, c.InsertRun(context.Background(), run, agents))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRun_RollsBackOnFailure(t *testing.T) {
	c, mock := newMock(t, DriverSQLite)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO retrieval_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO retrieval_agent_runs").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := c.InsertRun(context.Background(), models.RetrievalRun{ID: "run-2"}, []models.AgentRunRecord{{RunID: "run-2"}})
	assert.ErrorContains(t, err, "failed to insert agent run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := NewClient(ctx, Config{Driver: DriverSQLite, DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.InitSchema(ctx))
	_, err = c.db.ExecContext(ctx, `CREATE TABLE us_daily_prices (trade_date TEXT, symbol TEXT, close REAL)`)
	require.NoError(t, err)
	_, err = c.db.ExecContext(ctx, `INSERT INTO us_daily_prices VALUES ('2026-03-02', 'PLTR', 24.5), ('2026-02-27', 'PLTR', 23.9)`)
	require.NoError(t, err)

	tables, err := c.ExistingTables(ctx, []string{"us_daily_prices", "kr_daily_prices"})
	require.NoError(t, err)
	assert.Equal(t, []string{"us_daily_prices"}, tables)

	cols, err := c.TableColumns(ctx, "us_daily_prices")
	require.NoError(t, err)
	assert.Equal(t, []string{"trade_date", "symbol", "close"}, cols)

	rows, err := c.QueryRows(ctx, `SELECT "trade_date", "close" FROM "us_daily_prices" WHERE "symbol" IN (?) ORDER BY "trade_date" DESC LIMIT ?`, "PLTR", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-02", rows[0]["trade_date"])

	run := models.RetrievalRun{
		ID: "run-1", Question: "q", Intent: "macro_summary", Status: "executed", DispatchMode: "parallel",
		FallbackUsed: true, InvokedAgentCount: 3, LatencyMS: 10, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, c.InsertRun(ctx, run, []models.AgentRunRecord{{RunID: "run-1", Agent: "macro_economy_agent", Branch: "sql", Status: "ok"}}))

	runs, err := c.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.True(t, runs[0].FallbackUsed)
	assert.Equal(t, 3, runs[0].InvokedAgentCount)
}

func TestNewClient_RejectsUnknownDriver(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Driver: "mysql"})
	assert.ErrorContains(t, err, "unsupported relational driver")
}
