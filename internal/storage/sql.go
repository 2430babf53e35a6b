package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"warden/pkg/platform/sentinel"
)

// Driver names registered with database/sql.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLGateway executes statements through database/sql.
type SQLGateway struct {
	db      *sql.DB
	driver  string
	dialect Dialect
	logger  *slog.Logger
}

// NewSQL opens a database/sql pool. SQLite is limited to one connection so
// writers never contend for the file lock and in-memory databases stay shared.
func NewSQL(ctx context.Context, driver, dsn string, minConns, maxConns int, opts ...Option) (*SQLGateway, error) {
	o := buildOptions(opts)

	dialect := DialectPostgres
	if driver == DriverSQLite {
		dialect = DialectSQLite
		minConns, maxConns = 1, 1
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if minConns > 0 {
		db.SetMaxIdleConns(minConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w: %w", driver, sentinel.ErrUnavailable, err)
	}
	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}
	return &SQLGateway{db: db, driver: driver, dialect: dialect, logger: o.logger}, nil
}

func (g *SQLGateway) Execute(ctx context.Context, stmts ...Statement) error {
	ctx, span := tracer.Start(ctx, "storage.Execute", trace.WithAttributes(
		attribute.Int("storage.statements", len(stmts)),
		attribute.String("storage.driver", g.driver),
	))
	defer span.End()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "acquire")
		return fmt.Errorf("acquire connection: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer conn.Close()

	var errs []error
	for i, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, Rebind(g.dialect, stmt.Query), stmt.Args...); err != nil {
			g.logger.ErrorContext(ctx, "statement failed", "index", i, "query", stmt.Query, "error", err)
			errs = append(errs, fmt.Errorf("statement %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "statement failed")
	}
	return errors.Join(errs...)
}

func (g *SQLGateway) Query(ctx context.Context, stmt Statement) (*ResultSet, error) {
	ctx, span := tracer.Start(ctx, "storage.Query", trace.WithAttributes(
		attribute.String("storage.driver", g.driver),
	))
	defer span.End()

	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, Rebind(g.dialect, stmt.Query), stmt.Args...)
	if err != nil {
		span.SetStatus(codes.Error, "query")
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	for i, c := range columns {
		columns[i] = strings.ToLower(c)
	}

	rs := &ResultSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[c] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rs, nil
}

func (g *SQLGateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

func (g *SQLGateway) Close() error {
	return g.db.Close()
}
