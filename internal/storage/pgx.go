package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"warden/pkg/platform/sentinel"
)

// PgxGateway executes statements on a pgx connection pool.
type PgxGateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgx opens a pool bounded by minConns and maxConns and pings it.
func NewPgx(ctx context.Context, dsn string, minConns, maxConns int, opts ...Option) (*PgxGateway, error) {
	o := buildOptions(opts)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	if minConns >= 0 {
		cfg.MinConns = int32(minConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", sentinel.ErrUnavailable, err)
	}
	return &PgxGateway{pool: pool, logger: o.logger}, nil
}

func (g *PgxGateway) Execute(ctx context.Context, stmts ...Statement) error {
	ctx, span := tracer.Start(ctx, "storage.Execute", trace.WithAttributes(
		attribute.Int("storage.statements", len(stmts)),
		attribute.String("storage.driver", "pgx"),
	))
	defer span.End()

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "acquire")
		return fmt.Errorf("acquire connection: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer conn.Release()

	var errs []error
	for i, stmt := range stmts {
		if _, err := conn.Exec(ctx, Rebind(DialectPostgres, stmt.Query), stmt.Args...); err != nil {
			g.logger.ErrorContext(ctx, "statement failed", "index", i, "query", stmt.Query, "error", err)
			errs = append(errs, fmt.Errorf("statement %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "statement failed")
	}
	return errors.Join(errs...)
}

func (g *PgxGateway) Query(ctx context.Context, stmt Statement) (*ResultSet, error) {
	ctx, span := tracer.Start(ctx, "storage.Query", trace.WithAttributes(
		attribute.String("storage.driver", "pgx"),
	))
	defer span.End()

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, Rebind(DialectPostgres, stmt.Query), stmt.Args...)
	if err != nil {
		span.SetStatus(codes.Error, "query")
		return nil, fmt.Errorf("query: %w", err)
	}
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	rs := &ResultSet{Columns: columns, Rows: make([]Row, len(maps))}
	for i, m := range maps {
		rs.Rows[i] = Row(m)
	}
	return rs, nil
}

func (g *PgxGateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

func (g *PgxGateway) Close() error {
	g.pool.Close()
	return nil
}
