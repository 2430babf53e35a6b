// Package storage executes parameterized statements against the relational
// backend. A call to Execute runs every statement over one pooled connection
// without a surrounding transaction: a failing statement is logged and the
// remaining statements still run.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("warden/storage")

// Statement is a query with positional arguments. Queries are written with
// '?' placeholders and rebound per dialect.
type Statement struct {
	Query string
	Args  []any
}

// Stmt builds a Statement.
func Stmt(query string, args ...any) Statement {
	return Statement{Query: query, Args: args}
}

// Row is one result row keyed by lower-case column name.
type Row map[string]any

// String returns the column as a string; NULL and missing columns are "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the column as an int64; NULL and missing columns are 0.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}

// ResultSet is a disconnected copy of a query result; it stays valid after
// the connection is returned to the pool.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Gateway is the statement execution facility used by the stores.
type Gateway interface {
	// Execute runs stmts in order on a single connection. It returns the
	// joined errors of failed statements after attempting all of them.
	Execute(ctx context.Context, stmts ...Statement) error
	// Query runs a read statement and buffers the full result.
	Query(ctx context.Context, stmt Statement) (*ResultSet, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Rebind rewrites '?' placeholders into the dialect's form. Quoted literals
// are left untouched.
func Rebind(d Dialect, query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Option configures gateways.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
