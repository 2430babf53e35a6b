package storage

import (
	"context"
	"fmt"
	"strings"

	"warden/internal/platform/config"
)

// Open connects the gateway selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Storage, opts ...Option) (Gateway, error) {
	switch strings.ToLower(cfg.Driver) {
	case "pgx":
		return NewPgx(ctx, cfg.DSN, cfg.MinConnections, cfg.MaxConnections, opts...)
	case "postgres":
		return NewSQL(ctx, DriverPostgres, cfg.DSN, cfg.MinConnections, cfg.MaxConnections, opts...)
	case "sqlite":
		return NewSQL(ctx, DriverSQLite, cfg.DSN, cfg.MinConnections, cfg.MaxConnections, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
