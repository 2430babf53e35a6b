// Package store persists punishments through the storage gateway.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"warden/internal/punishment/models"
	"warden/internal/storage"
	"warden/pkg/domain"
)

const columns = "type, subject, operator, reason, expiration, date"

// SQLStore maps punishments onto the active and history tables.
type SQLStore struct {
	gw     storage.Gateway
	tables storage.Tables
	logger *slog.Logger
}

type Option func(*SQLStore)

func WithLogger(logger *slog.Logger) Option {
	return func(s *SQLStore) {
		s.logger = logger
	}
}

func NewSQL(gw storage.Gateway, tables storage.Tables, opts ...Option) (*SQLStore, error) {
	if gw == nil {
		return nil, errors.New("storage gateway is required")
	}
	s := &SQLStore{gw: gw, tables: tables, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLStore) insert(table string, p models.Punishment) storage.Statement {
	return storage.Stmt(
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?)`, table, columns),
		string(p.Type), p.Subject.String(), p.Operator.String(), p.Reason, p.ExpirationMillis(), p.DateMillis(),
	)
}

// SaveCreated writes every history entry and then every active entry in one
// gateway call.
func (s *SQLStore) SaveCreated(ctx context.Context, history, active []models.Punishment) error {
	stmts := make([]storage.Statement, 0, len(history)+len(active))
	for _, p := range history {
		stmts = append(stmts, s.insert(s.tables.History, p))
	}
	for _, p := range active {
		stmts = append(stmts, s.insert(s.tables.Active, p))
	}
	if len(stmts) == 0 {
		return nil
	}
	return s.gw.Execute(ctx, stmts...)
}

// DeleteActive removes active rows by their creation date.
func (s *SQLStore) DeleteActive(ctx context.Context, ps ...models.Punishment) error {
	if len(ps) == 0 {
		return nil
	}
	stmts := make([]storage.Statement, len(ps))
	for i, p := range ps {
		stmts[i] = storage.Stmt(
			fmt.Sprintf(`DELETE FROM %s WHERE date = ? AND type = ? AND subject = ?`, s.tables.Active),
			p.DateMillis(), string(p.Type), p.Subject.String(),
		)
	}
	return s.gw.Execute(ctx, stmts...)
}

func (s *SQLStore) LoadActive(ctx context.Context) ([]models.Punishment, error) {
	return s.load(ctx, s.tables.Active)
}

func (s *SQLStore) LoadHistory(ctx context.Context) ([]models.Punishment, error) {
	return s.load(ctx, s.tables.History)
}

// load skips rows that no longer parse rather than failing the whole reload.
func (s *SQLStore) load(ctx context.Context, table string) ([]models.Punishment, error) {
	rs, err := s.gw.Query(ctx, storage.Stmt(fmt.Sprintf(`SELECT %s FROM %s ORDER BY date`, columns, table)))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	out := make([]models.Punishment, 0, rs.Len())
	for _, row := range rs.Rows {
		p, err := decode(row)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable punishment row", "table", table, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func decode(row storage.Row) (models.Punishment, error) {
	t, err := models.ParseType(row.String("type"))
	if err != nil {
		return models.Punishment{}, err
	}
	subject, err := domain.ParseSubject(row.String("subject"))
	if err != nil {
		return models.Punishment{}, fmt.Errorf("subject: %w", err)
	}
	operator, err := domain.ParseSubject(row.String("operator"))
	if err != nil {
		return models.Punishment{}, fmt.Errorf("operator: %w", err)
	}
	return models.FromMillis(t, subject, operator, row.String("reason"),
		row.Int64("date"), row.Int64("expiration")), nil
}
