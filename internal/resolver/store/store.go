// Package store persists the identity cache through the storage gateway.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	"warden/internal/resolver/models"
	"warden/internal/storage"
	platformstrings "warden/pkg/platform/strings"
)

const addressSeparator = ","

type SQLStore struct {
	gw     storage.Gateway
	table  string
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
	s := &SQLStore{gw: gw, table: tables.Identities, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// identifier is the 32-hex form used by serialized subjects.
func identifier(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func joinAddresses(addrs []netip.Addr) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, addressSeparator)
}

// Insert writes a new identity row.
func (s *SQLStore) Insert(ctx context.Context, identity models.Identity) error {
	return s.gw.Execute(ctx, storage.Stmt(
		fmt.Sprintf(`INSERT INTO %s (identifier, name, addresses, updated) VALUES (?, ?, ?, ?)`, s.table),
		identifier(identity.ID), identity.Name, joinAddresses(identity.Addresses), identity.Updated.UnixMilli(),
	))
}

// Update writes only the fields flagged as changed.
func (s *SQLStore) Update(ctx context.Context, identity models.Identity, nameChanged, addressesChanged bool) error {
	var stmts []storage.Statement
	updated := identity.Updated.UnixMilli()
	if nameChanged {
		stmts = append(stmts, storage.Stmt(
			fmt.Sprintf(`UPDATE %s SET name = ?, updated = ? WHERE identifier = ?`, s.table),
			identity.Name, updated, identifier(identity.ID),
		))
	}
	if addressesChanged {
		stmts = append(stmts, storage.Stmt(
			fmt.Sprintf(`UPDATE %s SET addresses = ?, updated = ? WHERE identifier = ?`, s.table),
			joinAddresses(identity.Addresses), updated, identifier(identity.ID),
		))
	}
	if len(stmts) == 0 {
		return nil
	}
	return s.gw.Execute(ctx, stmts...)
}

// LoadAll reads every identity row. Rows with an unreadable identifier are
// skipped; unreadable addresses are dropped from their row.
func (s *SQLStore) LoadAll(ctx context.Context) ([]models.Identity, error) {
	rs, err := s.gw.Query(ctx, storage.Stmt(
		fmt.Sprintf(`SELECT identifier, name, addresses, updated FROM %s`, s.table),
	))
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	out := make([]models.Identity, 0, rs.Len())
	for _, row := range rs.Rows {
		raw := row.String("identifier")
		id, err := uuid.Parse(raw)
		if err != nil || len(raw) != 32 {
			s.logger.WarnContext(ctx, "skipping unreadable identity row", "identifier", raw)
			continue
		}
		identity := models.Identity{
			ID:      id,
			Name:    row.String("name"),
			Updated: time.UnixMilli(row.Int64("updated")).UTC(),
		}
		for _, part := range platformstrings.SplitJoined(row.String("addresses"), addressSeparator) {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				s.logger.WarnContext(ctx, "dropping unreadable address", "identifier", raw, "address", part)
				continue
			}
			identity, _ = identity.WithAddress(addr)
		}
		out = append(out, identity)
	}
	return out, nil
}
