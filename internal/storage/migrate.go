package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Tables holds the prefixed table names.
type Tables struct {
	Active     string
	History    string
	Identities string
	Migrations string
}

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// NewTables validates prefix and derives table names from it.
func NewTables(prefix string) (Tables, error) {
	if !prefixPattern.MatchString(prefix) {
		return Tables{}, fmt.Errorf("table prefix %q may only contain letters, digits and underscores", prefix)
	}
	return Tables{
		Active:     prefix + "punishments_active",
		History:    prefix + "punishments_history",
		Identities: prefix + "identities",
		Migrations: prefix + "schema_migrations",
	}, nil
}

type migration struct {
	version    int
	statements []string
}

// Statements use {active}, {history} and {identities} placeholders.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS {history} (
				type VARCHAR(8) NOT NULL,
				subject VARCHAR(96) NOT NULL,
				operator VARCHAR(96) NOT NULL,
				reason TEXT NOT NULL,
				expiration BIGINT NOT NULL,
				date BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS {active} (
				type VARCHAR(8) NOT NULL,
				subject VARCHAR(96) NOT NULL,
				operator VARCHAR(96) NOT NULL,
				reason TEXT NOT NULL,
				expiration BIGINT NOT NULL,
				date BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS {identities} (
				identifier VARCHAR(32) PRIMARY KEY,
				name VARCHAR(32) NOT NULL,
				addresses TEXT NOT NULL,
				updated BIGINT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS {history}_subject_idx ON {history} (subject)`,
			`CREATE INDEX IF NOT EXISTS {history}_operator_idx ON {history} (operator)`,
			`CREATE INDEX IF NOT EXISTS {active}_subject_type_idx ON {active} (subject, type)`,
			`CREATE INDEX IF NOT EXISTS {active}_date_idx ON {active} (date)`,
			`CREATE INDEX IF NOT EXISTS {identities}_name_idx ON {identities} (name)`,
		},
	},
}

func (t Tables) expand(stmt string) string {
	return strings.NewReplacer(
		"{active}", t.Active,
		"{history}", t.History,
		"{identities}", t.Identities,
	).Replace(stmt)
}

// Migrate applies pending schema versions in order and returns the number
// applied.
func Migrate(ctx context.Context, gw Gateway, tables Tables) (int, error) {
	err := gw.Execute(ctx, Stmt(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version INTEGER PRIMARY KEY, applied_at BIGINT NOT NULL)`,
		tables.Migrations)))
	if err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	rs, err := gw.Query(ctx, Stmt(fmt.Sprintf(`SELECT version FROM %s`, tables.Migrations)))
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	applied := make(map[int64]bool, rs.Len())
	for _, row := range rs.Rows {
		applied[row.Int64("version")] = true
	}

	count := 0
	for _, m := range migrations {
		if applied[int64(m.version)] {
			continue
		}
		stmts := make([]Statement, 0, len(m.statements)+1)
		for _, s := range m.statements {
			stmts = append(stmts, Stmt(tables.expand(s)))
		}
		stmts = append(stmts, Stmt(
			fmt.Sprintf(`INSERT INTO %s (version, applied_at) VALUES (?, ?)`, tables.Migrations),
			m.version, time.Now().UnixMilli()))
		if err := gw.Execute(ctx, stmts...); err != nil {
			return count, fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		count++
	}
	return count, nil
}
