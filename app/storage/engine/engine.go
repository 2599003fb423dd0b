// Package engine provides the database access layer for moderation storage,
// a thin wrapper over sqlx with sqlite and postgres dialects.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/repeater"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver loaded here
	_ "modernc.org/sqlite" // sqlite driver loaded here
)

// Type is a type of database engine
type Type string

// enum of supported database engines
const (
	Unknown  Type = ""
	Sqlite   Type = "sqlite"
	Postgres Type = "postgres"
)

// SQL is a wrapper for sqlx.DB with type.
// Type allows distinguishing between different database engines.
type SQL struct {
	sqlx.DB
	dbType Type
}

// New creates an engine for the given connection string, postgres:// urls go
// to the postgres engine, anything else is treated as a sqlite file path.
func New(ctx context.Context, conn string) (*SQL, error) {
	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		return NewPostgres(ctx, conn)
	}
	return NewSqlite(conn)
}

// NewSqlite creates a new sqlite database
func NewSqlite(file string) (*SQL, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return &SQL{}, err
	}
	// sqlite serializes writes anyway, a single connection avoids
	// "database is locked" and keeps :memory: databases coherent
	db.SetMaxOpenConns(1)
	return &SQL{DB: *db, dbType: Sqlite}, nil
}

// NewPostgres creates a new postgres connection, pinging with retries to
// survive a database that is still starting up.
func NewPostgres(ctx context.Context, conn string) (*SQL, error) {
	db, err := sqlx.Open("postgres", conn)
	if err != nil {
		return &SQL{}, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := repeater.NewDefault(5, time.Second).Do(ctx, func() error { return db.PingContext(ctx) }); err != nil {
		return &SQL{}, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &SQL{DB: *db, dbType: Postgres}, nil
}

// Type returns the database engine type
func (e *SQL) Type() Type {
	return e.dbType
}

// MakeLock creates a new lock for the database engine
func (e *SQL) MakeLock() RWLocker {
	if e.dbType == Sqlite {
		return new(sync.RWMutex) // sqlite needs locking
	}
	return &NoopLocker{} // other engines don't need locking
}

// Adopt converts ? placeholders to the engine's dialect, $1..$N for postgres.
func (e *SQL) Adopt(query string) string {
	if e.dbType != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TableConfig describes a table managed by InitTable
type TableConfig struct {
	Name          string
	CreateTable   DBCmd
	CreateIndexes DBCmd
	QueriesMap    *QueryMap
}

// InitTable creates the table and its indexes in a transaction. All create
// statements must be idempotent (IF NOT EXISTS).
func InitTable(ctx context.Context, db *SQL, cfg TableConfig) error {
	if db == nil {
		return fmt.Errorf("db connection is nil")
	}

	createTable, err := cfg.QueriesMap.Pick(db.Type(), cfg.CreateTable)
	if err != nil {
		return fmt.Errorf("failed to get create table query for %s: %w", cfg.Name, err)
	}
	createIndexes, err := cfg.QueriesMap.Pick(db.Type(), cfg.CreateIndexes)
	if err != nil {
		return fmt.Errorf("failed to get create indexes query for %s: %w", cfg.Name, err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", cfg.Name, err)
	}
	for _, stmt := range strings.Split(createIndexes, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", cfg.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
