package chat

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// OpenDB opens and pings the store database.
func OpenDB(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	case SQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		// SQLite doesn't support multiple writers; one connection also keeps
		// an in-memory database alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		return nil, fmt.Errorf("unknown database driver %q", dialect)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	seq := "seq BIGSERIAL PRIMARY KEY"
	if dialect == SQLite {
		seq = "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id                  TEXT PRIMARY KEY,
			customer_contact    TEXT NOT NULL,
			status              TEXT NOT NULL DEFAULT 'open',
			assigned_agent_id   TEXT,
			assigned_agent_name TEXT NOT NULL DEFAULT '',
			closed_by           TEXT NOT NULL DEFAULT '',
			created_at          BIGINT NOT NULL,
			updated_at          BIGINT NOT NULL,
			CHECK ((status = 'assigned') = (assigned_agent_id IS NOT NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_status_idx ON sessions (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS sessions_agent_idx ON sessions (assigned_agent_id, status)`,
		`CREATE TABLE IF NOT EXISTS messages (
			` + seq + `,
			id         TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL REFERENCES sessions (id),
			sender     TEXT NOT NULL,
			agent_id   TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_session_idx ON messages (session_id, created_at, seq)`,
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
