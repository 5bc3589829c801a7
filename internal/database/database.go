package database

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"lastpatch/internal/config"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know the bind type of
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

const schema = `
CREATE TABLE IF NOT EXISTS lastpatch_run (
	id            TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	server        TEXT NOT NULL,
	job_id        BIGINT,
	task_id       TEXT,
	outcome       TEXT NOT NULL,
	hosts         INTEGER NOT NULL DEFAULT 0,
	records       INTEGER NOT NULL DEFAULT 0,
	missing_hosts INTEGER NOT NULL DEFAULT 0,
	output        TEXT,
	error         TEXT,
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lastpatch_run_started_at ON lastpatch_run (started_at);
`

// New opens the history database configured in conf and makes sure the schema exists
func New(conf *config.LPConfig) (*sqlx.DB, error) {
	return Open(context.Background(), conf.History.Driver, conf.History.DSN)
}

func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// a single connection keeps writes serialised
		db.SetMaxOpenConns(1)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	// one statement per exec, drivers differ in multi-statement support
	for _, stmt := range statements(schema) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func statements(script string) []string {
	var stmts []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
