package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"intelpipe/internal/threat"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLWriter appends rows to a table in SQLite or Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
	table   string
}

// OpenSQL opens dsn with the driver for dialect and migrates the table.
func OpenSQL(ctx context.Context, dialect, dsn, table string) (*SQLWriter, error) {
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == TypeSQLite {
		db.SetMaxOpenConns(1)
	}
	w, err := NewSQLWriter(ctx, db, dialect, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func NewSQLWriter(ctx context.Context, db *sql.DB, dialect, table string) (*SQLWriter, error) {
	if dialect != TypeSQLite && dialect != TypePostgres {
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	w := &SQLWriter{db: db, dialect: dialect, table: table}
	if err := w.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", table, err)
	}
	return w, nil
}

func (w *SQLWriter) migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if w.dialect == TypeSQLite {
		ts = "DATETIME"
	}
	_, err := w.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT NOT NULL,
	indicator TEXT NOT NULL,
	type TEXT,
	source TEXT,
	confidence DOUBLE PRECISION,
	timestamp %s
)`, w.table, ts))
	return err
}

func (w *SQLWriter) insertSQL() string {
	cols := "run_id, indicator, type, source, confidence, timestamp"
	ph := "?, ?, ?, ?, ?, ?"
	if w.dialect == TypePostgres {
		ph = "$1, $2, $3, $4, $5, $6"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", w.table, cols, ph)
}

func (w *SQLWriter) WriteIndicators(ctx context.Context, runID string, items []*threat.Indicator) (err error) {
	rows := Flatten(runID, items)
	if len(rows) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, w.insertSQL())
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var conf sql.NullFloat64
		if r.Confidence != nil {
			conf = sql.NullFloat64{Float64: *r.Confidence, Valid: true}
		}
		var ts sql.NullTime
		if r.Timestamp != nil {
			ts = sql.NullTime{Time: *r.Timestamp, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx, r.RunID, r.Indicator, r.Type, r.Source, conf, ts); err != nil {
			return fmt.Errorf("insert %s: %w", r.Indicator, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of stored rows for a run.
func (w *SQLWriter) Count(ctx context.Context, runID string) (int, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE run_id = ?", w.table)
	if w.dialect == TypePostgres {
		q = strings.Replace(q, "?", "$1", 1)
	}
	var n int
	err := w.db.QueryRowContext(ctx, q, runID).Scan(&n)
	return n, err
}

func (w *SQLWriter) Close() error { return w.db.Close() }
