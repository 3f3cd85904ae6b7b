// Package sqlite stores pipeline snapshots in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"presale/internal/storage"
	"presale/internal/table"
)

// maxParams stays under SQLite's bound-parameter limit; inserts are chunked
// so one statement never exceeds it.
const maxParams = 30000

// Repo implements storage.Repository for SQLite.
//
// Every cell is stored with TEXT affinity: the pipeline treats all columns
// as strings, and TEXT round-trips exactly with modernc.org/sqlite. The
// hidden seq column is an INTEGER PRIMARY KEY written explicitly, so saved
// row order survives reloads without relying on rowid behavior.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// Save replaces the named table with t inside one transaction: either the
// new snapshot lands complete or the previous one stays untouched.
func (r *Repo) Save(ctx context.Context, name string, t *table.Table) (int64, error) {
	if err := storage.ValidateSnapshot(name, t); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return 0, fmt.Errorf("sqlite: drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(name, t.Columns)); err != nil {
		return 0, fmt.Errorf("sqlite: create %s: %w", name, err)
	}

	batch := rowsPerInsert(len(t.Columns))
	var written int64
	for start := 0; start < len(t.Rows); start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		q, args := buildInsertSQL(name, t.Columns, start, t.Rows[start:end])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("sqlite: insert into %s: %w", name, err)
		}
		written += int64(end - start)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// Load reads the named table back, ordered by the hidden seq column.
func (r *Repo) Load(ctx context.Context, name string) (*table.Table, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", name, sqlIdent(storage.SeqColumn))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	seqIdx := -1
	outCols := make([]string, 0, len(cols))
	for i, c := range cols {
		if c == storage.SeqColumn {
			seqIdx = i
			continue
		}
		outCols = append(outCols, c)
	}

	t := table.New(outCols...)
	vals := make([]any, len(cols))
	scan := make([]any, len(cols))
	for i := range vals {
		scan[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]string, 0, len(outCols))
		for i := range vals {
			if i == seqIdx {
				continue
			}
			row = append(row, storage.CellString(vals[i]))
		}
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return t, rows.Err()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// rowsPerInsert bounds a multi-row INSERT so the bound-parameter count
// (columns plus the seq value per row) stays under maxParams.
func rowsPerInsert(columns int) int {
	n := maxParams / (columns + 1)
	if n < 1 {
		return 1
	}
	return n
}

// buildCreateSQL emits the snapshot DDL: an explicit integer seq primary
// key followed by one TEXT column per table column.
func buildCreateSQL(name string, columns []string) string {
	parts := make([]string, 0, len(columns)+1)
	parts = append(parts, sqlIdent(storage.SeqColumn)+" INTEGER PRIMARY KEY")
	for _, c := range columns {
		parts = append(parts, sqlIdent(c)+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", name, strings.Join(parts, ",\n  "))
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
// startSeq numbers the first row; callers pass the batch offset so seq
// stays continuous across chunks.
//
// It is pure and deterministic so placeholder layout can be unit tested
// without a database.
func buildInsertSQL(name string, columns []string, startSeq int, rows [][]string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(name)
	b.WriteString(" (")
	b.WriteString(sqlIdent(storage.SeqColumn))
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)+1), ",") + ")"
	args := make([]any, 0, len(rows)*(len(columns)+1))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, startSeq+i)
		for _, v := range row {
			args = append(args, v)
		}
	}
	return b.String(), args
}
