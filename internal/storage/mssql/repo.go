// Package mssql stores pipeline snapshots in SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"presale/internal/storage"
	"presale/internal/table"
)

// maxParams stays under SQL Server's 2100-parameter request limit; inserts
// are chunked so one statement never exceeds it.
const maxParams = 2000

// Repo implements storage.Repository for SQL Server.
//
// Cells are stored as NVARCHAR(MAX) so Chinese community and district
// names round-trip, and the hidden seq column as BIGINT written
// explicitly. Requires SQL Server 2016+ for DROP TABLE IF EXISTS.
//
// Note on driver registration:
//   - This package intentionally does NOT blank-import a SQL Server
//     driver. The application must register the "sqlserver" driver
//     elsewhere before calling New.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver.
// Connectivity is validated via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty snapshot loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// Save replaces the named table with t inside one transaction.
func (r *Repo) Save(ctx context.Context, name string, t *table.Table) (int64, error) {
	if err := storage.ValidateSnapshot(name, t); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+mssqlTableIdent(name)); err != nil {
		return 0, fmt.Errorf("mssql: drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, buildCreateSQL(name, t.Columns)); err != nil {
		return 0, fmt.Errorf("mssql: create %s: %w", name, err)
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
			return 0, fmt.Errorf("mssql: insert into %s: %w", name, err)
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
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", mssqlTableIdent(name), mssqlIdent(storage.SeqColumn))
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("mssql: load %s: %w", name, err)
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

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified
// names.
//
// Example:
//
//	"dbo.communities" -> [dbo].[communities]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// rowsPerInsert bounds a multi-row INSERT so the parameter count (columns
// plus the seq value per row) stays under maxParams.
func rowsPerInsert(columns int) int {
	n := maxParams / (columns + 1)
	if n < 1 {
		return 1
	}
	return n
}

func buildCreateSQL(name string, columns []string) string {
	parts := make([]string, 0, len(columns)+1)
	parts = append(parts, mssqlIdent(storage.SeqColumn)+" BIGINT PRIMARY KEY")
	for _, c := range columns {
		parts = append(parts, mssqlIdent(c)+" NVARCHAR(MAX)")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", mssqlTableIdent(name), strings.Join(parts, ",\n  "))
}

// buildInsertSQL constructs a single INSERT statement and its args, using
// @pN placeholders. It is pure and deterministic so placeholder numbering
// can be unit tested without a database.
//
// startSeq numbers the first row; callers pass the batch offset so seq
// stays continuous across chunks.
func buildInsertSQL(name string, columns []string, startSeq int, rows [][]string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(name))
	b.WriteString(" (")
	b.WriteString(mssqlIdent(storage.SeqColumn))
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*(len(columns)+1))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(fmt.Sprintf("@p%d", p))
		args = append(args, startSeq+i)
		p++
		for _, v := range row {
			b.WriteString(fmt.Sprintf(", @p%d", p))
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}
