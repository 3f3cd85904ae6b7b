// Package postgres stores pipeline snapshots in PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"presale/internal/storage"
	"presale/internal/table"
)

// maxParams stays under the extended-protocol bind limit of 65535; inserts
// are chunked so one statement never exceeds it.
const maxParams = 60000

// Repo implements storage.Repository for Postgres.
//
// Cells are stored as TEXT and the hidden seq column as BIGINT, written
// explicitly so saved row order survives reloads. Table names pass through
// unquoted, which keeps schema-qualified names like "public.communities"
// working.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// Save replaces the named table with t inside one transaction.
func (r *Repo) Save(ctx context.Context, name string, t *table.Table) (int64, error) {
	if err := storage.ValidateSnapshot(name, t); err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return 0, fmt.Errorf("postgres: drop %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, buildCreateSQL(name, t.Columns)); err != nil {
		return 0, fmt.Errorf("postgres: create %s: %w", name, err)
	}

	batch := rowsPerInsert(len(t.Columns))
	var written int64
	for start := 0; start < len(t.Rows); start += batch {
		end := start + batch
		if end > len(t.Rows) {
			end = len(t.Rows)
		}
		q, args := buildInsertSQL(name, t.Columns, start, t.Rows[start:end])
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("postgres: insert into %s: %w", name, err)
		}
		written += int64(end - start)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return written, nil
}

// Load reads the named table back, ordered by the hidden seq column.
func (r *Repo) Load(ctx context.Context, name string) (*table.Table, error) {
	q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", name, pgIdent(storage.SeqColumn))
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: load %s: %w", name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	seqIdx := -1
	outCols := make([]string, 0, len(fields))
	for i, f := range fields {
		if f.Name == storage.SeqColumn {
			seqIdx = i
			continue
		}
		outCols = append(outCols, f.Name)
	}

	t := table.New(outCols...)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
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

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// rowsPerInsert bounds a multi-row INSERT so the bind count (columns plus
// the seq value per row) stays under maxParams.
func rowsPerInsert(columns int) int {
	n := maxParams / (columns + 1)
	if n < 1 {
		return 1
	}
	return n
}

func buildCreateSQL(name string, columns []string) string {
	parts := make([]string, 0, len(columns)+1)
	parts = append(parts, pgIdent(storage.SeqColumn)+" BIGINT PRIMARY KEY")
	for _, c := range columns {
		parts = append(parts, pgIdent(c)+" TEXT")
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", name, strings.Join(parts, ",\n  "))
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering can be unit
//     tested without a database.
//
// startSeq numbers the first row; callers pass the batch offset so seq
// stays continuous across chunks.
func buildInsertSQL(name string, columns []string, startSeq int, rows [][]string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(name)
	b.WriteString(" (")
	b.WriteString(pgIdent(storage.SeqColumn))
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*(len(columns)+1))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		b.WriteString(fmt.Sprintf("$%d", p))
		args = append(args, startSeq+i)
		p++
		for _, v := range row {
			b.WriteString(fmt.Sprintf(", $%d", p))
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}
