// Package assemble turns a fragment-addressed remote dataset into one
// unified table: fetch each fragment, stream its records, union the source
// columns in first-seen order, tag rows with the fragment's display name and
// the run stamp, then apply the configured renames and numeric coercions.
package assemble

import (
	"bytes"
	"context"
	"fmt"

	"presale/internal/config"
	"presale/internal/enrich"
	"presale/internal/fetch"
	"presale/internal/parser"
	"presale/internal/table"
)

// Fetcher is the slice of the fetch client Build needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FragmentCount reports how many records one fragment contributed.
type FragmentCount struct {
	Name string
	Rows int
}

// Build fetches and assembles the dataset into a single table.
//
// Fragments download sequentially in config order. The resulting column
// order is city_name, then every source column in the order it first appears
// across all fragments, then input_time holding stamp. After concatenation
// the rename map applies and numeric columns coerce; date columns are left
// in their source form for the enrichment and aggregation passes, which
// compare compact ROC dates (see NormalizeDates).
//
// Any fetch or parse failure aborts the build. Same payloads and config
// produce an identical table.
func Build(ctx context.Context, client Fetcher, cfg config.Dataset, stamp string) (*table.Table, []FragmentCount, error) {
	targets := fetch.BuildURLs(cfg.BaseURL, cfg.Fragments)

	var (
		sourceCols []string
		seen       = make(map[string]bool)
		fragments  = make([][]*parser.Row, 0, len(targets))
		counts     = make([]FragmentCount, 0, len(targets))
	)
	for _, tgt := range targets {
		body, err := client.Fetch(ctx, tgt.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("assemble: fragment %q: %w", tgt.Name, err)
		}
		rows, err := collectRows(ctx, body, cfg.Parser)
		if err != nil {
			return nil, nil, fmt.Errorf("assemble: fragment %q: %w", tgt.Name, err)
		}
		for _, r := range rows {
			for _, k := range r.Keys {
				if !seen[k] {
					seen[k] = true
					sourceCols = append(sourceCols, k)
				}
			}
		}
		fragments = append(fragments, rows)
		counts = append(counts, FragmentCount{Name: tgt.Name, Rows: len(rows)})
	}

	cols := make([]string, 0, len(sourceCols)+2)
	cols = append(cols, table.ColCityName)
	cols = append(cols, sourceCols...)
	cols = append(cols, table.ColInputTime)
	t := table.New(cols...)

	for fi, rows := range fragments {
		name := targets[fi].Name
		for _, r := range rows {
			row := make([]string, len(cols))
			row[0] = name
			row[len(row)-1] = stamp
			for j, key := range r.Keys {
				if idx := t.Index(key); idx >= 0 {
					row[idx] = r.Values[j]
				}
			}
			if err := t.AppendRow(row); err != nil {
				return nil, nil, fmt.Errorf("assemble: fragment %q: %w", name, err)
			}
		}
	}

	if err := t.RenameColumns(cfg.Rename); err != nil {
		return nil, nil, fmt.Errorf("assemble: %w", err)
	}
	CoerceNumerics(t, cfg.NumericColumns)
	return t, counts, nil
}

// collectRows drains one fragment's payload through the streaming parser.
func collectRows(ctx context.Context, body []byte, opts config.Options) ([]*parser.Row, error) {
	out := make(chan *parser.Row, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		errCh <- parser.StreamRows(ctx, bytes.NewReader(body), opts, out, nil)
	}()

	var rows []*parser.Row
	for r := range out {
		rows = append(rows, r)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

// CoerceNumerics rewrites the named columns to canonical decimal strings;
// unparseable and missing values become "0". Absent columns are skipped.
func CoerceNumerics(t *table.Table, cols []string) {
	for _, c := range cols {
		idx := t.Index(c)
		if idx < 0 {
			continue
		}
		for i := range t.Rows {
			t.Rows[i][idx] = enrich.CoerceNumber(t.Rows[i][idx])
		}
	}
}

// NormalizeDates rewrites the named columns to ISO "YYYY-MM-DD" form;
// values that parse as no supported date form become "". Absent columns are
// skipped.
//
// Call this only after enrichment and aggregation: quarter derivation and
// the date comparisons there operate on the compact ROC forms.
func NormalizeDates(t *table.Table, cols []string) {
	for _, c := range cols {
		idx := t.Index(c)
		if idx < 0 {
			continue
		}
		for i := range t.Rows {
			t.Rows[i][idx] = enrich.NormalizeROCDate(t.Rows[i][idx])
		}
	}
}
