// Package table holds the column-ordered string table the pipeline moves
// between fetch, enrichment, aggregation, and export.
//
// A Table is deliberately simple: an ordered column list and rows of strings.
// Column order is part of the contract — exports and snapshots must reproduce
// it exactly, so assembly appends columns in a deterministic order and
// renames never reorder.
package table

import "fmt"

// Canonical column names shared across the pipeline. Rename maps in config
// translate raw source headers to these; enrichment and aggregation read and
// append them.
const (
	ColCityName  = "city_name"
	ColInputTime = "input_time"

	ColAddress    = "address"
	ColSalePeriod = "sale_period"
	ColReviewDate = "review_date"
	ColPermitDate = "permit_date"
	ColCode       = "community_code"
	ColIDList     = "id_list"
	ColSerial     = "serial_no"
	ColSerialList = "serial_list"
	ColBuilder    = "builder"
	ColCommunity  = "community"
	ColHouseholds = "households"
	ColPermitNo   = "permit_no"
	ColLongitude  = "longitude"
	ColLatitude   = "latitude"

	ColDistrict     = "district"
	ColSelfPeriod   = "self_sale_period"
	ColAgencyPeriod = "agency_sale_period"
	ColSelfStart    = "self_sale_start"
	ColAgencyStart  = "agency_sale_start"
	ColSaleStart    = "sale_start"
	ColSaleQuarter  = "sale_quarter"

	ColTransactionDate   = "transaction_date"
	ColCancellation      = "cancellation"
	ColTransactionCount  = "transaction_count"
	ColCancellationCount = "cancellation_count"
	ColFirstTransaction  = "first_transaction_date"
	ColDuplicateOf       = "duplicate_of"
	ColAbsorptionRate    = "absorption_rate"
)

// Table is an ordered set of named string columns.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// New creates an empty table with the given column order.
func New(columns ...string) *Table {
	t := &Table{Columns: append([]string(nil), columns...)}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// Index returns the position of column name, or -1 when absent.
func (t *Table) Index(name string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Has reports whether the table carries the named column.
func (t *Table) Has(name string) bool { return t.Index(name) >= 0 }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// AppendRow adds one row. The row length must match the column count.
func (t *Table) AppendRow(row []string) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("table: row has %d values, want %d", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// AddColumn appends a new column filled by fill(row index, row), keeping all
// existing rows aligned. Adding a column that already exists is an error so
// derivation passes cannot silently run twice.
func (t *Table) AddColumn(name string, fill func(i int, row []string) string) error {
	if t.Has(name) {
		return fmt.Errorf("table: column %q already exists", name)
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		v := ""
		if fill != nil {
			v = fill(i, t.Rows[i])
		}
		t.Rows[i] = append(t.Rows[i], v)
	}
	t.reindex()
	return nil
}

// Get returns row i's value in the named column, or "" when the column is
// absent. Missing columns are not an error: enrichment treats an absent
// source field like an empty one.
func (t *Table) Get(i int, name string) string {
	idx := t.Index(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i][idx]
}

// Set writes row i's value in the named column. Unknown columns are ignored.
func (t *Table) Set(i int, name, value string) {
	idx := t.Index(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return
	}
	t.Rows[i][idx] = value
}

// RenameColumns applies old-name -> new-name to the header in place, keeping
// column order. Names not present in the map pass through. Renaming two
// source columns onto the same target is an error.
func (t *Table) RenameColumns(rename map[string]string) error {
	if len(rename) == 0 {
		return nil
	}
	seen := make(map[string]string, len(t.Columns))
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		name := c
		if n, ok := rename[c]; ok && n != "" {
			name = n
		}
		if prev, dup := seen[name]; dup {
			return fmt.Errorf("table: rename collides: %q and %q both map to %q", prev, c, name)
		}
		seen[name] = c
		cols[i] = name
	}
	t.Columns = cols
	t.reindex()
	return nil
}

// AppendTable concatenates other's rows onto t. Column sets must match
// exactly (same names, same order); assembly guarantees this by building all
// fragments with the same column plan.
func (t *Table) AppendTable(other *Table) error {
	if len(other.Columns) != len(t.Columns) {
		return fmt.Errorf("table: concat column count mismatch: %d vs %d", len(other.Columns), len(t.Columns))
	}
	for i := range t.Columns {
		if t.Columns[i] != other.Columns[i] {
			return fmt.Errorf("table: concat column %d mismatch: %q vs %q", i, t.Columns[i], other.Columns[i])
		}
	}
	t.Rows = append(t.Rows, other.Rows...)
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := New(t.Columns...)
	c.Rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = append([]string(nil), r...)
	}
	return c
}
