package aggregate

import (
	"reflect"
	"testing"

	"presale/internal/table"
)

func buildTable(t *testing.T, cols []string, rows [][]string) *table.Table {
	t.Helper()
	tbl := table.New(cols...)
	for _, r := range rows {
		if err := tbl.AppendRow(r); err != nil {
			t.Fatalf("AppendRow(%v): %v", r, err)
		}
	}
	return tbl
}

func testTransactions(t *testing.T) *table.Table {
	t.Helper()
	return buildTable(t,
		[]string{table.ColCityName, table.ColSerial, table.ColDistrict, table.ColCommunity, table.ColTransactionDate, table.ColCancellation},
		[][]string{
			{"臺北市", "C11202A10268", "中山區", "曉山青", "1120503", ""},
			{"臺北市", "C11202A10268", "中山區", "曉山青", "1120401", ""},
			{"臺北市", "C11202A10268", "中山區", "曉山青", "1120601", "全部解約"},
			{"臺北市", "", "大安區", "仁愛帝寶", "1120715", ""},
			{"新北市", "C11202B10301", "板橋區", "江翠ONE", "20230310", ""},
			{"新北市", "C11202B10301", "板橋區", "江翠ONE", "1120215", ""},
		})
}

// TestTransactionStats verifies both rollup maps: counts, the cancellation
// split, and the first-date minimum.
//
// Edge cases:
//   - Cancelled rows count as transactions but never move the first date.
//   - Mixed ROC and AD date forms order by calendar day, not by string.
//   - Serial-less rows appear only under the composite key.
func TestTransactionStats(t *testing.T) {
	t.Parallel()

	stats := TransactionStats(testTransactions(t), Options{})

	a := stats.BySerial["C11202A10268"]
	if a.Transactions != 3 || a.Cancellations != 1 || a.FirstDate != "1120401" {
		t.Fatalf("serial A: %+v, want 3 tx, 1 cancel, first 1120401", a)
	}
	b := stats.BySerial["C11202B10301"]
	if b.Transactions != 2 || b.Cancellations != 0 || b.FirstDate != "1120215" {
		t.Fatalf("serial B: %+v, want 2 tx, 0 cancels, first 1120215", b)
	}
	if _, ok := stats.BySerial[""]; ok {
		t.Fatalf("empty serial must not key BySerial")
	}

	comp := stats.ByComposite["臺北市|大安區|仁愛帝寶"]
	if comp.Transactions != 1 || comp.Cancellations != 0 || comp.FirstDate != "1120715" {
		t.Fatalf("composite 仁愛帝寶: %+v, want 1 tx, first 1120715", comp)
	}
	if got := stats.ByComposite["臺北市|中山區|曉山青"]; got.Transactions != 3 {
		t.Fatalf("composite 曉山青: %+v, want all 3 rows (serial rows contribute too)", got)
	}
}

// TestMergeStats verifies the community-side lookup chain: serial sums
// first, composite fallback when no serial is known, zeros when both miss.
func TestMergeStats(t *testing.T) {
	t.Parallel()

	stats := TransactionStats(testTransactions(t), Options{})
	community := buildTable(t,
		[]string{table.ColCityName, table.ColCode, table.ColDistrict, table.ColCommunity, table.ColSerialList},
		[][]string{
			{"臺北市", "A001", "中山區", "曉山青", "C11202A10268"},
			{"新北市", "B001", "板橋區", "江翠ONE", "C11202B10301, ZZZZZZZZZZ01"},
			{"臺北市", "C001", "大安區", "仁愛帝寶", ""},
			{"臺北市", "D001", "信義區", "無名社區", "UNKNOWN0000001"},
		})

	if err := MergeStats(community, stats, Options{}); err != nil {
		t.Fatalf("MergeStats() err=%v", err)
	}

	wantTail := []string{table.ColTransactionCount, table.ColCancellationCount, table.ColFirstTransaction}
	if got := community.Columns[len(community.Columns)-3:]; !reflect.DeepEqual(got, wantTail) {
		t.Fatalf("appended columns=%v, want %v", got, wantTail)
	}

	want := [][3]string{
		{"3", "1", "1120401"}, // one known serial
		{"2", "0", "1120215"}, // known serial plus an unknown one
		{"1", "0", "1120715"}, // composite fallback
		{"0", "0", ""},        // nothing matches
	}
	for i, w := range want {
		got := [3]string{
			community.Get(i, table.ColTransactionCount),
			community.Get(i, table.ColCancellationCount),
			community.Get(i, table.ColFirstTransaction),
		}
		if got != w {
			t.Fatalf("row %d stats=%v, want %v", i, got, w)
		}
	}
}

// TestMergeStats_RunsOnce verifies a second merge fails instead of doubling
// columns.
func TestMergeStats_RunsOnce(t *testing.T) {
	t.Parallel()

	community := buildTable(t, []string{table.ColCode}, [][]string{{"A001"}})
	stats := TxStats{BySerial: map[string]Stats{}, ByComposite: map[string]Stats{}}

	if err := MergeStats(community, stats, Options{}); err != nil {
		t.Fatalf("MergeStats() #1 err=%v", err)
	}
	if err := MergeStats(community, stats, Options{}); err == nil {
		t.Fatalf("MergeStats() #2 err=nil, want duplicate-column error")
	}
}

// TestClampSaleStart verifies the correction only fires when both dates
// normalize and the first transaction is strictly earlier, and that the
// quarter follows the replacement.
func TestClampSaleStart(t *testing.T) {
	t.Parallel()

	tbl := buildTable(t,
		[]string{table.ColSaleStart, table.ColSaleQuarter, table.ColFirstTransaction},
		[][]string{
			{"1120310", "112Y1S", "1111201"},  // earlier: replaced, quarter moves
			{"1120310", "112Y1S", "1120501"},  // later: unchanged
			{"", "", "1120501"},               // no start to compare
			{"1120310", "112Y1S", ""},         // no first transaction
			{"1120310", "112Y1S", "20230201"}, // AD form compares by calendar day
			{"abc", "", "1120101"},            // unparseable start unchanged
		})

	ClampSaleStart(tbl)

	want := [][2]string{
		{"1111201", "111Y4S"},
		{"1120310", "112Y1S"},
		{"", ""},
		{"1120310", "112Y1S"},
		{"20230201", "112Y1S"},
		{"abc", ""},
	}
	for i, w := range want {
		got := [2]string{tbl.Get(i, table.ColSaleStart), tbl.Get(i, table.ColSaleQuarter)}
		if got != w {
			t.Fatalf("row %d (start, quarter)=%v, want %v", i, got, w)
		}
	}
}

func dedupeColumns() []string {
	return []string{
		table.ColCode, table.ColDistrict, table.ColPermitNo, table.ColLongitude,
		table.ColSaleStart, table.ColSerialList,
		table.ColTransactionCount, table.ColCancellationCount, table.ColFirstTransaction,
	}
}

// TestDedupeCommunities verifies the full merge: winner by latest
// sale_start, summed counts, deduplicated serial union, earliest first
// transaction, loser codes recorded, loser rows removed.
func TestDedupeCommunities(t *testing.T) {
	t.Parallel()

	tbl := buildTable(t, dedupeColumns(), [][]string{
		{"A001", "中山區", "110建字第0123號", "121.526", "1120310", "C11202A10268", "3", "1", "1120401"},
		{"A002", "中山區", "110建字第0123號", "121.526", "1120510", "C11202A10268, C11202C10777", "5", "0", "1120301"},
		{"A003", "中山區", "110建字第0123號", "121.526", "", "C11202D10999", "2", "2", ""},
		{"B001", "大安區", "109建字第0456號", "121.543", "1100101", "", "1", "0", "1110101"},
	})

	if err := DedupeCommunities(tbl, Options{}); err != nil {
		t.Fatalf("DedupeCommunities() err=%v", err)
	}

	if tbl.Len() != 2 {
		t.Fatalf("Len()=%d, want 2 (two duplicates removed)", tbl.Len())
	}

	if got := tbl.Get(0, table.ColCode); got != "A002" {
		t.Fatalf("winner code=%q, want A002 (latest sale_start)", got)
	}
	if got := tbl.Get(0, table.ColTransactionCount); got != "10" {
		t.Fatalf("merged transaction_count=%q, want 10", got)
	}
	if got := tbl.Get(0, table.ColCancellationCount); got != "3" {
		t.Fatalf("merged cancellation_count=%q, want 3", got)
	}
	if got := tbl.Get(0, table.ColSerialList); got != "C11202A10268, C11202C10777, C11202D10999" {
		t.Fatalf("merged serial list=%q, want winner-first union without repeats", got)
	}
	if got := tbl.Get(0, table.ColFirstTransaction); got != "1120301" {
		t.Fatalf("merged first_transaction_date=%q, want earliest 1120301", got)
	}
	if got := tbl.Get(0, table.ColDuplicateOf); got != "A001, A003" {
		t.Fatalf("duplicate_of=%q, want loser codes in input order", got)
	}

	if got := tbl.Get(1, table.ColCode); got != "B001" {
		t.Fatalf("row 1 code=%q, want untouched B001", got)
	}
	if got := tbl.Get(1, table.ColDuplicateOf); got != "" {
		t.Fatalf("row 1 duplicate_of=%q, want empty", got)
	}
}

// TestDedupeCommunities_TieBreaks verifies the sale_start tie falls to the
// higher transaction count and then to input order.
func TestDedupeCommunities_TieBreaks(t *testing.T) {
	t.Parallel()

	tbl := buildTable(t, dedupeColumns(), [][]string{
		{"A001", "中山區", "110建字第0123號", "121.526", "1120310", "", "2", "0", ""},
		{"A002", "中山區", "110建字第0123號", "121.526", "1120310", "", "7", "0", ""},
		{"B001", "板橋區", "111建字第0900號", "121.460", "1110101", "", "4", "0", ""},
		{"B002", "板橋區", "111建字第0900號", "121.460", "1110101", "", "4", "0", ""},
	})

	if err := DedupeCommunities(tbl, Options{}); err != nil {
		t.Fatalf("DedupeCommunities() err=%v", err)
	}

	if tbl.Len() != 2 {
		t.Fatalf("Len()=%d, want 2", tbl.Len())
	}
	if got := tbl.Get(0, table.ColCode); got != "A002" {
		t.Fatalf("group A winner=%q, want A002 (higher count)", got)
	}
	if got := tbl.Get(0, table.ColTransactionCount); got != "9" {
		t.Fatalf("group A merged count=%q, want 9", got)
	}
	if got := tbl.Get(1, table.ColCode); got != "B001" {
		t.Fatalf("group B winner=%q, want B001 (full tie keeps first row)", got)
	}
}

// TestDedupeCommunities_EmptyKeyNeverGroups verifies rows missing all three
// key fields are left alone rather than merged with each other.
func TestDedupeCommunities_EmptyKeyNeverGroups(t *testing.T) {
	t.Parallel()

	tbl := buildTable(t, dedupeColumns(), [][]string{
		{"A001", "", "", "", "1120310", "", "1", "0", ""},
		{"A002", "", "", "", "1120410", "", "1", "0", ""},
	})

	if err := DedupeCommunities(tbl, Options{}); err != nil {
		t.Fatalf("DedupeCommunities() err=%v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len()=%d, want 2 (empty keys must not group)", tbl.Len())
	}
}

// TestAbsorptionRate verifies the rate formula, clipping, rounding, and the
// zero sentinel for missing households.
func TestAbsorptionRate(t *testing.T) {
	t.Parallel()

	tbl := buildTable(t,
		[]string{table.ColHouseholds, table.ColTransactionCount, table.ColCancellationCount},
		[][]string{
			{"100", "30", "5"},
			{"3", "1", "0"},
			{"100", "300", "0"},
			{"100", "0", "2"},
			{"0", "5", "0"},
			{"", "5", "0"},
			{"無", "5", "0"},
			{"1,200", "600", "0"},
		})

	if err := AbsorptionRate(tbl, Options{}); err != nil {
		t.Fatalf("AbsorptionRate() err=%v", err)
	}

	want := []string{"0.25", "0.3333", "1", "0", "0", "0", "0", "0.5"}
	for i, w := range want {
		if got := tbl.Get(i, table.ColAbsorptionRate); got != w {
			t.Fatalf("row %d absorption_rate=%q, want %q", i, got, w)
		}
	}
}
