package assemble

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"presale/internal/config"
	"presale/internal/table"
)

// fakeFetcher serves canned payloads keyed by URL and records call order.
type fakeFetcher struct {
	payloads map[string]string
	errs     map[string]error
	calls    []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	body, ok := f.payloads[url]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", url)
	}
	return []byte(body), nil
}

func testDataset() config.Dataset {
	return config.Dataset{
		BaseURL: "https://data.example.gov.tw/api/",
		Fragments: []config.Fragment{
			{Suffix: "F85011", Name: "臺北市"},
			{Suffix: "F85012", Name: "新北市"},
		},
		Rename: map[string]string{
			"編號":   "community_code",
			"戶數":   "households",
			"坐落街道": "address",
			"總銷金額": "total_amount",
		},
		NumericColumns: []string{"households", "total_amount"},
	}
}

// TestBuild_UnionsFragments verifies the full assembly path: sequential
// fetch order, first-seen column union across fragments, city/stamp framing
// columns, rename, and numeric coercion.
//
// Edge cases:
//   - A column appearing only in the second fragment still lands in the
//     union, with "" (then "0" after coercion) for earlier fragments.
//   - Thousands separators are stripped by coercion.
func TestBuild_UnionsFragments(t *testing.T) {
	t.Parallel()

	cfg := testDataset()
	f := &fakeFetcher{payloads: map[string]string{
		cfg.BaseURL + "F85011": `[{"編號":"A1","戶數":"10"},{"編號":"A2","坐落街道":"中山區中山北路"}]`,
		cfg.BaseURL + "F85012": `[{"編號":"B1","總銷金額":"1,000"}]`,
	}}

	got, counts, err := Build(context.Background(), f, cfg, "2026-08-23 08:00:00")
	if err != nil {
		t.Fatalf("Build() err=%v, want nil", err)
	}

	wantCols := []string{
		table.ColCityName, "community_code", "households", "address", "total_amount", table.ColInputTime,
	}
	if !reflect.DeepEqual(got.Columns, wantCols) {
		t.Fatalf("Columns=%v, want %v", got.Columns, wantCols)
	}

	wantRows := [][]string{
		{"臺北市", "A1", "10", "", "0", "2026-08-23 08:00:00"},
		{"臺北市", "A2", "0", "中山區中山北路", "0", "2026-08-23 08:00:00"},
		{"新北市", "B1", "0", "", "1000", "2026-08-23 08:00:00"},
	}
	if !reflect.DeepEqual(got.Rows, wantRows) {
		t.Fatalf("Rows=%v, want %v", got.Rows, wantRows)
	}

	wantCounts := []FragmentCount{{"臺北市", 2}, {"新北市", 1}}
	if !reflect.DeepEqual(counts, wantCounts) {
		t.Fatalf("counts=%v, want %v", counts, wantCounts)
	}

	wantCalls := []string{cfg.BaseURL + "F85011", cfg.BaseURL + "F85012"}
	if !reflect.DeepEqual(f.calls, wantCalls) {
		t.Fatalf("fetch calls=%v, want %v", f.calls, wantCalls)
	}
}

// TestBuild_FetchErrorPropagates verifies a failing fragment aborts the
// build with the fragment name and the underlying error intact.
func TestBuild_FetchErrorPropagates(t *testing.T) {
	t.Parallel()

	cfg := testDataset()
	dialErr := errors.New("dial timeout")
	f := &fakeFetcher{
		payloads: map[string]string{cfg.BaseURL + "F85011": `[]`},
		errs:     map[string]error{cfg.BaseURL + "F85012": dialErr},
	}

	_, _, err := Build(context.Background(), f, cfg, "stamp")
	if !errors.Is(err, dialErr) {
		t.Fatalf("Build() err=%v, want wrapped %v", err, dialErr)
	}
	if !strings.Contains(err.Error(), "新北市") {
		t.Fatalf("Build() err=%v, want fragment name in message", err)
	}
}

// TestBuild_ParseErrorAborts verifies malformed payload elements fail the
// build rather than dropping records silently.
func TestBuild_ParseErrorAborts(t *testing.T) {
	t.Parallel()

	cfg := testDataset()
	cfg.Fragments = cfg.Fragments[:1]
	f := &fakeFetcher{payloads: map[string]string{
		cfg.BaseURL + "F85011": `[{"編號":"A1"}, 7]`,
	}}

	_, _, err := Build(context.Background(), f, cfg, "stamp")
	if err == nil || !strings.Contains(err.Error(), "臺北市") {
		t.Fatalf("Build() err=%v, want parse failure naming the fragment", err)
	}
}

// TestBuild_Idempotent verifies two builds over the same payloads produce
// identical tables.
func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := testDataset()
	payloads := map[string]string{
		cfg.BaseURL + "F85011": `[{"編號":"A1","戶數":"10"}]`,
		cfg.BaseURL + "F85012": `[{"編號":"B1","坐落街道":"板橋區文化路"}]`,
	}

	first, _, err := Build(context.Background(), &fakeFetcher{payloads: payloads}, cfg, "stamp")
	if err != nil {
		t.Fatalf("Build() #1 err=%v", err)
	}
	second, _, err := Build(context.Background(), &fakeFetcher{payloads: payloads}, cfg, "stamp")
	if err != nil {
		t.Fatalf("Build() #2 err=%v", err)
	}

	if !reflect.DeepEqual(first.Columns, second.Columns) || !reflect.DeepEqual(first.Rows, second.Rows) {
		t.Fatalf("builds differ:\n#1 %v %v\n#2 %v %v", first.Columns, first.Rows, second.Columns, second.Rows)
	}
}

// TestBuild_EmptyFragments verifies empty payloads yield a zero-row table
// with just the framing columns.
func TestBuild_EmptyFragments(t *testing.T) {
	t.Parallel()

	cfg := testDataset()
	f := &fakeFetcher{payloads: map[string]string{
		cfg.BaseURL + "F85011": `[]`,
		cfg.BaseURL + "F85012": `[]`,
	}}

	got, counts, err := Build(context.Background(), f, cfg, "stamp")
	if err != nil {
		t.Fatalf("Build() err=%v, want nil", err)
	}
	wantCols := []string{table.ColCityName, table.ColInputTime}
	if !reflect.DeepEqual(got.Columns, wantCols) {
		t.Fatalf("Columns=%v, want %v", got.Columns, wantCols)
	}
	if got.Len() != 0 {
		t.Fatalf("Len()=%d, want 0", got.Len())
	}
	if counts[0].Rows != 0 || counts[1].Rows != 0 {
		t.Fatalf("counts=%v, want zero rows each", counts)
	}
}

// TestNormalizeDates verifies per-value date normalization across the mixed
// forms the feeds carry, and that absent columns are ignored.
func TestNormalizeDates(t *testing.T) {
	t.Parallel()

	tbl := table.New("review_date", "other")
	rows := [][]string{
		{"1120503", "keep"},
		{"20230503", "keep"},
		{"112/5/3", "keep"},
		{"junk", "keep"},
		{"", "keep"},
	}
	for _, r := range rows {
		if err := tbl.AppendRow(r); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}

	NormalizeDates(tbl, []string{"review_date", "not_a_column"})

	want := []string{"2023-05-03", "2023-05-03", "2023-05-03", "", ""}
	for i, w := range want {
		if got := tbl.Get(i, "review_date"); got != w {
			t.Fatalf("row %d review_date=%q, want %q", i, got, w)
		}
		if got := tbl.Get(i, "other"); got != "keep" {
			t.Fatalf("row %d other=%q, want untouched", i, got)
		}
	}
}

// TestCoerceNumerics verifies coercion canonicalizes decimals and turns
// unparseable values into the "0" sentinel.
func TestCoerceNumerics(t *testing.T) {
	t.Parallel()

	tbl := table.New("households")
	for _, v := range []string{"1,234", "12.0", "", "無"} {
		if err := tbl.AppendRow([]string{v}); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}

	CoerceNumerics(tbl, []string{"households"})

	want := []string{"1234", "12", "0", "0"}
	for i, w := range want {
		if got := tbl.Get(i, "households"); got != w {
			t.Fatalf("row %d households=%q, want %q", i, got, w)
		}
	}
}
