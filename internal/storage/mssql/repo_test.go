package mssql

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildInsertSQL_PlaceholderNumbering(t *testing.T) {
	q, args := buildInsertSQL("dbo.communities", []string{"a", "b"}, 0, [][]string{
		{"x1", "y1"},
		{"x2", "y2"},
	})

	want := `INSERT INTO [dbo].[communities] ([seq], [a], [b]) VALUES (@p1, @p2, @p3), (@p4, @p5, @p6);`
	if q != want {
		t.Errorf("sql = %q, want %q", q, want)
	}
	wantArgs := []any{0, "x1", "y1", 1, "x2", "y2"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args = %v, want %v", args, wantArgs)
	}
}

func TestBuildCreateSQL(t *testing.T) {
	got := buildCreateSQL("dbo.communities", []string{"city_name", "community"})
	for _, part := range []string{
		"[seq] BIGINT PRIMARY KEY",
		"[city_name] NVARCHAR(MAX)",
		"[community] NVARCHAR(MAX)",
		"CREATE TABLE [dbo].[communities]",
	} {
		if !strings.Contains(got, part) {
			t.Errorf("create sql missing %q:\n%s", part, got)
		}
	}
}

func TestMssqlTableIdent(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "communities", want: "[communities]"},
		{in: "dbo.communities", want: "[dbo].[communities]"},
		{in: "dbo . spaced", want: "[dbo].[spaced]"},
		{in: "we]ird", want: "[we]]ird]"},
	}
	for _, tc := range cases {
		if got := mssqlTableIdent(tc.in); got != tc.want {
			t.Errorf("mssqlTableIdent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRowsPerInsert_Bounds(t *testing.T) {
	if got := rowsPerInsert(19); got != 100 {
		t.Errorf("rowsPerInsert(19) = %d, want 100", got)
	}
	if got := rowsPerInsert(5000); got != 1 {
		t.Errorf("rowsPerInsert(5000) = %d, want 1", got)
	}
}
