package table

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleTable() *Table {
	t := New(ColCityName, ColCommunity, ColAddress)
	_ = t.AppendRow([]string{"台北市", "大安華廈", "大安區和平東路一段10號"})
	_ = t.AppendRow([]string{"新北市", "河岸小鎮", "板橋區文化路二段5號"})
	return t
}

// TestWriteCSVBOMAndDigest checks the three export guarantees: a UTF-8 BOM
// leads the file, the header row comes first, and the digest is stable
// across identical writes.
func TestWriteCSVBOMAndDigest(t *testing.T) {
	t.Parallel()

	var a, b bytes.Buffer
	resA, err := WriteCSV(&a, sampleTable())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	resB, err := WriteCSV(&b, sampleTable())
	if err != nil {
		t.Fatalf("write again: %v", err)
	}

	if !bytes.HasPrefix(a.Bytes(), []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatalf("missing UTF-8 BOM prefix: % x", a.Bytes()[:6])
	}
	if resA.Digest != resB.Digest {
		t.Fatalf("digest not deterministic: %s vs %s", resA.Digest, resB.Digest)
	}
	if resA.Bytes != int64(a.Len()) {
		t.Fatalf("byte count: want %d got %d", a.Len(), resA.Bytes)
	}
	if resA.Rows != 2 {
		t.Fatalf("rows: want 2 got %d", resA.Rows)
	}

	lines := strings.Split(strings.TrimPrefix(a.String(), "﻿"), "\n")
	if lines[0] != ColCityName+","+ColCommunity+","+ColAddress {
		t.Fatalf("header line: got %q", lines[0])
	}
}

func TestWriteCSVNoColumns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := WriteCSV(&buf, New()); err == nil {
		t.Fatalf("want error for empty column set")
	}
}

// TestCSVRoundTrip writes and re-reads a table with Chinese text, commas, and
// quotes, and expects identical columns and rows with the BOM stripped.
func TestCSVRoundTrip(t *testing.T) {
	t.Parallel()

	orig := New("a", "b")
	_ = orig.AppendRow([]string{"has,comma", `has"quote`})
	_ = orig.AppendRow([]string{"自售:112/01/01~112/06/30", ""})

	var buf bytes.Buffer
	if _, err := WriteCSV(&buf, orig); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(got.Columns) != 2 || got.Columns[0] != "a" {
		t.Fatalf("columns: got %v", got.Columns)
	}
	if got.Len() != orig.Len() {
		t.Fatalf("rows: want %d got %d", orig.Len(), got.Len())
	}
	for i := range orig.Rows {
		for j := range orig.Rows[i] {
			if got.Rows[i][j] != orig.Rows[i][j] {
				t.Fatalf("cell (%d,%d): want %q got %q", i, j, orig.Rows[i][j], got.Rows[i][j])
			}
		}
	}
}

// ReadCSV must also accept files written without a BOM.
func TestReadCSVWithoutBOM(t *testing.T) {
	t.Parallel()

	got, err := ReadCSV(strings.NewReader("h1,h2\nv1,v2\n"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Columns[0] != "h1" || got.Get(0, "h2") != "v2" {
		t.Fatalf("parse: columns=%v rows=%v", got.Columns, got.Rows)
	}
}

func TestReadCSVEmpty(t *testing.T) {
	t.Parallel()

	if _, err := ReadCSV(strings.NewReader("")); err == nil {
		t.Fatalf("want error for empty input")
	}
}

func TestWriteCSVFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.csv")

	res, err := WriteCSVFile(path, sampleTable())
	if err != nil {
		t.Fatalf("write file: %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Size() != res.Bytes {
		t.Fatalf("size: want %d got %d", res.Bytes, fi.Size())
	}

	got, err := ReadCSVFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Len() != 2 || got.Get(0, ColCityName) != "台北市" {
		t.Fatalf("round trip: len=%d first=%q", got.Len(), got.Get(0, ColCityName))
	}

	// No temp leftovers.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover files: %v", entries)
	}
}
