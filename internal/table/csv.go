package table

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// WriteResult reports what a CSV export produced.
type WriteResult struct {
	// Bytes is the encoded file size, BOM included.
	Bytes int64
	// Rows is the number of data rows written (header excluded).
	Rows int
	// Digest is the hex SHA-256 of the encoded bytes. Two runs over the same
	// table produce the same digest, which is how run reports check
	// idempotence without diffing files.
	Digest string
}

// WriteCSV writes t to w as UTF-8 with a leading BOM, comma-delimited, header
// row first. Spreadsheet tools on the systems this data is reviewed on need
// the BOM to pick UTF-8 for the Chinese text.
func WriteCSV(w io.Writer, t *Table) (WriteResult, error) {
	if len(t.Columns) == 0 {
		return WriteResult{}, fmt.Errorf("csv: table has no columns")
	}

	h := sha256.New()
	cw := &countWriter{w: io.MultiWriter(w, h)}

	enc := transform.NewWriter(cw, unicode.UTF8BOM.NewEncoder())
	out := csv.NewWriter(enc)

	if err := out.Write(t.Columns); err != nil {
		return WriteResult{}, fmt.Errorf("csv: write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := out.Write(row); err != nil {
			return WriteResult{}, fmt.Errorf("csv: write row %d: %w", i+1, err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return WriteResult{}, fmt.Errorf("csv: flush: %w", err)
	}
	if err := enc.Close(); err != nil {
		return WriteResult{}, fmt.Errorf("csv: close encoder: %w", err)
	}

	return WriteResult{
		Bytes:  cw.n,
		Rows:   len(t.Rows),
		Digest: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// WriteCSVFile writes t to path atomically: a temp file in the destination
// directory is renamed into place on success and removed on any failure, so
// a crashed run never leaves a truncated export behind.
func WriteCSVFile(path string, t *Table) (WriteResult, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("csv: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".presale-*")
	if err != nil {
		return WriteResult{}, fmt.Errorf("csv: create temp: %w", err)
	}
	tmpName := tmp.Name()

	res, werr := WriteCSV(tmp, t)
	closeErr := tmp.Close()

	if werr != nil {
		_ = os.Remove(tmpName)
		return WriteResult{}, werr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return WriteResult{}, fmt.Errorf("csv: close temp: %w", closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return WriteResult{}, fmt.Errorf("csv: rename into place: %w", err)
	}
	return res, nil
}

// ReadCSV reads a comma-delimited table, tolerating (and stripping) a leading
// UTF-8 BOM. The first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	dec := transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
	cr := csv.NewReader(dec)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}

	t := New(header...)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read row %d: %w", len(t.Rows)+2, err)
		}
		if err := t.AppendRow(append([]string(nil), rec...)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReadCSVFile reads path via ReadCSV.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
