// Package sample produces size-capped copies of exported files: the header
// line plus as many whole data lines as fit a byte budget. The copies feed
// tests and quick inspection without shipping the full export.
package sample

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Stats reports what a Copy wrote.
type Stats struct {
	// Lines written, header included.
	Lines int
	// Bytes is the destination size.
	Bytes int64
}

// Copy writes dst as src's first line (the header) verbatim, followed by
// each subsequent complete line as long as the cumulative byte count stays
// within maxBytes. The first line that would cross the budget stops the
// copy, even if a later, shorter line would still fit; partial lines are
// never written.
//
// The write is atomic: a temp file in dst's directory is synced and renamed
// over dst, and removed on error. A header alone larger than the budget is
// an error, as is a source with no lines at all.
func Copy(src, dst string, maxBytes int64) (Stats, error) {
	var stats Stats

	in, err := os.Open(src)
	if err != nil {
		return stats, fmt.Errorf("sample: %w", err)
	}
	defer in.Close()

	r := bufio.NewReader(in)
	header, rerr := r.ReadString('\n')
	if header == "" && rerr == io.EOF {
		return stats, fmt.Errorf("sample: %s has no header line", src)
	}
	if rerr != nil && rerr != io.EOF {
		return stats, fmt.Errorf("sample: read header: %w", rerr)
	}
	if int64(len(header)) > maxBytes {
		return stats, fmt.Errorf("sample: header is %d bytes, budget is %d", len(header), maxBytes)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return stats, fmt.Errorf("sample: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var written int64
	writeLine := func(line string) error {
		if _, err := tmp.WriteString(line); err != nil {
			return fmt.Errorf("sample: write: %w", err)
		}
		written += int64(len(line))
		stats.Lines++
		return nil
	}
	if err := writeLine(header); err != nil {
		return stats, err
	}

	// The final line may arrive without a newline; it is still a complete
	// line once the reader hits EOF.
	for rerr != io.EOF {
		var line string
		line, rerr = r.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return stats, fmt.Errorf("sample: read: %w", rerr)
		}
		if line == "" {
			continue
		}
		if written+int64(len(line)) > maxBytes {
			break
		}
		if err := writeLine(line); err != nil {
			return stats, err
		}
	}

	if err := tmp.Sync(); err != nil {
		return stats, fmt.Errorf("sample: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return stats, fmt.Errorf("sample: close: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return stats, fmt.Errorf("sample: %w", err)
	}
	committed = true
	stats.Bytes = written
	return stats, nil
}
