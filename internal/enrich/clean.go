package enrich

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// NormalizeROCDate renders a date value from any of the source encodings as
// an ISO "YYYY-MM-DD" string.
//
// Three encodings appear in the feeds:
//
//	1120503      compact ROC, 7 digits or fewer (year + 1911)
//	20230503     AD, exactly 8 digits
//	112/5/3      ROC with slashes
//
// Digit-only values shorter than 7 runes are zero-padded on the left before
// splitting, mirroring how integer-typed sources drop leading zeros. Any
// parse failure or impossible calendar date yields "".
func NormalizeROCDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "/") {
		parts := strings.Split(s, "/")
		if len(parts) != 3 {
			return ""
		}
		y, errY := strconv.Atoi(strings.TrimSpace(parts[0]))
		m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
		d, errD := strconv.Atoi(strings.TrimSpace(parts[2]))
		if errY != nil || errM != nil || errD != nil {
			return ""
		}
		return isoDate(y+1911, m, d)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return ""
	}
	digits := strconv.Itoa(n)
	switch {
	case len(digits) <= 7:
		digits = strings.Repeat("0", 7-len(digits)) + digits
		y, _ := strconv.Atoi(digits[:3])
		m, _ := strconv.Atoi(digits[3:5])
		d, _ := strconv.Atoi(digits[5:7])
		return isoDate(y+1911, m, d)
	case len(digits) == 8:
		y, _ := strconv.Atoi(digits[:4])
		m, _ := strconv.Atoi(digits[4:6])
		d, _ := strconv.Atoi(digits[6:8])
		return isoDate(y, m, d)
	}
	return ""
}

// isoDate formats a calendar date, rejecting impossible ones. time.Date
// normalizes overflow (month 13 becomes January), so the components must
// round-trip unchanged.
func isoDate(y, m, d int) string {
	if y < 1 || y > 9999 {
		return ""
	}
	dt := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	ry, rm, rd := dt.Date()
	if ry != y || int(rm) != m || rd != d {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// CoerceNumber renders a source numeric field as a plain decimal string.
// Thousands separators are removed before parsing. Unparseable values,
// including the feed's textual missing markers, become "0"; integral values
// render without a trailing fraction.
func CoerceNumber(s string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
