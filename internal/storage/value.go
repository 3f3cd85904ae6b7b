package storage

import "fmt"

// CellString converts a scanned database value back to the table's string
// form. Drivers return TEXT as string or []byte depending on backend;
// both must produce the identical cell. No trimming happens here —
// snapshots round-trip byte for byte.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprint(v)
	}
}
