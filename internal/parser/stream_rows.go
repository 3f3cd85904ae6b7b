// Package parser streams records out of the open-data JSON payloads.
//
// The feeds carry no schema: each record's keys define the columns, and the
// column order of the final table follows the order keys first appear in the
// payload. Objects are therefore walked token by token instead of decoded
// into Go maps, which would lose the source key order.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"presale/internal/config"
)

// DefaultJoinSeparator flattens array-valued fields. The ideographic comma
// cannot collide with the half-width commas inside filing id-list items.
const DefaultJoinSeparator = "、"

// Row is one streamed record: field names in source order and their
// stringified values, aligned by index. Line is the 1-based record ordinal
// within the payload.
type Row struct {
	Line   int
	Keys   []string
	Values []string
}

// Get returns the value of the named field, or "" when absent.
func (r *Row) Get(key string) string {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i]
		}
	}
	return ""
}

// StreamRows parses JSON from r and streams records into out.
//
// Streaming behavior:
//   - A root array streams each object element one-by-one; null elements are
//     skipped.
//   - A root object containing an array field streams that array's objects
//     (envelope pattern) and ignores the remaining envelope fields.
//   - A root object with no array field emits one record.
//   - Additional bare objects after the root value (JSONL tail) emit too.
//
// Values are rendered as strings: numbers keep their source literal, arrays
// of scalars join with the array_join_separator option (default 「、」), null
// becomes "", and nested objects render as compact JSON.
//
// onParseErr, when non-nil, observes malformed-input errors with the line
// (record ordinal) being read; the error still returns.
func StreamRows(
	ctx context.Context,
	r io.Reader,
	opts config.Options,
	out chan<- *Row,
	onParseErr func(line int, err error),
) error {
	dec := json.NewDecoder(r)
	dec.UseNumber() // keeps numeric literals intact; dates arrive as bare numbers.

	sep := strings.TrimSpace(opts.String("array_join_separator", DefaultJoinSeparator))
	if sep == "" {
		sep = DefaultJoinSeparator
	}

	line := 0
	emit := func(keys, values []string) error {
		line++
		row := &Row{Line: line, Keys: keys, Values: values}
		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		if onParseErr != nil {
			onParseErr(0, err)
		}
		return fmt.Errorf("parser: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("parser: unsupported root token %T (want object or array)", tok)
	}
	switch d {
	case '[':
		if err := streamArrayOfObjects(ctx, dec, sep, emit, onParseErr, &line); err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("parser: read array end: %w", err)
		} else if end != json.Delim(']') {
			return fmt.Errorf("parser: expected array end ']', got %v", end)
		}
		return streamTrailingObjects(ctx, dec, sep, emit, onParseErr, &line)

	case '{':
		streamed, keys, values, err := streamEnvelopeOrSingle(ctx, dec, sep, emit, onParseErr, &line)
		if err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("parser: read object end: %w", err)
		} else if end != json.Delim('}') {
			return fmt.Errorf("parser: expected object end '}', got %v", end)
		}
		if !streamed {
			if err := emit(keys, values); err != nil {
				return err
			}
		}
		return streamTrailingObjects(ctx, dec, sep, emit, onParseErr, &line)

	default:
		return fmt.Errorf("parser: unsupported root delimiter %q", d)
	}
}

// streamArrayOfObjects streams the elements of the current array (after '['
// has been consumed). Elements must be objects or null; null is skipped.
func streamArrayOfObjects(
	ctx context.Context,
	dec *json.Decoder,
	sep string,
	emit func(keys, values []string) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("parser: read array element: %w", err)
		}
		if tok == nil {
			continue
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			err := fmt.Errorf("parser: array element not an object (got %v)", tok)
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		keys, values, err := walkObject(dec, sep)
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		if err := emit(keys, values); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object (after '{' has been consumed).
// The first array-valued field streams as the record array and the remaining
// envelope fields are skipped; with no array field the object itself is one
// record, returned for the caller to emit after the closing brace.
func streamEnvelopeOrSingle(
	ctx context.Context,
	dec *json.Decoder,
	sep string,
	emit func(keys, values []string) error,
	onParseErr func(line int, err error),
	line *int,
) (streamed bool, keys, values []string, _ error) {
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, nil, fmt.Errorf("parser: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, nil, fmt.Errorf("parser: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, nil, fmt.Errorf("parser: read value token: %w", err)
		}

		if d, ok := valTok.(json.Delim); ok && d == '[' {
			if err := streamArrayOfObjects(ctx, dec, sep, emit, onParseErr, line); err != nil {
				return false, nil, nil, err
			}
			if end, err := dec.Token(); err != nil {
				return false, nil, nil, fmt.Errorf("parser: read envelope array end: %w", err)
			} else if end != json.Delim(']') {
				return false, nil, nil, fmt.Errorf("parser: expected ']' after envelope array, got %v", end)
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, nil, fmt.Errorf("parser: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, nil, nil, err
				}
			}
			return true, nil, nil, nil
		}

		val, err := materializeValueFromFirstToken(dec, valTok)
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, nil, err
		}
		keys = append(keys, key)
		values = append(values, renderValue(val, sep))
	}
	return false, keys, values, nil
}

func streamTrailingObjects(
	ctx context.Context,
	dec *json.Decoder,
	sep string,
	emit func(keys, values []string) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("parser: decode trailing object: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			err := fmt.Errorf("parser: trailing value not an object (got %v)", tok)
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		keys, values, err := walkObject(dec, sep)
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		if err := emit(keys, values); err != nil {
			return err
		}
	}
}

// walkObject consumes one object's fields (after '{') through the closing
// brace, preserving key order. Duplicate keys keep the last value, like
// encoding/json, without disturbing the first occurrence's position.
func walkObject(dec *json.Decoder, sep string) (keys, values []string, _ error) {
	pos := map[string]int{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("parser: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("parser: object key not a string (got %T)", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("parser: read value token: %w", err)
		}
		val, err := materializeValueFromFirstToken(dec, valTok)
		if err != nil {
			return nil, nil, err
		}
		rendered := renderValue(val, sep)
		if i, seen := pos[key]; seen {
			values[i] = rendered
			continue
		}
		pos[key] = len(keys)
		keys = append(keys, key)
		values = append(values, rendered)
	}
	end, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("parser: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return nil, nil, fmt.Errorf("parser: expected '}', got %v", end)
	}
	return keys, values, nil
}

// skipNextValue skips the next JSON value from the decoder without
// materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parser: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok any) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("parser: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parser: skip object end: %w", err)
		}
		if end != json.Delim('}') {
			return fmt.Errorf("parser: expected '}', got %v", end)
		}
		return nil
	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parser: skip array end: %w", err)
		}
		if end != json.Delim(']') {
			return fmt.Errorf("parser: expected ']', got %v", end)
		}
		return nil
	default:
		return fmt.Errorf("parser: unexpected delimiter %q", d)
	}
}

// materializeValueFromFirstToken builds a Go value for the current JSON
// value, given its first token has already been read. Nested objects inside
// a value are small (the feeds nest at most one level); their key order does
// not affect the table columns.
func materializeValueFromFirstToken(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parser: read nested object key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("parser: nested object key not string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parser: read nested value token: %w", err)
			}
			v, err := materializeValueFromFirstToken(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		end, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parser: read nested object end: %w", err)
		}
		if end != json.Delim('}') {
			return nil, fmt.Errorf("parser: expected '}', got %v", end)
		}
		return m, nil
	case '[':
		var arr []any
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parser: read nested array token: %w", err)
			}
			v, err := materializeValueFromFirstToken(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		end, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parser: read nested array end: %w", err)
		}
		if end != json.Delim(']') {
			return nil, fmt.Errorf("parser: expected ']', got %v", end)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("parser: unexpected delimiter %q", d)
	}
}

// renderValue renders a materialized JSON value as the table string.
func renderValue(v any, sep string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) == 0 {
			return ""
		}
		parts := make([]string, 0, len(t))
		for _, it := range t {
			switch it.(type) {
			case nil:
				continue
			case string, json.Number, bool:
				parts = append(parts, renderValue(it, sep))
			default:
				return renderJSON(v)
			}
		}
		return strings.Join(parts, sep)
	default:
		return renderJSON(v)
	}
}

// renderJSON is the fallback for nested structures: compact JSON, with map
// keys sorted by encoding/json so the rendering is deterministic.
func renderJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
