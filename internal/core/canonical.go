// Package core defines the domain models shared by every layer of the
// engine: canonical JSON encoding, content hashing, artifacts, the step
// contract, and parameter injection.
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Canonical produces the unique byte image of a JSON-compatible value.
//
// The rules are:
//   - null, booleans, numbers: shortest conventional textual form.
//   - strings: JSON-escaped with quotes.
//   - arrays: "[" + comma-joined canonical elements + "]", order preserved.
//   - objects: keys sorted lexicographically by code point, "{" +
//     comma-joined "k":canonical(v) + "}".
//
// No whitespace is ever emitted. Canonical is idempotent: canonicalising
// the decoded result of a canonical encoding yields the same bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalFromJSON re-canonicalises raw JSON bytes, preserving number
// precision (integers are never re-rendered through float64).
func CanonicalFromJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("core: decode json for canonicalisation: %w", err)
	}
	return Canonical(v)
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		buf.WriteString(canonicalizeNumberString(t.String()))
		return nil
	case float64:
		buf.WriteString(canonicalizeNumberString(strconv.FormatFloat(t, 'g', -1, 64)))
		return nil
	case int:
		buf.WriteString(strconv.Itoa(t))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("core: marshal string: %w", err)
		}
		buf.Write(enc)
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("core: marshal key: %w", err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		// Anything else (structs, custom types) is round-tripped through
		// encoding/json first so callers can pass Go values directly.
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("core: marshal value of type %T: %w", t, err)
		}
		return writeCanonicalFromJSONBytes(buf, enc)
	}
}

func writeCanonicalFromJSONBytes(buf *bytes.Buffer, enc []byte) error {
	dec := json.NewDecoder(bytes.NewReader(enc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("core: re-decode marshalled value: %w", err)
	}
	return writeCanonical(buf, v)
}

// canonicalizeNumberString normalises a decimal number's textual form:
// integer literals that fit in an int64 are rendered exactly, integral
// values written without an exponent drop a trailing ".0", and any value
// written with an exponent is kept as written.
func canonicalizeNumberString(s string) string {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f == float64(int64(f)) && !hasExponent(s) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return s
}

func hasExponent(s string) bool {
	for _, r := range s {
		if r == 'e' || r == 'E' {
			return true
		}
	}
	return false
}
