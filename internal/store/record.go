package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is a single table row keyed by column name. Values are normalized
// to nil, int64, float64, string or []byte.
type Record map[string]any

// ID returns the record's integer id.
func (r Record) ID() (int64, error) {
	v, ok := r[ColID]
	if !ok || v == nil {
		return 0, ErrMissingID
	}
	id, ok := ToInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrMissingID, v)
	}
	return id, nil
}

// Int returns the named column as an integer, or 0 when absent.
func (r Record) Int(col string) int64 {
	n, _ := ToInt64(r[col])
	return n
}

// String returns the named column as a string, or "" when absent.
func (r Record) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy with byte slices duplicated.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		out[k] = v
	}
	return out
}

// Normalized returns a copy with every value passed through Normalize.
func (r Record) Normalized() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Normalize(v)
	}
	return out
}

// ToInt64 converts numeric-looking values to int64. Floats must be integral.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return ToInt64(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return ToInt64(f)
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return ToInt64(f)
		}
		return 0, false
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Normalize maps Go values onto the small set of storable types.
func Normalize(v any) any {
	switch n := v.(type) {
	case nil, int64, float64, string:
		return n
	case []byte:
		return append([]byte(nil), n...)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	case bool:
		if n {
			return int64(1)
		}
		return int64(0)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case time.Time:
		return FormatTime(n)
	default:
		return fmt.Sprint(n)
	}
}

// FormatTime renders timestamps the way every backend stores them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored timestamp. Empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
