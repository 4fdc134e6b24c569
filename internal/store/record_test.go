package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestToInt64(t *testing.T) {
	tests := []struct {
		in     any
		want   int64
		wantOK bool
	}{
		{int64(5), 5, true},
		{7, 7, true},
		{float64(-3), -3, true},
		{1.5, 0, false},
		{json.Number("501"), 501, true},
		{json.Number("2.0"), 2, true},
		{"42", 42, true},
		{" -8 ", -8, true},
		{"abc", 0, false},
		{nil, 0, false},
		{true, 1, true},
	}
	for _, tt := range tests {
		got, ok := ToInt64(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ToInt64(%#v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   any
		want any
	}{
		{3, int64(3)},
		{true, int64(1)},
		{float32(1.5), float64(1.5)},
		{json.Number("12"), int64(12)},
		{json.Number("1.25"), 1.25},
		{ts, "2024-03-01T12:00:00Z"},
		{"s", "s"},
		{nil, nil},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%#v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestRecord_ID(t *testing.T) {
	if id, err := (Record{"id": "17"}).ID(); err != nil || id != 17 {
		t.Errorf("ID() = %d, %v", id, err)
	}
	if _, err := (Record{"id": "x"}).ID(); !errors.Is(err, ErrMissingID) {
		t.Errorf("non-numeric id err = %v", err)
	}
	if _, err := (Record{}).ID(); !errors.Is(err, ErrMissingID) {
		t.Errorf("missing id err = %v", err)
	}
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	orig := Record{"id": int64(1), "blob": []byte("abc")}
	cp := orig.Clone()
	cp["id"] = int64(2)
	cp["blob"].([]byte)[0] = 'z'
	if orig["id"] != int64(1) || string(orig["blob"].([]byte)) != "abc" {
		t.Errorf("original mutated: %v", orig)
	}
}
