package multistore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateStoreID(t *testing.T) {
	valid := []string{
		"default",
		"org/team",
		"a/b/c/d",
		"my-dataset-1",
		"x",
		"42",
		strings.Repeat("a", MaxStoreIDLength),
	}
	for _, id := range valid {
		if err := ValidateStoreID(id); err != nil {
			t.Errorf("ValidateStoreID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"Team",
		"my_dataset",
		"-lead",
		"trail-",
		"a/b/c/d/e",
		strings.Repeat("a", MaxStoreIDLength+1),
		"a//b",
		"/lead",
		"trail/",
		"sp ace",
		"dot.ted",
		"../escape",
	}
	for _, id := range invalid {
		if err := ValidateStoreID(id); !errors.Is(err, ErrInvalidStoreID) {
			t.Errorf("ValidateStoreID(%q) = %v, want ErrInvalidStoreID", id, err)
		}
	}
}

func TestIsDefaultStore(t *testing.T) {
	if !IsDefaultStore(DefaultStoreID) || IsDefaultStore("Default") || IsDefaultStore("other") {
		t.Error("IsDefaultStore mismatch")
	}
}

func TestParentIDs(t *testing.T) {
	if got := parentIDs("solo"); len(got) != 0 {
		t.Errorf("parentIDs(solo) = %v", got)
	}
	got := strings.Join(parentIDs("a/b/c"), ",")
	if got != "a,a/b" {
		t.Errorf("parentIDs(a/b/c) = %s", got)
	}
}

func TestStoreIDFromParam(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"", DefaultStoreID, false},
		{"team-a", "team-a", false},
		{"org%2Fteam", "org/team", false},
		{"org%2fteam%2Fsub", "org/team/sub", false},
		{"org%2F", "", true},
		{"%2E%2E%2Fescape", "", true},
		{"bad%zz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := StoreIDFromParam(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidStoreID) {
					t.Errorf("StoreIDFromParam(%q) err = %v, want ErrInvalidStoreID", tt.raw, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("StoreIDFromParam(%q) = %q, %v; want %q", tt.raw, got, err, tt.want)
			}
		})
	}
}

func TestStoreIDFromDir(t *testing.T) {
	if id, err := storeIDFromDir(filepath.Join("org", "team")); err != nil || id != "org/team" {
		t.Errorf("storeIDFromDir(org/team) = %q, %v", id, err)
	}
	if _, err := storeIDFromDir("Stray_Dir"); !errors.Is(err, ErrInvalidStoreID) {
		t.Errorf("stray directory err = %v", err)
	}
}
