package multistore

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// A dataset id names a directory under the stores root. Nested ids such as
// "org/team" become nested directories and travel in URLs as one escaped
// path segment ("org%2Fteam").
const (
	// MaxStoreIDLength bounds the id, and so the directory path below the root.
	MaxStoreIDLength = 128
	// MaxStoreIDSegments bounds directory nesting.
	MaxStoreIDSegments = 4
	// DefaultStoreID names the dataset created on first request.
	DefaultStoreID = "default"
)

var (
	// ErrInvalidStoreID indicates a dataset id failed validation.
	ErrInvalidStoreID = errors.New("invalid store ID")
	// ErrStoreNotFound indicates the requested dataset does not exist.
	ErrStoreNotFound = errors.New("store not found")
	// ErrStoreAlreadyExists indicates a dataset already exists during creation.
	ErrStoreAlreadyExists = errors.New("store already exists")
	// ErrDefaultStore indicates an operation the default dataset refuses.
	ErrDefaultStore = errors.New("cannot delete the default store")
)

// Segments are lowercase alphanumerics with inner hyphens. Dots and
// underscores are left to the files a dataset directory holds (data.db,
// _snapshot), so no segment can shadow one of them.
var storeIDSegmentPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateStoreID reports whether id can name a dataset directory.
func ValidateStoreID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty store ID", ErrInvalidStoreID)
	case len(id) > MaxStoreIDLength:
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidStoreID, MaxStoreIDLength)
	}

	segments := strings.Split(id, "/")
	if len(segments) > MaxStoreIDSegments {
		return fmt.Errorf("%w: nested deeper than %d directories", ErrInvalidStoreID, MaxStoreIDSegments)
	}
	for i, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: empty segment at position %d", ErrInvalidStoreID, i)
		}
		if !storeIDSegmentPattern.MatchString(seg) {
			return fmt.Errorf("%w: invalid segment %q (must be lowercase alphanumeric with hyphens)",
				ErrInvalidStoreID, seg)
		}
	}
	return nil
}

// StoreIDFromParam decodes a {store_id} route parameter. The router leaves
// an escaped slash in place, so "org%2Fteam" resolves to "org/team". An
// empty parameter addresses the default dataset.
func StoreIDFromParam(raw string) (string, error) {
	if raw == "" {
		return DefaultStoreID, nil
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStoreID, err)
	}
	if err := ValidateStoreID(id); err != nil {
		return "", err
	}
	return id, nil
}

// storeIDFromDir maps a dataset directory, relative to the stores root,
// back to its id. Directories no id could have produced are rejected.
func storeIDFromDir(rel string) (string, error) {
	id := filepath.ToSlash(rel)
	if err := ValidateStoreID(id); err != nil {
		return "", err
	}
	return id, nil
}

// parentIDs returns every proper prefix of a nested id, shortest first.
// "a/b/c" yields "a" and "a/b".
func parentIDs(id string) []string {
	segments := strings.Split(id, "/")
	parents := make([]string, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		parents = append(parents, strings.Join(segments[:i], "/"))
	}
	return parents
}

// IsDefaultStore returns true if id is the default dataset.
func IsDefaultStore(id string) bool {
	return id == DefaultStoreID
}
