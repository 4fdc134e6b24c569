// Package validation checks inbound sync requests before they reach a hub.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/simplesync/internal/store"
	ssync "github.com/hyperengineering/simplesync/internal/sync"
)

// Request limits.
const (
	MaxVersionLength      = 128
	MaxConversationLength = 128
	MaxDeltaEntries       = 10000
	MaxValueLength        = 1 << 20
	// MaxErrors caps how many field errors one request reports.
	MaxErrors = 50
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Full reports whether the collector reached MaxErrors.
func (c *Collector) Full() bool {
	return len(c.errors) >= MaxErrors
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateULID returns an error if the value is not a valid ULID format.
// ULIDs are 26 characters using Crockford Base32 (excludes I, L, O, U).
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{
			Field:   field,
			Message: "must be a valid ULID (26 characters)",
		}
	}

	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range value {
		upper := strings.ToUpper(string(r))
		if !strings.Contains(crockfordBase32, upper) {
			return &ValidationError{
				Field:   field,
				Message: "must be a valid ULID (invalid character)",
			}
		}
	}
	return nil
}

// ValidateIdentifier returns an error unless value is a usable table or
// column name.
func ValidateIdentifier(field, value string) *ValidationError {
	if err := store.ValidateName(value); err != nil {
		return &ValidationError{
			Field:   field,
			Message: "must start with a letter and contain only letters, digits and underscores",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d", min, max),
		}
	}
	return nil
}

var allowedOps = []string{string(ssync.OpSave), string(ssync.OpDelete)}

// ValidateSyncRequest checks the envelope and every delta entry of a
// decoded sync request. Structural problems (protocol, parse errors) are
// already rejected by ssync.DecodeRequest; this covers field contents.
// The returned slice is empty when the request is acceptable.
func ValidateSyncRequest(req *ssync.Request) []ValidationError {
	var c Collector

	c.Add(ValidateULID(ssync.FieldDBIdent, req.DBIdent))
	c.Add(ValidateMaxLength(ssync.FieldAppVersion, req.AppVersion, MaxVersionLength))
	c.Add(ValidateUTF8(ssync.FieldAppVersion, req.AppVersion))
	c.Add(ValidateMaxLength(ssync.FieldConversationID, req.ConversationID, MaxConversationLength))
	if req.DBVersion < 0 {
		c.Add(&ValidationError{Field: ssync.FieldDBVersion, Message: "must not be negative"})
	}
	if n := req.Delta.Len(); n > MaxDeltaEntries {
		c.Add(ValidateRange(ssync.FieldDBDelta, n, 0, MaxDeltaEntries))
		return c.Errors()
	}

	for _, table := range req.Delta.Tables() {
		tableField := ssync.FieldDBDelta + "." + table
		if err := ValidateIdentifier(tableField, table); err != nil {
			c.Add(err)
			continue
		}
		if strings.HasSuffix(table, store.LocalOnlySuffix) {
			c.Add(&ValidationError{Field: tableField, Message: "is local-only and cannot be synced"})
			continue
		}
		for _, id := range req.Delta.SortedIDs(table) {
			if c.Full() {
				return c.Errors()
			}
			validateEntry(&c, fmt.Sprintf("%s[%d]", tableField, id), req.Delta[table][id])
		}
	}
	return c.Errors()
}

func validateEntry(c *Collector, field string, e ssync.Entry) {
	if err := ValidateEnum(field+".op", string(e.Op), allowedOps); err != nil {
		c.Add(err)
		return
	}
	if e.Op != ssync.OpSave {
		return
	}
	if e.Record == nil {
		c.Add(&ValidationError{Field: field + ".record", Message: "is required for save"})
		return
	}
	cols := make([]string, 0, len(e.Record))
	for col := range e.Record {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		colField := field + "." + col
		if err := ValidateIdentifier(colField, col); err != nil {
			c.Add(err)
			continue
		}
		s, ok := e.Record[col].(string)
		if !ok {
			continue
		}
		c.Add(ValidateUTF8(colField, s))
		c.Add(ValidateNoNullBytes(colField, s))
		c.Add(ValidateMaxLength(colField, s, MaxValueLength))
	}
}
