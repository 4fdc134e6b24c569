package store

import "errors"

var (
	ErrNotFound       = errors.New("record not found")
	ErrNoTable        = errors.New("table does not exist")
	ErrTableExists    = errors.New("table already exists")
	ErrNoColumn       = errors.New("column does not exist")
	ErrColumnExists   = errors.New("column already exists")
	ErrInvalidName    = errors.New("invalid identifier")
	ErrMissingID      = errors.New("record has no usable id")
	ErrReadOnly       = errors.New("store is read-only")
	ErrUnknownBackend = errors.New("unknown store backend")
)
