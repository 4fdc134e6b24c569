package multistore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Files inside a dataset directory.
const (
	MetaFile   = "meta.yaml"
	DataFile   = "data.db"
	SchemaFile = "schema.yaml"
	// SnapshotFile sits under a directory no store id segment can name.
	SnapshotFile = "_snapshot/current.db"
)

// StoreMeta contains dataset-level metadata persisted in meta.yaml.
type StoreMeta struct {
	// Created is when the dataset was first created.
	Created time.Time `yaml:"created"`
	// LastAccessed is when the dataset last served a request.
	LastAccessed time.Time `yaml:"last_accessed"`
	// Description is an optional human-readable description.
	Description string `yaml:"description,omitempty"`
}

// StoreInfo contains summary information about a dataset.
type StoreInfo struct {
	ID           string    `json:"id"`
	Created      time.Time `json:"created"`
	LastAccessed time.Time `json:"last_accessed"`
	Description  string    `json:"description,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	HasSchema    bool      `json:"has_schema"`
}

// NewStoreMeta creates metadata for a new dataset.
func NewStoreMeta(description string) *StoreMeta {
	now := time.Now().UTC()
	return &StoreMeta{
		Created:      now,
		LastAccessed: now,
		Description:  description,
	}
}

// LoadStoreMeta reads metadata from a file path.
func LoadStoreMeta(path string) (*StoreMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta StoreMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse store metadata: %w", err)
	}
	return &meta, nil
}

// SaveStoreMeta writes metadata to a file path.
func SaveStoreMeta(path string, meta *StoreMeta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal store metadata: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
