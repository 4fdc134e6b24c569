package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/simplesync/internal/migrate"
	"github.com/hyperengineering/simplesync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const updateDoc = `
app_version: "4"
steps:
  0001_items:
    def:
      - op: syncTable
        table: items
  0002_tags:
    def:
      - op: syncTable
        table: tags
`

func TestManifestSchema_ApplyUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")

	// Given: No manifest on disk yet
	s, err := LoadManifestSchema(path)
	require.NoError(t, err)
	assert.Empty(t, s.AppVersion())
	assert.Empty(t, s.Registry())

	// When: The server pushes a schema
	require.NoError(t, s.ApplyUpdate(context.Background(), []byte(updateDoc)))

	// Then: It is live and survives a reload
	assert.Equal(t, "4", s.AppVersion())
	assert.Len(t, s.Registry(), 2)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, updateDoc, string(data))

	reloaded, err := LoadManifestSchema(path)
	require.NoError(t, err)
	assert.Equal(t, "4", reloaded.AppVersion())
}

func TestManifestSchema_RejectsBadUpdate(t *testing.T) {
	s := NewManifestSchema(nil, "")
	require.Error(t, s.ApplyUpdate(context.Background(), []byte("steps: [")))
	assert.Empty(t, s.AppVersion())
}

func TestStaticSchema_CodeStepsWin(t *testing.T) {
	var upCalled bool
	code := migrate.Registry{
		"1_items": {
			Def: []migrate.Def{migrate.SyncTable("items")},
			Up: func(ctx context.Context, s store.Store) error {
				upCalled = true
				return nil
			},
		},
	}
	s := NewStaticSchema("3", code)
	assert.Equal(t, "3", s.AppVersion())

	require.NoError(t, s.ApplyUpdate(context.Background(), []byte(updateDoc)))

	reg := s.Registry()
	assert.Equal(t, "4", s.AppVersion())
	require.Len(t, reg, 2)
	assert.Contains(t, reg, "1_items", "code step kept under its own key")
	assert.Contains(t, reg, "0002_tags", "pushed step added")
	assert.NotContains(t, reg, "0001_items")

	_, err := migrate.Migrate(context.Background(), store.NewMemoryStore(), reg, migrate.Latest)
	require.NoError(t, err)
	assert.True(t, upCalled)
}
