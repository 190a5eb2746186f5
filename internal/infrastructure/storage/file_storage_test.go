// internal/infrastructure/storage/file_storage_test.go
package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_Save(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())
	ctx := context.Background()

	t.Run("saves file successfully", func(t *testing.T) {
		content := []byte("xlsx content here")

		err := fs.Save(ctx, "exports/instance_1_history.xlsx", content)

		require.NoError(t, err)
		fullPath := filepath.Join(tempDir, "exports", "instance_1_history.xlsx")
		assert.FileExists(t, fullPath)

		savedContent, err := os.ReadFile(fullPath)
		require.NoError(t, err)
		assert.Equal(t, content, savedContent)
	})

	t.Run("creates parent directories", func(t *testing.T) {
		err := fs.Save(ctx, "deep/nested/dir/file.xlsx", []byte("content"))

		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(tempDir, "deep", "nested", "dir", "file.xlsx"))
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "overwrite/file.txt", []byte("original")))
		require.NoError(t, fs.Save(ctx, "overwrite/file.txt", []byte("updated")))

		content, err := fs.Read(ctx, "overwrite/file.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("updated"), content)
	})

	t.Run("rejects path traversal attempt", func(t *testing.T) {
		err := fs.Save(ctx, filepath.Join("..", "..", "etc", "passwd"), []byte("nope"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes base directory")
	})
}

func TestLocalFileStorage_ReadAndExists(t *testing.T) {
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, fs.Save(ctx, "exports/report.xlsx", []byte("data")))

	t.Run("reads a saved file", func(t *testing.T) {
		content, err := fs.Read(ctx, "exports/report.xlsx")
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), content)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := fs.Read(ctx, "exports/missing.xlsx")
		assert.Error(t, err)
	})

	t.Run("exists reflects the filesystem", func(t *testing.T) {
		assert.True(t, fs.Exists(ctx, "exports/report.xlsx"))
		assert.False(t, fs.Exists(ctx, "exports/missing.xlsx"))
	})
}
