// Package local_test tests the local filesystem artifact store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docs-archiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingBaseDir", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "artifacts", "run-1")
		_, err := local.New(local.Config{BaseDir: base})
		require.NoError(t, err)
		info, err := os.Stat(base)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp(t.TempDir(), "testfile")
		require.NoError(t, err)
		require.NoError(t, tempFile.Close())

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	uri, err := store.Save(context.Background(), "docs/000-intro.md", "text/markdown", []byte("# Intro"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(base, "docs", "000-intro.md"), uri)

	data, err := os.ReadFile(filepath.Join(base, "docs", "000-intro.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Intro", string(data))
}

func TestSaveRejectsTraversal(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "../outside.md", "", []byte("x"))
	assert.Error(t, err)

	_, err = store.Save(context.Background(), "docs/../../outside.md", "", []byte("x"))
	assert.Error(t, err)
}

func TestSaveRejectsEmptyName(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "  ", "", []byte("x"))
	assert.Error(t, err)
}

func TestSaveOverwrites(t *testing.T) {
	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	_, err = store.Save(context.Background(), "page.md", "", []byte("old"))
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "page.md", "", []byte("new"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, "page.md"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
