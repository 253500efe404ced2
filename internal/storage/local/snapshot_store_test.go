// Package local_test tests the local filesystem snapshot store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taped/internal/storage"
	"github.com/JakeFAU/taped/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metadata.json")
		store, err := local.New(local.Config{Path: path})
		require.NoError(t, err)
		assert.Equal(t, path, store.Path())
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesParentDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "a", "b", "metadata.json")
		_, err := local.New(local.Config{Path: path})
		require.NoError(t, err)
		info, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("PathIsDirectory", func(t *testing.T) {
		_, err := local.New(local.Config{Path: t.TempDir()})
		assert.Error(t, err)
	})

	t.Run("ParentIsFile", func(t *testing.T) {
		parent := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))
		_, err := local.New(local.Config{Path: filepath.Join(parent, "metadata.json")})
		assert.Error(t, err)
	})
}

func TestLoadMissingSnapshot(t *testing.T) {
	store, err := local.New(local.Config{Path: filepath.Join(t.TempDir(), "metadata.json")})
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")
	store, err := local.New(local.Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), []byte(`{"a":1}`)))
	require.NoError(t, store.Save(context.Background(), []byte(`{"b":2}`)))

	data, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files must not be left behind")
	}
}

func TestConcurrentSavesNeverTearReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	store, err := local.New(local.Config{Path: path})
	require.NoError(t, err)

	payloads := [][]byte{[]byte(`{"first":true}`), []byte(`{"second":true,"padding":"xxxxxxxxxxxxxxxx"}`)}
	require.NoError(t, store.Save(context.Background(), payloads[0]))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Save(context.Background(), payloads[i%2]))
		}(i)
		go func() {
			defer wg.Done()
			data, err := store.Load(context.Background())
			if assert.NoError(t, err) {
				assert.Contains(t, []string{string(payloads[0]), string(payloads[1])}, string(data))
			}
		}()
	}
	wg.Wait()
}

func TestLoadCanceledContext(t *testing.T) {
	store, err := local.New(local.Config{Path: filepath.Join(t.TempDir(), "metadata.json")})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), []byte(`{}`)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
