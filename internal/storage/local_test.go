package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "clinic-backup-sync/internal/errors"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(&LocalConfig{BasePath: filepath.Join(t.TempDir(), "offsite")})
	require.NoError(t, err)
	return store
}

func TestNewLocalStore(t *testing.T) {
	_, err := NewLocalStore(nil)
	assert.Error(t, err)

	_, err = NewLocalStore(&LocalConfig{})
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))

	store := newTestLocalStore(t)
	info, err := os.Stat(store.BasePath())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, strings.HasPrefix(store.Describe(), "file://"))
}

func TestLocalStore_PutAndList(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	files := map[string]string{
		"clinic/documents/a.pdf":        "first",
		"clinic/documents/nested/b.pdf": "second body",
		"clinic/images/c.png":           "png",
		"other/d.txt":                   "elsewhere",
	}
	for key, body := range files {
		err := store.Put(ctx, key, strings.NewReader(body), int64(len(body)), map[string]string{
			MetaSourceMtime: FormatMtime(mtime),
			MetaSHA256:      "ignored-by-local-store",
		})
		require.NoError(t, err, key)
	}

	objects, err := store.List(ctx, "clinic/documents/")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	assert.Equal(t, "clinic/documents/a.pdf", objects[0].Key)
	assert.Equal(t, int64(5), objects[0].Size)
	assert.True(t, objects[0].LastModified.Equal(mtime), "mtime preserved, got %v", objects[0].LastModified)
	assert.Equal(t, "clinic/documents/nested/b.pdf", objects[1].Key)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// prefix that is not a directory boundary
	partial, err := store.List(ctx, "clinic/doc")
	require.NoError(t, err)
	assert.Len(t, partial, 2)

	missing, err := store.List(ctx, "nothing/here/")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "b/x.tar", strings.NewReader("old"), 3, nil))
	require.NoError(t, store.Put(ctx, "b/x.tar", strings.NewReader("new content"), 11, nil))

	data, err := os.ReadFile(filepath.Join(store.BasePath(), "b", "x.tar"))
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))

	entries, err := os.ReadDir(filepath.Join(store.BasePath(), "b"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLocalStore_PutRejectsBadKeys(t *testing.T) {
	store := newTestLocalStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape.txt", "a/../../escape.txt", ".."} {
		err := store.Put(ctx, key, strings.NewReader("x"), 1, nil)
		assert.Error(t, err, "key %q", key)
	}
}

func TestLocalStore_PutShortBody(t *testing.T) {
	store := newTestLocalStore(t)

	err := store.Put(context.Background(), "short.bin", bytes.NewReader([]byte("abc")), 10, nil)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(store.BasePath(), "short.bin"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalStore_PutCanceled(t *testing.T) {
	store := newTestLocalStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, "x.bin", strings.NewReader("data"), 4, nil)
	assert.True(t, apperrors.IsCancellation(err))
}

func TestLocalStore_HealthCheck(t *testing.T) {
	store := newTestLocalStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))

	require.NoError(t, os.RemoveAll(store.BasePath()))
	assert.Error(t, store.HealthCheck(context.Background()))
}
