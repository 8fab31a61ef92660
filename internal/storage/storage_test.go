package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := Open(context.Background(), Options{Driver: DriverFile, DataDir: dir})
	require.NoError(t, err)
	sqliteStore, err := Open(context.Background(), Options{Driver: DriverSQLite, DataDir: dir})
	require.NoError(t, err)

	stores := map[string]Store{"file": fileStore, "sqlite": sqliteStore}
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		mongoStore, err := Open(context.Background(), Options{Driver: DriverMongo, MongoURI: uri, MongoDatabase: "lorechat_test"})
		require.NoError(t, err)
		stores["mongo"] = mongoStore
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			coll := "test_" + name

			_, err := s.Get(ctx, coll, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, PutJSON(ctx, s, coll, "b", record{ID: "b", Name: "second"}))
			require.NoError(t, PutJSON(ctx, s, coll, "a/1", record{ID: "a/1", Name: "first"}))
			require.NoError(t, PutJSON(ctx, s, coll, "b", record{ID: "b", Name: "updated"}))

			var got record
			require.NoError(t, GetJSON(ctx, s, coll, "b", &got))
			assert.Equal(t, "updated", got.Name)

			all, err := ListJSON[record](ctx, s, coll)
			require.NoError(t, err)
			assert.Equal(t, []record{{ID: "a/1", Name: "first"}, {ID: "b", Name: "updated"}}, all)

			require.NoError(t, s.Delete(ctx, coll, "b"))
			require.NoError(t, s.Delete(ctx, coll, "b"))
			_, err = s.Get(ctx, coll, "b")
			assert.ErrorIs(t, err, ErrNotFound)

			empty, err := ListJSON[record](ctx, s, "never_written_"+name)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestFileStorageLayout(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.Put(context.Background(), CollectionCharacters, "char/1", []byte(`{}`)))
	_, err = os.Stat(filepath.Join(dir, CollectionCharacters, "char%2F1.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, CollectionCharacters, "char%2F1.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorageCacheLimit(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	defer fs.Close()
	fs.maxCacheSize = 3

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, fs.Put(ctx, "c", id, []byte(`"`+id+`"`)))
	}
	fs.cacheMutex.RLock()
	assert.Len(t, fs.cache, 3)
	fs.cacheMutex.RUnlock()

	data, err := fs.Get(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, `"a"`, string(data))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "redis"})
	assert.Error(t, err)
}
