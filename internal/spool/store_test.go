package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStoreKeepsAppendOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create("slot-a"))

			require.NoError(t, store.Append("slot-a", Chunk{Data: []byte("F1"), MIMEType: "audio/webm;codecs=opus"}))
			require.NoError(t, store.Append("slot-a", Chunk{Data: []byte("F2"), MIMEType: "audio/webm;codecs=opus"}))
			require.NoError(t, store.Append("slot-a", Chunk{Data: []byte("F3"), MIMEType: "audio/webm;codecs=opus"}))

			chunks, err := store.Chunks("slot-a")
			require.NoError(t, err)
			require.Len(t, chunks, 3)
			assert.Equal(t, "F1", string(chunks[0].Data))
			assert.Equal(t, "F2", string(chunks[1].Data))
			assert.Equal(t, "F3", string(chunks[2].Data))
			assert.Equal(t, "audio/webm;codecs=opus", chunks[0].MIMEType)

			size, err := store.Size("slot-a")
			require.NoError(t, err)
			assert.EqualValues(t, 6, size)

			count, err := store.Count("slot-a")
			require.NoError(t, err)
			assert.Equal(t, 3, count)
		})
	}
}

func TestStoreReset(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create("slot-b"))
			require.NoError(t, store.Append("slot-b", Chunk{Data: []byte("data")}))
			require.NoError(t, store.Reset("slot-b"))

			chunks, err := store.Chunks("slot-b")
			require.NoError(t, err)
			assert.Empty(t, chunks)

			size, err := store.Size("slot-b")
			require.NoError(t, err)
			assert.Zero(t, size)
			assert.True(t, store.Exists("slot-b"))
		})
	}
}

func TestStoreErrors(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create("dup"))
			assert.Error(t, store.Create("dup"))

			assert.Error(t, store.Append("missing", Chunk{Data: []byte("x")}))
			_, err := store.Chunks("missing")
			assert.Error(t, err)
			_, err = store.Size("missing")
			assert.Error(t, err)
			assert.Error(t, store.Reset("missing"))
			assert.False(t, store.Exists("missing"))
		})
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Create("b"))
			require.NoError(t, store.Create("a"))

			slots, err := store.List()
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, slots)

			require.NoError(t, store.Delete("a"))
			assert.False(t, store.Exists("a"))

			slots, err = store.List()
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, slots)
		})
	}
}

func TestMemoryStoreCopiesChunkData(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create("copy"))

	buf := []byte("abc")
	require.NoError(t, store.Append("copy", Chunk{Data: buf}))
	buf[0] = 'z'

	chunks, err := store.Chunks("copy")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(chunks[0].Data))
}

func TestFileStorePurgeStale(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create("left-over"))
	require.NoError(t, store.Append("left-over", Chunk{Data: []byte("partial")}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("keep"), 0600))

	restarted, err := NewFileStore(dir)
	require.NoError(t, err)

	purged, err := restarted.PurgeStale()
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.False(t, restarted.Exists("left-over"))

	_, err = os.Stat(filepath.Join(dir, "unrelated.txt"))
	assert.NoError(t, err)
}
