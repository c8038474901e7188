package blob

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := s.OpenWriteStream("ws-1", "doc-1", "image.png")
	require.NoError(t, err)
	_, err = w.Write([]byte("pixels"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := s.OpenReadStream("ws-1", "doc-1", "image.png")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "pixels", string(data))
}

func TestSnapshotNamespacing(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	write := func(snapshotID, content string) {
		w, err := s.OpenWriteStream(snapshotID, "doc-1", "blob.bin")
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	write("ws-1", "old version")
	write("ws-2", "new version")

	r, err := s.OpenReadStream("ws-1", "doc-1", "blob.bin")
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "old version", string(data))
}

func TestList(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	names, err := s.List("ws-1", "doc-1")
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"b.txt", "a.txt"} {
		w, err := s.OpenWriteStream("ws-1", "doc-1", name)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	names, err = s.List("ws-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestRemove(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	w, err := s.OpenWriteStream("ws-1", "doc-1", "gone.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, s.Remove("ws-1", "doc-1", "gone.txt"))
	names, err := s.List("ws-1", "doc-1")
	require.NoError(t, err)
	assert.Empty(t, names)

	// Removing twice is fine.
	require.NoError(t, s.Remove("ws-1", "doc-1", "gone.txt"))
}

func TestRejectsPathEscapes(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.OpenWriteStream("ws-1", "doc-1", "../escape")
	require.Error(t, err)
	_, err = s.OpenWriteStream("ws-1", "..", "x")
	require.Error(t, err)
	_, err = s.OpenReadStream("", "doc-1", "x")
	require.Error(t, err)
}
