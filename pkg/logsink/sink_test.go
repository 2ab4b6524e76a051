package logsink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCappedTruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline-err.log")

	old := strings.Repeat("a", 600) + strings.Repeat("b", 600)
	require.NoError(t, os.WriteFile(path, []byte(old), 0o644))

	sink, err := OpenCapped(path, 1000)
	require.NoError(t, err)
	defer sink.Close()

	content, err := sink.ReadBack()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(content, truncationMarker))
	// The newest half survives, the oldest is gone.
	assert.Contains(t, content, "bbbb")
	assert.LessOrEqual(t, len(content), 500+len(truncationMarker))
}

func TestOpenCappedKeepsSmallFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline-out.log")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	sink, err := OpenCapped(path, 1024)
	require.NoError(t, err)
	defer sink.Close()

	_, err = sink.Write([]byte("world\n"))
	require.NoError(t, err)

	content, err := sink.ReadBack()
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", content)
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.log")

	w, err := NewRotatingWriter(path, 64, 2)
	require.NoError(t, err)
	defer w.Close()

	line := []byte(strings.Repeat("x", 30) + "\n")
	for i := 0; i < 6; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "first backup should exist after rotation")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(64))
}

func TestLineFeedNonBlocking(t *testing.T) {
	feed := NewLineFeed(2)

	_, ok := feed.TryLine()
	assert.False(t, ok, "empty feed must not block or yield")

	feed.Write([]byte("first\nsec"))
	feed.Write([]byte("ond\n"))

	line, ok := feed.TryLine()
	assert.True(t, ok)
	assert.Equal(t, "first", line)

	line, ok = feed.TryLine()
	assert.True(t, ok)
	assert.Equal(t, "second", line)

	_, ok = feed.TryLine()
	assert.False(t, ok)
}

func TestLineFeedDrainDiscardsBufferedAndPartial(t *testing.T) {
	feed := NewLineFeed(4)
	feed.Write([]byte("stale one\nstale two\npart"))

	feed.Drain()

	_, ok := feed.TryLine()
	assert.False(t, ok)

	// The discarded partial must not prefix the next complete line.
	feed.Write([]byte("ial\nfresh\n"))
	line, ok := feed.TryLine()
	assert.True(t, ok)
	assert.Equal(t, "ial", line)
	line, ok = feed.TryLine()
	assert.True(t, ok)
	assert.Equal(t, "fresh", line)
}

func TestLineFeedDropsOldestOnOverflow(t *testing.T) {
	feed := NewLineFeed(2)
	feed.Write([]byte("one\ntwo\nthree\n"))

	line, ok := feed.TryLine()
	assert.True(t, ok)
	assert.Equal(t, "two", line)

	line, ok = feed.TryLine()
	assert.True(t, ok)
	assert.Equal(t, "three", line)
}
