package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordStartAndEnd(t *testing.T) {
	store := openTestStore(t)

	started := time.Now().Add(-time.Hour)
	require.NoError(t, store.RecordStart("s1", started, "twitch", "720p"))

	ended := started.Add(30 * time.Minute)
	require.NoError(t, store.RecordEnd("s1", ended, "stopped", ""))

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, "twitch", rec.Platform)
	assert.Equal(t, "720p", rec.Resolution)
	assert.Equal(t, "stopped", rec.ExitReason)
	assert.Empty(t, rec.ErrorMessage)
	require.NotNil(t, rec.EndedAt)
	assert.WithinDuration(t, ended, *rec.EndedAt, time.Second)
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)

	base := time.Now().Add(-3 * time.Hour)
	require.NoError(t, store.RecordStart("old", base, "twitch", "720p"))
	require.NoError(t, store.RecordStart("mid", base.Add(time.Hour), "youtube", "1080p"))
	require.NoError(t, store.RecordStart("new", base.Add(2*time.Hour), "kick", "native"))

	records, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)
}

func TestOpenSessionHasNoEndTime(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordStart("live", time.Now(), "twitch", "720p"))

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].EndedAt)
	assert.Empty(t, records[0].ExitReason)
}

func TestCrashOutcomeIsRecorded(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordStart("c1", time.Now(), "twitch", "720p"))
	require.NoError(t, store.RecordEnd("c1", time.Now(), "crashed",
		"Stream ended unexpectedly (exit code: 1)"))

	records, err := store.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "crashed", records[0].ExitReason)
	assert.Contains(t, records[0].ErrorMessage, "exit code: 1")
}

func TestPruneDropsOldSessions(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.RecordStart("ancient", time.Now().Add(-60*24*time.Hour), "twitch", "720p"))
	require.NoError(t, store.RecordStart("recent", time.Now().Add(-time.Hour), "twitch", "720p"))

	pruned, err := store.Prune(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	records, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "recent", records[0].ID)
}
