package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, store.Load())
	return store
}

func TestLoadMissingFileAppliesDefaults(t *testing.T) {
	store := newTestStore(t)

	assert.Equal(t, Defaults(), store.Snapshot())

	// Defaults are written back so the document exists afterwards.
	_, err := os.Stat(store.Path())
	assert.NoError(t, err)
}

func TestSettersPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store := NewStore(path)
	require.NoError(t, store.Load())

	require.NoError(t, store.SetPlatform("youtube"))
	require.NoError(t, store.SetStreamKey("secret"))
	require.NoError(t, store.SetVideoBitrate(6000))
	require.NoError(t, store.SetResolution("1080p"))
	require.NoError(t, store.SetMicEnabled(true))
	require.NoError(t, store.SetMicGain(7.5))

	reopened := NewStore(path)
	require.NoError(t, reopened.Load())

	snap := reopened.Snapshot()
	assert.Equal(t, "youtube", snap.Platform)
	assert.Equal(t, "secret", snap.StreamKey)
	assert.Equal(t, 6000, snap.VideoBitrate)
	assert.Equal(t, "1080p", snap.Resolution)
	assert.True(t, snap.MicEnabled)
	assert.Equal(t, 7.5, snap.MicGain)
}

func TestUnknownKeysSurviveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"platform":"kick","frontend_theme":"dark"}`), 0o600))

	store := NewStore(path)
	require.NoError(t, store.Load())
	require.NoError(t, store.SetVideoBitrate(3000))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "dark", doc["frontend_theme"])
	assert.Equal(t, "kick", doc["platform"])
	assert.Equal(t, float64(3000), doc["video_bitrate"])
}

func TestCorruptDocumentIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewStore(path)
	assert.Error(t, store.Load())
}

func TestMaskedStreamKey(t *testing.T) {
	store := newTestStore(t)

	assert.Empty(t, store.MaskedStreamKey())

	require.NoError(t, store.SetStreamKey("live_12345_abc"))
	assert.Equal(t, "********", store.MaskedStreamKey())
	assert.NotContains(t, store.MaskedStreamKey(), "12345")
}

func TestWrongTypedValuesFallBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"video_bitrate":"fast","mic_enabled":"yes"}`), 0o600))

	store := NewStore(path)
	require.NoError(t, store.Load())

	snap := store.Snapshot()
	assert.Equal(t, Defaults().VideoBitrate, snap.VideoBitrate)
	assert.Equal(t, Defaults().MicEnabled, snap.MicEnabled)
}

func TestReloadPicksUpExternalEdits(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetPlatform("twitch"))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["platform"] = "kick"
	edited, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), edited, 0o600))

	require.NoError(t, store.Reload())
	assert.Equal(t, "kick", store.Snapshot().Platform)
}

func TestWatcherReloadsOnExternalWrite(t *testing.T) {
	store := newTestStore(t)

	w, err := Watch(store)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(store.Path(),
		[]byte(`{"platform":"facebook"}`), 0o600))

	assert.Eventually(t, func() bool {
		return store.Snapshot().Platform == "facebook"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSettingsRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "settings-rapid")
		if err != nil {
			t.Fatalf("tempdir: %v", err)
		}
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "settings.json")
		store := NewStore(path)
		if err := store.Load(); err != nil {
			t.Fatalf("load: %v", err)
		}

		want := StreamSettings{
			Platform:              rapid.SampledFrom([]string{"twitch", "youtube", "kick", "facebook", "custom"}).Draw(t, "platform"),
			CustomRTMPURL:         rapid.StringMatching(`rtmp://[a-z0-9.]{1,20}/[a-z]{1,8}`).Draw(t, "custom_url"),
			StreamKey:             rapid.StringMatching(`[A-Za-z0-9_-]{0,32}`).Draw(t, "stream_key"),
			VideoBitrate:          rapid.IntRange(500, 40000).Draw(t, "video_bitrate"),
			AudioBitrate:          rapid.IntRange(32, 320).Draw(t, "audio_bitrate"),
			Resolution:            rapid.SampledFrom([]string{"720p", "800p", "1080p", "native"}).Draw(t, "resolution"),
			Framerate:             rapid.IntRange(10, 120).Draw(t, "framerate"),
			KeyframeInterval:      rapid.IntRange(0, 600).Draw(t, "keyframe_interval"),
			BFrames:               rapid.IntRange(0, 4).Draw(t, "bframes"),
			MicEnabled:            rapid.Bool().Draw(t, "mic_enabled"),
			MicGain:               float64(rapid.IntRange(-200, 400).Draw(t, "mic_gain_tenths")) / 10,
			NoiseReductionPercent: rapid.IntRange(0, 100).Draw(t, "noise_reduction"),
		}

		apply := func(err error) {
			if err != nil {
				t.Fatalf("set: %v", err)
			}
		}
		apply(store.SetPlatform(want.Platform))
		apply(store.SetCustomRTMPURL(want.CustomRTMPURL))
		apply(store.SetStreamKey(want.StreamKey))
		apply(store.SetVideoBitrate(want.VideoBitrate))
		apply(store.SetAudioBitrate(want.AudioBitrate))
		apply(store.SetResolution(want.Resolution))
		apply(store.SetFramerate(want.Framerate))
		apply(store.SetKeyframeInterval(want.KeyframeInterval))
		apply(store.SetBFrames(want.BFrames))
		apply(store.SetMicEnabled(want.MicEnabled))
		apply(store.SetMicGain(want.MicGain))
		apply(store.SetNoiseReductionPercent(want.NoiseReductionPercent))

		reopened := NewStore(path)
		if err := reopened.Load(); err != nil {
			t.Fatalf("reload: %v", err)
		}
		if got := reopened.Snapshot(); got != want {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
		}
	})
}
