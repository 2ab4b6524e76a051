package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckstream/deckstream/pkg/settings"
)

func TestBuildDestinationURL(t *testing.T) {
	tests := []struct {
		name      string
		platform  string
		customURL string
		streamKey string
		expected  string
	}{
		{
			name:      "twitch with key",
			platform:  "twitch",
			streamKey: "abc123",
			expected:  "rtmp://ingest.global-contribute.live-video.net/app/abc123",
		},
		{
			name:      "youtube with key",
			platform:  "youtube",
			streamKey: "yt-key",
			expected:  "rtmp://a.rtmp.youtube.com/live2/yt-key",
		},
		{
			name:      "kick with key",
			platform:  "kick",
			streamKey: "kk",
			expected:  "rtmp://fa723fc1b171.global-contribute.live-video.net/app/kk",
		},
		{
			name:      "facebook with key",
			platform:  "facebook",
			streamKey: "fb",
			expected:  "rtmps://live-api-s.facebook.com:443/rtmp/fb",
		},
		{
			name:      "custom url with trailing slash",
			platform:  "custom",
			customURL: "rtmp://example.com/live/",
			streamKey: "k",
			expected:  "rtmp://example.com/live/k",
		},
		{
			name:      "custom url without key",
			platform:  "custom",
			customURL: "rtmp://example.com/live",
			expected:  "rtmp://example.com/live",
		},
		{
			name:     "empty key yields bare template",
			platform: "twitch",
			expected: "rtmp://ingest.global-contribute.live-video.net/app",
		},
		{
			name:      "whitespace key treated as empty",
			platform:  "twitch",
			streamKey: "   ",
			expected:  "rtmp://ingest.global-contribute.live-video.net/app",
		},
		{
			name:      "custom platform with empty url",
			platform:  "custom",
			streamKey: "k",
			expected:  "/k",
		},
		{
			name:      "unknown platform",
			platform:  "nosuch",
			streamKey: "k",
			expected:  "/k",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDestinationURL(tt.platform, tt.customURL, tt.streamKey)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestScaleCaps(t *testing.T) {
	tests := []struct {
		name       string
		resolution string
		expected   string
	}{
		{"720p", "720p", "video/x-raw,width=1280,height=720"},
		{"800p", "800p", "video/x-raw,width=1280,height=800"},
		{"1080p", "1080p", "video/x-raw,width=1920,height=1080"},
		{"native has no caps", "native", ""},
		{"unknown falls back to 720p", "4k", "video/x-raw,width=1280,height=720"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ScaleCaps(tt.resolution))
		})
	}
}

func TestBuildLaunchArgv(t *testing.T) {
	st := settings.Defaults()
	st.StreamKey = "abc123"
	st.VideoBitrate = 6000
	st.Framerate = 30

	dest := BuildDestinationURL(st.Platform, st.CustomRTMPURL, st.StreamKey)
	argv := BuildLaunch(st, dest, "DeckStream-Capture-Sink").Argv()

	require.True(t, len(argv) > 2)
	assert.Equal(t, "-e", argv[0])
	assert.Equal(t, "-vvv", argv[1])

	joined := strings.Join(argv, " ")
	assert.Contains(t, joined, "pipewiresrc do-timestamp=true")
	assert.Contains(t, joined, "video/x-raw,width=1280,height=720,framerate=30/1")
	assert.Contains(t, joined, "vaapih264enc bitrate=6000")
	assert.Contains(t, joined, "flvmux name=mux")
	assert.Contains(t, joined, "rtmpsink location=rtmp://ingest.global-contribute.live-video.net/app/abc123")
	assert.Contains(t, joined, "pulsesrc device=DeckStream-Capture-Sink.monitor")
	assert.Contains(t, joined, "avenc_aac bitrate=160000")
	assert.Contains(t, joined, "mux.")

	// Encoder defaults are left off when unset.
	assert.NotContains(t, joined, "keyframe-period")
	assert.NotContains(t, joined, "max-bframes")
}

func TestBuildLaunchNativeResolutionSkipsScaling(t *testing.T) {
	st := settings.Defaults()
	st.Resolution = "native"

	argv := BuildLaunch(st, "rtmp://x/y", "Sink").Argv()
	joined := strings.Join(argv, " ")

	assert.NotContains(t, joined, "videoscale")
	assert.NotContains(t, joined, "width=")
	assert.Contains(t, joined, "video/x-raw,framerate=60/1")
}

func TestBuildLaunchEncoderTuning(t *testing.T) {
	st := settings.Defaults()
	st.KeyframeInterval = 120
	st.BFrames = 2

	argv := BuildLaunch(st, "rtmp://x/y", "Sink").Argv()
	joined := strings.Join(argv, " ")

	assert.Contains(t, joined, "keyframe-period=120")
	assert.Contains(t, joined, "max-bframes=2")
}
