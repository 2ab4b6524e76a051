package settings

import (
	"os"
	"path/filepath"
	"sync"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/pkg/errors"
)

// StreamSettings is the typed snapshot of every persisted stream setting.
// Field defaults match the values a fresh install starts with.
type StreamSettings struct {
	Platform              string  `json:"platform"`
	CustomRTMPURL         string  `json:"custom_rtmp_url"`
	StreamKey             string  `json:"stream_key"`
	VideoBitrate          int     `json:"video_bitrate"` // kbps
	AudioBitrate          int     `json:"audio_bitrate"` // kbps
	Resolution            string  `json:"resolution"`
	Framerate             int     `json:"framerate"`
	KeyframeInterval      int     `json:"keyframe_interval"` // 0 = encoder default
	BFrames               int     `json:"bframes"`           // 0 = encoder default
	MicEnabled            bool    `json:"mic_enabled"`
	MicGain               float64 `json:"mic_gain"` // dB
	NoiseReductionPercent int     `json:"noise_reduction_percent"`
}

// Defaults returns the settings a fresh install starts with.
func Defaults() StreamSettings {
	return StreamSettings{
		Platform:              "twitch",
		CustomRTMPURL:         "",
		StreamKey:             "",
		VideoBitrate:          4500,
		AudioBitrate:          160,
		Resolution:            "720p",
		Framerate:             60,
		KeyframeInterval:      0,
		BFrames:               0,
		MicEnabled:            false,
		MicGain:               13.0,
		NoiseReductionPercent: 50,
	}
}

// maskedKey is what stream-key queries return instead of the secret.
const maskedKey = "********"

// Store persists StreamSettings as a key-value JSON document. The document
// is treated as untyped only at the serialization boundary; unknown keys
// written by other tools survive round trips. Every setter commits to disk
// immediately.
type Store struct {
	path string

	mu       sync.RWMutex
	doc      *simplejson.Json
	settings StreamSettings
}

// NewStore creates a store backed by the given file. Call Load before use.
func NewStore(path string) *Store {
	return &Store{path: path, doc: simplejson.New()}
}

// Load reads the document from disk, applying defaults for missing keys. A
// missing file is not an error; the defaults are written back.
func (s *Store) Load() error {
	return s.load(true)
}

// Reload re-reads the document without writing back, so a reload triggered
// by a file event never generates another event.
func (s *Store) Reload() error {
	return s.load(false)
}

func (s *Store) load(writeBack bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		s.doc = simplejson.New()
	case err != nil:
		return errors.Wrap(err, "settings: read document")
	default:
		doc, jerr := simplejson.NewJson(data)
		if jerr != nil {
			return errors.Wrap(jerr, "settings: parse document")
		}
		s.doc = doc
	}

	def := Defaults()
	s.settings = StreamSettings{
		Platform:              s.getString("platform", def.Platform),
		CustomRTMPURL:         s.getString("custom_rtmp_url", def.CustomRTMPURL),
		StreamKey:             s.getString("stream_key", def.StreamKey),
		VideoBitrate:          s.getInt("video_bitrate", def.VideoBitrate),
		AudioBitrate:          s.getInt("audio_bitrate", def.AudioBitrate),
		Resolution:            s.getString("resolution", def.Resolution),
		Framerate:             s.getInt("framerate", def.Framerate),
		KeyframeInterval:      s.getInt("keyframe_interval", def.KeyframeInterval),
		BFrames:               s.getInt("bframes", def.BFrames),
		MicEnabled:            s.getBool("mic_enabled", def.MicEnabled),
		MicGain:               s.getFloat("mic_gain", def.MicGain),
		NoiseReductionPercent: s.getInt("noise_reduction_percent", def.NoiseReductionPercent),
	}

	if !writeBack {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) getString(key, def string) string {
	if v, ok := s.doc.CheckGet(key); ok {
		if str, err := v.String(); err == nil {
			return str
		}
	}
	return def
}

func (s *Store) getInt(key string, def int) int {
	if v, ok := s.doc.CheckGet(key); ok {
		if n, err := v.Int(); err == nil {
			return n
		}
	}
	return def
}

func (s *Store) getFloat(key string, def float64) float64 {
	if v, ok := s.doc.CheckGet(key); ok {
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

func (s *Store) getBool(key string, def bool) bool {
	if v, ok := s.doc.CheckGet(key); ok {
		if b, err := v.Bool(); err == nil {
			return b
		}
	}
	return def
}

// saveLocked serializes the current settings into the document and writes it
// atomically. Unknown keys already present in the document are preserved.
func (s *Store) saveLocked() error {
	s.doc.Set("platform", s.settings.Platform)
	s.doc.Set("custom_rtmp_url", s.settings.CustomRTMPURL)
	s.doc.Set("stream_key", s.settings.StreamKey)
	s.doc.Set("video_bitrate", s.settings.VideoBitrate)
	s.doc.Set("audio_bitrate", s.settings.AudioBitrate)
	s.doc.Set("resolution", s.settings.Resolution)
	s.doc.Set("framerate", s.settings.Framerate)
	s.doc.Set("keyframe_interval", s.settings.KeyframeInterval)
	s.doc.Set("bframes", s.settings.BFrames)
	s.doc.Set("mic_enabled", s.settings.MicEnabled)
	s.doc.Set("mic_gain", s.settings.MicGain)
	s.doc.Set("noise_reduction_percent", s.settings.NoiseReductionPercent)

	data, err := s.doc.EncodePretty()
	if err != nil {
		return errors.Wrap(err, "settings: encode document")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "settings: create directory")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "settings: write document")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "settings: replace document")
	}
	return nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() StreamSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// MaskedStreamKey returns a fixed-length mask when a key is set, never the
// raw value.
func (s *Store) MaskedStreamKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings.StreamKey != "" {
		return maskedKey
	}
	return ""
}

// mutate applies fn to the settings and persists immediately.
func (s *Store) mutate(fn func(*StreamSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
	return s.saveLocked()
}

// SetPlatform sets the streaming platform identifier.
func (s *Store) SetPlatform(platform string) error {
	return s.mutate(func(st *StreamSettings) { st.Platform = platform })
}

// SetCustomRTMPURL sets the user-supplied destination for the custom platform.
func (s *Store) SetCustomRTMPURL(url string) error {
	return s.mutate(func(st *StreamSettings) { st.CustomRTMPURL = url })
}

// SetStreamKey sets the secret stream key.
func (s *Store) SetStreamKey(key string) error {
	return s.mutate(func(st *StreamSettings) { st.StreamKey = key })
}

// SetVideoBitrate sets the video bitrate in kbps.
func (s *Store) SetVideoBitrate(kbps int) error {
	return s.mutate(func(st *StreamSettings) { st.VideoBitrate = kbps })
}

// SetAudioBitrate sets the audio bitrate in kbps.
func (s *Store) SetAudioBitrate(kbps int) error {
	return s.mutate(func(st *StreamSettings) { st.AudioBitrate = kbps })
}

// SetResolution sets the resolution preset identifier.
func (s *Store) SetResolution(preset string) error {
	return s.mutate(func(st *StreamSettings) { st.Resolution = preset })
}

// SetFramerate sets the capture framerate.
func (s *Store) SetFramerate(fps int) error {
	return s.mutate(func(st *StreamSettings) { st.Framerate = fps })
}

// SetKeyframeInterval sets the keyframe period; 0 keeps the encoder default.
func (s *Store) SetKeyframeInterval(frames int) error {
	return s.mutate(func(st *StreamSettings) { st.KeyframeInterval = frames })
}

// SetBFrames sets the B-frame count; 0 keeps the encoder default.
func (s *Store) SetBFrames(count int) error {
	return s.mutate(func(st *StreamSettings) { st.BFrames = count })
}

// SetMicEnabled toggles microphone capture.
func (s *Store) SetMicEnabled(enabled bool) error {
	return s.mutate(func(st *StreamSettings) { st.MicEnabled = enabled })
}

// SetMicGain sets the microphone gain in dB.
func (s *Store) SetMicGain(gainDB float64) error {
	return s.mutate(func(st *StreamSettings) { st.MicGain = gainDB })
}

// SetNoiseReductionPercent sets the denoiser intensity (0-100).
func (s *Store) SetNoiseReductionPercent(percent int) error {
	return s.mutate(func(st *StreamSettings) { st.NoiseReductionPercent = percent })
}
