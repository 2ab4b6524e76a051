package pipeline

import (
	"fmt"
	"strings"

	"github.com/deckstream/deckstream/pkg/settings"
)

// PlatformURLs maps a platform identifier to its base publish endpoint. The
// custom platform uses the user-supplied URL verbatim as the template.
var PlatformURLs = map[string]string{
	"twitch":   "rtmp://ingest.global-contribute.live-video.net/app",
	"youtube":  "rtmp://a.rtmp.youtube.com/live2",
	"kick":     "rtmp://fa723fc1b171.global-contribute.live-video.net/app",
	"facebook": "rtmps://live-api-s.facebook.com:443/rtmp",
	"custom":   "",
}

// BuildDestinationURL resolves the effective publish URL from the platform
// template (or the custom URL) plus the stream key.
func BuildDestinationURL(platform, customURL, streamKey string) string {
	var url string
	if platform == "custom" {
		url = strings.TrimSpace(customURL)
	} else {
		url = PlatformURLs[platform]
	}

	url = strings.TrimRight(url, "/")
	streamKey = strings.TrimSpace(streamKey)
	if streamKey != "" {
		return url + "/" + streamKey
	}
	return url
}

// ResolutionPreset is an output scaling target. Width 0 means no scaling.
type ResolutionPreset struct {
	Width  int
	Height int
}

// ResolutionPresets maps preset identifiers to explicit dimensions. 800p is
// the device's native panel.
var ResolutionPresets = map[string]ResolutionPreset{
	"720p":   {Width: 1280, Height: 720},
	"800p":   {Width: 1280, Height: 800},
	"1080p":  {Width: 1920, Height: 1080},
	"native": {Width: 0, Height: 0},
}

// ScaleCaps returns the video caps filter for a resolution preset, or ""
// when the preset requests no scaling. Unknown presets fall back to 720p.
func ScaleCaps(resolution string) string {
	preset, ok := ResolutionPresets[resolution]
	if !ok {
		preset = ResolutionPresets["720p"]
	}
	if preset.Width == 0 {
		return ""
	}
	return fmt.Sprintf("video/x-raw,width=%d,height=%d", preset.Width, preset.Height)
}

// Stage is one element (or caps filter) in a gst-launch pipeline branch,
// with its named properties in order.
type Stage struct {
	Element string
	Props   []Prop
}

// Prop is a named element property.
type Prop struct {
	Key   string
	Value string
}

// Elem builds a stage for a named element.
func Elem(element string, props ...Prop) Stage {
	return Stage{Element: element, Props: props}
}

// CapsStage builds a stage from a raw caps string.
func CapsStage(caps string) Stage {
	return Stage{Element: caps}
}

// P builds a property.
func P(key, value string) Prop {
	return Prop{Key: key, Value: value}
}

// Launch is a full gst-launch invocation: one or more branches, each a
// chain of stages. Branches after the first feed the named mux.
type Launch struct {
	Branches [][]Stage
}

// Argv serializes the launch to gst-launch-1.0 argument tokens, without the
// binary name itself.
func (l Launch) Argv() []string {
	argv := []string{"-e", "-vvv"}
	for _, branch := range l.Branches {
		for i, stage := range branch {
			if i > 0 {
				argv = append(argv, "!")
			}
			argv = append(argv, stage.Element)
			for _, prop := range stage.Props {
				argv = append(argv, prop.Key+"="+prop.Value)
			}
		}
	}
	return argv
}

// BuildLaunch constructs the encode/mux/publish pipeline for the given
// settings snapshot: PipeWire screen capture into VAAPI H.264 behind an FLV
// mux publishing to destURL, plus an AAC audio branch fed from the capture
// sink's monitor.
func BuildLaunch(st settings.StreamSettings, destURL, captureSink string) Launch {
	scaleCaps := ScaleCaps(st.Resolution)

	video := []Stage{
		Elem("pipewiresrc", P("do-timestamp", "true")),
		Elem("videoconvert"),
	}
	if scaleCaps != "" {
		video = append(video,
			Elem("videoscale"),
			Elem("videorate"),
			CapsStage(fmt.Sprintf("%s,framerate=%d/1", scaleCaps, st.Framerate)),
		)
	} else {
		video = append(video,
			Elem("videorate"),
			CapsStage(fmt.Sprintf("video/x-raw,framerate=%d/1", st.Framerate)),
		)
	}

	encoder := Elem("vaapih264enc", P("bitrate", fmt.Sprintf("%d", st.VideoBitrate)))
	if st.KeyframeInterval > 0 {
		encoder.Props = append(encoder.Props, P("keyframe-period", fmt.Sprintf("%d", st.KeyframeInterval)))
	}
	if st.BFrames > 0 {
		encoder.Props = append(encoder.Props, P("max-bframes", fmt.Sprintf("%d", st.BFrames)))
	}

	video = append(video,
		Elem("queue"),
		encoder,
		Elem("h264parse"),
		Elem("queue"),
		Elem("flvmux", P("name", "mux")),
		Elem("rtmpsink", P("location", destURL)),
	)

	audio := []Stage{
		Elem("pulsesrc", P("device", captureSink+".monitor")),
		CapsStage("audio/x-raw,channels=2"),
		Elem("audioconvert"),
		Elem("avenc_aac", P("bitrate", fmt.Sprintf("%d", st.AudioBitrate*1000))),
		Elem("mux."),
	}

	return Launch{Branches: [][]Stage{video, audio}}
}
