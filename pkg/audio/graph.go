// Package audio builds and tears down the virtual PulseAudio graph that
// aggregates system and microphone audio into the capture sink the pipeline
// records from.
package audio

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

const (
	// CaptureSinkName is the well-known null sink the pipeline captures
	// from. Its presence in a process command line also serves as the
	// marker for pipeline process identification.
	CaptureSinkName = "DeckStream-Capture-Sink"

	// EchoCancelledMicName is the processed microphone device.
	EchoCancelledMicName = "Echo-Cancelled-Mic"

	// EchoCancelledAudioName is the echo reference device created by the
	// built-in canceller topology.
	EchoCancelledAudioName = "Echo-Cancelled-Audio"

	// echoCancelledPattern matches every module of the microphone chain,
	// whichever topology built it.
	echoCancelledPattern = "Echo-Cancelled"
)

// MicSettings carries the microphone parameters the graph needs.
type MicSettings struct {
	Enabled               bool
	Source                string // "NA" means resolve the default input
	GainDB                float64
	NoiseReductionPercent int
}

// Source is a selectable input device as reported to the frontend.
type Source struct {
	Data  string `json:"data"`
	Label string `json:"label"`
}

// Graph manages the virtual audio-device graph. Modules are looked up and
// unloaded by name pattern rather than retained handle, so teardown works
// even across a plugin restart.
type Graph struct {
	run           Runner
	denoisePlugin string

	mu             sync.Mutex
	resolvedSource string
}

// NewGraph creates a graph orchestrator. denoisePlugin is the on-disk path
// of the optional RNNoise LADSPA plugin; when the file exists the graph
// prefers the noise-suppression topology over the built-in canceller.
func NewGraph(run Runner, denoisePlugin string) *Graph {
	return &Graph{run: run, denoisePlugin: denoisePlugin}
}

// DenoiserAvailable reports whether the optional noise-suppression plugin
// is present on disk.
func (g *Graph) DenoiserAvailable() bool {
	_, err := os.Stat(g.denoisePlugin)
	return err == nil
}

// DefaultSink returns the system's current default output device.
func (g *Graph) DefaultSink() (string, error) {
	return g.run.Run("get-default-sink")
}

// DefaultSource returns the system's current default input device.
func (g *Graph) DefaultSource() (string, error) {
	return g.run.Run("get-default-source")
}

// CaptureSinkExists reports whether the capture sink is already loaded.
func (g *Graph) CaptureSinkExists() bool {
	out, err := g.run.Run("list", "short", "sinks")
	if err != nil {
		return false
	}
	return strings.Contains(out, CaptureSinkName)
}

// Create builds the capture graph. Idempotent: a stale sink of the same
// name is torn down first, since its loopback sources may reference devices
// that no longer exist.
func (g *Graph) Create(mic MicSettings) error {
	if g.CaptureSinkExists() {
		log.Printf("audio: %s already exists, rebuilding sink for safety", CaptureSinkName)
		if err := g.Destroy(); err != nil {
			return err
		}
	}

	if _, err := g.run.Run("load-module", "module-null-sink", "sink_name="+CaptureSinkName); err != nil {
		return err
	}

	defaultSink, err := g.DefaultSink()
	if err != nil {
		return err
	}
	if _, err := g.run.Run("load-module", "module-loopback",
		"source="+defaultSink+".monitor", "sink="+CaptureSinkName); err != nil {
		return err
	}

	if mic.Enabled {
		return g.AttachMic(mic)
	}
	return nil
}

// Destroy unloads every module of the microphone chain, then every module
// of the capture sink. Safe to call when no graph exists.
func (g *Graph) Destroy() error {
	g.unloadModules(echoCancelledPattern)
	g.unloadModules(CaptureSinkName)
	return nil
}

// unloadModules unloads every audio-server module whose listing line
// contains pattern. Unload failures are logged and skipped; a module that
// vanished between listing and unloading is not an error worth surfacing.
func (g *Graph) unloadModules(pattern string) {
	out, err := g.run.Run("list", "short", "modules")
	if err != nil {
		return
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, pattern) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if _, err := g.run.Run("unload-module", fields[0]); err != nil {
			log.Printf("audio: unload module %s: %v", fields[0], err)
		}
	}
}

// resolveSource resolves "NA" to the current default input once; the
// resolution is sticky for the rest of the session unless overridden via
// SetSource.
func (g *Graph) resolveSource(requested string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resolvedSource != "" {
		return g.resolvedSource, nil
	}
	if requested != "" && requested != "NA" {
		g.resolvedSource = requested
		return requested, nil
	}
	def, err := g.DefaultSource()
	if err != nil {
		return "", err
	}
	g.resolvedSource = def
	return def, nil
}

// SetSource overrides the sticky microphone source resolution.
func (g *Graph) SetSource(source string) {
	g.mu.Lock()
	g.resolvedSource = source
	g.mu.Unlock()
}

// MicSource returns the currently resolved microphone source, or "NA" when
// none has been resolved yet.
func (g *Graph) MicSource() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolvedSource == "" {
		return "NA"
	}
	return g.resolvedSource
}

// AttachMic builds the microphone chain into the capture sink, choosing the
// noise-suppression topology when the denoiser plugin is on disk and the
// built-in echo canceller otherwise.
func (g *Graph) AttachMic(mic MicSettings) error {
	source, err := g.resolveSource(mic.Source)
	if err != nil {
		return err
	}

	if g.DenoiserAvailable() {
		return g.attachDenoised(source, mic)
	}
	return g.attachEchoCancelled(source, mic)
}

// attachDenoised wires mic -> LADSPA noise suppressor -> capture sink.
func (g *Graph) attachDenoised(source string, mic MicSettings) error {
	if _, err := g.run.Run("load-module", "module-null-sink",
		"sink_name="+EchoCancelledMicName, "rate=48000"); err != nil {
		return err
	}
	if _, err := g.run.Run("load-module", "module-ladspa-sink",
		"sink_name="+EchoCancelledMicName+"_raw_in",
		"sink_master="+EchoCancelledMicName,
		"label=noise_suppressor_mono",
		"plugin="+g.denoisePlugin,
		fmt.Sprintf("control=%d,20,0,0,0", mic.NoiseReductionPercent)); err != nil {
		return err
	}
	if _, err := g.run.Run("load-module", "module-loopback",
		"source="+source,
		"sink="+EchoCancelledMicName+"_raw_in",
		"channels=1", "source_dont_move=true", "sink_dont_move=true"); err != nil {
		return err
	}
	if _, err := g.run.Run("set-source-volume",
		EchoCancelledMicName+".monitor", formatGain(mic.GainDB)); err != nil {
		return err
	}
	_, err := g.run.Run("load-module", "module-loopback",
		"source="+EchoCancelledMicName+".monitor", "sink="+CaptureSinkName)
	return err
}

// attachEchoCancelled wires mic and system output through the built-in
// WebRTC echo canceller into the capture sink.
func (g *Graph) attachEchoCancelled(source string, mic MicSettings) error {
	defaultSink, err := g.DefaultSink()
	if err != nil {
		return err
	}
	if _, err := g.run.Run("load-module", "module-echo-cancel",
		"use_master_format=1",
		"source_master="+source,
		"sink_master="+defaultSink,
		"source_name="+EchoCancelledMicName,
		"sink_name="+EchoCancelledAudioName,
		"aec_method=webrtc",
		"aec_args=analog_gain_control=0 digital_gain_control=1"); err != nil {
		return err
	}
	if _, err := g.run.Run("set-source-volume",
		EchoCancelledMicName, formatGain(mic.GainDB)); err != nil {
		return err
	}
	if _, err := g.run.Run("load-module", "module-loopback",
		"source="+EchoCancelledMicName, "sink="+CaptureSinkName); err != nil {
		return err
	}
	_, err = g.run.Run("load-module", "module-loopback",
		"source="+EchoCancelledAudioName+".monitor", "sink="+CaptureSinkName)
	return err
}

// DetachMic unloads the microphone chain, leaving the capture sink running.
func (g *Graph) DetachMic() error {
	g.unloadModules(echoCancelledPattern)
	return nil
}

// MicAttached reports whether a microphone chain is currently loaded.
func (g *Graph) MicAttached() bool {
	out, err := g.run.Run("list", "short", "modules")
	if err != nil {
		return false
	}
	return strings.Contains(out, echoCancelledPattern)
}

// SetMicVolume adjusts the live microphone gain on whichever processed
// device the active topology exposes.
func (g *Graph) SetMicVolume(gainDB float64) error {
	device := EchoCancelledMicName
	if g.DenoiserAvailable() {
		device = EchoCancelledMicName + ".monitor"
	}
	_, err := g.run.Run("set-source-volume", device, formatGain(gainDB))
	return err
}

// Sources enumerates selectable microphone sources: the default input
// first, then every non-internal source. Monitors and the graph's own
// devices are excluded.
func (g *Graph) Sources() ([]Source, error) {
	defaultSource, err := g.DefaultSource()
	if err != nil {
		return nil, err
	}

	sources := []Source{{Data: defaultSource, Label: "Default Mic"}}

	out, err := g.run.Run("list", "short", "sources")
	if err != nil {
		return sources, nil
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		if strings.Contains(name, "Echo") ||
			strings.Contains(name, "monitor") ||
			strings.Contains(name, "DeckStream") ||
			name == defaultSource {
			continue
		}
		sources = append(sources, Source{Data: name, Label: name})
	}
	return sources, nil
}

func formatGain(gainDB float64) string {
	return fmt.Sprintf("%gdb", gainDB)
}
