// Package system observes host facts the session core reconciles against:
// gamescope session membership, pipeline process liveness, the kernel
// sleep/wake counter, and the capture display.
package system

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// gamemodeMarker distinguishes the target full-screen session in the
	// process table.
	gamemodeMarker = "gamescope-session"

	// wakeupCountPath is the kernel's suspend/resume cycle counter.
	wakeupCountPath = "/sys/power/wakeup_count"

	// probeTimeout bounds the gst-inspect dependency probe.
	probeTimeout = 5 * time.Second
)

// Observer implements pipeline.Host against the live machine.
type Observer struct {
	// ProcessMarker identifies pipeline processes in /proc cmdlines. The
	// capture sink name appears in the pipeline's arguments, so it doubles
	// as the marker.
	ProcessMarker string

	// StreamEnv is the environment the pipeline (and its probe) runs
	// under, with the plugin's bundled libraries on the path.
	StreamEnv []string

	// ProcRoot and SysRoot allow tests to point the observer at fake
	// trees. Empty means the real filesystem.
	ProcRoot string
	SysRoot  string
}

func (o *Observer) procRoot() string {
	if o.ProcRoot != "" {
		return o.ProcRoot
	}
	return "/proc"
}

// cmdlines walks /proc and yields each numeric pid with its command line.
func (o *Observer) cmdlines(fn func(pid int, cmdline string) bool) {
	entries, err := os.ReadDir(o.procRoot())
	if err != nil {
		return
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(o.procRoot(), entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		cmdline := string(bytes.ReplaceAll(raw, []byte{0}, []byte{' '}))
		if !fn(pid, cmdline) {
			return
		}
	}
}

// InGameMode reports whether a gamescope session is running.
func (o *Observer) InGameMode() bool {
	found := false
	o.cmdlines(func(_ int, cmdline string) bool {
		if strings.Contains(cmdline, gamemodeMarker) {
			found = true
			return false
		}
		return true
	})
	return found
}

// PipelineProcesses returns the pids of every running pipeline process.
func (o *Observer) PipelineProcesses() []int {
	var pids []int
	o.cmdlines(func(pid int, cmdline string) bool {
		if strings.Contains(cmdline, o.ProcessMarker) {
			pids = append(pids, pid)
		}
		return true
	})
	return pids
}

// Kill delivers SIGKILL to pid.
func (o *Observer) Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// WakeupCount reads the kernel's sleep/wake cycle counter.
func (o *Observer) WakeupCount() (int, error) {
	path := wakeupCountPath
	if o.SysRoot != "" {
		path = filepath.Join(o.SysRoot, "power", "wakeup_count")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

// DetectDisplay picks the X display the pipeline should capture. The nested
// game display (:1) is preferred over the desktop session (:0); when no
// socket is visible the fallback is :0.
func (o *Observer) DetectDisplay() string {
	entries, err := os.ReadDir("/tmp/.X11-unix")
	if err != nil {
		return ":0"
	}
	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	if names["X1"] {
		return ":1"
	}
	return ":0"
}

// BuildStreamEnv returns the current environment with the loader and
// gstreamer variables replaced by the plugin's bundled paths. An inherited
// LD_PRELOAD is dropped outright; it would be injected into every spawned
// tool and break the probe.
func BuildStreamEnv(binDir, gstPluginPath string) []string {
	env := make([]string, 0, len(os.Environ())+2)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "LD_PRELOAD=") ||
			strings.HasPrefix(kv, "LD_LIBRARY_PATH=") ||
			strings.HasPrefix(kv, "GST_PLUGIN_PATH=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env,
		"LD_LIBRARY_PATH="+binDir,
		"GST_PLUGIN_PATH="+gstPluginPath,
	)
}

// RTMPSinkAvailable probes the GStreamer runtime for the rtmpsink element
// under the streaming environment, so a missing librtmp is caught before a
// doomed pipeline spawn.
func (o *Observer) RTMPSinkAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gst-inspect-1.0", "rtmpsink")
	cmd.Env = o.StreamEnv
	if err := cmd.Run(); err != nil {
		log.Printf("system: rtmpsink probe failed: %v", err)
		return false
	}
	return true
}

// Resolution is a detected display mode.
type Resolution struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Display string `json:"display"`
}

// DetectResolution probes the current display resolution, trying :0 (works
// when docked) then :1 (the game display in handheld mode), via xrandr with
// an xdpyinfo fallback. Detection failure yields the native panel mode.
func (o *Observer) DetectResolution() Resolution {
	for _, display := range []string{":0", ":1"} {
		if res, ok := probeDisplay(display); ok {
			res.Display = display
			return res
		}
	}
	return Resolution{Width: 1280, Height: 800, Display: "default"}
}

func probeDisplay(display string) (Resolution, bool) {
	env := append(cleanEnv(), "DISPLAY="+display)

	if out, err := runWithEnv(env, "xrandr"); err == nil {
		for _, line := range strings.Split(out, "\n") {
			if !strings.Contains(line, "*") {
				continue
			}
			if res, ok := parseResolution(strings.Fields(line)); ok {
				return res, true
			}
		}
	}

	if out, err := runWithEnv(env, "xdpyinfo"); err == nil {
		for _, line := range strings.Split(out, "\n") {
			if !strings.Contains(line, "dimensions") {
				continue
			}
			if res, ok := parseResolution(strings.Fields(line)); ok {
				return res, true
			}
		}
	}

	return Resolution{}, false
}

// parseResolution finds the first WxH token in fields.
func parseResolution(fields []string) (Resolution, bool) {
	for _, field := range fields {
		parts := strings.SplitN(field, "x", 2)
		if len(parts) != 2 {
			continue
		}
		width, werr := strconv.Atoi(parts[0])
		height, herr := strconv.Atoi(parts[1])
		if werr != nil || herr != nil {
			continue
		}
		return Resolution{Width: width, Height: height}, true
	}
	return Resolution{}, false
}

func runWithEnv(env []string, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	out, err := cmd.Output()
	return string(out), err
}

func cleanEnv() []string {
	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "LD_LIBRARY_PATH=") ||
			strings.HasPrefix(kv, "LD_PRELOAD=") ||
			strings.HasPrefix(kv, "DISPLAY=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}
