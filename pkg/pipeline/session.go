package pipeline

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/deckstream/deckstream/pkg/audio"
	"github.com/deckstream/deckstream/pkg/logsink"
	"github.com/deckstream/deckstream/pkg/settings"
)

// Sentinel errors for the refusal paths of Start.
var (
	ErrAlreadyActive     = errors.New("stream already active")
	ErrNotConfigured     = errors.New("no destination URL or stream key configured")
	ErrDependencyMissing = errors.New("rtmp publish support missing")
	ErrStartupFailure    = errors.New("pipeline exited during startup")
)

// AudioGraph is what the session needs from the audio routing orchestrator.
// *audio.Graph satisfies it; tests substitute a fake.
type AudioGraph interface {
	Create(mic audio.MicSettings) error
	Destroy() error
	CaptureSinkExists() bool
	AttachMic(mic audio.MicSettings) error
	DetachMic() error
	MicAttached() bool
	SetMicVolume(gainDB float64) error
	SetSource(source string)
	MicSource() string
	Sources() ([]audio.Source, error)
}

// HistoryRecorder persists session lifecycle events. Optional; a nil
// recorder disables history.
type HistoryRecorder interface {
	RecordStart(id string, startedAt time.Time, platform, resolution string) error
	RecordEnd(id string, endedAt time.Time, reason, errorMessage string) error
}

// SessionConfig contains the session core's tunables and host paths.
type SessionConfig struct {
	// PipelineBinary is the gst-launch executable.
	PipelineBinary string

	// GSTPluginPath points at the bundled gstreamer plugin directory.
	GSTPluginPath string

	// BinDir is prepended as LD_LIBRARY_PATH so the bundled librtmp is
	// found when the pipeline loads libgstrtmp.
	BinDir string

	// UserHome is the HOME the pipeline runs under.
	UserHome string

	// StdoutLog and StderrLog capture the pipeline's output.
	StdoutLog string
	StderrLog string

	// MaxCaptureLogSize caps each capture file.
	MaxCaptureLogSize int64

	// SettleDelay is how long to wait after spawn before judging liveness.
	SettleDelay time.Duration

	// StopTimeout bounds the graceful-shutdown wait before force-killing.
	StopTimeout time.Duration
}

// DefaultSessionConfig returns a configuration with production defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		PipelineBinary:    "gst-launch-1.0",
		UserHome:          os.Getenv("HOME"),
		StdoutLog:         "deckstream-std-out.log",
		StderrLog:         "deckstream-std-err.log",
		MaxCaptureLogSize: 512 * 1024,
		SettleDelay:       time.Second,
		StopTimeout:       10 * time.Second,
	}
}

// Validate validates the configuration.
func (c *SessionConfig) Validate() error {
	if c.PipelineBinary == "" {
		return errors.New("pipeline binary cannot be empty")
	}
	if c.StdoutLog == "" || c.StderrLog == "" {
		return errors.New("capture log paths cannot be empty")
	}
	if c.SettleDelay <= 0 {
		return errors.New("settle delay must be > 0")
	}
	if c.StopTimeout <= 0 {
		return errors.New("stop timeout must be > 0")
	}
	return nil
}

// procHandle tracks one spawned pipeline process. A goroutine reaps the
// process and closes done, so liveness is a non-blocking channel check.
type procHandle struct {
	cmd      *exec.Cmd
	pid      int
	done     chan struct{}
	exitCode int
}

func newProcHandle(cmd *exec.Cmd) *procHandle {
	p := &procHandle{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		if cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
		}
		close(p.done)
	}()
	return p
}

func (p *procHandle) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// waitExit blocks up to d for the process to exit.
func (p *procHandle) waitExit(d time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(d):
		return false
	}
}

// Session is the process-wide stream session: the single mutable record the
// lifecycle manager and the watchdog both operate on. All field mutations
// funnel through Start, Stop and IsActive so the state invariants hold.
type Session struct {
	config  *SessionConfig
	store   *settings.Store
	graph   AudioGraph
	host    Host
	history HistoryRecorder
	logger  Logger

	stdoutSink *logsink.CappedFile
	stderrSink *logsink.CappedFile
	stderrFeed *logsink.LineFeed

	mu        sync.Mutex
	state     SessionState
	proc      *procHandle
	startedAt time.Time
	hasError  bool
	lastError string
	historyID string
}

// NewSession creates the session core. history may be nil.
func NewSession(config *SessionConfig, store *settings.Store, graph AudioGraph, host Host, history HistoryRecorder, logger Logger) (*Session, error) {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid session configuration")
	}
	if logger == nil {
		logger = DefaultLogger()
	}

	stdoutSink, err := logsink.OpenCapped(config.StdoutLog, config.MaxCaptureLogSize)
	if err != nil {
		return nil, err
	}
	stderrSink, err := logsink.OpenCapped(config.StderrLog, config.MaxCaptureLogSize)
	if err != nil {
		stdoutSink.Close()
		return nil, err
	}

	return &Session{
		config:     config,
		store:      store,
		graph:      graph,
		host:       host,
		history:    history,
		logger:     logger.With(String("component", "session")),
		stdoutSink: stdoutSink,
		stderrSink: stderrSink,
		stderrFeed: logsink.NewLineFeed(256),
		state:      StateIdle,
	}, nil
}

// StderrFeed exposes the non-blocking pipeline stderr line feed consumed by
// the watchdog.
func (s *Session) StderrFeed() *logsink.LineFeed {
	return s.stderrFeed
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start starts the streaming pipeline. Returns nil on confirmed liveness;
// on failure the sticky error state carries the classified cause. Never
// panics out: unexpected failures convert to a stop-and-report outcome.
func (s *Session) Start() (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during start", String("panic", fmt.Sprint(r)))
			s.Stop()
			err = errors.Errorf("start failed: %v", r)
		}
	}()

	s.logger.Info("starting stream")

	// Clear any previous error state, and stderr left over from an earlier
	// pipeline, so the watchdog never attributes old lines to this stream.
	s.mu.Lock()
	s.hasError = false
	s.lastError = ""
	s.mu.Unlock()
	s.stderrFeed.Drain()

	if s.IsActive() {
		s.logger.Info("already streaming")
		return ErrAlreadyActive
	}

	snap := s.store.Snapshot()
	destURL := BuildDestinationURL(snap.Platform, snap.CustomRTMPURL, snap.StreamKey)
	if destURL == "" || strings.TrimSpace(snap.StreamKey) == "" {
		s.logger.Error("no destination URL or stream key configured")
		return ErrNotConfigured
	}

	// Guard against leaked processes from previous abnormal exits.
	s.sweepRogueProcesses()

	if !s.host.RTMPSinkAvailable() {
		s.logger.Error("rtmpsink not available (librtmp missing)")
		s.setError(RTMPMissingMessage)
		return ErrDependencyMissing
	}

	display := s.host.DetectDisplay()
	s.logger.Info("streaming to platform", String("platform", snap.Platform), String("display", display))

	// Rebuild the audio graph; Create tears down a stale graph first.
	if err := s.graph.Create(s.micSettings(snap)); err != nil {
		s.logger.Error("audio graph construction failed", Error(err))
		s.setError("Audio setup failed: " + err.Error())
		return err
	}

	argv := BuildLaunch(snap, destURL, audio.CaptureSinkName).Argv()
	cmd := exec.Command(s.config.PipelineBinary, argv...)
	cmd.Env = s.streamEnv(display)
	cmd.Stdout = s.stdoutSink
	cmd.Stderr = io.MultiWriter(s.stderrSink, s.stderrFeed)

	if err := cmd.Start(); err != nil {
		s.logger.Error("failed to spawn pipeline", Error(err))
		s.setError("Failed to start pipeline: " + err.Error())
		s.graph.Destroy()
		return errors.Wrap(err, "spawn pipeline")
	}

	proc := newProcHandle(cmd)
	s.mu.Lock()
	s.proc = proc
	s.state = StateStarting
	s.mu.Unlock()

	// Let the process settle before judging liveness.
	time.Sleep(s.config.SettleDelay)

	s.mu.Lock()
	current := s.proc
	if current == nil || current != proc {
		// A concurrent liveness check already reaped the process.
		s.state = StateErrored
		s.hasError = true
		s.mu.Unlock()
		s.logger.Error("pipeline exited before startup check")
		s.setError(s.startupFailureMessage(-1))
		s.graph.Destroy()
		return ErrStartupFailure
	}
	if proc.exited() {
		code := proc.exitCode
		s.proc = nil
		s.startedAt = time.Time{}
		s.state = StateErrored
		s.hasError = true
		s.mu.Unlock()
		s.logger.Error("pipeline exited immediately", Int("exit_code", code))
		s.setError(s.startupFailureMessage(code))
		s.graph.Destroy()
		return ErrStartupFailure
	}

	id := uuid.NewString()
	s.startedAt = time.Now()
	s.state = StateActive
	s.historyID = id
	s.mu.Unlock()

	if s.history != nil {
		if err := s.history.RecordStart(id, time.Now(), snap.Platform, snap.Resolution); err != nil {
			s.logger.Warn("failed to record session start", Error(err))
		}
	}

	s.logger.Info("streaming started")
	return nil
}

// startupFailureMessage reads back captured stderr and classifies it. An
// exit code of -1 means the code is unknown.
func (s *Session) startupFailureMessage(exitCode int) string {
	fallback := "Stream ended unexpectedly (see " + s.config.StderrLog + ")"
	if exitCode >= 0 {
		fallback = fmt.Sprintf("Stream ended unexpectedly (exit code: %d)", exitCode)
	}

	content, err := s.stderrSink.ReadBack()
	if err != nil {
		s.logger.Error("could not read pipeline stderr", Error(err))
		return fallback
	}
	if msg := ClassifyPipelineError(content); msg != "" {
		return msg
	}
	if content != "" {
		limit := len(content)
		if limit > 2000 {
			limit = 2000
		}
		s.logger.Error("pipeline stderr", String("stderr", content[:limit]))
	}
	return fallback
}

// Stop stops the streaming pipeline: graceful interrupt, bounded wait,
// force-kill fallback, audio teardown. The tracked handle is cleared before
// the slow parts run so concurrent callers immediately observe no stream.
// A no-op when nothing is running.
func (s *Session) Stop() {
	s.logger.Info("stopping stream")

	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		s.mu.Unlock()
		s.logger.Info("no streaming process to stop")
		return
	}
	id := s.historyID
	s.proc = nil
	s.startedAt = time.Time{}
	s.historyID = ""
	s.state = StateStopping
	s.mu.Unlock()

	s.logger.Info("sending interrupt", Int("pid", proc.pid))
	if err := proc.cmd.Process.Signal(os.Interrupt); err != nil {
		s.logger.Warn("interrupt delivery failed", Error(err))
	}

	if !proc.waitExit(s.config.StopTimeout) {
		s.logger.Warn("could not interrupt pipeline, killing instead")
		s.sweepRogueProcesses()
	}

	s.graph.Destroy()

	s.mu.Lock()
	if s.state == StateStopping {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if s.history != nil && id != "" {
		if err := s.history.RecordEnd(id, time.Now(), "stopped", ""); err != nil {
			s.logger.Warn("failed to record session end", Error(err))
		}
	}

	s.logger.Info("streaming stopped")
}

// IsActive reports whether a stream is currently running. This is the
// single source of truth and has side effects: a process found dead is
// reaped, a non-zero exit sets the sticky error, and the audio graph is
// torn down. Idempotent and safe to call concurrently.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		s.mu.Unlock()
		return false
	}
	if !proc.exited() {
		s.mu.Unlock()
		return true
	}

	code := proc.exitCode
	id := s.historyID
	errMsg := ""
	if code != 0 {
		errMsg = fmt.Sprintf("Stream ended unexpectedly (exit code: %d)", code)
		s.hasError = true
		s.lastError = errMsg
		s.state = StateErrored
	} else {
		s.state = StateIdle
	}
	s.proc = nil
	s.startedAt = time.Time{}
	s.historyID = ""
	s.mu.Unlock()

	if code != 0 {
		s.logger.Warn("streaming process exited", Int("exit_code", code))
	}
	s.graph.Destroy()

	if s.history != nil && id != "" {
		reason := "exited"
		if code != 0 {
			reason = "crashed"
		}
		if err := s.history.RecordEnd(id, time.Now(), reason, errMsg); err != nil {
			s.logger.Warn("failed to record session end", Error(err))
		}
	}
	return false
}

// Status reports the stream status for the frontend.
func (s *Session) Status() StatusSnapshot {
	active := s.IsActive()

	s.mu.Lock()
	defer s.mu.Unlock()

	duration := 0
	if active && !s.startedAt.IsZero() {
		duration = int(time.Since(s.startedAt).Seconds())
	}
	return StatusSnapshot{
		Streaming:    active,
		Error:        s.hasError,
		ErrorMessage: s.lastError,
		Duration:     duration,
	}
}

// ClearError clears the sticky error state.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.hasError = false
	s.lastError = ""
	if s.state == StateErrored {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// ReportRuntimeError sets the sticky error from a live diagnostic line,
// truncated to 200 characters. Used by the watchdog.
func (s *Session) ReportRuntimeError(line string) {
	if len(line) > 200 {
		line = line[:200]
	}
	s.logger.Error("stream connection error", String("line", line))
	s.setError(line)
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.hasError = true
	s.lastError = msg
	s.mu.Unlock()
}

// sweepRogueProcesses force-kills every pipeline process that is not the
// one currently tracked.
func (s *Session) sweepRogueProcesses() {
	s.mu.Lock()
	currentPid := 0
	if s.proc != nil {
		currentPid = s.proc.pid
	}
	s.mu.Unlock()

	for _, pid := range s.host.PipelineProcesses() {
		if pid == currentPid {
			continue
		}
		s.logger.Info("killing rogue pipeline process", Int("pid", pid))
		if err := s.host.Kill(pid); err != nil {
			s.logger.Warn("failed to kill rogue process", Int("pid", pid), Error(err))
		}
	}
}

// SweepRogueProcesses is the exported form used by the watchdog after a
// forced stop.
func (s *Session) SweepRogueProcesses() {
	s.sweepRogueProcesses()
}

// streamEnv builds the pipeline's environment: the plugin's bundled
// libraries on the loader path and the session context variables the
// capture elements need.
func (s *Session) streamEnv(display string) []string {
	env := make([]string, 0, 16)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "LD_PRELOAD=") ||
			strings.HasPrefix(kv, "LD_LIBRARY_PATH=") ||
			strings.HasPrefix(kv, "GST_PLUGIN_PATH=") ||
			strings.HasPrefix(kv, "DISPLAY=") ||
			strings.HasPrefix(kv, "HOME=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"XDG_RUNTIME_DIR=/run/user/1000",
		"XDG_SESSION_TYPE=wayland",
		"GST_VAAPI_ALL_DRIVERS=1",
		"DISPLAY="+display,
	)
	if s.config.UserHome != "" {
		env = append(env, "HOME="+s.config.UserHome)
	}
	if s.config.BinDir != "" {
		env = append(env, "LD_LIBRARY_PATH="+s.config.BinDir)
	}
	if s.config.GSTPluginPath != "" {
		env = append(env, "GST_PLUGIN_PATH="+s.config.GSTPluginPath)
	}
	return env
}

func (s *Session) micSettings(snap settings.StreamSettings) audio.MicSettings {
	return audio.MicSettings{
		Enabled:               snap.MicEnabled,
		Source:                "NA",
		GainDB:                snap.MicGain,
		NoiseReductionPercent: snap.NoiseReductionPercent,
	}
}

// EnableMicrophone attaches the microphone chain to a live graph and
// persists the flag.
func (s *Session) EnableMicrophone() error {
	if s.IsActive() && !s.graph.MicAttached() {
		snap := s.store.Snapshot()
		mic := s.micSettings(snap)
		mic.Enabled = true
		if err := s.graph.AttachMic(mic); err != nil {
			return err
		}
	}
	return s.store.SetMicEnabled(true)
}

// DisableMicrophone detaches the microphone chain from a live graph and
// persists the flag.
func (s *Session) DisableMicrophone() error {
	if s.IsActive() && s.graph.MicAttached() {
		if err := s.graph.DetachMic(); err != nil {
			return err
		}
	}
	return s.store.SetMicEnabled(false)
}

// SetMicGain persists the gain and applies it to a live chain.
func (s *Session) SetMicGain(gainDB float64) error {
	if err := s.store.SetMicGain(gainDB); err != nil {
		return err
	}
	if s.IsActive() && s.graph.MicAttached() {
		return s.graph.SetMicVolume(gainDB)
	}
	return nil
}

// SetNoiseReduction persists the denoiser intensity and rebuilds a live
// microphone chain to apply it.
func (s *Session) SetNoiseReduction(percent int) error {
	if err := s.store.SetNoiseReductionPercent(percent); err != nil {
		return err
	}
	return s.reattachMic()
}

// SetMicSource overrides the sticky microphone source and rebuilds a live
// chain. Not persisted; the resolution lasts for the session.
func (s *Session) SetMicSource(source string) error {
	s.logger.Debug("setting mic source", String("source", source))
	s.graph.SetSource(source)
	return s.reattachMic()
}

func (s *Session) reattachMic() error {
	snap := s.store.Snapshot()
	if !s.IsActive() || !snap.MicEnabled {
		return nil
	}
	if err := s.graph.DetachMic(); err != nil {
		return err
	}
	mic := s.micSettings(snap)
	mic.Enabled = true
	return s.graph.AttachMic(mic)
}

// Close releases the session's resources at plugin unload: stops any
// running stream and closes the capture sinks.
func (s *Session) Close() {
	if s.IsActive() {
		s.logger.Info("cleaning up on unload")
		s.Stop()
	}
	s.stdoutSink.Close()
	s.stderrSink.Close()
}
