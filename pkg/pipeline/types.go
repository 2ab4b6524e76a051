package pipeline

// SessionState represents the current state of the stream session
type SessionState int

const (
	StateIdle SessionState = iota
	StateStarting
	StateActive
	StateStopping
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// StatusSnapshot is the stream status reported to the frontend.
type StatusSnapshot struct {
	Streaming    bool   `json:"streaming"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message"`
	Duration     int    `json:"duration"`
}

// Host abstracts the facts the session core observes about the machine it
// runs on. pkg/system provides the real implementation; tests substitute a
// fake.
type Host interface {
	// InGameMode reports whether the gamescope session is running.
	InGameMode() bool

	// PipelineProcesses returns the pids of running pipeline processes,
	// identified by the capture-sink marker in their command line.
	PipelineProcesses() []int

	// Kill delivers SIGKILL to pid.
	Kill(pid int) error

	// WakeupCount reads the kernel's sleep/wake cycle counter.
	WakeupCount() (int, error)

	// DetectDisplay returns the X display the pipeline should capture,
	// preferring the nested game display.
	DetectDisplay() string

	// RTMPSinkAvailable probes the GStreamer runtime for the rtmpsink
	// element.
	RTMPSinkAvailable() bool
}
