package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/deckstream/deckstream/pkg/logsink"
)

// SessionControl is what the watchdog drives. It communicates with the
// lifecycle manager purely through these public operations; both sides
// tolerate idempotent concurrent calls, so no private channel is needed.
type SessionControl interface {
	IsActive() bool
	Start() error
	Stop()
	ReportRuntimeError(line string)
	SweepRogueProcesses()
	StderrFeed() *logsink.LineFeed
}

// Watchdog is the perpetual reconciliation loop: every pass it compares
// observed host state against the session's desired state and corrects
// drift through the session's own start/stop operations. It runs for the
// plugin's whole lifetime and is cancelled only at unload.
type Watchdog struct {
	session SessionControl
	host    Host
	logger  Logger

	// interval is the fixed pause between passes.
	interval time.Duration

	// resumeSettle is the wait after a detected resume before restarting,
	// giving capture devices time to re-attach.
	resumeSettle time.Duration

	// wakeupBaseline is the last observed sleep/wake cycle count. A jump
	// of more than one means the device suspended and resumed.
	wakeupBaseline int
}

// NewWatchdog creates a watchdog over the given session and host.
func NewWatchdog(session SessionControl, host Host, logger Logger) *Watchdog {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &Watchdog{
		session:        session,
		host:           host,
		logger:         logger.With(String("component", "watchdog")),
		interval:       2 * time.Second,
		resumeSettle:   time.Second,
		wakeupBaseline: 1,
	}
}

// Run executes the reconciliation loop until ctx is cancelled. A failure in
// one pass never terminates supervision.
func (w *Watchdog) Run(ctx context.Context) {
	w.logger.Info("watchdog started")
	for {
		w.pass()
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-time.After(w.interval):
		}
	}
}

// pass is one evaluate-and-act cycle.
func (w *Watchdog) pass() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watchdog pass panicked", String("panic", fmt.Sprint(r)))
		}
	}()

	inGameMode := w.host.InGameMode()
	active := w.session.IsActive()

	// Stop streaming if the device left game mode, then sweep anything
	// that ignored the interrupt.
	if !inGameMode && active {
		w.logger.Warn("left gamemode but streaming was still running, stopping stream")
		w.session.Stop()
		w.session.SweepRogueProcesses()
		active = false
	}

	// Peek at live stderr for connection failures. TryLine never blocks,
	// so a quiet pipeline costs the loop nothing.
	if active {
		if line, ok := w.session.StderrFeed().TryLine(); ok {
			if MatchesConnectionError(line) {
				w.session.ReportRuntimeError(line)
			}
		}
	}

	w.checkResume()
}

// checkResume restarts the stream after a detected suspend/resume cycle.
// Resume leaves the capture sources stale in a way only a full pipeline
// restart fixes, and no explicit resume event reaches this layer.
func (w *Watchdog) checkResume() {
	count, err := w.host.WakeupCount()
	if err != nil {
		w.logger.Debug("could not read wakeup count", Error(err))
		return
	}

	if count > w.wakeupBaseline+1 {
		if w.session.IsActive() {
			time.Sleep(w.resumeSettle)
			w.logger.Warn("wakeup from sleep detected, restarting stream")
			w.session.Stop()
			if err := w.session.Start(); err != nil {
				w.logger.Error("restart after resume failed", Error(err))
			}
		}
		w.wakeupBaseline = count
	}
}
