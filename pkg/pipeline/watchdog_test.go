package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deckstream/deckstream/pkg/logsink"
)

type fakeControl struct {
	mu         sync.Mutex
	active     bool
	startCalls int
	stopCalls  int
	sweepCalls int
	reported   []string
	feed       *logsink.LineFeed
}

func newFakeControl(active bool) *fakeControl {
	return &fakeControl{active: active, feed: logsink.NewLineFeed(16)}
}

func (c *fakeControl) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *fakeControl) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
	c.active = true
	return nil
}

func (c *fakeControl) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	c.active = false
}

func (c *fakeControl) ReportRuntimeError(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = append(c.reported, line)
}

func (c *fakeControl) SweepRogueProcesses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepCalls++
}

func (c *fakeControl) StderrFeed() *logsink.LineFeed { return c.feed }

func newTestWatchdog(control SessionControl, host Host) *Watchdog {
	w := NewWatchdog(control, host, NullLogger())
	w.interval = 10 * time.Millisecond
	w.resumeSettle = time.Millisecond
	return w
}

func TestWatchdogStopsStreamOutsideGameMode(t *testing.T) {
	control := newFakeControl(true)
	host := &fakeHost{gameMode: false, wakeups: 1}
	w := newTestWatchdog(control, host)

	w.pass()

	assert.Equal(t, 1, control.stopCalls)
	assert.Equal(t, 1, control.sweepCalls)
	assert.False(t, control.IsActive())
}

func TestWatchdogLeavesIdleSessionAlone(t *testing.T) {
	control := newFakeControl(false)
	host := &fakeHost{gameMode: false, wakeups: 1}
	w := newTestWatchdog(control, host)

	w.pass()

	assert.Equal(t, 0, control.stopCalls)
	assert.Equal(t, 0, control.startCalls)
}

func TestWatchdogReportsConnectionError(t *testing.T) {
	control := newFakeControl(true)
	host := &fakeHost{gameMode: true, wakeups: 1}
	w := newTestWatchdog(control, host)

	control.feed.Write([]byte("rtmpsink0: Connection refused\n"))
	w.pass()

	assert.Equal(t, []string{"rtmpsink0: Connection refused"}, control.reported)
}

func TestWatchdogIgnoresOrdinaryStderr(t *testing.T) {
	control := newFakeControl(true)
	host := &fakeHost{gameMode: true, wakeups: 1}
	w := newTestWatchdog(control, host)

	control.feed.Write([]byte("Setting pipeline to PLAYING\n"))
	w.pass()

	assert.Empty(t, control.reported)
}

func TestWatchdogRestartsAfterResume(t *testing.T) {
	control := newFakeControl(true)
	host := &fakeHost{gameMode: true, wakeups: 5}
	w := newTestWatchdog(control, host)
	w.wakeupBaseline = 5

	// No jump yet.
	w.pass()
	assert.Equal(t, 0, control.stopCalls)
	assert.Equal(t, 0, control.startCalls)

	// The device suspended and resumed; the counter jumped past the
	// baseline.
	host.mu.Lock()
	host.wakeups = 8
	host.mu.Unlock()

	w.pass()
	assert.Equal(t, 1, control.stopCalls)
	assert.Equal(t, 1, control.startCalls)
	assert.Equal(t, 8, w.wakeupBaseline)

	// A second pass at the same count does nothing.
	w.pass()
	assert.Equal(t, 1, control.stopCalls)
	assert.Equal(t, 1, control.startCalls)
}

func TestWatchdogResumeWithIdleSessionOnlyAdvancesBaseline(t *testing.T) {
	control := newFakeControl(false)
	host := &fakeHost{gameMode: true, wakeups: 9}
	w := newTestWatchdog(control, host)
	w.wakeupBaseline = 2

	w.pass()

	assert.Equal(t, 0, control.startCalls)
	assert.Equal(t, 0, control.stopCalls)
	assert.Equal(t, 9, w.wakeupBaseline)
}

func TestWatchdogRunStopsOnCancel(t *testing.T) {
	control := newFakeControl(false)
	host := &fakeHost{gameMode: true, wakeups: 1}
	w := newTestWatchdog(control, host)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop on cancel")
	}
}
