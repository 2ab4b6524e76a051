package logsink

import (
	"bytes"
	"sync"
)

// LineFeed is an io.Writer that splits incoming bytes into lines and keeps
// them in a bounded channel. Readers drain lines without blocking; when the
// channel is full the oldest unread line is dropped rather than stalling the
// writer, so the pipeline's stderr can be teed through it safely.
type LineFeed struct {
	lines chan string

	mu      sync.Mutex
	partial bytes.Buffer
}

// NewLineFeed creates a feed buffering up to capacity unread lines.
func NewLineFeed(capacity int) *LineFeed {
	if capacity <= 0 {
		capacity = 64
	}
	return &LineFeed{lines: make(chan string, capacity)}
}

// Write implements io.Writer. Never returns an error; dropped lines are the
// overflow behavior, not a failure.
func (f *LineFeed) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.partial.Write(p)
	for {
		data := f.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(data[:idx], "\r"))
		f.partial.Next(idx + 1)
		if line == "" {
			continue
		}
		select {
		case f.lines <- line:
		default:
			// Full: drop the oldest line to make room for the newest.
			select {
			case <-f.lines:
			default:
			}
			select {
			case f.lines <- line:
			default:
			}
		}
	}
	return len(p), nil
}

// Drain discards every buffered line and any accumulated partial line, so
// output from a finished writer is never attributed to the next one.
func (f *LineFeed) Drain() {
	f.mu.Lock()
	f.partial.Reset()
	f.mu.Unlock()
	for {
		select {
		case <-f.lines:
		default:
			return
		}
	}
}

// TryLine returns the next buffered line without blocking. The second return
// is false when no complete line is available.
func (f *LineFeed) TryLine() (string, bool) {
	select {
	case line := <-f.lines:
		return line, true
	default:
		return "", false
	}
}
