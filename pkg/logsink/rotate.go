package logsink

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// RotatingWriter is a size-rotated log writer: when the active file exceeds
// maxBytes it is renamed to path.1 (shifting older backups up) and a fresh
// file is started. Holds at most backups old files.
type RotatingWriter struct {
	path    string
	max     int64
	backups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingWriter opens the rotating log at path.
func NewRotatingWriter(path string, maxBytes int64, backups int) (*RotatingWriter, error) {
	if maxBytes <= 0 {
		return nil, errors.New("logsink: max size must be > 0")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "logsink: open rotating log")
	}
	size := int64(0)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}
	return &RotatingWriter{path: path, max: maxBytes, backups: backups, file: file, size: size}, nil
}

// Write appends p, rotating first if the active file is full.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.max {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotate() error {
	w.file.Close()

	for i := w.backups; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", w.path, i)
		if i == w.backups {
			os.Remove(from)
			continue
		}
		os.Rename(from, fmt.Sprintf("%s.%d", w.path, i+1))
	}
	if w.backups > 0 {
		os.Rename(w.path, w.path+".1")
	} else {
		os.Remove(w.path)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "logsink: reopen after rotation")
	}
	w.file = file
	w.size = 0
	return nil
}

// Close closes the active file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
