package logsink

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// truncationMarker is written at the head of a capped file after its oldest
// content has been discarded.
const truncationMarker = "... [truncated] ...\n"

// CappedFile is an append-only log file with a size cap. When the file is
// opened and already exceeds the cap, the oldest half is discarded and the
// newest half kept, so a long-lived pipeline can never fill the disk with
// stdout/stderr chatter.
type CappedFile struct {
	path string
	max  int64

	mu   sync.Mutex
	file *os.File
}

// OpenCapped opens (or creates) the capped file at path, truncating the
// oldest content first if the existing file is larger than maxBytes.
func OpenCapped(path string, maxBytes int64) (*CappedFile, error) {
	if maxBytes <= 0 {
		return nil, errors.New("logsink: max size must be > 0")
	}

	if err := truncateIfLarge(path, maxBytes); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "logsink: open capped file")
	}

	return &CappedFile{path: path, max: maxBytes, file: file}, nil
}

// truncateIfLarge keeps the newest half of the file when it exceeds max.
func truncateIfLarge(path string, max int64) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "logsink: stat")
	}
	if info.Size() <= max {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "logsink: open for truncation")
	}

	keep := max / 2
	tail := make([]byte, keep)
	if _, err := file.ReadAt(tail, info.Size()-keep); err != nil {
		file.Close()
		return errors.Wrap(err, "logsink: read tail")
	}
	file.Close()

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "logsink: rewrite")
	}
	defer out.Close()

	if _, err := out.WriteString(truncationMarker); err != nil {
		return errors.Wrap(err, "logsink: write marker")
	}
	if _, err := out.Write(tail); err != nil {
		return errors.Wrap(err, "logsink: write tail")
	}
	return nil
}

// Write appends to the file. Writes past the cap are still appended; the cap
// is enforced on the next open so an active capture is never interrupted.
func (c *CappedFile) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Write(p)
}

// Sync flushes buffered data to disk.
func (c *CappedFile) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Sync()
}

// Close closes the underlying file.
func (c *CappedFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// Path returns the file path the sink writes to.
func (c *CappedFile) Path() string {
	return c.path
}

// ReadBack returns the current contents of the sink's file. Used to recover
// captured stderr after the pipeline exits during startup.
func (c *CappedFile) ReadBack() (string, error) {
	c.mu.Lock()
	c.file.Sync()
	c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", errors.Wrap(err, "logsink: read back")
	}
	return string(data), nil
}
