// Package logfile provides a logrus hook that mirrors log entries into a
// size-capped file. When the file reaches its cap it is moved to
// <path>.bak, replacing any older backup, and a fresh file is started.
package logfile

import (
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultMaxBytes int64 = 500000

type Hook struct {
	mu        sync.Mutex
	path      string
	maxBytes  int64
	levels    []logrus.Level
	formatter logrus.Formatter

	f    *os.File
	size int64
}

// New opens (or creates) path for appending. Entries at level and above are
// written. A maxBytes of 0 or less selects DefaultMaxBytes.
func New(path string, maxBytes int64, level logrus.Level) (*Hook, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	h := &Hook{
		path:     path,
		maxBytes: maxBytes,
		formatter: &logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		},
	}
	for _, l := range logrus.AllLevels {
		if l <= level {
			h.levels = append(h.levels, l)
		}
	}

	if err := h.open(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to format log entry")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.f == nil {
		return pkgerrors.New("log file is closed")
	}

	var rotateErr error
	if h.size > 0 && h.size+int64(len(b)) > h.maxBytes {
		rotateErr = h.rotate()
		if h.f == nil {
			return rotateErr
		}
	}

	n, err := h.f.Write(b)
	h.size += int64(n)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write log file %s", h.path)
	}

	return rotateErr
}

// Close closes the underlying file. Later entries are dropped.
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}

func (h *Hook) open() error {
	f, err := os.OpenFile(h.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open log file %s", h.path)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return pkgerrors.Wrapf(err, "failed to stat log file %s", h.path)
	}

	h.f = f
	h.size = st.Size()
	return nil
}

// rotate must not log through logrus: it runs inside Fire with h.mu held.
func (h *Hook) rotate() error {
	closeErr := h.f.Close()
	h.f = nil

	if err := os.Rename(h.path, h.path+".bak"); err != nil {
		// keep appending to the oversized file rather than dropping entries
		if openErr := h.open(); openErr != nil {
			return pkgerrors.Wrapf(openErr, "failed to rotate log file %s: %v", h.path, err)
		}
		return pkgerrors.Wrapf(err, "failed to rotate log file %s", h.path)
	}

	if err := h.open(); err != nil {
		return err
	}
	if closeErr != nil {
		return pkgerrors.Wrapf(closeErr, "failed to close log file %s before rotation", h.path)
	}
	return nil
}
