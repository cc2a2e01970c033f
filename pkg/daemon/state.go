package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/events"
)

// StateWriter keeps an audit copy of the controller status on disk. The file
// is never read back into the controller.
type StateWriter struct {
	path string
	ctrl Controller
}

func NewStateWriter(path string, ctrl Controller) *StateWriter {
	return &StateWriter{path: path, ctrl: ctrl}
}

// Write replaces the state file with the current status.
func (w *StateWriter) Write() error {
	b, err := json.MarshalIndent(w.ctrl.Status(), "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal status")
	}
	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create directory for %s", w.path)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace %s", w.path)
	}

	return nil
}

// Watch rewrites the state file after every calibration event until ctx is
// done.
func (w *StateWriter) Watch(ctx context.Context, hub *events.EventHub) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	if err := w.Write(); err != nil {
		logrus.WithError(err).WithField("statePath", w.path).Error("failed to write state file")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Name {
			case events.CalibrationState, events.CalibrationCycle, events.CalibrationOffset:
			default:
				continue
			}
			if err := w.Write(); err != nil {
				logrus.WithError(err).WithField("statePath", w.path).Error("failed to write state file")
			}
		}
	}
}
