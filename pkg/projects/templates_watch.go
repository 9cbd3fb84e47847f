package projects

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/crew/pkg/observability"
)

// TemplateWatcher reloads a Service's role templates whenever their file is
// written. A file that fails to parse or validate is logged and ignored; the
// previous templates stay in use.
type TemplateWatcher struct {
	service *Service
	path    string
	watcher *fsnotify.Watcher
	logger  *observability.Logger

	// reloaded is called after every reload attempt
	reloaded func(err error)
}

// NewTemplateWatcher loads path into service and starts watching it. The
// directory is watched rather than the file so editors that replace the file
// are still seen.
func NewTemplateWatcher(service *Service, path string, logger *observability.Logger) (*TemplateWatcher, error) {
	path = filepath.Clean(path)
	w := &TemplateWatcher{service: service, path: path, logger: logger}
	if err := w.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	w.watcher = watcher
	return w, nil
}

// Run processes file events until ctx is done or the watcher is closed
func (w *TemplateWatcher) Run(ctx context.Context) {
	defer observability.RecoverPanic(w.logger, "template watcher")

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			err := w.reload()
			if err != nil {
				w.logger.WithError(err).WithField("path", w.path).Warn("Ignoring invalid role templates")
			} else {
				w.logger.WithField("path", w.path).Info("Reloaded role templates")
			}
			if w.reloaded != nil {
				w.reloaded(err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Template watcher error")
		}
	}
}

// Close stops watching
func (w *TemplateWatcher) Close() error {
	return w.watcher.Close()
}

func (w *TemplateWatcher) reload() error {
	templates, err := LoadTemplates(w.path)
	if err != nil {
		return err
	}
	return w.service.SetTemplates(templates)
}
