package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"gantry/pkg/logging"
)

// WatchDefinition watches the application definition file and invokes
// onChange whenever it is written or replaced. The running application is
// never reconfigured in place; the callback's job is to tell the user the
// file has drifted from what is running. Watching stops when ctx is
// cancelled.
//
// The watch is placed on the parent directory because editors typically
// replace files via rename, which drops a watch placed on the file
// itself.
func WatchDefinition(ctx context.Context, path string, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logging.Warn("Config", "application definition %s changed on disk; restart to apply", abs)
				if onChange != nil {
					onChange(abs)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("Config", err, "definition watcher error")
			}
		}
	}()
	return nil
}
