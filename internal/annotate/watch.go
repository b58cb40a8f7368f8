package annotate

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
)

// Watch re-annotates matching files as they change, debouncing bursts of
// filesystem events. It blocks until ctx is done.
func (a *Annotator) Watch(ctx context.Context, debounce time.Duration, onPass func(*Report)) error {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch every directory under root; fsnotify is not recursive.
	addDirs := func() error {
		return filepath.WalkDir(a.opts.Root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if d.Name() == "node_modules" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		})
	}
	if err := addDirs(); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				// A new directory needs its own watch.
				_ = addDirs()
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				debug.LogAnnotate("change: %s\n", ev.Name)
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.LogAnnotate("watch error: %v\n", err)
		case <-fire:
			report, err := a.Run(ctx)
			if err != nil {
				return err
			}
			if onPass != nil {
				onPass(report)
			}
		}
	}
}
