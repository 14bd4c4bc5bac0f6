package main

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "re-run status whenever a project .sql file changes",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	proj, err := LoadProject(flagProjectFile)
	if err != nil {
		return err
	}

	w, err := newSchemaWatcher(proj, 150*time.Millisecond)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(); err != nil {
		return err
	}

	fmt.Printf("%s: watching %d file(s), ctrl-c to stop\n", printKeyword("watch"), len(proj.Files))
	if err := runStatus(cmd, args); err != nil {
		printErrf("%s", err)
	}
	for range w.Events() {
		fmt.Println()
		if err := runStatus(cmd, args); err != nil {
			printErrf("%s", err)
		}
	}
	return w.Err()
}

// schemaWatcher debounces fsnotify events across every watched .sql
// file into a single re-run signal. Grounded on ry256-slb's
// internal/daemon Watcher (events/errors channels, a debounce window,
// and a pending-op map flushed on a timer) — adapted here to collapse
// bursts of writes across *several* files (the teacher's watcher only
// ever debounces within one path) into one rebuild trigger.
type schemaWatcher struct {
	fs     *fsnotify.Watcher
	window time.Duration

	mu      sync.Mutex
	pending bool
	timer   *time.Timer

	events chan struct{}
	errc   chan error
	err    error
}

func newSchemaWatcher(proj *Project, window time.Duration) (*schemaWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	dirs := map[string]bool{}
	for _, f := range proj.Files {
		full := f
		if !filepath.IsAbs(full) {
			full = filepath.Join(proj.dir, f)
		}
		dirs[filepath.Dir(full)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return &schemaWatcher{
		fs:     fsw,
		window: window,
		events: make(chan struct{}, 1),
		errc:   make(chan error, 1),
	}, nil
}

func (w *schemaWatcher) Start() error {
	go w.loop()
	return nil
}

func (w *schemaWatcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				close(w.events)
				return
			}
			if filepath.Ext(ev.Name) != ".sql" {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				continue
			}
			w.err = err
		}
	}
}

func (w *schemaWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.window)
		return
	}
	w.timer = time.AfterFunc(w.window, func() {
		select {
		case w.events <- struct{}{}:
		default:
		}
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
	})
}

func (w *schemaWatcher) Events() <-chan struct{} { return w.events }

func (w *schemaWatcher) Err() error { return w.err }

func (w *schemaWatcher) Stop() error {
	return w.fs.Close()
}
