// Package watch re-runs a task whenever a file of a selection changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"assetweaver/internal/asset"
	"assetweaver/internal/dag"
)

// Op is a set of file operations.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

func (o Op) String() string {
	var parts []string
	for _, p := range []struct {
		op   Op
		name string
	}{{OpCreate, "create"}, {OpWrite, "write"}, {OpRemove, "remove"}, {OpRename, "rename"}} {
		if o&p.op != 0 {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is a change to a selected file. Path is project-relative and
// slash-separated.
type Event struct {
	Path string
	Op   Op
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// Watcher runs Task on Runner for every change to a file of Selection.
//
// Every matching event starts its own run in its own goroutine; runs may
// overlap and are neither queued nor debounced.
type Watcher struct {
	Dir       string
	Selection asset.Selection
	Task      string
	Runner    *dag.Runner
	Logger    *zap.Logger

	// OnReady is called once the initial directories are watched.
	OnReady func()
	// OnEvent is called for every matching event before its run starts.
	OnEvent func(Event)
	// OnRun is called with the result of every triggered run.
	OnRun func(Event, *dag.RunResult)

	fsw *fsnotify.Watcher
	wg  sync.WaitGroup
}

// Watch blocks until ctx is done. Runs still in flight are waited for.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.Runner == nil {
		return errors.New("watch: no runner")
	}
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	if err := w.Selection.Validate(); err != nil {
		return fmt.Errorf("watch %s: %w", w.Task, err)
	}
	dir, err := filepath.Abs(w.Dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.Task, err)
	}
	w.Dir = dir

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.Task, err)
	}
	w.fsw = fsw
	defer fsw.Close()

	for _, base := range w.Selection.Bases() {
		if err := w.addRecursive(w.existing(base)); err != nil {
			return fmt.Errorf("watch %s: %w", w.Task, err)
		}
	}
	w.Logger.Info("Watching", zap.String("task", w.Task), zap.Strings("patterns", w.Selection.Include))
	if w.OnReady != nil {
		w.OnReady()
	}

	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("watch error", zap.String("task", w.Task), zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsEvent fsnotify.Event) {
	op := eventOp(fsEvent)
	if op == 0 {
		return
	}
	if op&OpCreate != 0 {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(fsEvent.Name); err != nil {
				w.Logger.Warn("watch new directory", zap.String("path", fsEvent.Name), zap.Error(err))
			}
			return
		}
	}

	rel, err := filepath.Rel(w.Dir, fsEvent.Name)
	if err != nil {
		return
	}
	ev := Event{Path: filepath.ToSlash(rel), Op: op}
	if !w.Selection.Match(ev.Path) {
		return
	}
	w.Logger.Debug("change", zap.String("path", ev.Path), zap.Stringer("op", ev.Op))
	if w.OnEvent != nil {
		w.OnEvent(ev)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		res, err := w.Runner.Run(ctx, w.Task)
		if err != nil {
			w.Logger.Error("watch run", zap.String("task", w.Task), zap.Error(err))
			return
		}
		if w.OnRun != nil {
			w.OnRun(ev, res)
		}
	}()
}

// existing returns the deepest existing directory on the way to base, so a
// selection whose base does not exist yet still sees it appear.
func (w *Watcher) existing(base string) string {
	p := filepath.Join(w.Dir, filepath.FromSlash(base))
	for {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p || !strings.HasPrefix(parent, filepath.Clean(w.Dir)) {
			return filepath.Clean(w.Dir)
		}
		p = parent
	}
}

// addRecursive watches root and every directory below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

// eventOp is the Op of an fsnotify event. An attribute-only change on a
// regular file counts as a write: touch(1) updates just the mtime, which
// inotify reports as IN_ATTRIB. Attribute changes on directories are dropped.
func eventOp(ev fsnotify.Event) Op {
	op := convertOp(ev.Op)
	if op == 0 && ev.Op.Has(fsnotify.Chmod) {
		if info, err := os.Stat(ev.Name); err == nil && info.Mode().IsRegular() {
			op = OpWrite
		}
	}
	return op
}

// convertOp maps the operations that change content or presence.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}
