package local

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gazewatch/gaze/internal/core/interfaces"
	"github.com/gazewatch/gaze/internal/metrics"
	"github.com/gazewatch/gaze/internal/watchers/registry"
	gazeerrors "github.com/gazewatch/gaze/pkg/errors"
	"github.com/gazewatch/gaze/pkg/models"
	"github.com/gazewatch/gaze/pkg/utils"
	"go.uber.org/zap"
)

// dirState is the lifecycle of a watched directory
type dirState int

const (
	dirUnwatched dirState = iota
	// pending: subscribed, no baseline listing yet
	dirPending
	// active: listing holds the children seen at the last reconciliation
	dirActive
	dirTornDown
)

func (s dirState) String() string {
	switch s {
	case dirUnwatched:
		return "unwatched"
	case dirPending:
		return "pending"
	case dirActive:
		return "active"
	case dirTornDown:
		return "torn-down"
	}
	return "unknown"
}

type dirWatch struct {
	path    string // marked
	state   dirState
	listing map[string]struct{}
}

type subscription struct {
	path string
	id   registry.ID
	dir  bool
}

// gazeSubscribe acquires a registry subscription for path. Existing
// subscriptions are kept.
func (w *GazeWatcher) gazeSubscribe(path string) error {
	if _, ok := w.subs[path]; ok {
		return nil
	}

	s := &subscription{path: path, dir: utils.IsDir(path)}
	id, err := w.registry.Acquire(path, func(ev interfaces.RawEvent) {
		w.gazePost(func() { w.gazeRaw(s, ev) })
	})
	if err != nil {
		w.gazeAcquireFailed(path, err)
		return err
	}
	s.id = id
	w.subs[path] = s
	return nil
}

func (w *GazeWatcher) gazeAcquireFailed(path string, err error) {
	switch {
	case gazeerrors.IsTransient(err):
		w.logger.Debug("Path vanished before it could be watched",
			zap.String("path", path),
			zap.Error(err),
		)
	case gazeerrors.IsTooManyOpenFiles(err), gazeerrors.IsResourceError(err):
		w.logger.Warn("Unable to watch path", zap.String("path", path), zap.Error(err))
		w.gazeDeliver(models.NewErrorEvent(err))
	default:
		w.logger.Warn("Failed to watch path", zap.String("path", path), zap.Error(err))
		w.gazeDeliver(models.NewErrorEvent(gazeerrors.NewFileSystemError("failed to watch "+path, err)))
	}
}

func (w *GazeWatcher) gazeUnsubscribe(path string) {
	s, ok := w.subs[path]
	if !ok {
		return
	}
	delete(w.subs, path)
	if err := w.registry.Release(s.id); err != nil {
		w.logger.Debug("Failed to release subscription", zap.String("path", path), zap.Error(err))
	}
}

// gazeResubscribe replaces a subscription whose underlying watch may be dead
func (w *GazeWatcher) gazeResubscribe(path string) {
	w.gazeUnsubscribe(path)
	_ = w.gazeSubscribe(path)
}

// gazeWatchDir subscribes dir and takes its first listing. A fresh
// directory has just appeared, so everything in it is new; otherwise the
// listing becomes the baseline silently.
func (w *GazeWatcher) gazeWatchDir(dir string, fresh bool) {
	if d, ok := w.dirs[dir]; ok && d.state != dirTornDown {
		return
	}
	d := &dirWatch{path: dir, state: dirUnwatched}
	if err := w.gazeSubscribe(dir); err != nil {
		return
	}
	w.dirs[dir] = d
	d.state = dirPending

	if fresh {
		w.gazeReconcile(d, true)
		return
	}

	current, err := gazeList(dir)
	if err != nil {
		w.logger.Debug("Initial listing failed, directory stays pending",
			zap.String("dir", dir),
			zap.Error(err),
		)
		metrics.ReconcileErrors.Inc()
		return
	}
	d.listing = current
	d.state = dirActive
}

// gazeRaw routes one raw event from the subscription s
func (w *GazeWatcher) gazeRaw(s *subscription, ev interfaces.RawEvent) {
	if w.subs[s.path] != s {
		// released since the event was queued
		return
	}

	w.logger.Debug("Raw event",
		zap.String("kind", ev.Kind.String()),
		zap.String("path", ev.Path),
		zap.String("new_path", ev.NewPath),
	)

	if s.dir {
		d, ok := w.dirs[s.path]
		if !ok {
			return
		}
		switch ev.Kind {
		case interfaces.RawChange:
			w.gazeReconcile(d, false)
		case interfaces.RawDelete:
			w.gazeDirGone(d)
		case interfaces.RawRename:
			w.gazeDirGone(d)
			if parent, ok := w.dirs[utils.Parent(ev.NewPath)]; ok {
				w.gazeReconcile(parent, false)
			}
		default:
			w.gazeProtocolError(s, ev)
		}
		return
	}

	switch ev.Kind {
	case interfaces.RawChange:
		w.gazeFileChanged(s)
	case interfaces.RawDelete:
		w.gazeFileDeleted(s)
	case interfaces.RawRename:
		w.gazeFileRenamed(s, ev.NewPath)
	default:
		w.gazeProtocolError(s, ev)
	}
}

// gazeReconcile re-lists d and diffs it against the last listing. Listing
// failures leave the state untouched until the next trigger.
func (w *GazeWatcher) gazeReconcile(d *dirWatch, fresh bool) {
	metrics.Reconciliations.Inc()

	info, err := os.Lstat(utils.UnmarkDir(d.path))
	if err != nil {
		w.gazeListFailed(d, err)
		return
	}
	current, err := gazeList(d.path)
	if err != nil {
		w.gazeListFailed(d, err)
		return
	}

	// without a baseline, children older than the directory predate the
	// change being reconciled; once a listing exists the diff alone decides,
	// so entries moved in with old mtimes are still discovered
	batch := d.state == dirPending && !fresh
	dirMtime := info.ModTime()

	for _, entry := range gazeDiff(d.listing, current) {
		if utils.IsDir(entry) {
			// the directory's own delete tears its subtree down
			continue
		}
		if w.tree.Has(entry) {
			w.gazeForgetFile(entry)
			w.gazeEmit(models.NewEvent(models.EventDeleted, entry))
		}
	}

	for _, entry := range gazeDiff(current, d.listing) {
		if batch && gazeOlderThan(entry, dirMtime) {
			continue
		}
		w.gazeDiscover(entry)
	}

	d.listing = current
	d.state = dirActive
}

func (w *GazeWatcher) gazeListFailed(d *dirWatch, err error) {
	metrics.ReconcileErrors.Inc()
	if gazeerrors.IsTransient(err) {
		w.logger.Debug("Skipping reconciliation", zap.String("dir", d.path), zap.Error(err))
		return
	}
	w.logger.Warn("Failed to list directory", zap.String("dir", d.path), zap.Error(err))
}

// gazeDiscover handles an entry that appeared in a watched directory
func (w *GazeWatcher) gazeDiscover(entry string) {
	if _, ok := w.ignored[entry]; ok {
		return
	}

	if utils.IsDir(entry) {
		matched := w.patterns.Match(entry)
		if !matched && !w.patterns.CouldContain(entry) {
			return
		}
		if matched && !w.gazeListed(entry) {
			w.tree.Add(entry)
			w.gazeEmit(models.NewEvent(models.EventAdded, entry))
		}
		// the directory and its first children can appear together
		w.gazeWatchDir(entry, true)
		return
	}

	if !w.patterns.Match(entry) || w.tree.Has(entry) {
		return
	}
	w.tree.Add(entry)
	_ = w.gazeSubscribe(entry)
	w.gazeEmit(models.NewEvent(models.EventAdded, entry))
}

func (w *GazeWatcher) gazeFileChanged(s *subscription) {
	if _, err := os.Lstat(s.path); err != nil {
		if os.IsNotExist(err) {
			w.gazeFileDeleted(s)
		}
		return
	}
	if w.tree.Has(s.path) {
		w.gazeEmit(models.NewEvent(models.EventChanged, s.path))
	}
}

func (w *GazeWatcher) gazeFileDeleted(s *subscription) {
	if _, err := os.Lstat(s.path); err == nil {
		// replaced in place; the old watch is dead
		w.gazeResubscribe(s.path)
		w.gazeEmit(models.NewEvent(models.EventChanged, s.path))
		return
	}
	w.gazeForgetFile(s.path)
	w.gazeEmit(models.NewEvent(models.EventDeleted, s.path))
}

func (w *GazeWatcher) gazeFileRenamed(s *subscription, newPath string) {
	old := s.path
	w.gazeForgetFile(old)

	if newPath == "" {
		w.gazeEmit(models.NewEvent(models.EventDeleted, old))
		return
	}
	if _, ok := w.ignored[newPath]; ok || !w.patterns.Match(newPath) {
		w.gazeEmit(models.NewEvent(models.EventDeleted, old))
		return
	}

	w.tree.Add(newPath)
	w.gazeResubscribe(newPath)
	if d, ok := w.dirs[utils.Parent(newPath)]; ok && d.listing != nil {
		d.listing[newPath] = struct{}{}
	} else {
		w.gazeWatchDir(utils.Parent(newPath), false)
	}
	w.gazeEmit(models.NewRenameEvent(newPath, old))
}

// gazeForgetFile drops a file from the tree, its subscription and its
// parent listing, so a re-create is seen as new
func (w *GazeWatcher) gazeForgetFile(path string) {
	w.tree.Remove(path)
	w.gazeUnsubscribe(path)
	if d, ok := w.dirs[utils.Parent(path)]; ok {
		delete(d.listing, path)
	}
}

// gazeDirGone handles the delete of a watched directory. A directory that
// exists again is re-listed instead.
func (w *GazeWatcher) gazeDirGone(d *dirWatch) {
	if info, err := os.Stat(utils.UnmarkDir(d.path)); err == nil && info.IsDir() {
		w.gazeResubscribe(d.path)
		w.gazeReconcile(d, false)
		return
	}
	w.gazeTearDownDir(d.path, true)
}

// gazeTearDownDir stops watching dir and everything below it. With emit
// set, deleted is reported for every tracked entry and for dir itself when
// it was matched.
func (w *GazeWatcher) gazeTearDownDir(dir string, emit bool) {
	listed := w.gazeListed(dir)

	for path, d := range w.dirs {
		if path == dir || strings.HasPrefix(path, dir) {
			d.state = dirTornDown
			w.gazeUnsubscribe(path)
			delete(w.dirs, path)
		}
	}

	removed := w.tree.RemoveDir(dir)
	for _, p := range removed {
		if !utils.IsDir(p) {
			w.gazeUnsubscribe(p)
		}
		if emit {
			w.gazeEmit(models.NewEvent(models.EventDeleted, p))
		}
	}
	if listed && emit {
		w.gazeEmit(models.NewEvent(models.EventDeleted, dir))
	}

	if parent, ok := w.dirs[utils.Parent(dir)]; ok {
		delete(parent.listing, dir)
	}

	w.logger.Debug("Tore down directory",
		zap.String("dir", dir),
		zap.Int("entries", len(removed)),
	)
}

// gazeListed reports whether path is an entry of its parent directory
func (w *GazeWatcher) gazeListed(path string) bool {
	for _, e := range w.tree.Children(utils.Parent(path)) {
		if e == path {
			return true
		}
	}
	return false
}

// gazeProtocolError drops a subscription whose backend sent an event the
// engine cannot interpret. The rest of the watcher keeps running.
func (w *GazeWatcher) gazeProtocolError(s *subscription, ev interfaces.RawEvent) {
	w.logger.Error("Unknown raw event, dropping subscription",
		zap.String("path", s.path),
		zap.String("kind", ev.Kind.String()),
	)
	w.gazeUnsubscribe(s.path)
	if d, ok := w.dirs[s.path]; ok {
		d.state = dirTornDown
		delete(w.dirs, s.path)
	}
	w.gazeDeliver(models.NewErrorEvent(gazeerrors.NewProtocolError(s.path, gazeerrors.ErrProtocol)))
}

// gazeEmit hands a file event to the debouncer
func (w *GazeWatcher) gazeEmit(ev *models.Event) {
	w.debouncer.Push(ev)
}

// gazeList reads dir and returns its children, directories marked
func gazeList(dir string) (map[string]struct{}, error) {
	base := utils.UnmarkDir(dir)
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		p := filepath.Join(base, e.Name())
		if e.IsDir() {
			p = utils.MarkDir(p)
		}
		current[p] = struct{}{}
	}
	return current, nil
}

// gazeDiff returns the sorted entries of a missing from b
func gazeDiff(a, b map[string]struct{}) []string {
	var out []string
	for p := range a {
		if _, ok := b[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// gazeOlderThan reports whether entry was last modified strictly before t.
// Entries that cannot be stated are treated as old.
func gazeOlderThan(entry string, t time.Time) bool {
	info, err := os.Lstat(utils.UnmarkDir(entry))
	if err != nil {
		return true
	}
	return t.Sub(info.ModTime()) > 0
}
