package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/betterseqta/settings-go/internal/models"
)

const settingsFileName = "settings.json"

// errEmptyFile marks a settings file caught mid-write by another process.
var errEmptyFile = errors.New("storage: empty settings file")

// JSONAdapter stores the namespace in one JSON file, written atomically.
// With a debounce, writes become visible to in-process subscribers at once and
// reach the disk after the delay; Flush forces the write. Rewrites of the file
// by other processes are picked up through fsnotify and reported as changes.
type JSONAdapter struct {
	mu       sync.Mutex
	path     string
	debounce time.Duration
	data     models.Namespace // in-process view
	onDisk   models.Namespace // last content read from or written to the file
	timer    *time.Timer
	dirty    bool
	pending  map[string]struct{} // keys changed since the last disk write
	closed   bool

	errSubs   []errSubscriber
	nextErrID int

	disp    *dispatcher
	watcher *fsnotify.Watcher
	done    chan struct{}
}

type errSubscriber struct {
	id int
	fn WriteErrorFunc
}

// JSONOption configures a JSONAdapter.
type JSONOption func(*JSONAdapter)

// WithDebounce delays disk writes until d has passed without further writes.
func WithDebounce(d time.Duration) JSONOption {
	return func(s *JSONAdapter) { s.debounce = d }
}

// NewJSONAdapter opens (or creates on first write) settings.json in dir.
func NewJSONAdapter(dir string, opts ...JSONOption) (*JSONAdapter, error) {
	s := &JSONAdapter{
		path: filepath.Join(dir, settingsFileName),
		disp: newDispatcher(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ns, err := s.readFile()
	if err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errEmptyFile) {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
			s.disp.close()
			return nil, err
		}
		slog.Warn("storage: corrupt settings file, starting empty", "path", s.path, "err", err)
	}
	if ns == nil {
		ns = make(models.Namespace)
	}
	s.data = ns
	s.onDisk = ns.Clone()

	if err := os.MkdirAll(dir, 0755); err != nil {
		s.disp.close()
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("storage: could not create fsnotify watcher", "err", err)
		close(s.done)
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("storage: could not watch settings dir", "dir", dir, "err", err)
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

// Path returns the settings file path.
func (s *JSONAdapter) Path() string { return s.path }

// ReadAll returns a copy of the in-process namespace.
func (s *JSONAdapter) ReadAll(ctx context.Context) (models.Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.data.Clone(), nil
}

// WriteAll upserts ns.
func (s *JSONAdapter) WriteAll(ctx context.Context, ns models.Namespace) error {
	return s.mutate(ctx, func(next models.Namespace) models.Changes {
		return next.Merge(ns)
	})
}

// Remove deletes keys.
func (s *JSONAdapter) Remove(ctx context.Context, keys ...string) error {
	return s.mutate(ctx, func(next models.Namespace) models.Changes {
		return next.Remove(keys...)
	})
}

func (s *JSONAdapter) mutate(ctx context.Context, fn func(models.Namespace) models.Changes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	next := s.data.Clone()
	changes := fn(next)
	if len(changes) == 0 {
		return nil
	}

	if s.debounce <= 0 {
		if err := s.writeLocked(next); err != nil {
			return err
		}
		s.data = next
		s.disp.publish(changes)
		return nil
	}

	s.data = next
	s.dirty = true
	if s.pending == nil {
		s.pending = make(map[string]struct{})
	}
	for k := range changes {
		s.pending[k] = struct{}{}
	}
	s.disp.publish(changes)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.writeDeferred)
	return nil
}

// writeDeferred runs when the debounce timer fires. A failed write stays
// dirty, so the next Flush retries it and returns the error.
func (s *JSONAdapter) writeDeferred() {
	s.mu.Lock()
	if !s.dirty || s.closed {
		s.mu.Unlock()
		return
	}
	keys := s.pendingKeysLocked()
	err := s.writeLocked(s.data)
	subs := slices.Clone(s.errSubs)
	s.mu.Unlock()

	if err == nil {
		return
	}
	slog.Error("storage: failed to write settings", "path", s.path, "keys", keys, "err", err)
	for _, sub := range subs {
		sub.fn(keys, err)
	}
}

func (s *JSONAdapter) pendingKeysLocked() []string {
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// OnWriteError subscribes fn to failures of debounced writes.
func (s *JSONAdapter) OnWriteError(fn WriteErrorFunc) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextErrID
	s.nextErrID++
	s.errSubs = append(s.errSubs, errSubscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.errSubs = slices.DeleteFunc(s.errSubs, func(e errSubscriber) bool { return e.id == id })
	}
}

// Flush forces an immediate write of any pending debounced state.
func (s *JSONAdapter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *JSONAdapter) flushLocked() error {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		return nil
	}
	return s.writeLocked(s.data)
}

// OnChange subscribes fn to change batches.
func (s *JSONAdapter) OnChange(fn ChangeFunc) func() {
	return s.disp.subscribe(fn)
}

// Close flushes pending writes and stops the watcher.
func (s *JSONAdapter) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	s.mu.Unlock()

	if s.watcher != nil {
		s.watcher.Close()
	}
	<-s.done
	s.disp.close()
	return err
}

func (s *JSONAdapter) readFile() (models.Namespace, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyFile
	}
	var ns models.Namespace
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, err
	}
	if ns == nil {
		ns = make(models.Namespace)
	}
	for k, v := range ns {
		if v == nil {
			delete(ns, k)
		}
	}
	return ns, nil
}

func (s *JSONAdapter) writeLocked(ns models.Namespace) error {
	data, err := json.MarshalIndent(ns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	// Write to a temp file unique to this write, then rename (atomic on Linux).
	// Other processes writing the same file use their own temp files.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "settings-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	s.onDisk = ns.Clone()
	s.dirty = false
	clear(s.pending)
	return nil
}

func (s *JSONAdapter) watchLoop() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name == s.path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				s.reload()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("storage: watcher error", "err", err)
		}
	}
}

// reload applies keys that another process changed in the file since this
// adapter last read or wrote it.
func (s *JSONAdapter) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	disk, err := s.readFile()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errEmptyFile) {
			slog.Warn("storage: failed to reload settings file", "path", s.path, "err", err)
		}
		return
	}

	external := models.Diff(s.onDisk, disk)
	if len(external) == 0 {
		return
	}
	s.onDisk = disk

	updates := make(models.Namespace, len(external))
	for k, c := range external {
		updates[k] = c.NewValue
	}
	changes := s.data.Merge(updates)
	slog.Debug("storage: external settings change", "path", s.path, "keys", changes.Keys())
	s.disp.publish(changes)
}

var (
	_ Adapter            = (*JSONAdapter)(nil)
	_ Flusher            = (*JSONAdapter)(nil)
	_ WriteErrorNotifier = (*JSONAdapter)(nil)
)
