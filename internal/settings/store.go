// Package settings implements the settings store: an in-memory mirror of a
// persisted namespace with per-key change listeners.
//
// Writes are visible to Get immediately. Listeners only run when the adapter
// reports the change back, so a local Set reaches listeners after the same
// round-trip as a change made by another process.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/betterseqta/settings-go/internal/models"
	"github.com/betterseqta/settings-go/internal/storage"
)

// State is the hydration state of a Store.
type State int

const (
	Uninitialized State = iota
	Hydrating
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Hydrating:
		return "hydrating"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Listener is called with the new and previous value of one key.
// A nil value means the key is absent.
type Listener func(newValue, oldValue any)

// GlobalListener is called for every changed key.
type GlobalListener func(newValue, oldValue any, key string)

// SnapshotFunc receives the whole namespace.
type SnapshotFunc func(models.Namespace)

// Unregister removes a previously registered callback. It is idempotent.
type Unregister func()

type entry[F any] struct {
	id uint64
	fn F
}

// Store mirrors a storage.Adapter namespace in memory.
type Store struct {
	adapter storage.Adapter
	log     *slog.Logger
	onError func(error)
	limiter *rate.Limiter

	mu        sync.RWMutex
	mirror    models.Namespace
	touched   map[string]struct{} // keys changed before hydration finished; nil once Ready
	listeners map[string][]entry[Listener]
	globals   []entry[GlobalListener]
	snapshots []entry[SnapshotFunc]
	nextID    uint64
	state     State
	closed    bool

	ready     chan struct{}
	readyOnce sync.Once
	hydrating chan struct{} // one hydration attempt at a time

	queue persistQueue

	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	unsubscribe   func()
	unwatchErrors func()
}

// New creates a store over adapter and starts hydrating it in the background.
func New(adapter storage.Adapter, opts ...Option) *Store {
	s := &Store{
		adapter:   adapter,
		log:       slog.Default(),
		mirror:    make(models.Namespace),
		touched:   make(map[string]struct{}),
		listeners: make(map[string][]entry[Listener]),
		ready:     make(chan struct{}),
		hydrating: make(chan struct{}, 1),
		queue:     persistQueue{wake: make(chan struct{}, 1)},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Subscribe before reading so no change falls between snapshot and stream.
	s.unsubscribe = adapter.OnChange(s.handleChanges)
	if n, ok := adapter.(storage.WriteErrorNotifier); ok {
		s.unwatchErrors = n.OnWriteError(s.deferredWriteFailed)
	}

	s.state = Hydrating
	s.wg.Add(2)
	go s.persistLoop()
	go func() {
		defer s.wg.Done()
		_ = s.hydrate(s.ctx)
	}()
	return s
}

// State returns the current hydration state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready is closed once the first hydration has completed.
func (s *Store) Ready() <-chan struct{} { return s.ready }

// WaitReady blocks until the store is Ready or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the mirrored value of key. It never reads the adapter; during
// hydration a persisted key may still be missing.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.mirror[key]
	return models.CloneValue(v), ok
}

// All returns a copy of the mirror.
func (s *Store) All() models.Namespace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror.Clone()
}

// Len returns the number of mirrored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mirror)
}

// Set stores value under key in the mirror and queues a write of that key to
// the adapter. Persistence failures are not returned; they go to the error
// handler. A nil value deletes the key.
func (s *Store) Set(key string, value any) error {
	v, err := models.Normalize(value)
	if err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrInvalidArgument, key, err)
	}
	if v == nil {
		return s.Delete(key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.mirror[key] = v
	s.touchLocked(key)
	s.queue.push(persistOp{kind: opWrite, keys: []string{key}, values: models.Namespace{key: models.CloneValue(v)}})
	return nil
}

// SetMany applies several keys at once and queues a single write.
func (s *Store) SetMany(values map[string]any) error {
	ns, err := models.NormalizeAll(values)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	var removed []string
	for k := range values {
		if nv, ok := ns[k]; ok {
			s.mirror[k] = nv
		} else {
			delete(s.mirror, k)
			removed = append(removed, k)
		}
		s.touchLocked(k)
	}
	if len(ns) > 0 {
		keys := make([]string, 0, len(ns))
		for k := range ns {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		s.queue.push(persistOp{kind: opWrite, keys: keys, values: ns.Clone()})
	}
	if len(removed) > 0 {
		s.queue.push(persistOp{kind: opRemove, keys: removed})
	}
	return nil
}

// Delete removes key from the mirror and queues its removal from the adapter.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.mirror, key)
	s.touchLocked(key)
	s.queue.push(persistOp{kind: opRemove, keys: []string{key}})
	return nil
}

// Register appends fn to the listeners of key. Listeners of one key run in
// registration order.
func (s *Store) Register(key string, fn Listener) (Unregister, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil listener for %q", ErrInvalidArgument, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked()
	s.listeners[key] = append(s.listeners[key], entry[Listener]{id: id, fn: fn})

	return s.unregisterFunc(func() {
		s.listeners[key] = slices.DeleteFunc(s.listeners[key], func(e entry[Listener]) bool { return e.id == id })
		if len(s.listeners[key]) == 0 {
			delete(s.listeners, key)
		}
	}), nil
}

// RegisterGlobal adds fn to the listeners for every key. Global listeners run
// after the key's own listeners.
func (s *Store) RegisterGlobal(fn GlobalListener) (Unregister, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil global listener", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked()
	s.globals = append(s.globals, entry[GlobalListener]{id: id, fn: fn})

	return s.unregisterFunc(func() {
		s.globals = slices.DeleteFunc(s.globals, func(e entry[GlobalListener]) bool { return e.id == id })
	}), nil
}

// Subscribe calls fn with the current namespace, then again after hydration
// and after every successful persist.
func (s *Store) Subscribe(fn SnapshotFunc) (Unregister, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil snapshot subscriber", ErrInvalidArgument)
	}
	s.mu.Lock()
	id := s.nextIDLocked()
	s.snapshots = append(s.snapshots, entry[SnapshotFunc]{id: id, fn: fn})
	snap := s.mirror.Clone()
	s.mu.Unlock()

	s.invoke("*", func() { fn(snap) })

	return s.unregisterFunc(func() {
		s.snapshots = slices.DeleteFunc(s.snapshots, func(e entry[SnapshotFunc]) bool { return e.id == id })
	}), nil
}

func (s *Store) nextIDLocked() uint64 {
	s.nextID++
	return s.nextID
}

func (s *Store) unregisterFunc(remove func()) Unregister {
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			remove()
		})
	}
}

func (s *Store) touchLocked(key string) {
	if s.touched != nil {
		s.touched[key] = struct{}{}
	}
}

// Rehydrate retries the initial load after a HydrationError. It is a no-op
// once the store is Ready.
func (s *Store) Rehydrate(ctx context.Context) error {
	return s.hydrate(ctx)
}

func (s *Store) hydrate(ctx context.Context) error {
	select {
	case s.hydrating <- struct{}{}:
		defer func() { <-s.hydrating }()
	case <-ctx.Done():
		return ctx.Err()
	}
	if s.State() == Ready {
		return nil
	}

	ns, err := s.adapter.ReadAll(ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return err
		}
		herr := &HydrationError{Err: err}
		s.log.Error("settings: hydration failed", "err", err)
		s.report(herr)
		return herr
	}

	s.mu.Lock()
	merged := 0
	for k, v := range ns {
		// Local writes and notifications seen during hydration are newer.
		if _, ok := s.touched[k]; ok {
			continue
		}
		s.mirror[k] = v
		merged++
	}
	s.touched = nil
	s.state = Ready
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Debug("settings: hydrated", "keys", len(ns), "merged", merged)
	s.notifySnapshots()
	return nil
}

// handleChanges applies one adapter notification batch: update the mirror,
// then run the key's listeners and the global listeners, key by key.
func (s *Store) handleChanges(c models.Changes) {
	for _, key := range c.Keys() {
		change := c[key]

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if change.Removed() {
			delete(s.mirror, key)
		} else {
			s.mirror[key] = models.CloneValue(change.NewValue)
		}
		s.touchLocked(key)
		listeners := slices.Clone(s.listeners[key])
		globals := slices.Clone(s.globals)
		s.mu.Unlock()

		for _, l := range listeners {
			s.invoke(key, func() {
				l.fn(models.CloneValue(change.NewValue), models.CloneValue(change.OldValue))
			})
		}
		for _, g := range globals {
			s.invoke(key, func() {
				g.fn(models.CloneValue(change.NewValue), models.CloneValue(change.OldValue), key)
			})
		}
	}
}

// invoke runs a callback, isolating panics so the remaining callbacks still run.
func (s *Store) invoke(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("settings: listener panicked", "key", key, "panic", r)
			s.report(&ListenerError{Key: key, Panic: r})
		}
	}()
	fn()
}

func (s *Store) notifySnapshots() {
	s.mu.RLock()
	subs := slices.Clone(s.snapshots)
	s.mu.RUnlock()
	if len(subs) == 0 {
		return
	}
	for _, sub := range subs {
		snap := s.All()
		s.invoke("*", func() { sub.fn(snap) })
	}
}

func (s *Store) report(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// deferredWriteFailed reports a write the adapter buffered and failed to
// make durable after WriteAll or Remove had already succeeded.
func (s *Store) deferredWriteFailed(keys []string, err error) {
	s.log.Error("settings: deferred persist failed", "keys", keys, "err", err)
	s.report(&PersistError{Op: "write", Keys: keys, Err: err})
}

// Flush waits until every queued write has been attempted. If the adapter
// buffers writes, Flush also waits for it to write them and returns its error
// as a *PersistError.
func (s *Store) Flush(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	done := make(chan struct{})
	s.queue.push(persistOp{kind: opBarrier, done: done})
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
	if f, ok := s.adapter.(storage.Flusher); ok {
		if err := f.Flush(); err != nil {
			return &PersistError{Op: "flush", Err: err}
		}
	}
	return nil
}

// Close flushes queued writes, detaches from the adapter and stops the
// store's goroutines. The adapter itself is not closed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Flush(ctx)
	s.unsubscribe()
	if s.unwatchErrors != nil {
		s.unwatchErrors()
	}
	s.cancel()
	s.wg.Wait()
	if n := s.queue.len(); n > 0 {
		s.log.Warn("settings: dropped queued writes on close", "ops", n)
	}
	return err
}
