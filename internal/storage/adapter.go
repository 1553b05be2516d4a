// Package storage holds the persistence adapters behind the settings engine
// and the schema migration applied to stored namespaces.
package storage

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/betterseqta/settings-go/internal/models"
)

// ErrClosed is returned by adapter operations after Close.
var ErrClosed = errors.New("storage: adapter closed")

// ChangeFunc receives one notification batch.
type ChangeFunc func(models.Changes)

// Adapter is the durable key/value namespace behind a settings store.
type Adapter interface {
	// ReadAll returns a copy of the entire namespace.
	ReadAll(ctx context.Context) (models.Namespace, error)

	// WriteAll upserts the given keys. Keys not present are left alone.
	// A nil value removes the key.
	WriteAll(ctx context.Context, ns models.Namespace) error

	// Remove deletes keys. Absent keys are ignored.
	Remove(ctx context.Context, keys ...string) error

	// OnChange subscribes fn to every effective change, including changes made
	// through this adapter. Batches are delivered in commit order.
	OnChange(fn ChangeFunc) (cancel func())

	// Close releases resources and delivers any queued notifications.
	Close() error
}

// Flusher is implemented by adapters that buffer writes. Flush returns once
// buffered state is durable, or the error that kept it from being so.
type Flusher interface {
	Flush() error
}

// WriteErrorFunc receives a write failure and the keys left unwritten.
type WriteErrorFunc func(keys []string, err error)

// WriteErrorNotifier is implemented by adapters whose writes can fail after
// WriteAll or Remove already returned.
type WriteErrorNotifier interface {
	OnWriteError(fn WriteErrorFunc) (cancel func())
}

type subscriber struct {
	id int
	fn ChangeFunc
}

// dispatcher delivers change batches to subscribers from a single goroutine,
// preserving publish order without holding the publisher's locks.
type dispatcher struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
	queue  []models.Changes
	closed bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn ChangeFunc) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.subs = slices.DeleteFunc(d.subs, func(s subscriber) bool { return s.id == id })
	}
}

// publish queues a batch for asynchronous delivery. Empty batches are dropped.
func (d *dispatcher) publish(c models.Changes) {
	if len(c) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, c)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// deliver calls every subscriber with c on the caller's goroutine.
func (d *dispatcher) deliver(c models.Changes) {
	d.mu.Lock()
	subs := slices.Clone(d.subs)
	d.mu.Unlock()
	for _, s := range subs {
		s.fn(c)
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.deliver(batch)
	}
}

// close delivers whatever is queued, then stops the goroutine.
func (d *dispatcher) close() {
	d.once.Do(func() {
		close(d.stop)
		<-d.stopped
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
	})
}
