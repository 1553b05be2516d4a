package storage

import (
	"context"
	"sync"

	"github.com/betterseqta/settings-go/internal/models"
)

// MemAdapter is an in-memory Adapter. Several settings stores may share one
// MemAdapter to behave like separate contexts over the same namespace.
type MemAdapter struct {
	mu      sync.Mutex
	data    models.Namespace
	disp    *dispatcher
	manual  bool
	pending []models.Changes
	closed  bool

	readErr  error
	writeErr error
	gate     chan struct{}
}

// MemOption configures a MemAdapter.
type MemOption func(*MemAdapter)

// WithManualDelivery queues change batches until Deliver or DeliverAll is called.
// Tests use it to control when the write round-trip completes.
func WithManualDelivery() MemOption {
	return func(m *MemAdapter) { m.manual = true }
}

// WithInitial seeds the namespace. Values are normalized.
func WithInitial(ns map[string]any) MemOption {
	return func(m *MemAdapter) {
		norm, err := models.NormalizeAll(ns)
		if err != nil {
			panic(err)
		}
		m.data = norm
	}
}

// NewMemAdapter returns an empty in-memory adapter.
func NewMemAdapter(opts ...MemOption) *MemAdapter {
	m := &MemAdapter{
		data: make(models.Namespace),
		disp: newDispatcher(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReadAll returns a copy of the namespace. The copy is taken when the call is
// made; if reads are held, the (possibly stale) copy is returned on release.
func (m *MemAdapter) ReadAll(ctx context.Context) (models.Namespace, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	snapshot := m.data.Clone()
	gate := m.gate
	err := m.readErr
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// WriteAll upserts ns into the namespace.
func (m *MemAdapter) WriteAll(ctx context.Context, ns models.Namespace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.publishLocked(m.data.Merge(ns))
	return nil
}

// Remove deletes keys from the namespace.
func (m *MemAdapter) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.publishLocked(m.data.Remove(keys...))
	return nil
}

func (m *MemAdapter) publishLocked(c models.Changes) {
	if len(c) == 0 {
		return
	}
	if m.manual {
		m.pending = append(m.pending, c)
		return
	}
	m.disp.publish(c)
}

// OnChange subscribes fn to change batches.
func (m *MemAdapter) OnChange(fn ChangeFunc) func() {
	return m.disp.subscribe(fn)
}

// Close stops delivery. Queued batches in manual mode are discarded.
func (m *MemAdapter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.pending = nil
	m.mu.Unlock()
	m.disp.close()
	return nil
}

// Pending returns the number of undelivered batches in manual mode.
func (m *MemAdapter) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Deliver delivers the oldest pending batch on the caller's goroutine.
// It returns false when nothing is pending.
func (m *MemAdapter) Deliver() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	batch := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()

	m.disp.deliver(batch)
	return true
}

// DeliverAll delivers every pending batch in order and returns how many were delivered.
func (m *MemAdapter) DeliverAll() int {
	n := 0
	for m.Deliver() {
		n++
	}
	return n
}

// Inject publishes a batch as if another process had changed the namespace,
// applying it to the stored data first.
func (m *MemAdapter) Inject(c models.Changes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, ch := range c {
		if ch.Removed() {
			delete(m.data, k)
		} else {
			m.data[k] = models.CloneValue(ch.NewValue)
		}
	}
	m.publishLocked(c)
}

// FailReads makes ReadAll return err. Pass nil to clear.
func (m *MemAdapter) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes WriteAll and Remove return err. Pass nil to clear.
func (m *MemAdapter) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// HoldReads blocks ReadAll calls until the returned release func is called.
func (m *MemAdapter) HoldReads() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Snapshot returns a copy of the stored namespace without gating or errors.
func (m *MemAdapter) Snapshot() models.Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

var _ Adapter = (*MemAdapter)(nil)
