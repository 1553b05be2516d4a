package settings_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betterseqta/settings-go/internal/settings"
	"github.com/betterseqta/settings-go/internal/storage"
)

const waitTimeout = 2 * time.Second

// newManualAdapter returns a MemAdapter whose notifications are only
// delivered when the test calls Deliver/DeliverAll.
func newManualAdapter(t *testing.T, initial map[string]any) *storage.MemAdapter {
	t.Helper()
	opts := []storage.MemOption{storage.WithManualDelivery()}
	if initial != nil {
		opts = append(opts, storage.WithInitial(initial))
	}
	a := storage.NewMemAdapter(opts...)
	t.Cleanup(func() { a.Close() })
	return a
}

func newStore(t *testing.T, a storage.Adapter, opts ...settings.Option) *settings.Store {
	t.Helper()
	s := settings.New(a, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		require.NoError(t, s.Close(ctx))
	})
	return s
}

func waitReady(t *testing.T, s *settings.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx), "store never became ready")
}

func flush(t *testing.T, s *settings.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

// call records one listener invocation.
type call struct {
	Name     string
	NewValue any
	OldValue any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) listener(name string) settings.Listener {
	return func(newValue, oldValue any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, call{Name: name, NewValue: newValue, OldValue: oldValue})
	}
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

// errSink collects errors passed to the store's error handler.
type errSink chan error

func newErrSink() errSink { return make(errSink, 16) }

func (e errSink) handler() settings.Option {
	return settings.WithErrorHandler(func(err error) {
		select {
		case e <- err:
		default:
		}
	})
}

func (e errSink) next(t *testing.T) error {
	t.Helper()
	select {
	case err := <-e:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for reported error")
		return nil
	}
}
