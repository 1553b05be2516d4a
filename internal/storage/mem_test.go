package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betterseqta/settings-go/internal/models"
	"github.com/betterseqta/settings-go/internal/storage"
)

func TestMemAdapter_ManualDelivery(t *testing.T) {
	a := storage.NewMemAdapter(storage.WithManualDelivery())
	defer a.Close()

	var got []models.Changes
	a.OnChange(func(c models.Changes) { got = append(got, c) })

	ctx := context.Background()
	require.NoError(t, a.WriteAll(ctx, models.Namespace{"DarkMode": true}))
	require.NoError(t, a.WriteAll(ctx, models.Namespace{"DarkMode": false}))

	assert.Empty(t, got, "nothing is delivered before Deliver")
	assert.Equal(t, 2, a.Pending())

	require.True(t, a.Deliver())
	require.Len(t, got, 1)
	assert.Equal(t, true, got[0]["DarkMode"].NewValue)

	assert.Equal(t, 1, a.DeliverAll())
	require.Len(t, got, 2)
	assert.Equal(t, false, got[1]["DarkMode"].NewValue)
	assert.False(t, a.Deliver())
}

func TestMemAdapter_HoldReadsReturnsStaleSnapshot(t *testing.T) {
	a := storage.NewMemAdapter(storage.WithInitial(map[string]any{"DarkMode": true}))
	defer a.Close()
	release := a.HoldReads()

	done := make(chan models.Namespace, 1)
	go func() {
		ns, _ := a.ReadAll(context.Background())
		done <- ns
	}()

	// Let ReadAll take its snapshot, then change the stored value.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, a.WriteAll(context.Background(), models.Namespace{"DarkMode": false}))

	select {
	case <-done:
		t.Fatal("ReadAll returned while reads were held")
	default:
	}
	release()

	select {
	case ns := <-done:
		assert.Equal(t, true, ns["DarkMode"])
	case <-time.After(waitTimeout):
		t.Fatal("ReadAll did not return after release")
	}
}

func TestMemAdapter_HoldReadsHonoursContext(t *testing.T) {
	a := storage.NewMemAdapter()
	defer a.Close()
	release := a.HoldReads()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.ReadAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemAdapter_InjectedFailures(t *testing.T) {
	a := storage.NewMemAdapter()
	defer a.Close()
	boom := errors.New("quota exceeded")
	ctx := context.Background()

	a.FailWrites(boom)
	assert.ErrorIs(t, a.WriteAll(ctx, models.Namespace{"a": "b"}), boom)
	assert.ErrorIs(t, a.Remove(ctx, "a"), boom)
	assert.Empty(t, a.Snapshot())

	a.FailReads(boom)
	_, err := a.ReadAll(ctx)
	assert.ErrorIs(t, err, boom)

	a.FailWrites(nil)
	a.FailReads(nil)
	require.NoError(t, a.WriteAll(ctx, models.Namespace{"a": "b"}))
	ns, err := a.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", ns["a"])
}

func TestMemAdapter_InjectUpdatesDataAndNotifies(t *testing.T) {
	a := storage.NewMemAdapter()
	defer a.Close()
	ch := collect(t, a)

	a.Inject(models.Changes{"DarkMode": {NewValue: true}})

	c := nextBatch(t, ch)
	assert.Equal(t, true, c["DarkMode"].NewValue)
	assert.Equal(t, models.Namespace{"DarkMode": true}, a.Snapshot())
}

func TestMemAdapter_SharedBySubscribers(t *testing.T) {
	a := storage.NewMemAdapter()
	defer a.Close()
	first := collect(t, a)
	second := collect(t, a)

	require.NoError(t, a.WriteAll(context.Background(), models.Namespace{"k": "v"}))
	assert.Equal(t, "v", nextBatch(t, first)["k"].NewValue)
	assert.Equal(t, "v", nextBatch(t, second)["k"].NewValue)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []string{storage.BackendMemory, storage.BackendJSON, storage.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			a, err := storage.Open(ctx, storage.Options{Backend: backend, Dir: t.TempDir()})
			require.NoError(t, err)
			defer a.Close()
			require.NoError(t, a.WriteAll(ctx, models.Namespace{"x": "y"}))
		})
	}

	_, err := storage.Open(ctx, storage.Options{Backend: "redis"})
	assert.Error(t, err)
}
