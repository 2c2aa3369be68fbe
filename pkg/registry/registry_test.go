package registry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbot/formbot/pkg/registry"
)

func TestAcquireAndRelease(t *testing.T) {
	r := registry.NewRegistry(2)
	ctx := context.Background()

	handle, err := r.Acquire(ctx, "wf-1", registry.KindEditing)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count())

	kind, active := r.Active("wf-1")
	assert.True(t, active)
	assert.Equal(t, registry.KindEditing, kind)

	handle.Release()
	assert.Equal(t, 0, r.Count())

	_, active = r.Active("wf-1")
	assert.False(t, active)
}

func TestSecondAcquireRejected(t *testing.T) {
	r := registry.NewRegistry(5)
	ctx := context.Background()

	_, err := r.Acquire(ctx, "wf-1", registry.KindEditing)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "wf-1", registry.KindExecution)
	assert.ErrorIs(t, err, registry.ErrAlreadyActive)
}

func TestGlobalCeiling(t *testing.T) {
	r := registry.NewRegistry(2)
	ctx := context.Background()

	first, err := r.Acquire(ctx, "wf-1", registry.KindExecution)
	require.NoError(t, err)
	_, err = r.Acquire(ctx, "wf-2", registry.KindExecution)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, "wf-3", registry.KindExecution)
	assert.ErrorIs(t, err, registry.ErrCapacityExceeded)

	first.Release()

	_, err = r.Acquire(ctx, "wf-3", registry.KindExecution)
	require.NoError(t, err)
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	r := registry.NewRegistry(10)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := r.Acquire(ctx, "wf-1", registry.KindEditing); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.Count())
}

func TestCancelSignalsContext(t *testing.T) {
	r := registry.NewRegistry(5)

	handle, err := r.Acquire(context.Background(), "wf-1", registry.KindExecution)
	require.NoError(t, err)

	require.True(t, r.Cancel("wf-1"))

	select {
	case <-handle.Context().Done():
	default:
		t.Fatal("expected handle context to be cancelled")
	}

	// slot is still held until the owner releases
	assert.Equal(t, 1, r.Count())
	handle.Release()
	assert.Equal(t, 0, r.Count())

	assert.False(t, r.Cancel("wf-1"))
}

func TestReleaseIdempotent(t *testing.T) {
	r := registry.NewRegistry(5)

	handle, err := r.Acquire(context.Background(), "wf-1", registry.KindEditing)
	require.NoError(t, err)

	handle.Release()
	handle.Release()
	assert.Equal(t, 0, r.Count())

	// a new session can claim the slot after release
	_, err = r.Acquire(context.Background(), "wf-1", registry.KindEditing)
	require.NoError(t, err)
}
