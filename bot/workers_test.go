package bot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := NewWorkerPool(2, 50*time.Millisecond)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, p.Submit(context.Background(), context.Background(), func(context.Context) { n.Add(1) }))
	}
	p.Wait()
	assert.Equal(t, int32(5), n.Load())
	assert.Equal(t, 0, p.Inflight())
}

func TestWorkerPool_DropsWhenSaturated(t *testing.T) {
	p := NewWorkerPool(1, 20*time.Millisecond)
	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Submit(context.Background(), context.Background(), func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	assert.Equal(t, 1, p.Inflight())

	ran := false
	ok := p.Submit(context.Background(), context.Background(), func(context.Context) { ran = true })
	assert.False(t, ok)

	close(release)
	p.Wait()
	assert.False(t, ran)
	assert.True(t, p.Submit(context.Background(), context.Background(), func(context.Context) {}))
	p.Wait()
}

func TestWorkerPool_SubmitAbortsWithContext(t *testing.T) {
	p := NewWorkerPool(1, time.Minute)
	release := make(chan struct{})
	require.True(t, p.Submit(context.Background(), context.Background(), func(context.Context) { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.Submit(ctx, context.Background(), func(context.Context) {}))
	close(release)
	p.Wait()
}

func TestWorkerPool_TaskContextOutlivesSubmitContext(t *testing.T) {
	p := NewWorkerPool(1, time.Second)
	submitCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	require.True(t, p.Submit(submitCtx, context.Background(), func(ctx context.Context) {
		cancel()
		errCh <- ctx.Err()
	}))
	p.Wait()
	assert.NoError(t, <-errCh)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	p := NewWorkerPool(1, time.Second)
	require.True(t, p.Submit(context.Background(), context.Background(), func(context.Context) { panic("boom") }))
	p.Wait()
	assert.True(t, p.Submit(context.Background(), context.Background(), func(context.Context) {}))
	p.Wait()
}
