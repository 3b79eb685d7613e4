package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/enisa-bot/howdies"
)

type recordingJoiner struct {
	mu    sync.Mutex
	names []string
	ch    chan string
}

func newRecordingJoiner() *recordingJoiner { return &recordingJoiner{ch: make(chan string, 8)} }

func (j *recordingJoiner) Join(name string) error {
	j.mu.Lock()
	j.names = append(j.names, name)
	j.mu.Unlock()
	j.ch <- name
	return nil
}

func TestRoomTracker_KickFromNonStartupRoomDoesNotRejoin(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewRoomTracker(clock, []string{"life", "test"}, 0, 0, 3*time.Second)
	j := newRecordingJoiner()

	tr.OnJoinConfirmed(howdies.NumberID(5), "random")
	assert.False(t, tr.OnKicked(context.Background(), j, howdies.NumberID(5)))
	assert.Empty(t, tr.Rooms())

	clock.Advance(time.Minute)
	select {
	case name := <-j.ch:
		t.Fatalf("unexpected rejoin of %s", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomTracker_KickFromUnknownRoom(t *testing.T) {
	tr := NewRoomTracker(clockwork.NewFakeClock(), []string{"life"}, 0, 0, time.Second)
	assert.False(t, tr.OnKicked(context.Background(), newRecordingJoiner(), howdies.StringID("nope")))
}

func TestRoomTracker_RejoinCancelledWithContext(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewRoomTracker(clock, []string{"life"}, 0, 0, 3*time.Second)
	j := newRecordingJoiner()

	tr.OnJoinConfirmed(howdies.StringID("r1"), "LIFE")
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, tr.OnKicked(ctx, j, howdies.StringID("r1")))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()
	time.Sleep(20 * time.Millisecond)
	clock.Advance(time.Minute)

	select {
	case name := <-j.ch:
		t.Fatalf("rejoin of %s after teardown", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomTracker_JoinAllAbortsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewRoomTracker(clock, nil, time.Second, 2*time.Second, 0)
	j := newRecordingJoiner()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- tr.JoinAll(ctx, j, []string{"a", "b", "c"}) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(time.Second)
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(2 * time.Second)
	assert.Equal(t, "a", <-j.ch)

	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	cancel()
	assert.Equal(t, 1, <-done)
}

func TestRoomTracker_JoinTrimsBlank(t *testing.T) {
	tr := NewRoomTracker(clockwork.NewFakeClock(), nil, 0, 0, 0)
	j := newRecordingJoiner()

	require.NoError(t, tr.Join(j, "   "))
	require.NoError(t, tr.Join(j, " music "))
	assert.Equal(t, "music", <-j.ch)
	assert.Len(t, j.names, 1)
}
