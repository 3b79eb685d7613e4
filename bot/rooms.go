package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/enisa-bot/howdies"
)

// Joiner sends a join request for a room name.
type Joiner interface {
	Join(name string) error
}

// JoinerFunc adapts a plain send function to Joiner.
type JoinerFunc func(name string) error

func (f JoinerFunc) Join(name string) error { return f(name) }

// RoomTracker keeps the set of rooms the bot is confirmed to be in and drives the
// startup joins and kick rejoins. Membership is only mutated from the dispatcher.
type RoomTracker struct {
	clock       clockwork.Clock
	settleDelay time.Duration
	joinDelay   time.Duration
	rejoinDelay time.Duration
	startup     map[string]struct{}

	mu    sync.Mutex
	rooms map[string]string // room id -> name
}

// NewRoomTracker builds a tracker. Kicked rooms are rejoined only if their name is in startup.
func NewRoomTracker(clock clockwork.Clock, startup []string, settleDelay, joinDelay, rejoinDelay time.Duration) *RoomTracker {
	set := make(map[string]struct{}, len(startup))
	for _, name := range startup {
		if n := strings.ToLower(strings.TrimSpace(name)); n != "" {
			set[n] = struct{}{}
		}
	}
	return &RoomTracker{
		clock:       clock,
		settleDelay: settleDelay,
		joinDelay:   joinDelay,
		rejoinDelay: rejoinDelay,
		startup:     set,
		rooms:       make(map[string]string),
	}
}

func (t *RoomTracker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-t.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// JoinAll waits the settle delay, then sends one join per room in order, each preceded
// by the inter-join delay. Blank names are skipped. It stops as soon as ctx is done and
// returns how many joins were sent.
func (t *RoomTracker) JoinAll(ctx context.Context, j Joiner, names []string) int {
	if !t.sleep(ctx, t.settleDelay) {
		return 0
	}
	sent := 0
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !t.sleep(ctx, t.joinDelay) {
			slog.Info("rooms: startup joins aborted", slog.Int("sent", sent))
			return sent
		}
		if err := j.Join(name); err != nil {
			slog.Warn("rooms: join failed", slog.String("room", name), slog.Any("err", err))
			continue
		}
		sent++
	}
	return sent
}

// Join sends an ad-hoc join request, such as one asked for in chat. Blank names
// are ignored. Membership is recorded only once the join is confirmed.
func (t *RoomTracker) Join(j Joiner, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return j.Join(name)
}

// OnJoinConfirmed records a confirmed join.
func (t *RoomTracker) OnJoinConfirmed(id howdies.ID, name string) {
	t.mu.Lock()
	t.rooms[id.String()] = name
	t.mu.Unlock()
	slog.Info("rooms: joined", slog.String("room", name), slog.String("room_id", id.String()))
}

// OnKicked removes the room. If it is a startup room, a rejoin is sent after the
// rejoin delay on its own goroutine unless ctx ends first. It reports whether a
// rejoin was scheduled.
func (t *RoomTracker) OnKicked(ctx context.Context, j Joiner, id howdies.ID) bool {
	t.mu.Lock()
	name, known := t.rooms[id.String()]
	delete(t.rooms, id.String())
	t.mu.Unlock()

	if !known {
		slog.Warn("rooms: kicked from unknown room", slog.String("room_id", id.String()))
		return false
	}
	if _, ok := t.startup[strings.ToLower(name)]; !ok {
		slog.Info("rooms: kicked; not a startup room", slog.String("room", name))
		return false
	}
	slog.Info("rooms: kicked; rejoining", slog.String("room", name), slog.Duration("delay", t.rejoinDelay))
	go func() {
		if !t.sleep(ctx, t.rejoinDelay) {
			return
		}
		if err := j.Join(name); err != nil {
			slog.Warn("rooms: rejoin failed", slog.String("room", name), slog.Any("err", err))
		}
	}()
	return true
}

// Reset forgets all memberships.
func (t *RoomTracker) Reset() {
	t.mu.Lock()
	t.rooms = make(map[string]string)
	t.mu.Unlock()
}

// Rooms returns a copy of the membership map.
func (t *RoomTracker) Rooms() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.rooms))
	for id, name := range t.rooms {
		out[id] = name
	}
	return out
}
