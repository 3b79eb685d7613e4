package commands

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/enisa-bot/ai"
	"github.com/onnwee/enisa-bot/bot"
	"github.com/onnwee/enisa-bot/db"
	"github.com/onnwee/enisa-bot/howdies"
)

type sayCall struct {
	room string
	text string
}

type fakeOutbox struct {
	said   []sayCall
	joined []string
}

func (o *fakeOutbox) Say(roomID howdies.ID, text string) error {
	o.said = append(o.said, sayCall{room: roomID.String(), text: text})
	return nil
}

func (o *fakeOutbox) Join(name string) error {
	o.joined = append(o.joined, name)
	return nil
}

func (o *fakeOutbox) Identity() (bot.Identity, bool) {
	return bot.Identity{UserID: howdies.NumberID(1), Username: "enisa"}, true
}

func (o *fakeOutbox) last(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, o.said, "nothing was said")
	return o.said[len(o.said)-1].text
}

type fakeStore struct {
	personalities map[string]db.Personality
	rooms         map[string]string
	behaviors     map[string]string
	err           error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		personalities: map[string]db.Personality{
			"tsundere": {Name: "tsundere"},
			"siren":    {Name: "siren"},
		},
		rooms:     map[string]string{},
		behaviors: map[string]string{},
	}
}

func (s *fakeStore) PersonalityNames(context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var names []string
	for n := range s.personalities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *fakeStore) UpsertPersonality(_ context.Context, p db.Personality) error {
	if s.err != nil {
		return s.err
	}
	s.personalities[p.Name] = p
	return nil
}

func (s *fakeStore) DeletePersonality(_ context.Context, name string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.personalities[name]
	delete(s.personalities, name)
	return ok, nil
}

func (s *fakeStore) RoomPersonality(_ context.Context, roomID string) (string, error) {
	return s.rooms[roomID], s.err
}

func (s *fakeStore) SetRoomPersonality(_ context.Context, roomID, name string) error {
	if s.err != nil {
		return s.err
	}
	s.rooms[roomID] = name
	return nil
}

func (s *fakeStore) SetUserBehavior(_ context.Context, username, prompt string) error {
	if s.err != nil {
		return s.err
	}
	s.behaviors[username] = prompt
	return nil
}

func (s *fakeStore) DeleteUserBehavior(_ context.Context, username string) error {
	if s.err != nil {
		return s.err
	}
	delete(s.behaviors, username)
	return nil
}

type fakeResponder struct {
	gotSender, gotRoom, gotText string
	reply                       string
	err                         error
}

func (r *fakeResponder) Respond(_ context.Context, sender, roomID, text string) (string, error) {
	r.gotSender, r.gotRoom, r.gotText = sender, roomID, text
	return r.reply, r.err
}

func newProcessor(store *fakeStore, resp *fakeResponder) *Processor {
	opts := Options{BotName: "Enisa", Masters: []string{"Boss"}, DefaultPersonality: "siren"}
	if store != nil {
		opts.Store = store
	}
	if resp != nil {
		opts.Responder = resp
	}
	return New(opts)
}

func chat(user, text string) howdies.ChatMessage {
	return howdies.ChatMessage{UserID: howdies.NumberID(7), RoomID: howdies.StringID("r1"), Username: user, Text: text}
}

func TestMentionCallsResponder(t *testing.T) {
	resp := &fakeResponder{reply: "what do you want"}
	p := newProcessor(newFakeStore(), resp)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "hey @enisa how are you")))
	assert.Equal(t, "alice", resp.gotSender)
	assert.Equal(t, "r1", resp.gotRoom)
	assert.Equal(t, "hey  how are you", resp.gotText)
	assert.Equal(t, "@alice what do you want", out.last(t))
	assert.Equal(t, "r1", out.said[0].room)
}

func TestBareMentionTeases(t *testing.T) {
	resp := &fakeResponder{}
	p := newProcessor(newFakeStore(), resp)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "ENISA")))
	assert.Empty(t, resp.gotText)
	assert.Equal(t, "@alice, yes, darling? Don't waste my time. 😏", out.last(t))
}

func TestMentionNeedsWordBoundary(t *testing.T) {
	resp := &fakeResponder{reply: "x"}
	p := newProcessor(newFakeStore(), resp)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "enisabot is a fake")))
	assert.Empty(t, out.said)
}

func TestResponderFailureFallsBack(t *testing.T) {
	resp := &fakeResponder{err: &ai.CollaboratorError{Op: "completion", Err: errors.New("503")}}
	p := newProcessor(newFakeStore(), resp)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "enisa tell me a joke")))
	assert.Equal(t, ReplyAIFailure, out.last(t))
}

func TestNoResponderFallsBack(t *testing.T) {
	p := newProcessor(newFakeStore(), nil)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "enisa hi")))
	assert.Equal(t, ReplyAIFailure, out.last(t))
}

func TestPlainChatIgnored(t *testing.T) {
	p := newProcessor(newFakeStore(), &fakeResponder{})
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "just chatting")))
	require.NoError(t, p.Process(context.Background(), out, chat("alice", "!unknown thing")))
	assert.Empty(t, out.said)
	assert.Empty(t, out.joined)
}

func TestHelp(t *testing.T) {
	p := newProcessor(nil, nil)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "!help")))
	help := out.last(t)
	assert.Contains(t, help, "Enisa's Commands")
	assert.Contains(t, help, "!j <room>")
	assert.Contains(t, help, "!listpers")
}

func TestJoinCommand(t *testing.T) {
	p := newProcessor(nil, nil)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("alice", "!j")))
	assert.Equal(t, "Usage: `!j <room>`", out.last(t))
	assert.Empty(t, out.joined)

	require.NoError(t, p.Process(context.Background(), out, chat("alice", `!J "the lounge"`)))
	assert.Equal(t, []string{"the lounge"}, out.joined)
}

func TestMasterCommandsIgnoredForOthers(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, nil)
	out := &fakeOutbox{}

	for _, text := range []string{"!listpers", "!pers siren", "!addpers evil be evil", "!delpers siren", "!adb @bob be mean", "!rmb @bob"} {
		require.NoError(t, p.Process(context.Background(), out, chat("alice", text)))
	}
	assert.Empty(t, out.said)
	assert.Len(t, store.personalities, 2)
	assert.Empty(t, store.rooms)
	assert.Empty(t, store.behaviors)
}

func TestPersonalityCommands(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, nil)
	out := &fakeOutbox{}
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, out, chat("boss", "!pers")))
	assert.Equal(t, "ℹ️ Current room personality: **siren**", out.last(t))

	require.NoError(t, p.Process(ctx, out, chat("BOSS", `!addpers pirate "Talk like a pirate" always`)))
	assert.Equal(t, "✅ New personality 'pirate' created!", out.last(t))
	assert.Equal(t, "Talk like a pirate always", store.personalities["pirate"].Prompt)
	assert.Equal(t, db.StyleNone, store.personalities["pirate"].Style)

	require.NoError(t, p.Process(ctx, out, chat("boss", "!listpers")))
	assert.Equal(t, "Available Personalities: `pirate, siren, tsundere`", out.last(t))

	require.NoError(t, p.Process(ctx, out, chat("boss", "!pers Pirate")))
	assert.Equal(t, "pirate", store.rooms["r1"])
	assert.True(t, strings.Contains(out.last(t), "**pirate**"))

	require.NoError(t, p.Process(ctx, out, chat("boss", "!pers ninja")))
	assert.Equal(t, "❌ Personality not found. Available: `pirate, siren, tsundere`", out.last(t))
	assert.Equal(t, "pirate", store.rooms["r1"])

	require.NoError(t, p.Process(ctx, out, chat("boss", "!delpers tsundere")))
	assert.Equal(t, "❌ You cannot delete the core personalities.", out.last(t))
	assert.Contains(t, store.personalities, "tsundere")

	require.NoError(t, p.Process(ctx, out, chat("boss", "!delpers pirate")))
	assert.Equal(t, "✅ Personality 'pirate' deleted.", out.last(t))
	assert.NotContains(t, store.personalities, "pirate")

	require.NoError(t, p.Process(ctx, out, chat("boss", "!addpers lonely")))
	assert.Equal(t, "Usage: `!addpers <name> <prompt>`", out.last(t))
}

func TestBehaviorCommands(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, nil)
	out := &fakeOutbox{}
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, out, chat("boss", "!adb @Bob be extra rude")))
	assert.Equal(t, "be extra rude", store.behaviors["bob"])
	assert.Contains(t, out.last(t), "@bob")

	require.NoError(t, p.Process(ctx, out, chat("boss", "!adb bob missing at")))
	assert.Equal(t, "Usage: `!adb @username <behavior>`", out.last(t))

	require.NoError(t, p.Process(ctx, out, chat("boss", "!rmb @bob")))
	assert.NotContains(t, store.behaviors, "bob")
	assert.Contains(t, out.last(t), "reset my special behavior for @bob")

	require.NoError(t, p.Process(ctx, out, chat("boss", "!rmb")))
	assert.Equal(t, "Usage: `!rmb @username`", out.last(t))
}

func TestStoreFailureReply(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	p := newProcessor(store, nil)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("boss", "!listpers")))
	assert.Equal(t, ReplyDBFailure, out.last(t))

	noStore := newProcessor(nil, nil)
	require.NoError(t, noStore.Process(context.Background(), out, chat("boss", "!listpers")))
	assert.Equal(t, ReplyDBFailure, out.last(t))
}

func TestUnbalancedQuotesFallBackToFields(t *testing.T) {
	store := newFakeStore()
	p := newProcessor(store, nil)
	out := &fakeOutbox{}

	require.NoError(t, p.Process(context.Background(), out, chat("boss", `!addpers odd "unterminated prompt`)))
	assert.Equal(t, `"unterminated prompt`, store.personalities["odd"].Prompt)
}
