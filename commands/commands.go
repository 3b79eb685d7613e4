// Package commands turns chat messages into bot actions: AI replies when the bot is
// mentioned, public commands (!help, !j) and master-only personality management.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/google/shlex"

	"github.com/onnwee/enisa-bot/bot"
	"github.com/onnwee/enisa-bot/db"
	"github.com/onnwee/enisa-bot/howdies"
	"github.com/onnwee/enisa-bot/telemetry"
)

// Canned replies.
const (
	ReplyAIFailure = "Ugh, my brain just short-circuited. Bother me later. 😒"
	ReplyDBFailure = "My database is acting up. Couldn't do that, sorry darling. 💅"
)

// Responder produces an AI reply. *ai.Responder implements it.
type Responder interface {
	Respond(ctx context.Context, sender, roomID, text string) (string, error)
}

// Store is the persistence master commands need. *db.Store implements it.
type Store interface {
	PersonalityNames(ctx context.Context) ([]string, error)
	UpsertPersonality(ctx context.Context, p db.Personality) error
	DeletePersonality(ctx context.Context, name string) (bool, error)
	RoomPersonality(ctx context.Context, roomID string) (string, error)
	SetRoomPersonality(ctx context.Context, roomID, name string) error
	SetUserBehavior(ctx context.Context, username, prompt string) error
	DeleteUserBehavior(ctx context.Context, username string) error
}

// Processor implements bot.CommandProcessor.
type Processor struct {
	botName            string
	mention            *regexp.Regexp
	masters            map[string]struct{}
	defaultPersonality string
	core               []string
	responder          Responder
	store              Store
}

// Options configures a Processor. Responder and Store may be nil; the features that
// need them then answer with the failure replies.
type Options struct {
	BotName            string
	Masters            []string
	DefaultPersonality string
	Responder          Responder
	Store              Store
}

// New builds a Processor.
func New(opts Options) *Processor {
	masters := make(map[string]struct{}, len(opts.Masters))
	for _, m := range opts.Masters {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			masters[m] = struct{}{}
		}
	}
	core := db.CorePersonalities()
	if opts.DefaultPersonality != "" && !slices.Contains(core, opts.DefaultPersonality) {
		core = append(core, opts.DefaultPersonality)
	}
	return &Processor{
		botName:            opts.BotName,
		mention:            regexp.MustCompile(`(?i)@?` + regexp.QuoteMeta(opts.BotName) + `\b`),
		masters:            masters,
		defaultPersonality: opts.DefaultPersonality,
		core:               core,
		responder:          opts.Responder,
		store:              opts.Store,
	}
}

var _ bot.CommandProcessor = (*Processor)(nil)

// Process handles one chat message.
func (p *Processor) Process(ctx context.Context, out bot.Outbox, msg howdies.ChatMessage) error {
	text := strings.TrimSpace(msg.Text)
	if p.botName != "" && p.mention.MatchString(text) {
		return p.talk(ctx, out, msg, strings.TrimSpace(p.mention.ReplaceAllString(text, "")))
	}
	if !strings.HasPrefix(text, "!") {
		return nil
	}

	parts, err := shlex.Split(text)
	if err != nil || len(parts) == 0 {
		parts = strings.Fields(text)
	}
	cmd, args := strings.ToLower(strings.TrimPrefix(parts[0], "!")), parts[1:]
	log := telemetry.LoggerWithCorr(ctx)
	log.Debug("command received", slog.String("cmd", cmd), slog.String("from", msg.Username))

	switch cmd {
	case "help":
		return out.Say(msg.RoomID, p.help())
	case "j":
		if len(args) == 0 {
			return out.Say(msg.RoomID, "Usage: `!j <room>`")
		}
		return out.Join(strings.Join(args, " "))
	}

	if !p.isMaster(msg.Username) {
		return nil
	}
	handler, ok := p.masterCommands()[cmd]
	if !ok {
		return nil
	}
	if p.store == nil {
		return out.Say(msg.RoomID, ReplyDBFailure)
	}
	reply, err := handler(ctx, msg.RoomID.String(), args)
	if err != nil {
		log.Error("master command failed", slog.String("cmd", cmd), slog.Any("err", err))
		return out.Say(msg.RoomID, ReplyDBFailure)
	}
	return out.Say(msg.RoomID, reply)
}

func (p *Processor) talk(ctx context.Context, out bot.Outbox, msg howdies.ChatMessage, prompt string) error {
	if prompt == "" {
		return out.Say(msg.RoomID, fmt.Sprintf("@%s, yes, darling? Don't waste my time. 😏", msg.Username))
	}
	if p.responder == nil {
		return out.Say(msg.RoomID, ReplyAIFailure)
	}
	reply, err := p.responder.Respond(ctx, msg.Username, msg.RoomID.String(), prompt)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("ai reply failed", slog.String("from", msg.Username), slog.Any("err", err))
		return out.Say(msg.RoomID, ReplyAIFailure)
	}
	return out.Say(msg.RoomID, fmt.Sprintf("@%s %s", msg.Username, reply))
}

func (p *Processor) isMaster(username string) bool {
	_, ok := p.masters[strings.ToLower(username)]
	return ok
}

func (p *Processor) help() string {
	return fmt.Sprintf("🤖 **%[1]s's Commands** 🤖\n"+
		"- `@%[1]s <message>`: Talk to me.\n"+
		"- `!j <room>`: Join a room.\n"+
		"- **Master Commands:** `!pers`, `!addpers`, `!delpers`, `!listpers`, `!adb`, `!rmb`", p.botName)
}

type masterFunc func(ctx context.Context, roomID string, args []string) (string, error)

func (p *Processor) masterCommands() map[string]masterFunc {
	return map[string]masterFunc{
		"pers":     p.pers,
		"addpers":  p.addPers,
		"delpers":  p.delPers,
		"listpers": p.listPers,
		"adb":      p.addBehavior,
		"rmb":      p.removeBehavior,
	}
}

func (p *Processor) pers(ctx context.Context, roomID string, args []string) (string, error) {
	if len(args) == 0 {
		current, err := p.store.RoomPersonality(ctx, roomID)
		if err != nil {
			return "", err
		}
		if current == "" {
			current = p.defaultPersonality
		}
		return fmt.Sprintf("ℹ️ Current room personality: **%s**", current), nil
	}
	name := strings.ToLower(args[0])
	names, err := p.store.PersonalityNames(ctx)
	if err != nil {
		return "", err
	}
	if !slices.Contains(names, name) {
		return fmt.Sprintf("❌ Personality not found. Available: `%s`", strings.Join(names, ", ")), nil
	}
	if err := p.store.SetRoomPersonality(ctx, roomID, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Okay, my personality for this room is now **%s**.", name), nil
}

func (p *Processor) addPers(ctx context.Context, _ string, args []string) (string, error) {
	if len(args) < 2 {
		return "Usage: `!addpers <name> <prompt>`", nil
	}
	name := strings.ToLower(args[0])
	if err := p.store.UpsertPersonality(ctx, db.Personality{Name: name, Prompt: strings.Join(args[1:], " "), Style: db.StyleNone}); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ New personality '%s' created!", name), nil
}

func (p *Processor) delPers(ctx context.Context, _ string, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: `!delpers <name>`", nil
	}
	name := strings.ToLower(args[0])
	if slices.Contains(p.core, name) {
		return "❌ You cannot delete the core personalities.", nil
	}
	if _, err := p.store.DeletePersonality(ctx, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Personality '%s' deleted.", name), nil
}

func (p *Processor) listPers(ctx context.Context, _ string, _ []string) (string, error) {
	names, err := p.store.PersonalityNames(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Available Personalities: `%s`", strings.Join(names, ", ")), nil
}

func (p *Processor) addBehavior(ctx context.Context, _ string, args []string) (string, error) {
	if len(args) < 2 || !strings.HasPrefix(args[0], "@") {
		return "Usage: `!adb @username <behavior>`", nil
	}
	user := strings.ToLower(strings.TrimPrefix(args[0], "@"))
	if err := p.store.SetUserBehavior(ctx, user, strings.Join(args[1:], " ")); err != nil {
		return "", err
	}
	return fmt.Sprintf("Heh, noted. My behavior towards @%s has been... adjusted. 😈", user), nil
}

func (p *Processor) removeBehavior(ctx context.Context, _ string, args []string) (string, error) {
	if len(args) == 0 || !strings.HasPrefix(args[0], "@") {
		return "Usage: `!rmb @username`", nil
	}
	user := strings.ToLower(strings.TrimPrefix(args[0], "@"))
	if err := p.store.DeleteUserBehavior(ctx, user); err != nil {
		return "", err
	}
	return fmt.Sprintf("Okay, I've reset my special behavior for @%s. Back to normal... for now. 😉", user), nil
}
