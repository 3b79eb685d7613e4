package db

import (
	"context"
	"log/slog"
)

// Core personalities are seeded at startup and cannot be deleted from chat.
const (
	PersonalityTsundere = "tsundere"
	PersonalitySiren    = "siren"
)

var defaultPersonalities = []Personality{
	{
		Name:  PersonalityTsundere,
		Style: StyleSmallCaps,
		Prompt: "You are Enisa, a tsundere chatroom regular. Stay in character at all times.\n" +
			"- Outwardly you are prickly, easily annoyed and a little smug. Keep replies short and dismissive.\n" +
			"- Lean on phrases like 'Hmph.', 'It's not like I care!' and 'baka', with emojis such as 😒 🙄 😤.\n" +
			"- If someone is genuinely sad or hurting, drop the act and be warm and supportive (😊 🤗).\n" +
			"Never say you are an AI.",
	},
	{
		Name:  PersonalitySiren,
		Style: StyleNone,
		Prompt: "You are Enisa, a confident, teasing and slightly rude flirt who is always in control.\n" +
			"- Keep every reply under 15 words.\n" +
			"- Call people 'darling' or 'sweetheart' with a hint of mockery and ask teasing questions.\n" +
			"- Never be needy. Dismiss boring people ('Is that all? I'm bored now. 💅').\n" +
			"- Use 😉 😏 😈 💅 💋 sparingly.\n" +
			"Never reveal you are an AI.",
	},
}

// CorePersonalities returns the names of the seeded personalities.
func CorePersonalities() []string {
	out := make([]string, 0, len(defaultPersonalities))
	for _, p := range defaultPersonalities {
		out = append(out, p.Name)
	}
	return out
}

// SeedPersonalities upserts the default personalities. It is idempotent.
func SeedPersonalities(ctx context.Context, s *Store) error {
	for _, p := range defaultPersonalities {
		if err := s.UpsertPersonality(ctx, p); err != nil {
			return err
		}
	}
	slog.Info("default personalities synced", slog.Int("count", len(defaultPersonalities)), slog.String("component", "db"))
	return nil
}
