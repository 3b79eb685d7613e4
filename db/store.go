package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Reply styles a personality can ask for.
const (
	StyleNone      = "none"
	StyleSmallCaps = "small_caps"
)

// Personality is a named system prompt plus a reply style.
type Personality struct {
	Name   string `db:"name"`
	Prompt string `db:"prompt"`
	Style  string `db:"style"`
}

// Turn is one remembered chat exchange entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Store holds personalities, per-user behaviors, room personalities and conversation memory.
// Every call is bounded by its own timeout on top of the caller's context.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore wraps an open *sql.DB opened with the pgx driver.
func NewStore(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "pgx"), timeout: 5 * time.Second}
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Personality returns the named personality or ErrNotFound.
func (s *Store) Personality(ctx context.Context, name string) (Personality, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var p Personality
	err := s.db.GetContext(ctx, &p, `SELECT name, prompt, style FROM personalities WHERE name=$1`, strings.ToLower(name))
	if errors.Is(err, sql.ErrNoRows) {
		return Personality{}, ErrNotFound
	}
	if err != nil {
		return Personality{}, fmt.Errorf("get personality %q: %w", name, err)
	}
	return p, nil
}

// PersonalityNames lists every personality name in alphabetical order.
func (s *Store) PersonalityNames(ctx context.Context) ([]string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var names []string
	if err := s.db.SelectContext(ctx, &names, `SELECT name FROM personalities ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list personalities: %w", err)
	}
	return names, nil
}

// UpsertPersonality creates or replaces a personality.
func (s *Store) UpsertPersonality(ctx context.Context, p Personality) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if p.Style == "" {
		p.Style = StyleNone
	}
	p.Name = strings.ToLower(p.Name)
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO personalities (name, prompt, style) VALUES (:name, :prompt, :style)
		ON CONFLICT (name) DO UPDATE SET prompt=EXCLUDED.prompt, style=EXCLUDED.style, updated_at=NOW()`, p)
	if err != nil {
		return fmt.Errorf("upsert personality %q: %w", p.Name, err)
	}
	return nil
}

// DeletePersonality removes a personality and reports whether it existed.
func (s *Store) DeletePersonality(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM personalities WHERE name=$1`, strings.ToLower(name))
	if err != nil {
		return false, fmt.Errorf("delete personality %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RoomPersonality returns the personality name assigned to a room, or "" if none.
func (s *Store) RoomPersonality(ctx context.Context, roomID string) (string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var name string
	err := s.db.GetContext(ctx, &name, `SELECT personality_name FROM room_personalities WHERE room_id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get room personality %q: %w", roomID, err)
	}
	return name, nil
}

// SetRoomPersonality assigns a personality to a room.
func (s *Store) SetRoomPersonality(ctx context.Context, roomID, name string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO room_personalities (room_id, personality_name) VALUES ($1,$2)
		ON CONFLICT (room_id) DO UPDATE SET personality_name=EXCLUDED.personality_name, updated_at=NOW()`, roomID, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("set room personality %q: %w", roomID, err)
	}
	return nil
}

// UserBehavior returns the behavior prompt for a user, or "" if none.
func (s *Store) UserBehavior(ctx context.Context, username string) (string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var prompt string
	err := s.db.GetContext(ctx, &prompt, `SELECT behavior_prompt FROM user_behaviors WHERE username=$1`, strings.ToLower(username))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user behavior %q: %w", username, err)
	}
	return prompt, nil
}

// SetUserBehavior stores a behavior prompt for a user.
func (s *Store) SetUserBehavior(ctx context.Context, username, prompt string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_behaviors (username, behavior_prompt) VALUES ($1,$2)
		ON CONFLICT (username) DO UPDATE SET behavior_prompt=EXCLUDED.behavior_prompt, updated_at=NOW()`, strings.ToLower(username), prompt)
	if err != nil {
		return fmt.Errorf("set user behavior %q: %w", username, err)
	}
	return nil
}

// DeleteUserBehavior removes a user's behavior prompt.
func (s *Store) DeleteUserBehavior(ctx context.Context, username string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_behaviors WHERE username=$1`, strings.ToLower(username)); err != nil {
		return fmt.Errorf("delete user behavior %q: %w", username, err)
	}
	return nil
}

// Memory returns the remembered conversation with a user, oldest first.
func (s *Store) Memory(ctx context.Context, username string) ([]Turn, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var raw []byte
	err := s.db.GetContext(ctx, &raw, `SELECT history FROM conversation_memory WHERE username=$1`, strings.ToLower(username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %q: %w", username, err)
	}
	var turns []Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		slog.Warn("discarding unreadable conversation memory", slog.String("user", username), slog.Any("err", err))
		return nil, nil
	}
	return turns, nil
}

// SaveMemory replaces the remembered conversation with a user.
func (s *Store) SaveMemory(ctx context.Context, username string, turns []Turn) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if turns == nil {
		turns = []Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversation_memory (username, history) VALUES ($1,$2::jsonb)
		ON CONFLICT (username) DO UPDATE SET history=EXCLUDED.history, updated_at=NOW()`, strings.ToLower(username), string(raw))
	if err != nil {
		return fmt.Errorf("save memory %q: %w", username, err)
	}
	return nil
}
