package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL,
	audience_level TEXT NOT NULL,
	messages       JSONB NOT NULL DEFAULT '[]',
	version        BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_sessions_updated_at_idx ON chat_sessions (updated_at DESC);

CREATE TABLE IF NOT EXISTS dialogue_sessions (
	id                TEXT PRIMARY KEY,
	pending_questions JSONB NOT NULL DEFAULT '[]',
	question_index    INTEGER NOT NULL DEFAULT 0,
	teacher_responses JSONB NOT NULL DEFAULT '[]',
	original_text     TEXT NOT NULL DEFAULT '',
	summarized        BOOLEAN NOT NULL DEFAULT FALSE,
	version           BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS turn_events (
	event_id   TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	metadata   JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS turn_events_session_idx ON turn_events (session_id, timestamp);
`

// Postgres is the pgx-backed DataStore. Records are stored as one row each
// with the message log and question lists in JSONB columns.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) CreateChat(ctx context.Context, c *session.ChatSession) error {
	stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt, time.Now().UTC())
	msgs, err := json.Marshal(nonNilMessages(c.Messages))
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_sessions (id, title, mode, audience_level, messages, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.Title, string(c.Mode), string(c.AudienceLevel), json.RawMessage(msgs), c.Version, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (s *Postgres) GetChat(ctx context.Context, id string) (*session.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, mode, audience_level, messages, version, created_at, updated_at
		FROM chat_sessions WHERE id = $1
	`, id)
	c, err := scanChat(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Postgres) UpsertChat(ctx context.Context, c *session.ChatSession) error {
	msgs, err := json.Marshal(nonNilMessages(c.Messages))
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	expected := c.Version
	next := *c
	stampUpdate(&next.Version, &next.CreatedAt, &next.UpdatedAt, time.Now().UTC())

	var tag pgconn.CommandTag
	if expected == 0 {
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO chat_sessions (id, title, mode, audience_level, messages, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, next.ID, next.Title, string(next.Mode), string(next.AudienceLevel), json.RawMessage(msgs), next.Version, next.CreatedAt, next.UpdatedAt)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE chat_sessions
			SET title = $2, mode = $3, audience_level = $4, messages = $5, version = $6, updated_at = $7
			WHERE id = $1 AND version = $8
		`, next.ID, next.Title, string(next.Mode), string(next.AudienceLevel), json.RawMessage(msgs), next.Version, next.UpdatedAt, expected)
	}
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	*c = next
	return nil
}

func (s *Postgres) DeleteChat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListChats(ctx context.Context, limit int) ([]*session.ChatSession, error) {
	q := `SELECT id, title, mode, audience_level, messages, version, created_at, updated_at
		FROM chat_sessions ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.ChatSession
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateDialogue(ctx context.Context, d *session.DialogueSession) error {
	stampCreate(&d.Version, &d.CreatedAt, &d.UpdatedAt, time.Now().UTC())
	pq, tr, err := marshalDialogueLists(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dialogue_sessions (id, pending_questions, question_index, teacher_responses, original_text, summarized, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, pq, d.QuestionIndex, tr, d.OriginalText, d.Summarized, d.Version, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create dialogue session: %w", err)
	}
	return nil
}

func (s *Postgres) GetDialogue(ctx context.Context, id string) (*session.DialogueSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, pending_questions, question_index, teacher_responses, original_text, summarized, version, created_at, updated_at
		FROM dialogue_sessions WHERE id = $1
	`, id)
	d, err := scanDialogue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (s *Postgres) UpsertDialogue(ctx context.Context, d *session.DialogueSession) error {
	pq, tr, err := marshalDialogueLists(d)
	if err != nil {
		return err
	}
	expected := d.Version
	next := d.Clone()
	stampUpdate(&next.Version, &next.CreatedAt, &next.UpdatedAt, time.Now().UTC())

	var tag pgconn.CommandTag
	if expected == 0 {
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO dialogue_sessions (id, pending_questions, question_index, teacher_responses, original_text, summarized, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, next.ID, pq, next.QuestionIndex, tr, next.OriginalText, next.Summarized, next.Version, next.CreatedAt, next.UpdatedAt)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE dialogue_sessions
			SET pending_questions = $2, question_index = $3, teacher_responses = $4, original_text = $5,
			    summarized = $6, version = $7, updated_at = $8
			WHERE id = $1 AND version = $9
		`, next.ID, pq, next.QuestionIndex, tr, next.OriginalText, next.Summarized, next.Version, next.UpdatedAt, expected)
	}
	if err != nil {
		return fmt.Errorf("upsert dialogue session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	d.Version, d.CreatedAt, d.UpdatedAt = next.Version, next.CreatedAt, next.UpdatedAt
	return nil
}

func (s *Postgres) DeleteDialogue(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dialogue_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dialogue session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTurnEvents batch-inserts usage events into turn_events.
func (s *Postgres) InsertTurnEvents(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	rows := make([][]any, len(evts))
	for i, e := range evts {
		rows[i] = []any{e.EventID, e.SessionID, e.Source, e.EventType, e.Timestamp, e.LatencyMS, e.Metadata}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"turn_events"},
		[]string{"event_id", "session_id", "source", "event_type", "timestamp", "latency_ms", "metadata"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy turn events: %w", err)
	}

	slog.Debug("inserted turn events", "count", len(evts))
	return nil
}

// CountTurnEvents returns how many events are stored for a session.
func (s *Postgres) CountTurnEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM turn_events WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

func scanChat(row pgx.Row) (*session.ChatSession, error) {
	var (
		c         session.ChatSession
		mode, lvl string
		msgs      []byte
	)
	if err := row.Scan(&c.ID, &c.Title, &mode, &lvl, &msgs, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Mode = session.Mode(mode)
	c.AudienceLevel = session.AudienceLevel(lvl)
	if err := json.Unmarshal(msgs, &c.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", c.ID, err)
	}
	return &c, nil
}

func scanDialogue(row pgx.Row) (*session.DialogueSession, error) {
	var (
		d      session.DialogueSession
		pq, tr []byte
	)
	if err := row.Scan(&d.ID, &pq, &d.QuestionIndex, &tr, &d.OriginalText, &d.Summarized, &d.Version, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pq, &d.PendingQuestions); err != nil {
		return nil, fmt.Errorf("decode pending questions for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(tr, &d.TeacherResponses); err != nil {
		return nil, fmt.Errorf("decode teacher responses for %s: %w", d.ID, err)
	}
	return &d, nil
}

func marshalDialogueLists(d *session.DialogueSession) (json.RawMessage, json.RawMessage, error) {
	pq, err := json.Marshal(nonNilStrings(d.PendingQuestions))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal pending questions: %w", err)
	}
	tr, err := json.Marshal(nonNilStrings(d.TeacherResponses))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal teacher responses: %w", err)
	}
	return pq, tr, nil
}

func nonNilMessages(m []session.Message) []session.Message {
	if m == nil {
		return []session.Message{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
