package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL DEFAULT '',
	mode           TEXT NOT NULL,
	audience_level TEXT NOT NULL,
	messages       TEXT NOT NULL DEFAULT '[]',
	version        INTEGER NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dialogue_sessions (
	id                TEXT PRIMARY KEY,
	pending_questions TEXT NOT NULL DEFAULT '[]',
	question_index    INTEGER NOT NULL DEFAULT 0,
	teacher_responses TEXT NOT NULL DEFAULT '[]',
	original_text     TEXT NOT NULL DEFAULT '',
	summarized        INTEGER NOT NULL DEFAULT 0,
	version           INTEGER NOT NULL,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS turn_events (
	event_id   TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	metadata   TEXT NOT NULL DEFAULT '{}'
);
`

// SQLite is a single-file DataStore for single-node deployments.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() {
	s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLite) CreateChat(ctx context.Context, c *session.ChatSession) error {
	stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt, time.Now().UTC())
	msgs, err := json.Marshal(nonNilMessages(c.Messages))
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, title, mode, audience_level, messages, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, c.ID, c.Title, string(c.Mode), string(c.AudienceLevel), string(msgs), c.Version, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (s *SQLite) GetChat(ctx context.Context, id string) (*session.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, mode, audience_level, messages, version, created_at, updated_at
		FROM chat_sessions WHERE id = ?
	`, id)
	c, err := scanSQLiteChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *SQLite) UpsertChat(ctx context.Context, c *session.ChatSession) error {
	msgs, err := json.Marshal(nonNilMessages(c.Messages))
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	expected := c.Version
	next := *c
	stampUpdate(&next.Version, &next.CreatedAt, &next.UpdatedAt, time.Now().UTC())

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO chat_sessions (id, title, mode, audience_level, messages, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, next.ID, next.Title, string(next.Mode), string(next.AudienceLevel), string(msgs), next.Version, fmtTime(next.CreatedAt), fmtTime(next.UpdatedAt))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE chat_sessions
			SET title = ?, mode = ?, audience_level = ?, messages = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, next.Title, string(next.Mode), string(next.AudienceLevel), string(msgs), next.Version, fmtTime(next.UpdatedAt), next.ID, expected)
	}
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	*c = next
	return nil
}

func (s *SQLite) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListChats(ctx context.Context, limit int) ([]*session.ChatSession, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, mode, audience_level, messages, version, created_at, updated_at
		FROM chat_sessions ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.ChatSession
	for rows.Next() {
		c, err := scanSQLiteChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateDialogue(ctx context.Context, d *session.DialogueSession) error {
	stampCreate(&d.Version, &d.CreatedAt, &d.UpdatedAt, time.Now().UTC())
	pq, tr, err := marshalDialogueLists(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dialogue_sessions (id, pending_questions, question_index, teacher_responses, original_text, summarized, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, string(pq), d.QuestionIndex, string(tr), d.OriginalText, d.Summarized, d.Version, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create dialogue session: %w", err)
	}
	return nil
}

func (s *SQLite) GetDialogue(ctx context.Context, id string) (*session.DialogueSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pending_questions, question_index, teacher_responses, original_text, summarized, version, created_at, updated_at
		FROM dialogue_sessions WHERE id = ?
	`, id)
	var (
		d                session.DialogueSession
		pq, tr           string
		created, updated string
	)
	err := row.Scan(&d.ID, &pq, &d.QuestionIndex, &tr, &d.OriginalText, &d.Summarized, &d.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pq), &d.PendingQuestions); err != nil {
		return nil, fmt.Errorf("decode pending questions for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(tr), &d.TeacherResponses); err != nil {
		return nil, fmt.Errorf("decode teacher responses for %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLite) UpsertDialogue(ctx context.Context, d *session.DialogueSession) error {
	pq, tr, err := marshalDialogueLists(d)
	if err != nil {
		return err
	}
	expected := d.Version
	next := d.Clone()
	stampUpdate(&next.Version, &next.CreatedAt, &next.UpdatedAt, time.Now().UTC())

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO dialogue_sessions (id, pending_questions, question_index, teacher_responses, original_text, summarized, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, next.ID, string(pq), next.QuestionIndex, string(tr), next.OriginalText, next.Summarized, next.Version, fmtTime(next.CreatedAt), fmtTime(next.UpdatedAt))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE dialogue_sessions
			SET pending_questions = ?, question_index = ?, teacher_responses = ?, original_text = ?,
			    summarized = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, string(pq), next.QuestionIndex, string(tr), next.OriginalText, next.Summarized, next.Version, fmtTime(next.UpdatedAt), next.ID, expected)
	}
	if err != nil {
		return fmt.Errorf("upsert dialogue session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	d.Version, d.CreatedAt, d.UpdatedAt = next.Version, next.CreatedAt, next.UpdatedAt
	return nil
}

func (s *SQLite) DeleteDialogue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dialogue_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dialogue session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTurnEvents writes events in one transaction, ignoring duplicate ids.
func (s *SQLite) InsertTurnEvents(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turn_events (event_id, session_id, source, event_type, timestamp, latency_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range evts {
		meta := string(e.Metadata)
		if meta == "" {
			meta = "{}"
		}
		if _, err := stmt.ExecContext(ctx, e.EventID, e.SessionID, e.Source, e.EventType, fmtTime(e.Timestamp), e.LatencyMS, meta); err != nil {
			return fmt.Errorf("insert turn event %s: %w", e.EventID, err)
		}
	}
	return tx.Commit()
}

// CountTurnEvents returns how many events are stored for a session.
func (s *SQLite) CountTurnEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM turn_events WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func scanSQLiteChat(row rowScanner) (*session.ChatSession, error) {
	var (
		c                session.ChatSession
		mode, lvl, msgs  string
		created, updated string
	)
	if err := row.Scan(&c.ID, &c.Title, &mode, &lvl, &msgs, &c.Version, &created, &updated); err != nil {
		return nil, err
	}
	c.Mode = session.Mode(mode)
	c.AudienceLevel = session.AudienceLevel(lvl)
	if err := json.Unmarshal([]byte(msgs), &c.Messages); err != nil {
		return nil, fmt.Errorf("decode messages for %s: %w", c.ID, err)
	}
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &c, nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// fmtTime uses a fixed-width layout so lexical order matches time order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
