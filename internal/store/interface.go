package store

import (
	"context"
	"errors"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

var (
	// ErrNotFound is returned by Delete* when the id is absent. Get* reports
	// absence as (nil, nil) instead.
	ErrNotFound = errors.New("session not found")
	// ErrConflict is returned by Upsert* when the stored version no longer
	// matches the record's Version.
	ErrConflict = errors.New("session was modified concurrently")
)

// ChatStore persists ChatSession records.
//
// Create* is idempotent: a duplicate id is a silent no-op. Upsert* writes the
// whole record only if the stored version equals rec.Version (or nothing is
// stored and rec.Version is 0); on success rec.Version and rec.UpdatedAt are
// advanced in place.
type ChatStore interface {
	CreateChat(ctx context.Context, c *session.ChatSession) error
	GetChat(ctx context.Context, id string) (*session.ChatSession, error)
	UpsertChat(ctx context.Context, c *session.ChatSession) error
	DeleteChat(ctx context.Context, id string) error
	ListChats(ctx context.Context, limit int) ([]*session.ChatSession, error)
}

// DialogueStore persists DialogueSession records with the same semantics as ChatStore.
type DialogueStore interface {
	CreateDialogue(ctx context.Context, d *session.DialogueSession) error
	GetDialogue(ctx context.Context, id string) (*session.DialogueSession, error)
	UpsertDialogue(ctx context.Context, d *session.DialogueSession) error
	DeleteDialogue(ctx context.Context, id string) error
}

// DataStore is the interface consumed by the coach service, batcher and API.
type DataStore interface {
	ChatStore
	DialogueStore
	InsertTurnEvents(ctx context.Context, evts []events.Event) error
	Ping(ctx context.Context) error
	Close()
}
