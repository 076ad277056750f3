package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

// Memory is a process-local DataStore. Records are deep-copied on the way in
// and out so callers never share state with the store.
type Memory struct {
	mu        sync.Mutex
	chats     map[string]*session.ChatSession
	dialogues map[string]*session.DialogueSession
	events    []events.Event
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		chats:     make(map[string]*session.ChatSession),
		dialogues: make(map[string]*session.DialogueSession),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateChat(_ context.Context, c *session.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[c.ID]; ok {
		return nil
	}
	stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt, m.now())
	m.chats[c.ID] = c.Clone()
	return nil
}

func (m *Memory) GetChat(_ context.Context, id string) (*session.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (m *Memory) UpsertChat(_ context.Context, c *session.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored int64
	if cur, ok := m.chats[c.ID]; ok {
		stored = cur.Version
	}
	if stored != c.Version {
		return ErrConflict
	}
	stampUpdate(&c.Version, &c.CreatedAt, &c.UpdatedAt, m.now())
	m.chats[c.ID] = c.Clone()
	return nil
}

func (m *Memory) DeleteChat(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[id]; !ok {
		return ErrNotFound
	}
	delete(m.chats, id)
	return nil
}

func (m *Memory) ListChats(_ context.Context, limit int) ([]*session.ChatSession, error) {
	m.mu.Lock()
	out := make([]*session.ChatSession, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, c.Clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateDialogue(_ context.Context, d *session.DialogueSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dialogues[d.ID]; ok {
		return nil
	}
	stampCreate(&d.Version, &d.CreatedAt, &d.UpdatedAt, m.now())
	m.dialogues[d.ID] = d.Clone()
	return nil
}

func (m *Memory) GetDialogue(_ context.Context, id string) (*session.DialogueSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dialogues[id]
	if !ok {
		return nil, nil
	}
	return d.Clone(), nil
}

func (m *Memory) UpsertDialogue(_ context.Context, d *session.DialogueSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored int64
	if cur, ok := m.dialogues[d.ID]; ok {
		stored = cur.Version
	}
	if stored != d.Version {
		return ErrConflict
	}
	stampUpdate(&d.Version, &d.CreatedAt, &d.UpdatedAt, m.now())
	m.dialogues[d.ID] = d.Clone()
	return nil
}

func (m *Memory) DeleteDialogue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dialogues[id]; !ok {
		return ErrNotFound
	}
	delete(m.dialogues, id)
	return nil
}

func (m *Memory) InsertTurnEvents(_ context.Context, evts []events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool, len(m.events))
	for _, e := range m.events {
		seen[e.EventID] = true
	}
	for _, e := range evts {
		if !seen[e.EventID] {
			m.events = append(m.events, e)
			seen[e.EventID] = true
		}
	}
	return nil
}

// TurnEvents returns a copy of every stored event.
func (m *Memory) TurnEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.events...)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

// stampCreate initialises version and timestamps for a fresh record.
func stampCreate(version *int64, created, updated *time.Time, now time.Time) {
	*version = 1
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

// stampUpdate advances the version of a record that passed the CAS check.
func stampUpdate(version *int64, created, updated *time.Time, now time.Time) {
	*version++
	if created.IsZero() {
		*created = now
	}
	*updated = now
}
