package testutil

import (
	"context"
	"sync"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
	"github.com/Toobanaz/ai-audience-mentor/internal/store"
)

// MockStore is a thread-safe in-memory store.DataStore with error injection
// and call counters. Behaviour without injected errors is store.Memory's.
type MockStore struct {
	*store.Memory

	mu sync.Mutex

	GetChatErr        error
	UpsertChatErr     error
	GetDialogueErr    error
	UpsertDialogueErr error
	InsertErr         error
	// ConflictsBeforeUpsert makes the next N UpsertChat calls fail with
	// store.ErrConflict before reaching the store.
	ConflictsBeforeUpsert int

	CreateChatCalls     int
	UpsertChatCalls     int
	CreateDialogueCalls int
	UpsertDialogueCalls int
	InsertCalls         int
}

func NewMockStore() *MockStore {
	return &MockStore{Memory: store.NewMemory()}
}

func (m *MockStore) CreateChat(ctx context.Context, c *session.ChatSession) error {
	m.mu.Lock()
	m.CreateChatCalls++
	m.mu.Unlock()
	return m.Memory.CreateChat(ctx, c)
}

func (m *MockStore) GetChat(ctx context.Context, id string) (*session.ChatSession, error) {
	m.mu.Lock()
	err := m.GetChatErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Memory.GetChat(ctx, id)
}

func (m *MockStore) UpsertChat(ctx context.Context, c *session.ChatSession) error {
	m.mu.Lock()
	m.UpsertChatCalls++
	err := m.UpsertChatErr
	if err == nil && m.ConflictsBeforeUpsert > 0 {
		m.ConflictsBeforeUpsert--
		err = store.ErrConflict
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Memory.UpsertChat(ctx, c)
}

func (m *MockStore) CreateDialogue(ctx context.Context, d *session.DialogueSession) error {
	m.mu.Lock()
	m.CreateDialogueCalls++
	m.mu.Unlock()
	return m.Memory.CreateDialogue(ctx, d)
}

func (m *MockStore) GetDialogue(ctx context.Context, id string) (*session.DialogueSession, error) {
	m.mu.Lock()
	err := m.GetDialogueErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.Memory.GetDialogue(ctx, id)
}

func (m *MockStore) UpsertDialogue(ctx context.Context, d *session.DialogueSession) error {
	m.mu.Lock()
	m.UpsertDialogueCalls++
	err := m.UpsertDialogueErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Memory.UpsertDialogue(ctx, d)
}

func (m *MockStore) InsertTurnEvents(ctx context.Context, evts []events.Event) error {
	m.mu.Lock()
	m.InsertCalls++
	err := m.InsertErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Memory.InsertTurnEvents(ctx, evts)
}

// GetInsertCalls returns how many times InsertTurnEvents was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}

// GetEventCount returns total events stored.
func (m *MockStore) GetEventCount() int {
	return len(m.Memory.TurnEvents())
}

// GetUpsertChatCalls returns how many times UpsertChat was called.
func (m *MockStore) GetUpsertChatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.UpsertChatCalls
}

// SetInsertErr swaps the injected InsertTurnEvents error.
func (m *MockStore) SetInsertErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertErr = err
}
