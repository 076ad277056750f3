package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

const (
	turnLogStream  = "MENTOR_TURN_LOG"
	turnLogSubject = "mentor.turnlog."
)

// KV stores records in JetStream key-value buckets. Creation maps to
// KeyValue.Create and compare-and-swap to KeyValue.Update with the entry
// revision. Turn events are appended to a dedicated stream.
type KV struct {
	js        jetstream.JetStream
	chats     jetstream.KeyValue
	dialogues jetstream.KeyValue
}

// NewKV binds (creating if needed) the <prefix>_chats and <prefix>_dialogues
// buckets and the turn log stream.
func NewKV(ctx context.Context, js jetstream.JetStream, prefix string) (*KV, error) {
	chats, err := ensureBucket(ctx, js, prefix+"_chats")
	if err != nil {
		return nil, err
	}
	dialogues, err := ensureBucket(ctx, js, prefix+"_dialogues")
	if err != nil {
		return nil, err
	}
	if _, err := js.Stream(ctx, turnLogStream); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:       turnLogStream,
			Subjects:   []string{turnLogSubject + ">"},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     30 * 24 * time.Hour,
			Storage:    jetstream.FileStorage,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", turnLogStream, err)
		}
		slog.Info("created stream", "name", turnLogStream)
	}
	return &KV{js: js, chats: chats, dialogues: dialogues}, nil
}

func ensureBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("bind bucket %s: %w", name, err)
	}
	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  name,
		History: 1,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	slog.Info("created key-value bucket", "bucket", name)
	return kv, nil
}

// kvKey encodes ids so caller-supplied session ids are always valid keys.
func kvKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// getRaw returns the value, its revision, and whether it exists.
func getRaw(ctx context.Context, kv jetstream.KeyValue, id string) ([]byte, uint64, bool, error) {
	entry, err := kv.Get(ctx, kvKey(id))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return entry.Value(), entry.Revision(), true, nil
}

// createRaw stores data unless the key already exists.
func createRaw(ctx context.Context, kv jetstream.KeyValue, id string, data []byte) error {
	_, err := kv.Create(ctx, kvKey(id), data)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return nil
	}
	return err
}

// casRaw writes data if the stored record still carries expected.
// storedVersion decodes the version out of a stored value.
func casRaw(ctx context.Context, kv jetstream.KeyValue, id string, expected int64, data []byte, storedVersion func([]byte) (int64, error)) error {
	raw, rev, ok, err := getRaw(ctx, kv, id)
	if err != nil {
		return err
	}
	if !ok {
		if expected != 0 {
			return ErrConflict
		}
		if _, err := kv.Create(ctx, kvKey(id), data); err != nil {
			if isWrongRevision(err) {
				return ErrConflict
			}
			return err
		}
		return nil
	}
	v, err := storedVersion(raw)
	if err != nil {
		return err
	}
	if v != expected {
		return ErrConflict
	}
	if _, err := kv.Update(ctx, kvKey(id), data, rev); err != nil {
		if isWrongRevision(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func deleteRaw(ctx context.Context, kv jetstream.KeyValue, id string) error {
	_, _, ok, err := getRaw(ctx, kv, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return kv.Delete(ctx, kvKey(id))
}

func (s *KV) CreateChat(ctx context.Context, c *session.ChatSession) error {
	stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt, time.Now().UTC())
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chat session: %w", err)
	}
	if err := createRaw(ctx, s.chats, c.ID, data); err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (s *KV) GetChat(ctx context.Context, id string) (*session.ChatSession, error) {
	raw, _, ok, err := getRaw(ctx, s.chats, id)
	if err != nil || !ok {
		return nil, err
	}
	var c session.ChatSession
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode chat session %s: %w", id, err)
	}
	return &c, nil
}

func (s *KV) UpsertChat(ctx context.Context, c *session.ChatSession) error {
	next := *c
	stampUpdate(&next.Version, &next.CreatedAt, &next.UpdatedAt, time.Now().UTC())
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal chat session: %w", err)
	}
	err = casRaw(ctx, s.chats, c.ID, c.Version, data, func(raw []byte) (int64, error) {
		var cur session.ChatSession
		err := json.Unmarshal(raw, &cur)
		return cur.Version, err
	})
	if err != nil {
		return err
	}
	*c = next
	return nil
}

func (s *KV) DeleteChat(ctx context.Context, id string) error {
	return deleteRaw(ctx, s.chats, id)
}

func (s *KV) ListChats(ctx context.Context, limit int) ([]*session.ChatSession, error) {
	lister, err := s.chats.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chat keys: %w", err)
	}
	defer lister.Stop()

	var out []*session.ChatSession
	for key := range lister.Keys() {
		entry, err := s.chats.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var c session.ChatSession
		if err := json.Unmarshal(entry.Value(), &c); err != nil {
			slog.Warn("skipping undecodable chat session", "key", key, "error", err)
			continue
		}
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *KV) CreateDialogue(ctx context.Context, d *session.DialogueSession) error {
	stampCreate(&d.Version, &d.CreatedAt, &d.UpdatedAt, time.Now().UTC())
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dialogue session: %w", err)
	}
	if err := createRaw(ctx, s.dialogues, d.ID, data); err != nil {
		return fmt.Errorf("create dialogue session: %w", err)
	}
	return nil
}

func (s *KV) GetDialogue(ctx context.Context, id string) (*session.DialogueSession, error) {
	raw, _, ok, err := getRaw(ctx, s.dialogues, id)
	if err != nil || !ok {
		return nil, err
	}
	var d session.DialogueSession
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode dialogue session %s: %w", id, err)
	}
	return &d, nil
}

func (s *KV) UpsertDialogue(ctx context.Context, d *session.DialogueSession) error {
	next := d.Clone()
	stampUpdate(&next.Version, &next.CreatedAt, &next.UpdatedAt, time.Now().UTC())
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal dialogue session: %w", err)
	}
	err = casRaw(ctx, s.dialogues, d.ID, d.Version, data, func(raw []byte) (int64, error) {
		var cur session.DialogueSession
		err := json.Unmarshal(raw, &cur)
		return cur.Version, err
	})
	if err != nil {
		return err
	}
	d.Version, d.CreatedAt, d.UpdatedAt = next.Version, next.CreatedAt, next.UpdatedAt
	return nil
}

func (s *KV) DeleteDialogue(ctx context.Context, id string) error {
	return deleteRaw(ctx, s.dialogues, id)
}

// InsertTurnEvents appends events to the turn log stream. The event id is the
// message id so redelivered batches are deduplicated by the server.
func (s *KV) InsertTurnEvents(ctx context.Context, evts []events.Event) error {
	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal turn event: %w", err)
		}
		if _, err := s.js.Publish(ctx, turnLogSubject+e.EventType, data, jetstream.WithMsgID(e.EventID)); err != nil {
			return fmt.Errorf("publish turn event %s: %w", e.EventID, err)
		}
	}
	return nil
}

func (s *KV) Ping(ctx context.Context) error {
	_, err := s.js.AccountInfo(ctx)
	return err
}

// Close is a no-op; the NATS connection belongs to the bus.
func (s *KV) Close() {}
