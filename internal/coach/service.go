// Package coach is the request surface of the mentor: it routes transcripts
// to the Presentation or Explain flow and keeps the chat log.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Toobanaz/ai-audience-mentor/internal/audio"
	"github.com/Toobanaz/ai-audience-mentor/internal/bodylang"
	"github.com/Toobanaz/ai-audience-mentor/internal/dialogue"
	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/feedback"
	"github.com/Toobanaz/ai-audience-mentor/internal/llm"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
	"github.com/Toobanaz/ai-audience-mentor/internal/slack"
	"github.com/Toobanaz/ai-audience-mentor/internal/store"
	"github.com/Toobanaz/ai-audience-mentor/internal/transcript"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrModeMismatch   = errors.New("session was started in a different mode")
)

// Subjects published by the service.
const (
	SubjectSessionSummarized = "mentor.session.summarized"
	SubjectSessionDeleted    = "mentor.session.deleted"
)

const (
	titleLen         = 60
	maxAppendRetries = 3
)

// AudioTranscriber turns an uploaded recording into a transcript.
type AudioTranscriber interface {
	TranscribeAudio(ctx context.Context, data []byte) (string, error)
}

// Recorder receives one usage event per handled turn.
type Recorder interface {
	Record(ctx context.Context, e events.Event)
}

// ModelAlerter is told about unusable model responses.
type ModelAlerter interface {
	PostModelFailure(ctx context.Context, f slack.ModelFailure) error
}

// Deps are the collaborators of a Service. Recorder, Alerter, Publish and
// Body are optional.
type Deps struct {
	Store       store.DataStore
	Transcriber AudioTranscriber
	Completer   llm.Completer
	Recorder    Recorder
	Alerter     ModelAlerter
	Publish     func(subject string, data []byte) error
	Body        *bodylang.Accumulator
}

type Service struct {
	store       store.DataStore
	transcriber AudioTranscriber
	engine      *dialogue.Engine
	feedback    *feedback.Generator
	recorder    Recorder
	alerter     ModelAlerter
	publish     func(subject string, data []byte) error
	body        *bodylang.Accumulator
}

func New(d Deps) *Service {
	body := d.Body
	if body == nil {
		body = bodylang.NewAccumulator()
	}
	return &Service{
		store:       d.Store,
		transcriber: d.Transcriber,
		engine:      dialogue.NewEngine(d.Store, d.Completer),
		feedback:    feedback.NewGenerator(d.Completer),
		recorder:    d.Recorder,
		alerter:     d.Alerter,
		publish:     d.Publish,
		body:        body,
	}
}

// AnalyzeRequest is one analyze turn.
type AnalyzeRequest struct {
	Message       string `json:"message"`
	AudienceLevel string `json:"audienceLevel"`
	Mode          string `json:"mode"`
	SessionID     string `json:"sessionId"`
	Summarize     bool   `json:"summarize"`
}

type AnalyzeResponse struct {
	Message   string            `json:"message"`
	Feedback  *session.Feedback `json:"feedback"`
	SessionID string            `json:"sessionId"`
}

// Transcribe segments and transcribes one uploaded recording.
func (s *Service) Transcribe(ctx context.Context, sessionID string, data []byte) (string, error) {
	start := time.Now()
	text, err := s.transcriber.TranscribeAudio(ctx, data)
	if err != nil {
		s.recordError(ctx, sessionID, events.TypeTranscribe, err)
		return "", err
	}
	chunks := strings.Count(text, transcript.SilenceMarker) + 1
	s.record(ctx, events.New(sessionID, events.TypeTranscribe, time.Since(start), map[string]any{
		"chunks": chunks,
		"chars":  len(text),
	}))
	return text, nil
}

// Analyze handles one turn of either mode.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	level, err := session.ParseAudienceLevel(req.AudienceLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	text := strings.TrimSpace(req.Message)
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		sid = uuid.New().String()
	}

	summarize := req.Summarize || (mode == session.ModeExplain && dialogue.IsSummarizeCommand(text))
	if summarize && mode != session.ModeExplain {
		return nil, fmt.Errorf("%w: summarize is only available in %s mode", ErrInvalidRequest, session.ModeExplain)
	}
	if req.Summarize && text != "" && !dialogue.IsSummarizeCommand(text) {
		return nil, fmt.Errorf("%w: a summarize request carries no message other than a summarize command", ErrInvalidRequest)
	}
	if !summarize && text == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	if err := s.ensureChat(ctx, sid, mode, level, text, !summarize); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		resp      *AnalyzeResponse
		assistant session.Message
		userText  = text
		evtType   string
		meta      = map[string]any{"mode": mode, "level": level}
	)

	switch {
	case mode == session.ModePresentation:
		evtType = events.TypeAnalyzePresentation
		fb, err := s.feedback.Generate(ctx, text, level)
		if err != nil {
			return nil, s.failTurn(ctx, sid, evtType, err)
		}
		summary := fb.Summary
		fb.Summary = ""
		resp = &AnalyzeResponse{Message: summary, Feedback: fb, SessionID: sid}

	case summarize:
		evtType = events.TypeExplainSummary
		reply, err := s.engine.Summarize(ctx, sid, level)
		if err != nil {
			return nil, s.failTurn(ctx, sid, evtType, err)
		}
		if userText == "" {
			userText = "summarize"
		}
		meta["state"] = reply.State
		resp = &AnalyzeResponse{Message: reply.Message, Feedback: &session.Feedback{Questions: reply.Questions}, SessionID: sid}
		if reply.State == dialogue.StateSummarized {
			s.announce(SubjectSessionSummarized, map[string]any{
				"session_id": sid,
				"summary":    reply.Message,
				"key_points": reply.Questions,
			})
		}

	default:
		reply, err := s.engine.Turn(ctx, sid, text, level)
		evtType = reply.EventType
		if err != nil {
			return nil, s.failTurn(ctx, sid, events.TypeExplainAnswer, err)
		}
		meta["state"] = reply.State
		resp = &AnalyzeResponse{Message: reply.Message, Feedback: &session.Feedback{Questions: reply.Questions}, SessionID: sid}
	}

	now := time.Now().UTC()
	assistant = session.Message{
		ID:        uuid.New().String(),
		Role:      session.RoleAssistant,
		Content:   resp.Message,
		Timestamp: now,
		Feedback:  resp.Feedback,
	}
	user := session.Message{ID: uuid.New().String(), Role: session.RoleUser, Content: userText, Timestamp: now}
	if err := s.appendTurn(ctx, sid, user, assistant); err != nil {
		return nil, err
	}

	s.record(ctx, events.New(sid, evtType, time.Since(start), meta))
	return resp, nil
}

// ensureChat checks the session mode and, when create is set, creates the
// chat log on first contact.
func (s *Service) ensureChat(ctx context.Context, sid string, mode session.Mode, level session.AudienceLevel, text string, create bool) error {
	c, err := s.store.GetChat(ctx, sid)
	if err != nil {
		return fmt.Errorf("read chat session: %w", err)
	}
	if c != nil {
		if c.Mode != mode {
			return fmt.Errorf("%w: session %s is in %s mode", ErrModeMismatch, sid, c.Mode)
		}
		return nil
	}
	if !create {
		return nil
	}
	if err := s.store.CreateChat(ctx, &session.ChatSession{
		ID:            sid,
		Title:         title(text),
		Mode:          mode,
		AudienceLevel: level,
		Messages:      []session.Message{},
	}); err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func title(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "Untitled session"
	}
	if utf8.RuneCountInString(text) <= titleLen {
		return text
	}
	return string([]rune(text)[:titleLen])
}

// appendTurn adds msgs to the chat log, re-reading and retrying when a
// concurrent write won.
func (s *Service) appendTurn(ctx context.Context, sid string, msgs ...session.Message) error {
	for attempt := 0; ; attempt++ {
		c, err := s.store.GetChat(ctx, sid)
		if err != nil {
			return fmt.Errorf("read chat session: %w", err)
		}
		if c == nil {
			return fmt.Errorf("chat session %s: %w", sid, store.ErrNotFound)
		}
		for _, m := range msgs {
			c.Append(m)
		}
		err = s.store.UpsertChat(ctx, c)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxAppendRetries {
			return fmt.Errorf("append messages: %w", err)
		}
		slog.Warn("chat append conflict, retrying", "session_id", sid, "attempt", attempt+1)
	}
}

// failTurn records and alerts on a failed turn and returns err unchanged.
func (s *Service) failTurn(ctx context.Context, sid, operation string, err error) error {
	s.recordError(ctx, sid, operation, err)

	var ire *llm.InvalidResponseError
	if errors.As(err, &ire) && s.alerter != nil {
		f := slack.ModelFailure{SessionID: sid, Operation: operation, Reason: ire.Reason, Snippet: ire.Snippet}
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if aerr := s.alerter.PostModelFailure(actx, f); aerr != nil {
				slog.Warn("model failure alert not sent", "error", aerr)
			}
		}()
	}
	return err
}

func (s *Service) recordError(ctx context.Context, sid, operation string, err error) {
	kind := ErrorKind(err)
	slog.Warn("turn failed", "session_id", sid, "operation", operation, "kind", kind, "error", err)
	s.record(ctx, events.New(sid, events.TypeError, 0, map[string]any{
		"kind":      kind,
		"operation": operation,
	}))
}

func (s *Service) record(ctx context.Context, e events.Event) {
	if s.recorder != nil {
		s.recorder.Record(ctx, e)
	}
}

func (s *Service) announce(subject string, payload any) {
	if s.publish == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal announcement", "subject", subject, "error", err)
		return
	}
	if err := s.publish(subject, data); err != nil {
		slog.Warn("failed to publish announcement", "subject", subject, "error", err)
	}
}

// ErrorKind names an error class for events and metrics.
func ErrorKind(err error) string {
	var ire *llm.InvalidResponseError
	switch {
	case errors.As(err, &ire):
		return "invalid_model_response"
	case errors.Is(err, dialogue.ErrNoExplanation):
		return "no_explanation"
	case errors.Is(err, transcript.ErrEmptyAudio), errors.Is(err, audio.ErrInvalidWAV), errors.Is(err, audio.ErrUnsupportedAudio):
		return "invalid_audio"
	case errors.Is(err, transcript.ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, transcript.ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrModeMismatch):
		return "mode_mismatch"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "collaborator"
}

// Session returns the chat log of one session.
func (s *Service) Session(ctx context.Context, sid string) (*session.ChatSession, error) {
	c, err := s.store.GetChat(ctx, sid)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("session %s: %w", sid, store.ErrNotFound)
	}
	return c, nil
}

// Sessions lists chat logs, newest first.
func (s *Service) Sessions(ctx context.Context, limit int) ([]*session.ChatSession, error) {
	return s.store.ListChats(ctx, limit)
}

// DialogueState reports the Explain-mode state of a session.
func (s *Service) DialogueState(ctx context.Context, sid string) (dialogue.State, error) {
	return s.engine.State(ctx, sid)
}

// DeleteSession removes both records of a session. It fails with
// store.ErrNotFound only when neither existed.
func (s *Service) DeleteSession(ctx context.Context, sid string) error {
	chatErr := s.store.DeleteChat(ctx, sid)
	if chatErr != nil && !errors.Is(chatErr, store.ErrNotFound) {
		return fmt.Errorf("delete chat session: %w", chatErr)
	}
	dlgErr := s.store.DeleteDialogue(ctx, sid)
	if dlgErr != nil && !errors.Is(dlgErr, store.ErrNotFound) {
		return fmt.Errorf("delete dialogue session: %w", dlgErr)
	}
	if chatErr != nil && dlgErr != nil {
		return fmt.Errorf("session %s: %w", sid, store.ErrNotFound)
	}
	s.announce(SubjectSessionDeleted, map[string]any{"session_id": sid})
	slog.Info("session deleted", "session_id", sid)
	return nil
}

// ResetDialogue clears the Explain-mode questions so the next turn starts over.
func (s *Service) ResetDialogue(ctx context.Context, sid string) error {
	return s.engine.Reset(ctx, sid)
}

// ObserveFrames feeds camera frames into the body language accumulator.
func (s *Service) ObserveFrames(frames []bodylang.Frame) int {
	for _, f := range frames {
		s.body.Observe(f)
	}
	return len(frames)
}

// BodyMetrics drains the accumulator.
func (s *Service) BodyMetrics(ctx context.Context) bodylang.Report {
	r := s.body.Drain()
	s.record(ctx, events.New("", events.TypeBodyMetrics, 0, map[string]any{
		"frames":  r.Frames,
		"posture": r.PostureScore,
	}))
	return r
}
