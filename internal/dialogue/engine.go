// Package dialogue runs the Explain-mode flow: three follow-up questions
// about a teacher's explanation, then a summary.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Toobanaz/ai-audience-mentor/internal/events"
	"github.com/Toobanaz/ai-audience-mentor/internal/llm"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
	"github.com/Toobanaz/ai-audience-mentor/internal/store"
)

// ErrNoExplanation is returned by Summarize when the chat log holds no
// qualifying explanation.
var ErrNoExplanation = errors.New("no explanation found: explain the concept first, then ask for a summary")

// minExplanationWords is the word count an explanation must exceed.
const minExplanationWords = 10

// Store is the persistence the engine needs.
type Store interface {
	GetChat(ctx context.Context, id string) (*session.ChatSession, error)
	CreateDialogue(ctx context.Context, d *session.DialogueSession) error
	GetDialogue(ctx context.Context, id string) (*session.DialogueSession, error)
	UpsertDialogue(ctx context.Context, d *session.DialogueSession) error
	DeleteDialogue(ctx context.Context, id string) error
}

// Reply is the engine's answer to one turn.
type Reply struct {
	Message string
	// Questions is the feedback.questions payload: the asked question, or the
	// summary's key points. Never nil.
	Questions []string
	State     State
	// EventType names the usage event for this turn.
	EventType string
}

// Engine holds no state across calls; every call re-reads the session.
type Engine struct {
	store Store
	llm   llm.Completer
}

func NewEngine(s Store, c llm.Completer) *Engine {
	return &Engine{store: s, llm: c}
}

// IsSummarizeCommand reports whether a user message asks for the summary.
func IsSummarizeCommand(text string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "summarize")
}

// Turn advances the flow with one non-summarize transcript.
func (e *Engine) Turn(ctx context.Context, sid, text string, level session.AudienceLevel) (Reply, error) {
	d, err := e.load(ctx, sid)
	if err != nil {
		return Reply{}, err
	}

	switch st := StateOf(d); st {
	case StateAwaitingQuestions:
		return e.seed(ctx, d, text, level)
	case StateQ1Pending, StateQ2Pending, StateQ3Pending:
		return e.answer(ctx, d, text)
	case StateAwaitingSummary:
		return Reply{Message: AwaitingSummaryMessage, Questions: []string{}, State: st, EventType: events.TypeExplainAnswer}, nil
	default:
		return Reply{Message: SummarizedMessage, Questions: []string{}, State: st, EventType: events.TypeExplainAnswer}, nil
	}
}

// load returns the dialogue record, creating it first if absent.
func (e *Engine) load(ctx context.Context, sid string) (*session.DialogueSession, error) {
	d, err := e.store.GetDialogue(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("read dialogue session: %w", err)
	}
	if d != nil {
		return d, nil
	}
	if err := e.store.CreateDialogue(ctx, &session.DialogueSession{ID: sid}); err != nil {
		return nil, fmt.Errorf("create dialogue session: %w", err)
	}
	d, err = e.store.GetDialogue(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("read dialogue session: %w", err)
	}
	if d == nil {
		return nil, fmt.Errorf("dialogue session %s vanished after create: %w", sid, store.ErrConflict)
	}
	return d, nil
}

type questionsResponse struct {
	Questions []string `json:"questions"`
}

func (e *Engine) seed(ctx context.Context, d *session.DialogueSession, text string, level session.AudienceLevel) (Reply, error) {
	raw, err := e.llm.Complete(ctx, llm.Request{
		System:      questionPrompt(level),
		User:        "Teacher says:\n\n" + text,
		Temperature: 0,
		MaxTokens:   300,
		JSON:        true,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("generate questions: %w", err)
	}

	var out questionsResponse
	if err := llm.Decode(raw, &out, "questions"); err != nil {
		return Reply{}, err
	}
	questions := make([]string, 0, session.QuestionsPerSession)
	for _, q := range out.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) < session.QuestionsPerSession {
		return Reply{}, llm.Invalid(raw, fmt.Sprintf("expected %d questions, got %d", session.QuestionsPerSession, len(questions)))
	}
	questions = questions[:session.QuestionsPerSession]

	d.OriginalText = text
	d.PendingQuestions = questions
	d.QuestionIndex = 0
	d.TeacherResponses = []string{}
	if err := e.store.UpsertDialogue(ctx, d); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return e.resolveSeedConflict(ctx, d.ID, text, err)
		}
		return Reply{}, fmt.Errorf("save questions: %w", err)
	}

	slog.Info("dialogue: questions generated", "session_id", d.ID)
	first := questions[0]
	return Reply{Message: first, Questions: []string{first}, State: StateQ1Pending, EventType: events.TypeExplainQuestions}, nil
}

// resolveSeedConflict handles a concurrent seeding of the same session. A
// resubmission of the same explanation gets the winner's first question.
func (e *Engine) resolveSeedConflict(ctx context.Context, sid, text string, cause error) (Reply, error) {
	cur, err := e.store.GetDialogue(ctx, sid)
	if err != nil || cur == nil {
		return Reply{}, cause
	}
	if StateOf(cur) == StateQ1Pending && cur.OriginalText == text {
		slog.Info("dialogue: concurrent seed resolved to stored questions", "session_id", sid)
		first := cur.PendingQuestions[0]
		return Reply{Message: first, Questions: []string{first}, State: StateQ1Pending, EventType: events.TypeExplainQuestions}, nil
	}
	return Reply{}, cause
}

func (e *Engine) answer(ctx context.Context, d *session.DialogueSession, text string) (Reply, error) {
	d.TeacherResponses = append(d.TeacherResponses, text)
	d.QuestionIndex++
	if err := e.store.UpsertDialogue(ctx, d); err != nil {
		return Reply{}, fmt.Errorf("save answer: %w", err)
	}

	st := StateOf(d)
	slog.Info("dialogue: answer recorded", "session_id", d.ID, "question_index", d.QuestionIndex, "state", st)
	if d.QuestionIndex < len(d.PendingQuestions) && d.QuestionIndex < session.QuestionsPerSession {
		next := d.PendingQuestions[d.QuestionIndex]
		return Reply{Message: next, Questions: []string{next}, State: st, EventType: events.TypeExplainAnswer}, nil
	}
	return Reply{Message: ThankYouMessage, Questions: []string{}, State: st, EventType: events.TypeExplainAnswer}, nil
}

type summaryResponse struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
}

// Summarize builds the summary from the explanation of the current question
// cycle and the questions asked after it. It may be called in any state; only
// a session in AWAITING_SUMMARY is marked summarized.
func (e *Engine) Summarize(ctx context.Context, sid string, level session.AudienceLevel) (Reply, error) {
	chat, err := e.store.GetChat(ctx, sid)
	if err != nil {
		return Reply{}, fmt.Errorf("read chat session: %w", err)
	}
	if chat == nil {
		return Reply{}, ErrNoExplanation
	}
	d, err := e.store.GetDialogue(ctx, sid)
	if err != nil {
		return Reply{}, fmt.Errorf("read dialogue session: %w", err)
	}
	explanation, at, ok := explanationFor(chat.Messages, d)
	if !ok {
		return Reply{}, ErrNoExplanation
	}
	var pairs []qaPair
	if at >= 0 {
		pairs = pairQuestions(chat.Messages[at+1:])
	} else {
		pairs = recordedPairs(d)
	}

	raw, err := e.llm.Complete(ctx, llm.Request{
		System:      summaryPrompt(level),
		User:        summaryInput(explanation, pairs),
		Temperature: 0,
		MaxTokens:   500,
		JSON:        true,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("generate summary: %w", err)
	}
	var out summaryResponse
	if err := llm.Decode(raw, &out, "summary"); err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(out.Summary) == "" {
		return Reply{}, llm.Invalid(raw, "empty summary")
	}
	if out.KeyPoints == nil {
		out.KeyPoints = []string{}
	}

	st := StateOf(d)
	if st == StateAwaitingSummary {
		d.Summarized = true
		if err := e.store.UpsertDialogue(ctx, d); err != nil {
			return Reply{}, fmt.Errorf("mark summarized: %w", err)
		}
		st = StateSummarized
	}

	slog.Info("dialogue: summarized", "session_id", sid, "pairs", len(pairs), "state", st)
	return Reply{Message: out.Summary, Questions: out.KeyPoints, State: st, EventType: events.TypeExplainSummary}, nil
}

// Reset deletes the dialogue record so the next turn seeds new questions.
func (e *Engine) Reset(ctx context.Context, sid string) error {
	if err := e.store.DeleteDialogue(ctx, sid); err != nil {
		return err
	}
	slog.Info("dialogue: reset", "session_id", sid)
	return nil
}

// State reports the current state of a session.
func (e *Engine) State(ctx context.Context, sid string) (State, error) {
	d, err := e.store.GetDialogue(ctx, sid)
	if err != nil {
		return "", err
	}
	return StateOf(d), nil
}

// explanationFor picks the explanation to summarize and its index in msgs.
// The text the current cycle was seeded with wins when it qualifies; the index
// is -1 if that text is not in the log.
func explanationFor(msgs []session.Message, d *session.DialogueSession) (string, int, bool) {
	if d != nil && qualifies(d.OriginalText) {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == session.RoleUser && msgs[i].Content == d.OriginalText {
				return d.OriginalText, i, true
			}
		}
		return d.OriginalText, -1, true
	}
	i, ok := findExplanation(msgs)
	if !ok {
		return "", -1, false
	}
	return msgs[i].Content, i, true
}

func qualifies(text string) bool {
	return !IsSummarizeCommand(text) && len(strings.Fields(text)) > minExplanationWords
}

// findExplanation returns the index of the newest user message that is not a
// summarize command and has more than minExplanationWords words.
func findExplanation(msgs []session.Message) (int, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m := msgs[i]; m.Role == session.RoleUser && qualifies(m.Content) {
			return i, true
		}
	}
	return -1, false
}

// recordedPairs rebuilds the pairs from the dialogue record alone.
func recordedPairs(d *session.DialogueSession) []qaPair {
	var pairs []qaPair
	for i, q := range d.PendingQuestions {
		if i == session.QuestionsPerSession {
			break
		}
		p := qaPair{Question: q}
		if i < len(d.TeacherResponses) {
			p.Answer = d.TeacherResponses[i]
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// pairQuestions pairs the first three assistant questions with the next user
// message after each. A question with no later answer gets an empty answer.
func pairQuestions(msgs []session.Message) []qaPair {
	var pairs []qaPair
	for i, m := range msgs {
		if len(pairs) == session.QuestionsPerSession {
			break
		}
		if m.Role != session.RoleAssistant || !strings.HasSuffix(strings.TrimSpace(m.Content), "?") {
			continue
		}
		p := qaPair{Question: strings.TrimSpace(m.Content)}
		for _, next := range msgs[i+1:] {
			if next.Role == session.RoleUser && !IsSummarizeCommand(next.Content) {
				p.Answer = next.Content
				break
			}
		}
		pairs = append(pairs, p)
	}
	return pairs
}
