package session

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the conversational flow for a ChatSession. It is fixed at creation.
type Mode string

const (
	ModePresentation Mode = "Presentation"
	ModeExplain      Mode = "Explain"
)

// ParseMode accepts the two mode names case-insensitively. Empty means Presentation.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "presentation":
		return ModePresentation, nil
	case "explain":
		return ModeExplain, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// AudienceLevel tailors prompt tone and question depth.
type AudienceLevel string

const (
	LevelBeginner     AudienceLevel = "Beginner"
	LevelIntermediate AudienceLevel = "Intermediate"
	LevelExpert       AudienceLevel = "Expert"
)

// ParseAudienceLevel accepts the three level names case-insensitively. Empty means Beginner.
func ParseAudienceLevel(s string) (AudienceLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "beginner":
		return LevelBeginner, nil
	case "intermediate":
		return LevelIntermediate, nil
	case "expert":
		return LevelExpert, nil
	}
	return "", fmt.Errorf("unknown audience level %q", s)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a ChatSession log. Immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Feedback  *Feedback `json:"feedback,omitempty"`
}

// ChatSession is the persisted message log for one session id.
type ChatSession struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Mode          Mode          `json:"mode"`
	AudienceLevel AudienceLevel `json:"audience_level"`
	Messages      []Message     `json:"messages"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// LastTimestamp returns the timestamp of the newest message, or the zero time.
func (c *ChatSession) LastTimestamp() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].Timestamp
}

// Append adds m to the log, moving its timestamp forward if needed so the log
// stays strictly ordered.
func (c *ChatSession) Append(m Message) Message {
	if last := c.LastTimestamp(); !m.Timestamp.After(last) {
		m.Timestamp = last.Add(time.Microsecond)
	}
	c.Messages = append(c.Messages, m)
	return m
}

// QuestionsPerSession is the fixed number of follow-up questions in Explain mode.
const QuestionsPerSession = 3

// DialogueSession holds the Explain-mode question flow. It shares its id with
// the ChatSession of the same conversation but is stored separately.
type DialogueSession struct {
	ID               string    `json:"id"`
	PendingQuestions []string  `json:"pending_questions"`
	QuestionIndex    int       `json:"question_index"`
	TeacherResponses []string  `json:"teacher_responses"`
	OriginalText     string    `json:"original_text"`
	Summarized       bool      `json:"summarized"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RephrasingSuggestion pairs a transcript sentence with a clearer alternative.
type RephrasingSuggestion struct {
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
}

// Feedback is the structured critique attached to assistant messages. Presentation
// feedback fills every field; Explain replies only carry Questions.
type Feedback struct {
	Summary               string                 `json:"summary,omitempty"`
	Clarity               string                 `json:"clarity,omitempty"`
	Pacing                string                 `json:"pacing,omitempty"`
	StructureSuggestions  string                 `json:"structureSuggestions,omitempty"`
	DeliveryTips          string                 `json:"deliveryTips,omitempty"`
	Questions             []string               `json:"questions"`
	RephrasingSuggestions []RephrasingSuggestion `json:"rephrasingSuggestions,omitzero"`
}

// Clone returns a deep copy. Feedback payloads are shared since messages are immutable.
func (c *ChatSession) Clone() *ChatSession {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}

func (d *DialogueSession) Clone() *DialogueSession {
	cp := *d
	cp.PendingQuestions = append([]string(nil), d.PendingQuestions...)
	cp.TeacherResponses = append([]string(nil), d.TeacherResponses...)
	return &cp
}
