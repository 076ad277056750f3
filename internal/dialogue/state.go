package dialogue

import "github.com/Toobanaz/ai-audience-mentor/internal/session"

// State is the Explain-mode position of a session, derived from its record.
type State string

const (
	StateNoSession         State = "NO_SESSION"
	StateAwaitingQuestions State = "AWAITING_QUESTIONS"
	StateQ1Pending         State = "Q1_PENDING"
	StateQ2Pending         State = "Q2_PENDING"
	StateQ3Pending         State = "Q3_PENDING"
	StateAwaitingSummary   State = "AWAITING_SUMMARY"
	StateSummarized        State = "SUMMARIZED"
)

// StateOf derives the state from a dialogue record. QuestionIndex counts
// answered questions, so Q(n) is pending while QuestionIndex == n-1.
func StateOf(d *session.DialogueSession) State {
	switch {
	case d == nil:
		return StateNoSession
	case d.Summarized:
		return StateSummarized
	case len(d.PendingQuestions) == 0:
		return StateAwaitingQuestions
	case d.QuestionIndex >= session.QuestionsPerSession:
		return StateAwaitingSummary
	case d.QuestionIndex == 2:
		return StateQ3Pending
	case d.QuestionIndex == 1:
		return StateQ2Pending
	default:
		return StateQ1Pending
	}
}
