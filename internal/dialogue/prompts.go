package dialogue

import (
	"fmt"
	"strings"

	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

// ThankYouMessage is returned after the third answer.
const ThankYouMessage = "Thank you for answering all of my questions! " +
	"Whenever you're ready, ask me to summarize what I've learned."

// AwaitingSummaryMessage answers plain turns once every question is answered.
const AwaitingSummaryMessage = "I've asked all of my questions. Say \"summarize\" and I'll sum up what you taught me."

// SummarizedMessage answers plain turns after the session was summarized.
const SummarizedMessage = "I've already summarized this explanation. Reset the session to start a new one."

func questionPrompt(level session.AudienceLevel) string {
	return fmt.Sprintf(`You are a curious student with %s level knowledge.
You just listened to a teacher explaining a concept.
Now, you must ask %d relevant follow-up questions, based on your level of understanding:
- Beginner: Ask simple, basic clarification questions.
- Intermediate: Ask practical or conceptual questions.
- Expert: Ask analytical or critical thinking questions.

IMPORTANT: Return ONLY a JSON object in this format: {"questions": ["question1", "question2", "question3"]}.
DO NOT thank the teacher. DO NOT conclude. JUST ask the %d questions.`,
		strings.ToLower(string(level)), session.QuestionsPerSession, session.QuestionsPerSession)
}

func summaryPrompt(level session.AudienceLevel) string {
	return fmt.Sprintf(`You are a smart %s-level student summarizing what the teacher has explained.
Base your summary on BOTH the original explanation and your own questions with the teacher's answers.
Return ONLY a JSON object: {"summary": "...", "keyPoints": ["...", "..."]}`,
		strings.ToLower(string(level)))
}

// qaPair is one assistant question and the user answer that followed it.
type qaPair struct {
	Question string
	Answer   string
}

func summaryInput(explanation string, pairs []qaPair) string {
	var sb strings.Builder
	sb.WriteString("Original explanation:\n")
	sb.WriteString(explanation)
	for i, p := range pairs {
		fmt.Fprintf(&sb, "\n\nQ%d: %s\nA%d: %s", i+1, p.Question, i+1, p.Answer)
	}
	return sb.String()
}
