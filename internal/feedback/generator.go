// Package feedback produces the Presentation-mode critique of a transcript.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Toobanaz/ai-audience-mentor/internal/llm"
	"github.com/Toobanaz/ai-audience-mentor/internal/session"
)

const (
	maxQuestions   = 3
	maxRephrasings = 3
)

var requiredKeys = []string{"summary", "clarity", "pacing", "structureSuggestions", "deliveryTips", "questions"}

// Generator is stateless; one Generate call is one completion.
type Generator struct {
	llm llm.Completer
}

func NewGenerator(c llm.Completer) *Generator {
	return &Generator{llm: c}
}

// Generate critiques transcript for an audience of the given level.
func (g *Generator) Generate(ctx context.Context, transcript string, level session.AudienceLevel) (*session.Feedback, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("empty transcript")
	}
	raw, err := g.llm.Complete(ctx, llm.Request{
		System:      systemPrompt(level),
		User:        "Transcript:\n\n" + transcript,
		Temperature: 0,
		MaxTokens:   1000,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate feedback: %w", err)
	}

	var fb session.Feedback
	if err := llm.Decode(raw, &fb, requiredKeys...); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fb.Summary) == "" {
		return nil, llm.Invalid(raw, "empty summary")
	}

	if len(fb.Questions) > maxQuestions {
		fb.Questions = fb.Questions[:maxQuestions]
	}
	rephrasings := make([]session.RephrasingSuggestion, 0, len(fb.RephrasingSuggestions))
	for _, r := range fb.RephrasingSuggestions {
		if r.Original == "" || r.Suggested == "" {
			continue
		}
		rephrasings = append(rephrasings, r)
		if len(rephrasings) == maxRephrasings {
			break
		}
	}
	fb.RephrasingSuggestions = rephrasings

	slog.Debug("feedback: generated", "level", level, "questions", len(fb.Questions), "rephrasings", len(rephrasings))
	return &fb, nil
}
