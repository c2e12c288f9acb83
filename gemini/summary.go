package gemini

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"

	"node.town/parley/transcript"
	"node.town/parley/usage"
)

// maxSummaryInput bounds how much transcript text goes into the prompt.
const maxSummaryInput = 30000

const summaryInstruction = `Summarize the following meeting transcript.
Focus on key decisions and action items, and say who owns each item.
If nobody actually talked, say "` + noConversation + `"`

const noConversation = "No conversation recorded."

// Summarizer writes a post-meeting summary.
type Summarizer struct {
	APIKey string
	Model  string
	Usage  *usage.Accumulator
}

func (s *Summarizer) Summarize(
	ctx context.Context,
	t transcript.Transcript,
) (string, error) {
	if strings.TrimSpace(t.Text()) == "" {
		return noConversation, nil
	}

	client, err := NewClient(ctx, s.APIKey)
	if err != nil {
		return "", err
	}
	defer client.Close()

	name := s.Model
	if name == "" {
		name = "gemini-1.5-flash"
	}
	model := NewModel(client, name, summaryInstruction, 2048)

	res, err := Generate(ctx, model, genai.Text(summaryInput(t)))
	if err != nil {
		return "", err
	}
	if s.Usage != nil {
		s.Usage.Add("gemini_summary", res.Counters(), map[string]string{"model": name})
	}
	return strings.TrimSpace(res.Text), nil
}

func summaryInput(t transcript.Transcript) string {
	text := t.String()
	if len(text) > maxSummaryInput {
		cut := maxSummaryInput
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return "TRANSCRIPT:\n" + text
}
