// Package gemini holds the Gemini model setup shared by the transcriber
// and the meeting summarizer.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// NewModel configures a low-temperature model with the given system
// instruction. Meeting talk is not filtered.
func NewModel(
	client *genai.Client,
	name string,
	system string,
	maxTokens int32,
) *genai.GenerativeModel {
	model := client.GenerativeModel(name)
	model.GenerationConfig.SetMaxOutputTokens(maxTokens)
	model.GenerationConfig.SetTemperature(0.1)
	model.GenerationConfig.SetTopP(1.0)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	model.SafetySettings = []*genai.SafetySetting{
		{
			Category:  genai.HarmCategoryHarassment,
			Threshold: genai.HarmBlockOnlyHigh,
		},
		{
			Category:  genai.HarmCategoryHateSpeech,
			Threshold: genai.HarmBlockOnlyHigh,
		},
		{
			Category:  genai.HarmCategorySexuallyExplicit,
			Threshold: genai.HarmBlockNone,
		},
		{
			Category:  genai.HarmCategoryDangerousContent,
			Threshold: genai.HarmBlockOnlyHigh,
		},
	}
	return model
}

// Result is a finished generation with its token counts.
type Result struct {
	Text         string
	PromptTokens int32
	OutputTokens int32
}

// Generate streams a response to completion.
func Generate(
	ctx context.Context,
	model *genai.GenerativeModel,
	parts ...genai.Part,
) (Result, error) {
	stream := model.GenerateContentStream(ctx, parts...)

	var (
		text strings.Builder
		res  Result
	)
	for {
		resp, err := stream.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("error streaming: %w", err)
		}
		text.WriteString(ResponseText(resp))
		if resp.UsageMetadata != nil {
			res.PromptTokens = resp.UsageMetadata.PromptTokenCount
			res.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
		}
	}
	res.Text = text.String()
	return res, nil
}

func ResponseText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// Counters converts token counts to usage counters.
func (r Result) Counters() map[string]float64 {
	return map[string]float64{
		"prompt_tokens": float64(r.PromptTokens),
		"output_tokens": float64(r.OutputTokens),
	}
}
