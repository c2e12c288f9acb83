package stt

import (
	"context"
	"sync"

	"github.com/google/generative-ai-go/genai"

	"node.town/parley/audio"
	"node.town/parley/gemini"
	"node.town/parley/usage"
)

const stenographer = "You are a meeting stenographer. " +
	"Output only the words spoken, with good grammar and punctuation."

// Gemini transcribes clips by sending them inline to a Gemini model.
type Gemini struct {
	APIKey string
	Model  string

	// Usage receives token counts; audio seconds are recorded by the
	// adapter.
	Usage *usage.Accumulator

	mu     sync.Mutex
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGemini(apiKey, model string, acc *usage.Accumulator) *Gemini {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Gemini{APIKey: apiKey, Model: model, Usage: acc}
}

func (g *Gemini) Name() string {
	return "gemini"
}

func (g *Gemini) Open(ctx context.Context) error {
	client, err := gemini.NewClient(ctx, g.APIKey)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		g.client.Close()
	}
	g.client = client
	g.model = gemini.NewModel(client, g.Model, stenographer, 2048)
	return nil
}

func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	g.model = nil
	return err
}

func (g *Gemini) Transcribe(
	ctx context.Context,
	clip []byte,
	format audio.Format,
	prompt string,
) (string, error) {
	g.mu.Lock()
	model := g.model
	g.mu.Unlock()
	if model == nil {
		return "", ErrNotInitialized
	}

	res, err := gemini.Generate(
		ctx,
		model,
		genai.Text(prompt),
		genai.Blob{MIMEType: "audio/wav", Data: clip},
	)
	if err != nil {
		return "", err
	}

	if g.Usage != nil {
		g.Usage.Add(
			g.Name()+"_stt",
			res.Counters(),
			map[string]string{"model": g.Model},
		)
	}
	return res.Text, nil
}
