package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
	model  string
	safety []*genai.SafetySetting
}

var _ Provider = (*GeminiProvider)(nil)

func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		model:  cfg.Model,
		safety: geminiSafetySettings(DefaultSafety),
	}, nil
}

func (g *GeminiProvider) ID() string { return "gemini" }

func geminiSafetySettings(rules []SafetyRule) []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(rules))
	for _, r := range rules {
		out = append(out, &genai.SafetySetting{
			Category:  genai.HarmCategory(r.Category),
			Threshold: genai.HarmBlockThreshold(r.Threshold),
		})
	}
	return out
}

func (g *GeminiProvider) Generate(ctx context.Context, parts []Part) (string, error) {
	gparts, err := toGeminiParts(parts)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{genai.NewContentFromParts(gparts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SafetySettings: g.safety,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked by safety settings (%s)", fb.BlockReason)
	}

	// No candidates and empty stop replies are valid, empty answers.
	if len(resp.Candidates) == 0 {
		return "", nil
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "", fmt.Errorf("blocked by safety settings (%s)", candidate.FinishReason)
	}
	if candidate.Content == nil {
		return "", nil
	}

	var responseText strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" && !part.Thought {
			responseText.WriteString(part.Text)
		}
	}
	return responseText.String(), nil
}

func toGeminiParts(parts []Part) ([]*genai.Part, error) {
	out := make([]*genai.Part, 0, len(parts))
	for i, p := range parts {
		if !p.IsInline() {
			out = append(out, genai.NewPartFromText(p.Text))
			continue
		}
		data, err := p.Inline.Bytes()
		if err != nil {
			return nil, fmt.Errorf("part %d: invalid inline data: %w", i, err)
		}
		out = append(out, genai.NewPartFromBytes(data, p.Inline.MIMEType))
	}
	return out, nil
}
