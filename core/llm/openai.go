package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// There is no equivalent of the Gemini safety thresholds, so none are sent.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

func (o *OpenAIProvider) ID() string { return "openai" }

func (o *OpenAIProvider) Generate(ctx context.Context, parts []Part) (string, error) {
	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		if p.IsInline() {
			content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURI(p.Inline),
			}))
			continue
		}
		content = append(content, openai.TextContentPart(p.Text))
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" && msg.Refusal != "" {
		return "", fmt.Errorf("request refused: %s", msg.Refusal)
	}
	return msg.Content, nil
}

func dataURI(d *InlineData) string {
	return "data:" + d.MIMEType + ";base64," + d.Data
}
