package caption

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/imaging"
)

// OpenAICaptioner implements Captioner against an OpenAI-compatible
// chat-completion API. The image travels inline as a base64 data URL.
type OpenAICaptioner struct {
	client    openai.Client
	apiKeyEnv string
	hasKey    bool
	model     string
	prompt    string
	maxTokens int
}

var _ Captioner = (*OpenAICaptioner)(nil)

// NewOpenAICaptioner creates a captioner from cfg. The API key is read from
// the environment variable named by cfg.APIKeyEnv; a missing key fails each
// Caption call rather than construction, so the server still starts.
func NewOpenAICaptioner(cfg *config.CaptionConfig) *OpenAICaptioner {
	apiKey := os.Getenv(cfg.APIKeyEnv)

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAICaptioner{
		client:    openai.NewClient(opts...),
		apiKeyEnv: cfg.APIKeyEnv,
		hasKey:    apiKey != "",
		model:     cfg.Model,
		prompt:    cfg.Prompt,
		maxTokens: cfg.MaxTokens,
	}
}

// Name returns the provider name.
func (c *OpenAICaptioner) Name() string { return "openai" }

// Caption sends the instruction prompt and the image as a data URL and
// returns the first choice's message content.
func (c *OpenAICaptioner) Caption(ctx context.Context, image []byte, mimeType string) (string, error) {
	if !c.hasKey {
		return "", fmt.Errorf("%w: %s is not set", ErrMissingCredential, c.apiKeyEnv)
	}

	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		MaxTokens: openai.Int(int64(c.maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(c.prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: imaging.DataURL(mimeType, image),
				}),
			}),
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrEmptyCaption
	}
	return completion.Choices[0].Message.Content, nil
}
