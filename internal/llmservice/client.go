package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"edumate-rag/internal/config"
	"edumate-rag/internal/models"
)

// ContentGenerator is the part of a langchaingo model we call.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Client sends single-prompt completions to an OpenAI compatible endpoint.
type Client struct {
	llm         ContentGenerator
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

var thinkRe = regexp.MustCompile(models.ThinkTag)

func NewClient(cfg config.LLMConfig) (*Client, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating LLM client")
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	return NewClientWithModel(llm, cfg), nil
}

func NewClientWithModel(llm ContentGenerator, cfg config.LLMConfig) *Client {
	return &Client{
		llm:         llm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Generate sends prompt as a single user message and returns the trimmed answer
// with any <think> block removed.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msgContent := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}

	res, err := c.llm.GenerateContent(ctx, msgContent,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}

	answer := thinkRe.ReplaceAllString(res.Choices[0].Content, "")
	return strings.TrimSpace(answer), nil
}
