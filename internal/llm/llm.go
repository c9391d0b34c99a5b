package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"promptcompiler/internal/analyzer"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 60 * time.Second

	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

var (
	ErrNoAPIKey    = errors.New("llm api key is not configured")
	ErrNoChoices   = errors.New("llm returned no choices")
	ErrNoMessages  = errors.New("llm request has no messages")
	ErrEmptyPrompt = errors.New("prompt is empty")
)

type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	Logger            *slog.Logger
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Client is a rate-limited chat completion client for OpenAI-compatible APIs.
type Client struct {
	client  *openai.Client
	model   string
	temp    float32
	max     int
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens must be >= 0: %d", cfg.MaxTokens)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must be >= 0: %v", cfg.RequestsPerSecond)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	logger.Info("Initializing LLM client", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &Client{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		temp:    cfg.Temperature,
		max:     cfg.MaxTokens,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat completion request. It blocks on the rate limiter
// until ctx is done.
func (c *Client) Complete(ctx context.Context, messages []Message) (Response, error) {
	if len(messages) == 0 {
		return Response{}, ErrNoMessages
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limit wait: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if c.temp > 0 {
		req.Temperature = c.temp
	}
	if c.max > 0 {
		req.MaxCompletionTokens = c.max
	}

	c.logger.Debug("Sending chat completion", "model", c.model, "messages", len(messages))
	started := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("LLM API call failed", "model", c.model, "error", err)
		return Response{}, fmt.Errorf("llm api call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("LLM returned no choices", "model", c.model)
		return Response{}, ErrNoChoices
	}
	c.logger.Debug("Received chat completion",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
		"elapsed", time.Since(started),
	)

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Response{
		Model:        model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// HealthCheck lists the models visible to the configured key.
func (c *Client) HealthCheck(ctx context.Context) error {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("llm health check: %w", err)
	}
	c.logger.Debug("LLM health check passed", "models", len(models.Models))
	return nil
}

// CompileMessages turns a prompt and its analysis into the messages sent
// upstream. Low scoring prompts get a system instruction asking for a
// structured answer.
func CompileMessages(prompt string, analysis analyzer.Analysis) ([]Message, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	var system strings.Builder
	system.WriteString("You are a precise assistant.")
	if analysis.EffectivenessScore < 0.3 {
		system.WriteString(" Work through the request step by step and state each result clearly.")
	}
	if !analysis.IsStable {
		system.WriteString(" Keep the answer focused on the task that was asked.")
	}
	return []Message{
		{Role: RoleSystem, Content: system.String()},
		{Role: RoleUser, Content: prompt},
	}, nil
}

// LastUserContent returns the content of the last user message.
func LastUserContent(messages []Message) (string, int, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content, i, true
		}
	}
	return "", -1, false
}
