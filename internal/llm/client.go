// Package llm wraps the chat-completion API used as the router's
// low-confidence fallback classifier.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/market-insight/retriever/pkg/circuitbreaker"
	"github.com/market-insight/retriever/pkg/logger"
	"github.com/market-insight/retriever/pkg/retry"
)

// BreakerKey guards the completion endpoint.
const BreakerKey = "llm"

var ErrEmptyCompletion = errors.New("empty completion")

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	breaker     *circuitbreaker.Registry
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	JSONMode     bool
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config, breaker *circuitbreaker.Registry) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   300 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		breaker:     breaker,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var result *CompletionResponse
	call := func() error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return ErrEmptyCompletion
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(BreakerKey, call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RouteSuggestion is the classifier's structured answer.
type RouteSuggestion struct {
	SelectedType string   `json:"selected_type"`
	Confidence   string   `json:"confidence,omitempty"`
	Symbols      []string `json:"symbols,omitempty"`
	Companies    []string `json:"companies,omitempty"`
	Country      string   `json:"country,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

const routeSystemPrompt = `You classify financial research questions for a retrieval router.

Choose exactly one selected_type:
- us_single_stock: one US-listed company or ticker
- kr_single_stock: one Korea-listed company or 6-digit code
- macro_summary: economy-wide outlook or weekly summary
- indicator_lookup: a specific indicator value (rates, CPI, FX, GDP, unemployment)
- real_estate_detail: housing prices or transactions for a region
- compare_outlook: comparison across countries or companies
- relationship_query: suppliers, competitors or other company relationships
- general_knowledge: definitions or anything needing no data lookup

Respond with JSON only:
{"selected_type": "...", "confidence": "high|medium|low", "symbols": [], "companies": [], "country": "US|KR|", "reason": "..."}`

// SuggestRoute asks the model to classify question.
func (c *Client) SuggestRoute(ctx context.Context, question string) (*RouteSuggestion, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: routeSystemPrompt,
		UserPrompt:   question,
		Temperature:  0.1,
		MaxTokens:    200,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to suggest route: %w", err)
	}

	suggestion, err := ParseRouteSuggestion(resp.Content)
	if err != nil {
		return nil, err
	}

	logger.Info("LLM route suggested",
		zap.String("selected_type", suggestion.SelectedType),
		zap.String("confidence", suggestion.Confidence),
	)
	return suggestion, nil
}

// ParseRouteSuggestion extracts the first JSON object from content, tolerating
// code fences and surrounding prose.
func ParseRouteSuggestion(content string) (*RouteSuggestion, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion: %q", truncate(content, 80))
	}

	var s RouteSuggestion
	if err := json.Unmarshal([]byte(content[start:end+1]), &s); err != nil {
		return nil, fmt.Errorf("failed to parse route suggestion: %w", err)
	}
	s.SelectedType = strings.ToLower(strings.TrimSpace(s.SelectedType))
	s.Confidence = strings.ToLower(strings.TrimSpace(s.Confidence))
	s.Country = strings.ToUpper(strings.TrimSpace(s.Country))
	if s.SelectedType == "" {
		return nil, errors.New("route suggestion has no selected_type")
	}
	return &s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
