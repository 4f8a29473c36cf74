// Package llm provides the priority-queued agent dispatch used by the
// Strategy and Risk LLM paths: a bounded-concurrency gate in front of a
// chat-completion client, plus the four agent system prompts (Director,
// Quant, Risk, Execution) ported from the pipeline's original design.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// AgentClient sends a single system-prompt/user-input pair to a chat
// completion model and returns the raw text response. It is the network
// collaborator every agent call is routed through; Queue is responsible
// for prioritization and concurrency, not for knowing how the call is
// made.
type AgentClient interface {
	Complete(ctx context.Context, systemPrompt, userInput string) (string, error)
}

// OpenAIClient implements AgentClient against any OpenAI-compatible chat
// completions endpoint (OpenAI itself, or a self-hosted gateway reached
// via BaseURL).
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient builds a client for model, optionally pointed at a
// non-default baseURL (empty uses the OpenAI default).
func NewOpenAIClient(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Complete issues a single chat completion with a system and user message
// and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userInput string) (string, error) {
	c.logger.Debug("sending llm request", "model", c.model)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userInput},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response from model %q", c.model)
	}
	c.logger.Debug("received llm response")
	return resp.Choices[0].Message.Content, nil
}
