package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// NewModelGenerator returns a Generator backed by an OpenAI-compatible
// chat completion endpoint. The profile context, when present, is
// appended to the system prompt so replies can use what is known about
// the user.
func NewModelGenerator(apiKey, baseURL, model, systemPrompt string) (Generator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("model generator: empty api key")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	return func(ctx context.Context, text, profileContext string) (string, error) {
		system := systemPrompt
		if profileContext != "" {
			system += "\n\nЧто известно о собеседнике:\n" + profileContext
		}
		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
			Temperature: 0.7,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("chat completion: no choices")
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}, nil
}
