package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements the Client interface using the official OpenAI SDK
// chat completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient constructs a client that talks to the OpenAI API.
func NewOpenAIClient(apiKey, modelName string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai client requires an API key")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// GetModelName implements Client.
func (c *OpenAIClient) GetModelName() string {
	return c.model
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
