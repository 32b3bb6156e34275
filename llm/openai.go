package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/lexcodex/testforge/framework"
)

const defaultSystemPrompt = "You repair failing test classes. Reply with complete corrected source files only."

// OpenAIClient implements framework.LanguageModel on the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	// System is sent as the system message of every request.
	System string
	Logger *slog.Logger
}

// NewOpenAIClient builds a client. An empty endpoint targets the public API;
// anything else is treated as an OpenAI compatible base URL.
func NewOpenAIClient(apiKey, endpoint, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = strings.TrimRight(endpoint, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		System: defaultSystemPrompt,
	}, nil
}

// APIKeyFromEnv reads the key from the named variable, falling back to a
// mounted secret file.
func APIKeyFromEnv(name string) string {
	if name == "" {
		name = "OPENAI_API_KEY"
	}
	if key := os.Getenv(name); key != "" {
		return key
	}
	data, err := os.ReadFile("/run/secrets/openai_api_key")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Generate implements framework.LanguageModel.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if o.System == "" {
		req.Messages = req.Messages[1:]
	}
	if options != nil {
		if options.Model != "" {
			req.Model = options.Model
		}
		req.Temperature = float32(options.Temperature)
		req.TopP = float32(options.TopP)
		req.MaxCompletionTokens = options.MaxTokens
		if len(options.Stop) > 0 {
			req.Stop = options.Stop
		}
	}
	o.logger().Debug("generating correction via openai", "model", req.Model, "prompt_chars", len(prompt))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	choice := resp.Choices[0]
	o.logger().Debug("received openai response", "finish_reason", choice.FinishReason)
	return &framework.LLMResponse{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}

func (o *OpenAIClient) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
