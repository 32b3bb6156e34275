package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lexcodex/testforge/framework"
)

// Client implements framework.LanguageModel for Ollama.
type Client struct {
	Endpoint string
	Model    string
	client   *http.Client
	Debug    bool
	Logger   *slog.Logger
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Text            string         `json:"text"`
	Response        string         `json:"response"`
	Message         *ollamaMessage `json:"message"`
	DoneReason      string         `json:"done_reason"`
	Usage           map[string]int `json:"usage"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

// NewClient builds a new Ollama client.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// Generate implements single prompt completion.
func (c *Client) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	payload := map[string]interface{}{
		"model":  c.model(options),
		"prompt": prompt,
		"stream": false,
	}
	c.applyOptions(payload, options)
	return c.doRequest(ctx, "/api/generate", payload)
}

// SetDebugLogging enables or disables verbose logging for requests/responses.
func (c *Client) SetDebugLogging(enabled bool) {
	c.Debug = enabled
}

func (c *Client) getHTTPClient() *http.Client {
	if c.client != nil {
		return c.client
	}
	c.client = &http.Client{Timeout: 60 * time.Second}
	return c.client
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "codellama"
}

// applyOptions maps generation options onto Ollama's "options" object.
func (c *Client) applyOptions(payload map[string]interface{}, options *framework.LLMOptions) {
	if options == nil {
		return
	}
	opts := map[string]interface{}{}
	if options.Temperature != 0 {
		opts["temperature"] = options.Temperature
	}
	if options.MaxTokens != 0 {
		opts["num_predict"] = options.MaxTokens
	}
	if options.Stop != nil {
		opts["stop"] = options.Stop
	}
	if options.TopP != 0 {
		opts["top_p"] = options.TopP
	}
	if len(opts) > 0 {
		payload["options"] = opts
	}
}

func (c *Client) doRequest(ctx context.Context, path string, payload interface{}) (*framework.LLMResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logPayload(path, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail != "" {
			return nil, fmt.Errorf("ollama error: %s: %s", resp.Status, detail)
		}
		return nil, fmt.Errorf("ollama error: %s", resp.Status)
	}
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logResponse(path, responseBody)
	return decodeLLMResponse(bytes.NewReader(responseBody))
}

func decodeLLMResponse(body io.Reader) (*framework.LLMResponse, error) {
	var raw ollamaResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}
	resp := &framework.LLMResponse{
		Text:         firstNonEmpty(raw.Text, raw.Response),
		FinishReason: raw.DoneReason,
		Usage:        normalizeUsage(raw),
	}
	if resp.Text == "" && raw.Message != nil {
		resp.Text = raw.Message.Content
	}
	return resp, nil
}

func normalizeUsage(raw ollamaResponse) map[string]int {
	usage := make(map[string]int, len(raw.Usage)+3)
	for k, v := range raw.Usage {
		usage[k] = v
	}
	if raw.PromptEvalCount > 0 {
		usage["prompt_tokens"] = raw.PromptEvalCount
	}
	if raw.EvalCount > 0 {
		usage["completion_tokens"] = raw.EvalCount
	}
	if usage["prompt_tokens"] > 0 || usage["completion_tokens"] > 0 {
		usage["total_tokens"] = usage["prompt_tokens"] + usage["completion_tokens"]
	}
	return usage
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Client) logPayload(path string, body []byte) {
	if !c.Debug {
		return
	}
	c.logger().Debug("ollama request", "path", path, "body", clip(string(body), 4096))
}

func (c *Client) logResponse(path string, body []byte) {
	if !c.Debug {
		return
	}
	c.logger().Debug("ollama response", "path", path, "body", clip(string(body), 4096))
}
