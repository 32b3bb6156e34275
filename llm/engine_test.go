package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/lexcodex/testforge/framework"
)

type stubModel struct {
	text    string
	err     error
	prompts []string
	options *framework.LLMOptions
}

func (s *stubModel) Generate(_ context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	s.prompts = append(s.prompts, prompt)
	s.options = options
	if s.err != nil {
		return nil, s.err
	}
	return &framework.LLMResponse{Text: s.text, FinishReason: "stop"}, nil
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []framework.Event
}

func (r *recordingTelemetry) Emit(event framework.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestModelEngineInvoke(t *testing.T) {
	model := &stubModel{text: "```java\nclass A {}\n```"}
	opts := &framework.LLMOptions{Model: "m", Temperature: 0.1}
	engine := &ModelEngine{Model: model, Options: opts}

	out, err := engine.Invoke(context.Background(), "fix A")
	require.NoError(t, err)
	assert.Equal(t, "```java\nclass A {}\n```", out)
	assert.Equal(t, []string{"fix A"}, model.prompts)
	assert.Same(t, opts, model.options)

	_, err = (&ModelEngine{}).Invoke(context.Background(), "x")
	assert.Error(t, err)
}

func TestInstrumentedModelEmitsPromptAndResponse(t *testing.T) {
	rec := &recordingTelemetry{}
	model := NewInstrumentedModel(&stubModel{text: "done"}, rec, true)
	ctx := framework.WithSessionContext(context.Background(), framework.SessionContext{ID: "s1", Iteration: 2})

	_, err := model.Generate(ctx, "prompt body", &framework.LLMOptions{Model: "m"})
	require.NoError(t, err)
	require.Len(t, rec.events, 2)

	prompt := rec.events[0]
	assert.Equal(t, framework.EventEnginePrompt, prompt.Type)
	assert.Equal(t, "s1", prompt.SessionID)
	assert.Equal(t, 2, prompt.Iteration)
	assert.Equal(t, "m", prompt.Metadata["model"])
	assert.Equal(t, "prompt body", prompt.Metadata["prompt"])

	response := rec.events[1]
	assert.Equal(t, framework.EventEngineResponse, response.Type)
	assert.Equal(t, 4, response.Metadata["text_chars"])
}

func TestInstrumentedModelRecordsErrors(t *testing.T) {
	rec := &recordingTelemetry{}
	model := NewInstrumentedModel(&stubModel{err: errors.New("boom")}, rec, false)
	_, err := model.Generate(context.Background(), "p", nil)
	require.Error(t, err)
	require.Len(t, rec.events, 2)
	assert.NotContains(t, rec.events[0].Metadata, "prompt")
	assert.Equal(t, "boom", rec.events[1].Metadata["error"])
}

func TestRateLimitedEngineHonorsCancellation(t *testing.T) {
	calls := 0
	inner := framework.ReasoningEngineFunc(func(context.Context, string) (string, error) {
		calls++
		return "ok", nil
	})
	engine := &RateLimitedEngine{Engine: inner, Limiter: rate.NewLimiter(rate.Every(1<<40), 1)}

	out, err := engine.Invoke(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Invoke(ctx, "second")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewRateLimitedEngineDisabled(t *testing.T) {
	inner := framework.ReasoningEngineFunc(func(context.Context, string) (string, error) { return "", nil })
	engine := NewRateLimitedEngine(inner, 0)
	_, wrapped := engine.(*RateLimitedEngine)
	assert.False(t, wrapped)
	_, wrapped = NewRateLimitedEngine(inner, 30).(*RateLimitedEngine)
	assert.True(t, wrapped)
}

func TestOpenAIClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "gpt-test", payload.Model)
		if assert.Len(t, payload.Messages, 2) {
			assert.Equal(t, "user", payload.Messages[1].Role)
			assert.Equal(t, "repair OwnerTest", payload.Messages[1].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"cmpl-1","object":"chat.completion","model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"class OwnerTest {}"}}],
			"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}
		}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient("sk-test", server.URL, "gpt-test")
	require.NoError(t, err)
	resp, err := client.Generate(context.Background(), "repair OwnerTest", &framework.LLMOptions{MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "class OwnerTest {}", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 10, resp.Usage["total_tokens"])
}

func TestOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("", "", "")
	assert.Error(t, err)
}

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	_, err := NewEngine(framework.EngineConfig{Provider: "mystery"}, nil, false)
	assert.Error(t, err)

	engine, err := NewEngine(framework.EngineConfig{Provider: "ollama", Model: "codellama", RequestsPerMinute: 10}, framework.NopTelemetry{}, false)
	require.NoError(t, err)
	limited, ok := engine.(*RateLimitedEngine)
	require.True(t, ok)
	model, ok := limited.Engine.(*ModelEngine)
	require.True(t, ok)
	assert.IsType(t, &InstrumentedModel{}, model.Model)
	assert.Equal(t, "codellama", model.Options.Model)
}
