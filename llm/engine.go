package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexcodex/testforge/framework"
)

// ModelEngine adapts a LanguageModel to the framework.ReasoningEngine used by
// the repair loop.
type ModelEngine struct {
	Model   framework.LanguageModel
	Options *framework.LLMOptions
}

// Invoke sends the prompt and returns the raw completion text.
func (e *ModelEngine) Invoke(ctx context.Context, prompt string) (string, error) {
	if e == nil || e.Model == nil {
		return "", errors.New("language model missing")
	}
	resp, err := e.Model.Generate(ctx, prompt, e.Options)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text, nil
}

// RateLimitedEngine spaces engine calls to stay under a provider quota.
type RateLimitedEngine struct {
	Engine  framework.ReasoningEngine
	Limiter *rate.Limiter
}

// NewRateLimitedEngine allows rpm requests per minute with a burst of one.
// A non-positive rpm returns engine unchanged.
func NewRateLimitedEngine(engine framework.ReasoningEngine, rpm int) framework.ReasoningEngine {
	if rpm <= 0 {
		return engine
	}
	return &RateLimitedEngine{
		Engine:  engine,
		Limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Invoke waits for a token and then forwards the call.
func (e *RateLimitedEngine) Invoke(ctx context.Context, prompt string) (string, error) {
	if err := e.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("engine rate limit: %w", err)
	}
	return e.Engine.Invoke(ctx, prompt)
}

// NewEngine builds the configured engine: the provider client, wrapped with
// telemetry and an optional rate limit.
func NewEngine(cfg framework.EngineConfig, telemetry framework.Telemetry, debug bool) (framework.ReasoningEngine, error) {
	var model framework.LanguageModel
	switch cfg.Provider {
	case "", "ollama":
		client := NewClient(cfg.Endpoint, cfg.Model)
		client.SetDebugLogging(debug)
		model = client
	case "openai":
		client, err := NewOpenAIClient(APIKeyFromEnv(cfg.APIKeyEnv), cfg.Endpoint, cfg.Model)
		if err != nil {
			return nil, err
		}
		model = client
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
	if telemetry != nil {
		model = NewInstrumentedModel(model, telemetry, debug)
	}
	engine := &ModelEngine{
		Model: model,
		Options: &framework.LLMOptions{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		},
	}
	return NewRateLimitedEngine(engine, cfg.RequestsPerMinute), nil
}
