package framework

import (
	"context"
	"time"
)

// TestRun is the raw result of one test-runner invocation.
type TestRun struct {
	Output   string
	ExitCode int
	Elapsed  time.Duration
}

// TestRunner executes the named test classes inside one module. A non-zero
// exit code is reported through TestRun; the error return is reserved for
// infrastructure problems (missing executable, timeout).
type TestRunner interface {
	Run(ctx context.Context, moduleRoot string, testClasses []string, timeout time.Duration) (TestRun, error)
}

// ReasoningEngine is the external engine proposing corrections: plain text
// request in, plain text response out.
type ReasoningEngine interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// LLMOptions configures language model calls. Keeping the options struct inside
// the framework avoids hard-coding Ollama/OpenAI specific fields in loop code.
type LLMOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
}

// LLMResponse is the result of a language model invocation.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// LanguageModel provides single-prompt completion.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
}

// ReasoningEngineFunc adapts a function to ReasoningEngine.
type ReasoningEngineFunc func(ctx context.Context, prompt string) (string, error)

// Invoke calls f.
func (f ReasoningEngineFunc) Invoke(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
