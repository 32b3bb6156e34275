package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/testforge/framework"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts and responses.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	base := map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}
	m.emitPrompt(ctx, base, map[string]interface{}{"prompt": clip(prompt, 8192)})
	start := time.Now()
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.emitResponse(ctx, resp, err, time.Since(start))
	return resp, err
}

func (m *InstrumentedModel) emitPrompt(ctx context.Context, base map[string]interface{}, debugFields map[string]interface{}) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := make(map[string]interface{}, len(base)+len(debugFields))
	for k, v := range base {
		metadata[k] = v
	}
	if m.Debug {
		for k, v := range debugFields {
			metadata[k] = v
		}
	}
	event := framework.Event{
		Type:      framework.EventEnginePrompt,
		Timestamp: time.Now().UTC(),
		Message:   "engine prompt",
		Metadata:  metadata,
	}
	stampSession(ctx, &event)
	m.Telemetry.Emit(event)
}

func (m *InstrumentedModel) emitResponse(ctx context.Context, resp *framework.LLMResponse, err error, elapsed time.Duration) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{
		"elapsed": elapsed,
	}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_chars"] = len(resp.Text)
		metadata["text_preview"] = clip(resp.Text, 1024)
		metadata["usage"] = resp.Usage
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	event := framework.Event{
		Type:      framework.EventEngineResponse,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("engine response (%d chars)", textLen(resp)),
		Metadata:  metadata,
	}
	stampSession(ctx, &event)
	m.Telemetry.Emit(event)
}

func stampSession(ctx context.Context, event *framework.Event) {
	session, ok := framework.SessionContextFrom(ctx)
	if !ok {
		return
	}
	event.SessionID = session.ID
	event.Iteration = session.Iteration
}

func textLen(resp *framework.LLMResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Text)
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
