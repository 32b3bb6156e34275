package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/testforge/framework"
)

type roundTripFunc func(*http.Request) *http.Response

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestClientGenerate(t *testing.T) {
	client := NewClient("http://fake", "test")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			assert.Equal(t, "/api/generate", req.URL.Path)
			var payload map[string]interface{}
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "hello", payload["prompt"])
			assert.Equal(t, false, payload["stream"])
			return jsonResponse(200, `{"text":"response"}`)
		}),
	}

	resp, err := client.Generate(context.Background(), "hello", &framework.LLMOptions{})
	assert.NoError(t, err)
	assert.Equal(t, "response", resp.Text)
}

func TestClientGenerateMapsOptions(t *testing.T) {
	client := NewClient("http://fake/", "")
	client.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) *http.Response {
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "codellama:13b", payload["model"])
			opts, ok := payload["options"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, 0.2, opts["temperature"])
			assert.Equal(t, float64(512), opts["num_predict"])
			return jsonResponse(200, `{"response":"class A {}","done_reason":"stop","prompt_eval_count":10,"eval_count":5}`)
		}),
	}

	resp, err := client.Generate(context.Background(), "fix", &framework.LLMOptions{Model: "codellama:13b", Temperature: 0.2, MaxTokens: 512})
	require.NoError(t, err)
	assert.Equal(t, "class A {}", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage["total_tokens"])
}

func TestClientGenerateReadsChatShapedResponse(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(*http.Request) *http.Response {
			return jsonResponse(200, `{"message":{"role":"assistant","content":"ok"}}`)
		}),
	}
	resp, err := client.Generate(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestClientGenerateReportsHTTPErrors(t *testing.T) {
	client := NewClient("http://fake", "m")
	client.client = &http.Client{
		Transport: roundTripFunc(func(*http.Request) *http.Response {
			return jsonResponse(404, `model "m" not found`)
		}),
	}
	_, err := client.Generate(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
