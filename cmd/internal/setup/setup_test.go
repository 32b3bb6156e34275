package setup

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
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

func TestDetectFindsProjectToolsAndModels(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "pom.xml"), []byte("<project/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "gradlew"), []byte("#!/bin/sh"), 0o755))

	var path string
	d := Detector{
		LookPath: func(name string) (string, error) {
			if name == "mvn" {
				return "/usr/bin/mvn", nil
			}
			return "", errors.New("not found")
		},
		Client: &http.Client{Transport: roundTripFunc(func(req *http.Request) *http.Response {
			path = req.URL.Path
			return jsonResponse(http.StatusOK, `{"models":[{"name":"qwen2.5-coder"},{"name":"codellama:latest"}]}`)
		})},
	}
	report := d.Detect(context.Background(), workspace, framework.DefaultConfig())

	assert.Equal(t, "/api/tags", path)
	require.Len(t, report.BuildTools, 2)
	maven, gradle := report.BuildTools[0], report.BuildTools[1]
	assert.True(t, maven.Available)
	assert.True(t, maven.InProject)
	assert.Equal(t, "pom.xml", maven.Descriptor)
	assert.False(t, gradle.Available)
	assert.Equal(t, filepath.Join(workspace, "gradlew"), gradle.Wrapper)

	assert.True(t, report.Engine.Reachable)
	assert.Equal(t, []string{"codellama:latest", "qwen2.5-coder"}, report.Engine.AvailableModels)
	assert.True(t, report.Engine.HasModel)
	assert.True(t, report.Ready())
}

func TestDetectUnreachableEngine(t *testing.T) {
	d := Detector{
		LookPath: func(string) (string, error) { return "", errors.New("not found") },
		Client: &http.Client{Transport: roundTripFunc(func(*http.Request) *http.Response {
			return jsonResponse(http.StatusServiceUnavailable, "")
		})},
	}
	report := d.Detect(context.Background(), t.TempDir(), nil)
	assert.False(t, report.Engine.Reachable)
	assert.NotEmpty(t, report.Engine.LastError)
	assert.False(t, report.Ready())
}

func TestDetectOpenAIKey(t *testing.T) {
	t.Setenv("TESTFORGE_TEST_KEY", "sk-test")
	cfg := framework.DefaultConfig()
	cfg.Engine.Provider = "openai"
	cfg.Engine.APIKeyEnv = "TESTFORGE_TEST_KEY"
	report := Detector{LookPath: func(string) (string, error) { return "/bin/mvn", nil }}.Detect(context.Background(), t.TempDir(), cfg)
	assert.True(t, report.Engine.Reachable)
	assert.True(t, report.Ready())

	cfg.Engine.Provider = "bedrock"
	report = Detector{}.Detect(context.Background(), t.TempDir(), cfg)
	assert.Equal(t, "unknown provider", report.Engine.LastError)
}
