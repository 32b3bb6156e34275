package setup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lexcodex/testforge/framework"
	"github.com/lexcodex/testforge/llm"
)

// Report captures the detected environment a repair session depends on.
type Report struct {
	Workspace   string       `json:"workspace"`
	LastUpdated time.Time    `json:"last_updated"`
	BuildTools  []BuildTool  `json:"build_tools"`
	Engine      EngineStatus `json:"engine"`
}

// BuildTool stores availability for one test runner executable.
type BuildTool struct {
	ID          string   `json:"id"`
	Commands    []string `json:"commands"`
	Descriptor  string   `json:"descriptor,omitempty"`
	Available   bool     `json:"available"`
	CommandPath string   `json:"command_path,omitempty"`
	Wrapper     string   `json:"wrapper,omitempty"`
	InProject   bool     `json:"in_project"`
}

// EngineStatus is a snapshot of the configured reasoning engine.
type EngineStatus struct {
	Provider        string   `json:"provider"`
	Endpoint        string   `json:"endpoint"`
	Reachable       bool     `json:"reachable"`
	AvailableModels []string `json:"available_models,omitempty"`
	SelectedModel   string   `json:"selected_model"`
	HasModel        bool     `json:"has_model"`
	LastError       string   `json:"last_error,omitempty"`
}

type toolDescriptor struct {
	id          string
	commands    []string
	wrapper     string
	descriptors []string
}

var knownTools = []toolDescriptor{
	{id: "maven", commands: []string{"mvn"}, wrapper: "mvnw", descriptors: []string{"pom.xml"}},
	{id: "gradle", commands: []string{"gradle"}, wrapper: "gradlew", descriptors: []string{"build.gradle", "build.gradle.kts"}},
}

// Detector probes the host. Zero values use the real PATH and HTTP client.
type Detector struct {
	LookPath func(string) (string, error)
	Client   *http.Client
}

// Detect builds a report for workspace using the loaded config.
func (d Detector) Detect(ctx context.Context, workspace string, cfg *framework.Config) *Report {
	if cfg == nil {
		cfg = framework.DefaultConfig()
	}
	return &Report{
		Workspace:   workspace,
		LastUpdated: time.Now(),
		BuildTools:  d.detectBuildTools(workspace),
		Engine:      d.detectEngine(ctx, cfg.Engine),
	}
}

// Ready reports whether a session could start: some build tool is usable and
// the engine answered.
func (r *Report) Ready() bool {
	if r == nil || !r.Engine.Reachable {
		return false
	}
	for _, tool := range r.BuildTools {
		if tool.Available || tool.Wrapper != "" {
			return true
		}
	}
	return false
}

func (d Detector) detectBuildTools(workspace string) []BuildTool {
	tools := make([]BuildTool, 0, len(knownTools))
	for _, desc := range knownTools {
		tool := BuildTool{ID: desc.id, Commands: desc.commands}
		tool.CommandPath = d.findCommand(desc.commands)
		tool.Available = tool.CommandPath != ""
		if wrapper := filepath.Join(workspace, desc.wrapper); fileExists(wrapper) {
			tool.Wrapper = wrapper
		}
		for _, name := range desc.descriptors {
			if fileExists(filepath.Join(workspace, name)) {
				tool.Descriptor = name
				tool.InProject = true
				break
			}
		}
		tools = append(tools, tool)
	}
	return tools
}

func (d Detector) detectEngine(ctx context.Context, cfg framework.EngineConfig) EngineStatus {
	status := EngineStatus{
		Provider:      cfg.Provider,
		Endpoint:      cfg.Endpoint,
		SelectedModel: cfg.Model,
	}
	switch cfg.Provider {
	case "", "ollama":
		if status.Endpoint == "" {
			status.Endpoint = "http://localhost:11434"
		}
		models, err := d.fetchOllamaModels(ctx, status.Endpoint)
		if err != nil {
			status.LastError = err.Error()
			return status
		}
		status.Reachable = true
		status.AvailableModels = models
		status.HasModel = contains(models, cfg.Model)
	case "openai":
		if llm.APIKeyFromEnv(cfg.APIKeyEnv) == "" {
			status.LastError = "api key not set"
			return status
		}
		status.Reachable = true
		status.HasModel = true
	default:
		status.LastError = "unknown provider"
	}
	return status
}

func (d Detector) fetchOllamaModels(ctx context.Context, endpoint string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(endpoint, "/")+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.New(resp.Status)
	}
	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		if m.Name != "" {
			models = append(models, m.Name)
		}
	}
	sort.Strings(models)
	return models, nil
}

func (d Detector) findCommand(candidates []string) string {
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, cmd := range candidates {
		if path, err := lookPath(cmd); err == nil {
			return path
		}
	}
	return ""
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target || strings.TrimSuffix(item, ":latest") == target {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
