package framework

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configDirName = "testforge_cfg"

// ConfigDir returns the workspace-local configuration directory.
func ConfigDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, configDirName)
}

// DefaultConfigPath returns testforge_cfg/config.yaml within the workspace.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(ConfigDir(workspace), "config.yaml")
}

// Config matches testforge_cfg/config.yaml inside the workspace.
type Config struct {
	Version string        `yaml:"version"`
	Loop    LoopConfig    `yaml:"loop"`
	Write   WriteConfig   `yaml:"write"`
	Runner  RunnerConfig  `yaml:"runner"`
	Engine  EngineConfig  `yaml:"engine"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoopConfig bounds the convergence loop.
type LoopConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	TestTimeout     time.Duration `yaml:"test_timeout"`
	NoProgressLimit int           `yaml:"no_progress_limit"`
}

// WriteConfig tunes verified writes.
type WriteConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// RunnerConfig describes the build tool invocation.
type RunnerConfig struct {
	// Tool is maven or gradle.
	Tool      string   `yaml:"tool"`
	Command   []string `yaml:"command"`
	ExtraArgs []string `yaml:"extra_args"`
}

// EngineConfig selects the reasoning engine.
type EngineConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Endpoint          string  `yaml:"endpoint"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	SyntaxCheck       bool    `yaml:"syntax_check"`
}

// AuditConfig selects audit sinks.
type AuditConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	JSONDir    string `yaml:"json_dir"`
	EventsFile string `yaml:"events_file"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
	LLM   bool   `yaml:"llm_debug"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0.0",
		Loop: LoopConfig{
			MaxIterations:   5,
			TestTimeout:     300 * time.Second,
			NoProgressLimit: 2,
		},
		Write: WriteConfig{
			MaxRetries:  3,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  5 * time.Second,
		},
		Runner: RunnerConfig{
			Tool:    "maven",
			Command: []string{"mvn", "-B"},
		},
		Engine: EngineConfig{
			Provider:    "ollama",
			Model:       "codellama",
			Endpoint:    "http://localhost:11434",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.1,
			MaxTokens:   4096,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads the config or returns defaults when missing. Zero values
// in the file keep their defaults.
func LoadConfig(path, workspace string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, err
	}
	cfg.merge(&fileCfg)
	cfg.Audit.SQLitePath = expandPath(cfg.Audit.SQLitePath, workspace)
	cfg.Audit.JSONDir = expandPath(cfg.Audit.JSONDir, workspace)
	cfg.Audit.EventsFile = expandPath(cfg.Audit.EventsFile, workspace)
	cfg.Logging.File = expandPath(cfg.Logging.File, workspace)
	return cfg, nil
}

// SaveConfig writes the config to disk.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config missing")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) merge(o *Config) {
	if o.Version != "" {
		c.Version = o.Version
	}
	if o.Loop.MaxIterations > 0 {
		c.Loop.MaxIterations = o.Loop.MaxIterations
	}
	if o.Loop.TestTimeout > 0 {
		c.Loop.TestTimeout = o.Loop.TestTimeout
	}
	if o.Loop.NoProgressLimit > 0 {
		c.Loop.NoProgressLimit = o.Loop.NoProgressLimit
	}
	if o.Write.MaxRetries > 0 {
		c.Write.MaxRetries = o.Write.MaxRetries
	}
	if o.Write.BackoffBase > 0 {
		c.Write.BackoffBase = o.Write.BackoffBase
	}
	if o.Write.BackoffCap > 0 {
		c.Write.BackoffCap = o.Write.BackoffCap
	}
	if o.Runner.Tool != "" && !strings.EqualFold(o.Runner.Tool, c.Runner.Tool) {
		c.Runner.Tool = strings.ToLower(o.Runner.Tool)
		c.Runner.Command = nil
	}
	if len(o.Runner.Command) > 0 {
		c.Runner.Command = o.Runner.Command
	}
	if len(o.Runner.ExtraArgs) > 0 {
		c.Runner.ExtraArgs = o.Runner.ExtraArgs
	}
	if o.Engine.Provider != "" {
		c.Engine.Provider = strings.ToLower(o.Engine.Provider)
	}
	if o.Engine.Model != "" {
		c.Engine.Model = o.Engine.Model
	}
	if o.Engine.Endpoint != "" {
		c.Engine.Endpoint = o.Engine.Endpoint
	}
	if o.Engine.APIKeyEnv != "" {
		c.Engine.APIKeyEnv = o.Engine.APIKeyEnv
	}
	if o.Engine.Temperature != 0 {
		c.Engine.Temperature = o.Engine.Temperature
	}
	if o.Engine.MaxTokens > 0 {
		c.Engine.MaxTokens = o.Engine.MaxTokens
	}
	if o.Engine.RequestsPerMinute > 0 {
		c.Engine.RequestsPerMinute = o.Engine.RequestsPerMinute
	}
	c.Engine.SyntaxCheck = c.Engine.SyntaxCheck || o.Engine.SyntaxCheck
	c.Audit = o.Audit
	if o.Logging.Level != "" {
		c.Logging.Level = o.Logging.Level
	}
	c.Logging.File = o.Logging.File
	c.Logging.JSON = o.Logging.JSON
	c.Logging.LLM = o.Logging.LLM
	c.Metrics = o.Metrics
}

// expandPath resolves ~ and workspace-relative paths into absolute paths while
// leaving already absolute entries untouched.
func expandPath(path, workspace string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	if !filepath.IsAbs(path) {
		return filepath.Join(workspace, path)
	}
	return path
}
