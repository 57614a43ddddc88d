// Package config provides the configuration schema and loader for the
// VoxAssist server.
package config

import "log/slog"

// LogLevel controls log verbosity for the VoxAssist server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. Unknown values map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure for VoxAssist.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader]
// and then overridden from environment variables via [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Debug     DebugConfig     `yaml:"debug"`
}

// ServerConfig holds network and logging settings for the server.
type ServerConfig struct {
	// Host is the interface the server binds to.
	Host string `yaml:"host"`

	// Port is the TCP port for the WebSocket and REST endpoints.
	Port int `yaml:"port"`

	// MetricsAddr is the listen address for the Prometheus scrape endpoint.
	// Leave empty to disable the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// OpenAIConfig holds credentials for the realtime transcription API.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI Realtime API. Required.
	APIKey string `yaml:"api_key"`
}

// OllamaConfig selects the local completion backend used for hints.
type OllamaConfig struct {
	// BaseURL is the Ollama server address.
	BaseURL string `yaml:"base_url"`

	// Model is the Ollama model used for hint generation.
	Model string `yaml:"model"`
}

// KnowledgeConfig holds settings for the markdown knowledge base.
type KnowledgeConfig struct {
	// WorkspacesDir is the root directory holding knowledge workspaces.
	WorkspacesDir string `yaml:"workspaces_dir"`
}

// DebugConfig holds development aids.
type DebugConfig struct {
	// SaveAudio tees incoming audio frames to disk for inspection.
	SaveAudio bool `yaml:"save_audio"`

	// AudioPath is the directory raw audio captures are written to.
	AudioPath string `yaml:"audio_path"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8010,
			LogLevel: LogInfo,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.1:8b",
		},
		Knowledge: KnowledgeConfig{
			WorkspacesDir: "./workspaces",
		},
		Debug: DebugConfig{
			AudioPath: "./debug_audio",
		},
	}
}
