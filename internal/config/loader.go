package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path over the defaults, applies
// environment overrides and returns a validated [Config]. An empty path skips
// the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decodeInto(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg fields from environment variables. Unset variables
// leave the corresponding field untouched.
func ApplyEnv(cfg *Config) {
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.Ollama.BaseURL, "OLLAMA_BASE_URL")
	setString(&cfg.Ollama.Model, "OLLAMA_MODEL")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setString(&cfg.Knowledge.WorkspacesDir, "WORKSPACES_DIR")
	setString(&cfg.Debug.AudioPath, "DEBUG_AUDIO_PATH")

	if v, ok := os.LookupEnv("SERVER_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := os.LookupEnv("DEBUG_SAVE_AUDIO"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug.SaveAudio = b
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.api_key is required (or set OPENAI_API_KEY)"))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Ollama.BaseURL == "" {
		errs = append(errs, errors.New("ollama.base_url must not be empty"))
	}
	if cfg.Ollama.Model == "" {
		errs = append(errs, errors.New("ollama.model must not be empty"))
	}
	if cfg.Knowledge.WorkspacesDir == "" {
		errs = append(errs, errors.New("knowledge.workspaces_dir must not be empty"))
	}
	if cfg.Debug.SaveAudio && cfg.Debug.AudioPath == "" {
		errs = append(errs, errors.New("debug.audio_path is required when debug.save_audio is set"))
	}

	return errors.Join(errs...)
}
