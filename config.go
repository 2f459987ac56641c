package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"geminichat/core/history"
	"geminichat/core/llm"
	"geminichat/platforms/matrix"
	"geminichat/platforms/web"
)

type Config struct {
	Server  web.Config     `toml:"server"`
	LLM     llm.Config     `toml:"llm"`
	History history.Config `toml:"history"`
	Matrix  matrix.Config  `toml:"matrix"`
	Logging LoggingConfig  `toml:"logging"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	// Format is auto, console or json. auto picks console on a terminal.
	Format string `toml:"format"`
}

var envFiles = []string{".env.local", ".env"}

func defaultConfig() Config {
	return Config{
		History: history.Config{Enabled: true},
	}
}

// LoadConfig reads the TOML file at path, which may be absent, and layers
// defaults and environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":3000"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 60000
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 60000
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if strings.TrimSpace(cfg.LLM.Provider) == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.Model == "" && strings.EqualFold(cfg.LLM.Provider, "gemini") {
		cfg.LLM.Model = llm.DefaultGeminiModel
	}
	if strings.TrimSpace(cfg.History.Path) == "" {
		cfg.History.Path = "./data/conversations.db"
	}
	if strings.TrimSpace(cfg.Matrix.CredentialsDBPath) == "" {
		cfg.Matrix.CredentialsDBPath = "./data/matrix-credentials.json"
	}
	if cfg.Matrix.CommandPrefix == "" {
		cfg.Matrix.CommandPrefix = matrix.DefaultCommandPrefix
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, name := range []string{"GOOGLE_API_KEY", "API_KEY", "GEMINICHAT_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			cfg.LLM.APIKey = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_LLM_PROVIDER")); v != "" {
		cfg.LLM.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_LLM_MODEL")); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_LLM_BASE_URL")); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_AUTH_TOKEN")); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_MAX_UPLOAD_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Server.MaxUploadBytes = n
		}
	}
	cfg.History.Enabled = envBool("GEMINICHAT_HISTORY_ENABLED", cfg.History.Enabled)
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_HISTORY_PATH")); v != "" {
		cfg.History.Path = v
	}
	cfg.Matrix.Enabled = envBool("GEMINICHAT_MATRIX_ENABLED", cfg.Matrix.Enabled)
	if v := strings.TrimSpace(os.Getenv("GEMINICHAT_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

func validate(cfg *Config) error {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch cfg.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", cfg.Logging.Format)
	}
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return errors.New("history.path is required when history.enabled=true")
	}
	if cfg.Matrix.Enabled {
		if strings.TrimSpace(cfg.Matrix.Homeserver) == "" {
			return errors.New("matrix.homeserver is required when matrix.enabled=true")
		}
		if strings.TrimSpace(cfg.Matrix.UserID) == "" {
			return errors.New("matrix.user_id is required when matrix.enabled=true")
		}
	}
	return nil
}

// requireAPIKey is checked by commands that talk to the model.
func (c *Config) requireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key is required (or set API_KEY / GOOGLE_API_KEY)")
	}
	return nil
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
