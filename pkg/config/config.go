package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Providers    ProvidersConfig    `json:"providers"`
	Narration    NarrationConfig    `json:"narration"`
	Pipeline     PipelineConfig     `json:"pipeline"`
	Sessions     SessionsConfig     `json:"sessions"`
	Attachments  AttachmentsConfig  `json:"attachments"`
	SystemPrompt SystemPromptConfig `json:"system_prompt"`
	Logging      LoggingConfig      `json:"logging"`
	mu           sync.RWMutex
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai" envPrefix:"STORYLOOM_PROVIDERS_OPENAI_"`
	Anthropic ProviderConfig `json:"anthropic" envPrefix:"STORYLOOM_PROVIDERS_ANTHROPIC_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
}

type NarrationConfig struct {
	Provider         string  `json:"provider" env:"STORYLOOM_NARRATION_PROVIDER"`
	Model            string  `json:"model" env:"STORYLOOM_NARRATION_MODEL"`
	SystemModel      string  `json:"system_model" env:"STORYLOOM_NARRATION_SYSTEM_MODEL"`
	MaxTokens        int     `json:"max_tokens" env:"STORYLOOM_NARRATION_MAX_TOKENS"`
	Temperature      float64 `json:"temperature" env:"STORYLOOM_NARRATION_TEMPERATURE"`
	TimeoutSeconds   int     `json:"timeout_seconds" env:"STORYLOOM_NARRATION_TIMEOUT_SECONDS"`
	TitleMaxChars    int     `json:"title_max_chars" env:"STORYLOOM_NARRATION_TITLE_MAX_CHARS"`
	TitleEnabled     bool    `json:"title_enabled" env:"STORYLOOM_NARRATION_TITLE_ENABLED"`
	GuardianEnabled  bool    `json:"guardian_enabled" env:"STORYLOOM_NARRATION_GUARDIAN_ENABLED"`
}

type PipelineConfig struct {
	AccumulatorMaxChunks     int  `json:"accumulator_max_chunks" env:"STORYLOOM_PIPELINE_ACCUMULATOR_MAX_CHUNKS"`
	AccumulatorMaxCharacters int  `json:"accumulator_max_characters" env:"STORYLOOM_PIPELINE_ACCUMULATOR_MAX_CHARACTERS"`
	AccumulatorMaxUTF8Bytes  int  `json:"accumulator_max_utf8_bytes" env:"STORYLOOM_PIPELINE_ACCUMULATOR_MAX_UTF8_BYTES"`
	RewriteEnabled           bool `json:"rewrite_enabled" env:"STORYLOOM_PIPELINE_REWRITE_ENABLED"`
	SummaryEnabled           bool `json:"summary_enabled" env:"STORYLOOM_PIPELINE_SUMMARY_ENABLED"`
	CharactersEnabled        bool `json:"characters_enabled" env:"STORYLOOM_PIPELINE_CHARACTERS_ENABLED"`
	InventoryEnabled         bool `json:"inventory_enabled" env:"STORYLOOM_PIPELINE_INVENTORY_ENABLED"`
}

type SessionsConfig struct {
	DataDir string `json:"data_dir" env:"STORYLOOM_SESSIONS_DATA_DIR"`
}

type AttachmentsConfig struct {
	DataDir string `json:"data_dir" env:"STORYLOOM_ATTACHMENTS_DATA_DIR"`
}

type SystemPromptConfig struct {
	ProfileID  string `json:"profile_id" env:"STORYLOOM_SYSTEM_PROMPT_PROFILE_ID"`
	Version    string `json:"version" env:"STORYLOOM_SYSTEM_PROMPT_VERSION"`
	PromptText string `json:"prompt_text" env:"STORYLOOM_SYSTEM_PROMPT_TEXT"`
	PromptFile string `json:"prompt_file" env:"STORYLOOM_SYSTEM_PROMPT_FILE"`
}

type LoggingConfig struct {
	Level           string `json:"level" env:"STORYLOOM_LOGGING_LEVEL"`
	FileEnabled     bool   `json:"file_enabled" env:"STORYLOOM_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"STORYLOOM_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"STORYLOOM_LOGGING_ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"STORYLOOM_LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"STORYLOOM_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{},
			Anthropic: ProviderConfig{},
		},
		Narration: NarrationConfig{
			Provider:        "openai",
			Model:           "gpt-4o",
			SystemModel:     "gpt-4o-mini",
			MaxTokens:       2048,
			Temperature:     0.8,
			TimeoutSeconds:  120,
			TitleMaxChars:   64,
			TitleEnabled:    true,
			GuardianEnabled: true,
		},
		Pipeline: PipelineConfig{
			AccumulatorMaxChunks:     0,
			AccumulatorMaxCharacters: 1600,
			AccumulatorMaxUTF8Bytes:  0,
			RewriteEnabled:           false,
			SummaryEnabled:           true,
			CharactersEnabled:        true,
			InventoryEnabled:         true,
		},
		Sessions: SessionsConfig{
			DataDir: "~/.storyloom/data",
		},
		Attachments: AttachmentsConfig{
			DataDir: "~/.storyloom/data",
		},
		SystemPrompt: SystemPromptConfig{
			ProfileID: "default",
			Version:   "1",
			PromptText: "You are the narrator of an interactive story. Continue the story from the " +
				"player's prompt, staying consistent with everything narrated so far. Write vivid, " +
				"concise prose in second person and stop at a natural decision point.",
		},
		Logging: LoggingConfig{
			Level:           "info",
			FileEnabled:     true,
			FilePath:        "~/.storyloom/storyloom.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       50,
		},
	}
}

// DefaultPath is where the CLI looks for a config file when no flag is set.
func DefaultPath() string {
	return expandHome("~/.storyloom/config.json")
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyProviderEnvOverrides(cfg)
	resolveProviderEnvRefs(cfg)

	return cfg, nil
}

func applyProviderEnvOverrides(cfg *Config) {
	type providerEnvBinding struct {
		target *ProviderConfig
		apiKey string
	}
	bindings := []providerEnvBinding{
		{target: &cfg.Providers.OpenAI, apiKey: "STORYLOOM_PROVIDERS_OPENAI_API_KEY"},
		{target: &cfg.Providers.Anthropic, apiKey: "STORYLOOM_PROVIDERS_ANTHROPIC_API_KEY"},
	}

	for _, b := range bindings {
		if v := strings.TrimSpace(os.Getenv(b.apiKey)); v != "" {
			b.target.APIKey = v
		}
	}

	// Plain SDK variables work too, for people who already have them set.
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
}

func resolveProviderEnvRefs(cfg *Config) {
	providers := []*ProviderConfig{
		&cfg.Providers.OpenAI,
		&cfg.Providers.Anthropic,
	}
	for _, p := range providers {
		p.APIKey = resolveEnvRef(p.APIKey)
		p.APIBase = resolveEnvRef(p.APIBase)
	}
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		key := strings.TrimSpace(s[1:])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SessionsDir returns the session data directory with ~ expanded.
func (c *Config) SessionsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Sessions.DataDir)
}

// AttachmentsDir returns the attachment data directory with ~ expanded.
func (c *Config) AttachmentsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Attachments.DataDir)
}

// LogFilePath returns the log file path with ~ expanded.
func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Logging.FilePath)
}

// SystemPromptText resolves the configured prompt, preferring an explicit
// prompt file over inline text.
func (c *Config) SystemPromptText() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.SystemPrompt.PromptFile != "" {
		data, err := os.ReadFile(expandHome(c.SystemPrompt.PromptFile))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return c.SystemPrompt.PromptText, nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
