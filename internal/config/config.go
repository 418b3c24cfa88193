package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server ServerConfig
	Ollama OllamaConfig
	Memory MemoryConfig
	Log    LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL   string
	FastModel string
}

type MemoryConfig struct {
	DataDir           string
	SimilarLimit      int
	SuggestionRecords int
	MaxSuggestedSteps int
	ScoreScale        float64
	ExtractionTimeout string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			FastModel: "qwen3:4b",
		},
		Memory: MemoryConfig{
			DataDir:           defaultDataDir(),
			SimilarLimit:      5,
			SuggestionRecords: 5,
			MaxSuggestedSteps: 15,
			ScoreScale:        10.0,
			ExtractionTimeout: "3s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/taskmem/config.json, then applies TASKMEM_* environment
// overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if _, err := time.ParseDuration(cfg.Memory.ExtractionTimeout); err != nil {
		return Config{}, fmt.Errorf("invalid memory.extraction_timeout %q: %w", cfg.Memory.ExtractionTimeout, err)
	}
	if cfg.Memory.ScoreScale <= 0 {
		return Config{}, fmt.Errorf("memory.score_scale must be positive, got %v", cfg.Memory.ScoreScale)
	}

	return cfg, nil
}

// ExtractionTimeout returns the parsed extraction timeout. Load validates the
// string, so parsing cannot fail afterwards.
func (c Config) ExtractionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Memory.ExtractionTimeout)
	if err != nil {
		return 3 * time.Second
	}
	return d
}
