package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TASKMEM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "TASKMEM_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.fast_model", typ: kString, env: "TASKMEM_OLLAMA_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.FastModel },
	},
	{
		key: "memory.data_dir", typ: kString, env: "TASKMEM_MEMORY_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Memory.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.DataDir },
	},
	{
		key: "memory.similar_limit", typ: kInt, env: "TASKMEM_MEMORY_SIMILAR_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Memory.SimilarLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.SimilarLimit },
	},
	{
		key: "memory.suggestion_records", typ: kInt, env: "TASKMEM_MEMORY_SUGGESTION_RECORDS",
		apply:   func(cfg *Config, v any) { cfg.Memory.SuggestionRecords = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.SuggestionRecords },
	},
	{
		key: "memory.max_suggested_steps", typ: kInt, env: "TASKMEM_MEMORY_MAX_SUGGESTED_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Memory.MaxSuggestedSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Memory.MaxSuggestedSteps },
	},
	{
		key: "memory.score_scale", typ: kFloat, env: "TASKMEM_MEMORY_SCORE_SCALE",
		apply:   func(cfg *Config, v any) { cfg.Memory.ScoreScale = v.(float64) },
		extract: func(cfg Config) any { return cfg.Memory.ScoreScale },
	},
	{
		key: "memory.extraction_timeout", typ: kString, env: "TASKMEM_MEMORY_EXTRACTION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Memory.ExtractionTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Memory.ExtractionTimeout },
	},
	{
		key: "log.level", typ: kString, env: "TASKMEM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
