package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mapBackend is a test double for the Backend interface.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return "", false, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	if i, ok := v.(int); ok {
		return i, true, nil
	}
	return 0, false, nil
}

func (m mapBackend) SetString(key, val string) error  { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m mapBackend) Delete(key string) error          { delete(m, key); return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q, want %q", cfg.Ollama.BaseURL, "http://localhost:11434")
	}
	if cfg.Ollama.FastModel != "qwen3:4b" {
		t.Errorf("Ollama.FastModel = %q, want %q", cfg.Ollama.FastModel, "qwen3:4b")
	}
	if cfg.Memory.SimilarLimit != 5 {
		t.Errorf("Memory.SimilarLimit = %d, want 5", cfg.Memory.SimilarLimit)
	}
	if cfg.Memory.MaxSuggestedSteps != 15 {
		t.Errorf("Memory.MaxSuggestedSteps = %d, want 15", cfg.Memory.MaxSuggestedSteps)
	}
	if cfg.Memory.ScoreScale != 10.0 {
		t.Errorf("Memory.ScoreScale = %v, want 10.0", cfg.Memory.ScoreScale)
	}
	if cfg.ExtractionTimeout() != 3*time.Second {
		t.Errorf("ExtractionTimeout = %v, want 3s", cfg.ExtractionTimeout())
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

func TestBackendValues(t *testing.T) {
	b := mapBackend{
		"server.port":        9000,
		"ollama.fast_model":  "llama3.2",
		"memory.score_scale": "20",
		"memory.data_dir":    "/tmp/taskmem-test",
		"log.level":          "debug",
	}
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Ollama.FastModel != "llama3.2" {
		t.Errorf("Ollama.FastModel = %q, want %q", cfg.Ollama.FastModel, "llama3.2")
	}
	if cfg.Memory.ScoreScale != 20.0 {
		t.Errorf("Memory.ScoreScale = %v, want 20.0", cfg.Memory.ScoreScale)
	}
	if cfg.Memory.DataDir != "/tmp/taskmem-test" {
		t.Errorf("Memory.DataDir = %q", cfg.Memory.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("TASKMEM_SERVER_PORT", "7777")
	t.Setenv("TASKMEM_MEMORY_SCORE_SCALE", "5.5")

	cfg, err := loadWith(mapBackend{"server.port": 9000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Memory.ScoreScale != 5.5 {
		t.Errorf("Memory.ScoreScale = %v, want 5.5", cfg.Memory.ScoreScale)
	}
}

func TestInvalidTimeoutRejected(t *testing.T) {
	if _, err := loadWith(mapBackend{"memory.extraction_timeout": "soon"}); err == nil {
		t.Fatal("expected error for unparseable timeout")
	}
}

func TestInvalidScoreScaleRejected(t *testing.T) {
	t.Setenv("TASKMEM_MEMORY_SCORE_SCALE", "-1")
	if _, err := loadWith(mapBackend{}); err == nil {
		t.Fatal("expected error for negative score scale")
	}
}

func TestShowAllAndValidKeys(t *testing.T) {
	cfg := defaults()
	infos := ShowAll(cfg)
	if len(infos) != len(specs) {
		t.Fatalf("ShowAll returned %d entries, want %d", len(infos), len(specs))
	}
	for _, info := range infos {
		if info.Key == "" || info.EnvVar == "" {
			t.Fatalf("incomplete key info %+v", info)
		}
	}

	keys := ValidKeys()
	found := false
	for _, k := range keys {
		if k == "memory.score_scale" {
			found = true
		}
	}
	if !found {
		t.Fatal("memory.score_scale missing from ValidKeys")
	}
}

func TestGetAPIToken(t *testing.T) {
	dir := t.TempDir()

	token, err := GetAPIToken(dir)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(token))
	}

	again, err := GetAPIToken(dir)
	if err != nil {
		t.Fatalf("second GetAPIToken: %v", err)
	}
	if again != token {
		t.Fatal("token must be stable across calls")
	}

	data, err := os.ReadFile(filepath.Join(dir, "api_token"))
	if err != nil {
		t.Fatalf("reading token file: %v", err)
	}
	if strings.TrimSpace(string(data)) != token {
		t.Fatal("token file content mismatch")
	}

	info, err := os.Stat(filepath.Join(dir, "api_token"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode = %v, want 0600", info.Mode().Perm())
	}
}
