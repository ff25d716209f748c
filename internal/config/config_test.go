package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Basic(t *testing.T) {
	path := writeConfig(t, `
port: 8317
debug: true
api-keys:
  - sk-test-1
upstream:
  base-url: https://api.example.com/v1
  model: gpt-4o
knowledge:
  enabled: true
  db-path: kb.db
tts:
  enabled: true
  default-volume: 0.8
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Port != 8317 {
		t.Errorf("Expected port 8317, got %d", cfg.Port)
	}
	if !cfg.Debug {
		t.Error("Expected debug to be enabled")
	}
	if len(cfg.APIKeys) != 1 || cfg.APIKeys[0] != "sk-test-1" {
		t.Errorf("Unexpected api-keys: %v", cfg.APIKeys)
	}
	if cfg.TTS.DefaultVolume == nil || *cfg.TTS.DefaultVolume != 0.8 {
		t.Errorf("Unexpected default volume: %v", cfg.TTS.DefaultVolume)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "port: 8317\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Upstream.TimeoutSeconds != DefaultUpstreamTimeoutSeconds {
		t.Errorf("Expected default upstream timeout, got %d", cfg.Upstream.TimeoutSeconds)
	}
	if cfg.Knowledge.TopK != DefaultKnowledgeTopK {
		t.Errorf("Expected default top-k, got %d", cfg.Knowledge.TopK)
	}
	if cfg.Knowledge.SnippetTokenBudget != DefaultSnippetTokenBudget {
		t.Errorf("Expected default snippet token budget, got %d", cfg.Knowledge.SnippetTokenBudget)
	}
	if cfg.TTS.DefaultVolume != nil {
		t.Errorf("Expected absent default volume, got %v", cfg.TTS.DefaultVolume)
	}
}

func TestLoadConfig_RejectsOutOfRangeVolume(t *testing.T) {
	path := writeConfig(t, `
port: 8317
tts:
  default-volume: 1.5
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("Expected out-of-range default volume to reject the config")
	}
	if !strings.Contains(err.Error(), "1.5") {
		t.Errorf("Expected error to carry the offending value, got %q", err.Error())
	}
}

func TestLoadConfig_RejectsMissingKnowledgePath(t *testing.T) {
	path := writeConfig(t, `
port: 8317
knowledge:
  enabled: true
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected missing knowledge.db-path to reject the config")
	}
}

func TestLoadConfigOptional_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := LoadConfigOptional(missing, true)
	if err != nil {
		t.Fatalf("LoadConfigOptional(optional=true) failed: %v", err)
	}
	if cfg == nil || cfg.Port != 0 {
		t.Errorf("Expected empty config, got %+v", cfg)
	}

	if _, err = LoadConfigOptional(missing, false); err == nil {
		t.Error("Expected error when optional is false")
	}
}
