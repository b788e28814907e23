package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.RecognizerEndpoint != "http://localhost:8765" {
		t.Errorf("RecognizerEndpoint: got %s", cfg.RecognizerEndpoint)
	}
	if cfg.RecognizerModel == "" {
		t.Error("RecognizerModel should have a default")
	}
	if !cfg.UseRecognizer {
		t.Error("UseRecognizer should default to true")
	}
	if cfg.TokenMergeFloor != 0.5 {
		t.Errorf("TokenMergeFloor: got %f, want 0.5", cfg.TokenMergeFloor)
	}
	if cfg.HighRecallFloor != 0.3 {
		t.Errorf("HighRecallFloor: got %f, want 0.3", cfg.HighRecallFloor)
	}
	if cfg.NeedsReviewBelow != 0.7 {
		t.Errorf("NeedsReviewBelow: got %f, want 0.7", cfg.NeedsReviewBelow)
	}
	if cfg.FuzzyTimeoutMs != 100 {
		t.Errorf("FuzzyTimeoutMs: got %d, want 100", cfg.FuzzyTimeoutMs)
	}
	if cfg.ContextWindow != 30 {
		t.Errorf("ContextWindow: got %d, want 30", cfg.ContextWindow)
	}
	if cfg.MappingDBPath != "" {
		t.Errorf("MappingDBPath should default to empty, got %s", cfg.MappingDBPath)
	}
	if cfg.ReviewPort != 8081 {
		t.Errorf("ReviewPort: got %d, want 8081", cfg.ReviewPort)
	}
	if cfg.ReviewBindAddress != "127.0.0.1" {
		t.Errorf("ReviewBindAddress: got %s", cfg.ReviewBindAddress)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadEnv_RecognizerEndpoint(t *testing.T) {
	t.Setenv("RECOGNIZER_ENDPOINT", "http://remote:8765")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.RecognizerEndpoint != "http://remote:8765" {
		t.Errorf("RecognizerEndpoint: got %s", cfg.RecognizerEndpoint)
	}
}

func TestLoadEnv_RecognizerModel(t *testing.T) {
	t.Setenv("RECOGNIZER_MODEL", "bert-pii-v2")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.RecognizerModel != "bert-pii-v2" {
		t.Errorf("RecognizerModel: got %s", cfg.RecognizerModel)
	}
}

func TestLoadEnv_DisableRecognizer(t *testing.T) {
	t.Setenv("USE_RECOGNIZER", "false")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.UseRecognizer {
		t.Error("UseRecognizer should be false")
	}
}

func TestLoadEnv_Thresholds(t *testing.T) {
	t.Setenv("TOKEN_MERGE_FLOOR", "0.6")
	t.Setenv("HIGH_RECALL_FLOOR", "0.2")
	t.Setenv("NEEDS_REVIEW_BELOW", "0.8")
	t.Setenv("FUZZY_TIMEOUT_MS", "250")
	t.Setenv("CONTEXT_WINDOW", "50")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.TokenMergeFloor != 0.6 {
		t.Errorf("TokenMergeFloor: got %f, want 0.6", cfg.TokenMergeFloor)
	}
	if cfg.HighRecallFloor != 0.2 {
		t.Errorf("HighRecallFloor: got %f, want 0.2", cfg.HighRecallFloor)
	}
	if cfg.NeedsReviewBelow != 0.8 {
		t.Errorf("NeedsReviewBelow: got %f, want 0.8", cfg.NeedsReviewBelow)
	}
	if cfg.FuzzyTimeoutMs != 250 {
		t.Errorf("FuzzyTimeoutMs: got %d, want 250", cfg.FuzzyTimeoutMs)
	}
	if cfg.ContextWindow != 50 {
		t.Errorf("ContextWindow: got %d, want 50", cfg.ContextWindow)
	}
}

func TestLoadEnv_MappingDBPath(t *testing.T) {
	t.Setenv("MAPPING_DB_PATH", "/var/lib/anonymizer/mappings.db")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.MappingDBPath != "/var/lib/anonymizer/mappings.db" {
		t.Errorf("MappingDBPath: got %s", cfg.MappingDBPath)
	}
}

func TestLoadEnv_ReviewSettings(t *testing.T) {
	t.Setenv("REVIEW_PORT", "9091")
	t.Setenv("REVIEW_BIND_ADDRESS", "0.0.0.0")
	t.Setenv("REVIEW_TOKEN", "secret-token")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ReviewPort != 9091 {
		t.Errorf("ReviewPort: got %d, want 9091", cfg.ReviewPort)
	}
	if cfg.ReviewBindAddress != "0.0.0.0" {
		t.Errorf("ReviewBindAddress: got %s", cfg.ReviewBindAddress)
	}
	if cfg.ReviewToken != "secret-token" {
		t.Errorf("ReviewToken: got %s", cfg.ReviewToken)
	}
}

func TestLoadEnv_LogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadEnv_InvalidNumber_Ignored(t *testing.T) {
	t.Setenv("REVIEW_PORT", "not-a-number")
	t.Setenv("FUZZY_TIMEOUT_MS", "soon")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ReviewPort != 8081 {
		t.Errorf("ReviewPort: got %d, want 8081 (invalid env should be ignored)", cfg.ReviewPort)
	}
	if cfg.FuzzyTimeoutMs != 100 {
		t.Errorf("FuzzyTimeoutMs: got %d, want 100 (invalid env should be ignored)", cfg.FuzzyTimeoutMs)
	}
}

func TestLoadFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"recognizerModel": "bert-pii-v3",
		"useRecognizer":   false,
		"fuzzyTimeoutMs":  500,
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())

	if cfg.RecognizerModel != "bert-pii-v3" {
		t.Errorf("RecognizerModel: got %s", cfg.RecognizerModel)
	}
	if cfg.UseRecognizer {
		t.Error("UseRecognizer should be false after file load")
	}
	if cfg.FuzzyTimeoutMs != 500 {
		t.Errorf("FuzzyTimeoutMs: got %d, want 500", cfg.FuzzyTimeoutMs)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.ReviewPort != 8081 {
		t.Errorf("ReviewPort changed unexpectedly: %d", cfg.ReviewPort)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())
	if cfg.ReviewPort != 8081 {
		t.Errorf("ReviewPort changed on bad JSON: %d", cfg.ReviewPort)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.ReviewPort <= 0 {
		t.Errorf("ReviewPort should be positive, got %d", cfg.ReviewPort)
	}
}
