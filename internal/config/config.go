// Package config loads and holds all engine configuration.
// Settings are layered: built-in defaults, then anonymizer-config.json,
// then a .env file (if present), then environment variables — last wins.
// Every detection threshold the pipeline uses is a field here rather than a
// constant, so jurisdictional deployments can tune them without a rebuild.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the full engine configuration.
type Config struct {
	// Statistical recognizer (external token-classification service).
	RecognizerEndpoint string `json:"recognizerEndpoint"`
	RecognizerModel    string `json:"recognizerModel"`
	UseRecognizer      bool   `json:"useRecognizer"`
	RecognizerTimeout  int    `json:"recognizerTimeoutMs"`

	// Detection thresholds.
	TokenMergeFloor  float64 `json:"tokenMergeFloor"`  // recognizer token confidence floor
	HighRecallFloor  float64 `json:"highRecallFloor"`  // pipeline-wide minimum confidence
	NeedsReviewBelow float64 `json:"needsReviewBelow"` // below this, flag for human review
	FuzzyTimeoutMs   int     `json:"fuzzyTimeoutMs"`   // per-pattern wall-clock budget
	ContextWindow    int     `json:"contextWindow"`    // chars inspected around a candidate

	// Persistence and review API.
	MappingDBPath     string `json:"mappingDbPath"` // empty = in-memory only
	ReviewPort        int    `json:"reviewPort"`
	ReviewBindAddress string `json:"reviewBindAddress"`
	ReviewToken       string `json:"reviewToken"` // bearer token; empty = no auth

	LogLevel string `json:"logLevel"`
}

// Load returns config with defaults overridden by anonymizer-config.json,
// .env, and environment variables, in that order.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "anonymizer-config.json")
	// .env populates the process environment so loadEnv picks it up.
	// A missing file is the normal case, not an error.
	if err := godotenv.Load(); err == nil {
		log.Printf("[CONFIG] Loaded .env")
	}
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		RecognizerEndpoint: "http://localhost:8765",
		RecognizerModel:    "piiranha-v1-multilingual",
		UseRecognizer:      true,
		RecognizerTimeout:  10_000,

		TokenMergeFloor:  0.5,
		HighRecallFloor:  0.3,
		NeedsReviewBelow: 0.7,
		FuzzyTimeoutMs:   100,
		ContextWindow:    30,

		MappingDBPath:     "",
		ReviewPort:        8081,
		ReviewBindAddress: "127.0.0.1",
		ReviewToken:       "",

		LogLevel: "info",
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("RECOGNIZER_ENDPOINT"); v != "" {
		cfg.RecognizerEndpoint = v
	}
	if v := os.Getenv("RECOGNIZER_MODEL"); v != "" {
		cfg.RecognizerModel = v
	}
	if v := os.Getenv("USE_RECOGNIZER"); v == "false" {
		cfg.UseRecognizer = false
	}
	if v := os.Getenv("RECOGNIZER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RecognizerTimeout = n
		}
	}
	if v := os.Getenv("TOKEN_MERGE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TokenMergeFloor = f
		}
	}
	if v := os.Getenv("HIGH_RECALL_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.HighRecallFloor = f
		}
	}
	if v := os.Getenv("NEEDS_REVIEW_BELOW"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.NeedsReviewBelow = f
		}
	}
	if v := os.Getenv("FUZZY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FuzzyTimeoutMs = n
		}
	}
	if v := os.Getenv("CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContextWindow = n
		}
	}
	if v := os.Getenv("MAPPING_DB_PATH"); v != "" {
		cfg.MappingDBPath = v
	}
	if v := os.Getenv("REVIEW_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReviewPort = n
		}
	}
	if v := os.Getenv("REVIEW_BIND_ADDRESS"); v != "" {
		cfg.ReviewBindAddress = v
	}
	if v := os.Getenv("REVIEW_TOKEN"); v != "" {
		cfg.ReviewToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
