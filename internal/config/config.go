// Package config provides configuration loading and structs for kiku.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Vector       VectorConfig       `yaml:"vector"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Generation   GenerationConfig   `yaml:"generation"`
	Chunking     ChunkingConfig     `yaml:"chunking"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Conversation ConversationConfig `yaml:"conversation"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Watch        WatchConfig        `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds the document registry location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// VectorConfig selects and locates the vector index.
type VectorConfig struct {
	// Backend is "memory" or "badger".
	Backend string `yaml:"backend" validate:"oneof=memory badger"`
	// Metric is "cosine" or "l2".
	Metric string `yaml:"metric" validate:"oneof=cosine l2"`
	// Path is the badger data directory.
	Path string `yaml:"path"`
	// SnapshotPath is where Persist writes and startup Load reads.
	SnapshotPath string `yaml:"snapshot_path"`
	// AutosaveSchedule is a cron spec (e.g. "@every 5m"); empty disables autosave.
	AutosaveSchedule string `yaml:"autosave_schedule"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=openai ollama gemini onnx mock"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions" validate:"gt=0"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	BatchSize         int           `yaml:"batch_size" validate:"gt=0,lte=2048"`
	CacheSize         int           `yaml:"cache_size" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	MaxAttempts       int           `yaml:"max_attempts" validate:"gt=0"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	// ModelPath and MaxTokens apply to the onnx provider.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// GenerationConfig holds language model settings.
type GenerationConfig struct {
	Provider       string        `yaml:"provider" validate:"oneof=openai ollama claude gemini mock"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Temperature    float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int           `yaml:"max_tokens" validate:"gt=0"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"gt=0"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// ChunkingConfig holds chunk window settings.
type ChunkingConfig struct {
	Size     int `yaml:"size"`
	Overlap  int `yaml:"overlap"`
	Lookback int `yaml:"lookback"`
}

// RetrievalConfig holds retrieval and context formatting settings.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k" validate:"gt=0"`
	MaxK             int     `yaml:"max_k" validate:"gt=0"`
	MinScore         float64 `yaml:"min_score"`
	MaxContextChars  int     `yaml:"max_context_chars" validate:"gt=0"`
	Hybrid           bool    `yaml:"hybrid"`
	KeywordWeight    float64 `yaml:"keyword_weight" validate:"gte=0"`
	SemanticWeight   float64 `yaml:"semantic_weight" validate:"gte=0"`
	KeywordIndexPath string  `yaml:"keyword_index_path"`
}

// ConversationConfig holds session settings.
type ConversationConfig struct {
	HistoryTurns int           `yaml:"history_turns" validate:"gte=0"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

// IngestConfig holds ingest pipeline settings.
type IngestConfig struct {
	Workers    int      `yaml:"workers" validate:"gt=0"`
	Extensions []string `yaml:"extensions"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to false when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return false
}

// Load reads and parses the config file at path, applies environment overrides and
// defaults, expands paths, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	cfg.expandPaths(filepath.Dir(path))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration built from defaults and the environment only.
// Relative paths are resolved against baseDir.
func Default(baseDir string) (*Config, error) {
	var cfg Config
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	cfg.expandPaths(baseDir)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// SaveWatchDirectories rewrites only watch.directories in the config file at path. Other
// settings are written back as they appear in the file, so values that came from the
// environment or from defaults are not persisted.
func SaveWatchDirectories(path string, dirs []string) error {
	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	watch, _ := raw["watch"].(map[string]any)
	if watch == nil {
		watch = map[string]any{}
	}
	watch["directories"] = dirs
	raw["watch"] = watch
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Vector.Path = expandPath(c.Vector.Path, configDir)
	c.Vector.SnapshotPath = expandPath(c.Vector.SnapshotPath, configDir)
	c.Retrieval.KeywordIndexPath = expandPath(c.Retrieval.KeywordIndexPath, configDir)
	c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], configDir)
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if strings.HasPrefix(path, "~/") {
		path = strings.TrimPrefix(path, "~/")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
