package config

import "time"

// Default values for chunking, retrieval and answering.
const (
	DefaultChunkSize       = 1000
	DefaultChunkOverlap    = 200
	DefaultChunkLookback   = 200
	DefaultTopK            = 5
	DefaultMaxK            = 10
	DefaultMaxContextChars = 4000
	DefaultEmbeddingBatch  = 100
	DefaultHistoryTurns    = 6
	DefaultTemperature     = 0.3
	DefaultMaxTokens       = 1000
)

// embeddingDefaults maps provider to default model and dimensions.
var embeddingDefaults = map[string]struct {
	model string
	dims  int
}{
	"openai": {"text-embedding-3-small", 1536},
	"ollama": {"nomic-embed-text", 768},
	"gemini": {"text-embedding-004", 768},
	"onnx":   {"all-MiniLM-L6-v2", 384},
	"mock":   {"mock", 64},
}

var generationDefaults = map[string]string{
	"openai": "gpt-4o",
	"ollama": "llama3.1",
	"claude": "claude-3-5-sonnet-latest",
	"gemini": "gemini-1.5-flash",
	"mock":   "mock",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/kiku.db"
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if cfg.Vector.Path == "" {
		cfg.Vector.Path = "./data/vectors"
	}
	if cfg.Vector.SnapshotPath == "" {
		cfg.Vector.SnapshotPath = "./data/index.snapshot"
	}
	applyEmbeddingDefaults(&cfg.Embedding)
	applyGenerationDefaults(&cfg.Generation)
	// Overlap 0 is a valid setting, so it is only defaulted together with size.
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = DefaultChunkSize
		if cfg.Chunking.Overlap == 0 {
			cfg.Chunking.Overlap = DefaultChunkOverlap
		}
	}
	if cfg.Chunking.Lookback == 0 {
		cfg.Chunking.Lookback = DefaultChunkLookback
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = DefaultMaxK
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = DefaultTopK
	}
	if cfg.Retrieval.MaxContextChars == 0 {
		cfg.Retrieval.MaxContextChars = DefaultMaxContextChars
	}
	if cfg.Retrieval.KeywordWeight == 0 && cfg.Retrieval.SemanticWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.3
		cfg.Retrieval.SemanticWeight = 0.7
	}
	if cfg.Retrieval.Hybrid && cfg.Retrieval.KeywordIndexPath == "" {
		cfg.Retrieval.KeywordIndexPath = "./data/keyword"
	}
	if cfg.Conversation.HistoryTurns == 0 {
		cfg.Conversation.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.Conversation.SessionTTL == 0 {
		cfg.Conversation.SessionTTL = 2 * time.Hour
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".pdf", ".docx", ".txt", ".md", ".html", ".htm", ".xlsx", ".rtf", ".odt"}
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "openai"
	}
	if d, ok := embeddingDefaults[e.Provider]; ok {
		if e.Model == "" {
			e.Model = d.model
		}
		if e.Dimensions == 0 {
			e.Dimensions = d.dims
		}
	}
	if e.Provider == "ollama" && e.BaseURL == "" {
		e.BaseURL = "http://localhost:11434/v1"
	}
	if e.BatchSize == 0 {
		e.BatchSize = DefaultEmbeddingBatch
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = 5
	}
	if e.InitialBackoff == 0 {
		e.InitialBackoff = 500 * time.Millisecond
	}
	if e.MaxBackoff == 0 {
		e.MaxBackoff = 20 * time.Second
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
}

func applyGenerationDefaults(g *GenerationConfig) {
	if g.Provider == "" {
		g.Provider = "openai"
	}
	if g.Model == "" {
		g.Model = generationDefaults[g.Provider]
	}
	if g.Provider == "ollama" && g.BaseURL == "" {
		g.BaseURL = "http://localhost:11434/v1"
	}
	if g.Temperature == 0 {
		g.Temperature = DefaultTemperature
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = DefaultMaxTokens
	}
	if g.MaxAttempts == 0 {
		g.MaxAttempts = 4
	}
	if g.InitialBackoff == 0 {
		g.InitialBackoff = time.Second
	}
	if g.MaxBackoff == 0 {
		g.MaxBackoff = 30 * time.Second
	}
}
