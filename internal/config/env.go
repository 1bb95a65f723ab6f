package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGoogleKey    = "GOOGLE_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvProvider     = "KIKU_PROVIDER"
	EnvDebug        = "KIKU_DEBUG"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into the
// process environment. Variables already set are not overwritten; missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg with values from the environment. KIKU_PROVIDER switches both
// the embedding and the generation provider (e.g. "gemini"); API keys are only filled
// when the config does not carry one.
func ApplyEnv(cfg *Config) {
	if p := strings.ToLower(strings.TrimSpace(os.Getenv(EnvProvider))); p != "" {
		embedProvider := p
		if p == "claude" {
			// Anthropic has no embedding endpoint.
			embedProvider = "openai"
		}
		if cfg.Embedding.Provider != embedProvider {
			cfg.Embedding.Provider = embedProvider
			cfg.Embedding.Model = ""
			cfg.Embedding.Dimensions = 0
		}
		if cfg.Generation.Provider != p {
			cfg.Generation.Provider = p
			cfg.Generation.Model = ""
		}
	}
	if v, err := strconv.ParseBool(os.Getenv(EnvDebug)); err == nil {
		cfg.Debug = v
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = apiKeyFor(cfg.Embedding.Provider)
	}
	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = apiKeyFor(cfg.Generation.Provider)
	}
}

func apiKeyFor(provider string) string {
	switch provider {
	case "", "openai":
		return os.Getenv(EnvOpenAIKey)
	case "gemini":
		return os.Getenv(EnvGoogleKey)
	case "claude":
		return os.Getenv(EnvAnthropicKey)
	}
	return ""
}
