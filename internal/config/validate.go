package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hyperjump/kiku/internal/models"
)

var validate = validator.New()

// Validate checks field constraints and cross-field rules. Errors wrap
// models.ErrInvalidConfiguration.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return models.InvalidConfigf("%s", strings.Join(msgs, "; "))
		}
		return models.InvalidConfigf("%v", err)
	}
	if err := ValidateChunking(cfg.Chunking); err != nil {
		return err
	}
	if cfg.Retrieval.TopK > cfg.Retrieval.MaxK {
		return models.InvalidConfigf("retrieval.top_k (%d) exceeds retrieval.max_k (%d)", cfg.Retrieval.TopK, cfg.Retrieval.MaxK)
	}
	if cfg.Embedding.InitialBackoff > cfg.Embedding.MaxBackoff {
		return models.InvalidConfigf("embedding.initial_backoff exceeds embedding.max_backoff")
	}
	if cfg.Generation.InitialBackoff > cfg.Generation.MaxBackoff {
		return models.InvalidConfigf("generation.initial_backoff exceeds generation.max_backoff")
	}
	return nil
}

// ValidateChunking enforces size > 0 and 0 <= overlap < size.
func ValidateChunking(c ChunkingConfig) error {
	if c.Size <= 0 {
		return models.InvalidConfigf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return models.InvalidConfigf("chunk overlap must be in [0, %d), got %d", c.Size, c.Overlap)
	}
	if c.Lookback < 0 {
		return models.InvalidConfigf("chunk lookback must not be negative, got %d", c.Lookback)
	}
	return nil
}
