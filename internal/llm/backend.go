package llm

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/switchboard/internal/config"
	"github.com/raphaelgruber/switchboard/internal/metrics"
)

// New builds the generation backends for cfg. With the gemini provider one
// client serves text and images. Other providers generate text through
// langchaingo and borrow Gemini for images when Gemini credentials are
// configured; otherwise the returned ImageGenerator is nil.
func New(ctx context.Context, cfg config.Config, collector *metrics.Collector) (Generator, ImageGenerator, error) {
	gcfg := GeminiConfig{
		APIKey:     cfg.GeminiAPIKey,
		Project:    cfg.GoogleProject,
		Location:   cfg.GoogleLocation,
		Model:      cfg.LLMModel,
		ThinkModel: cfg.ThinkModel,
		ImageModel: cfg.ImageModel,
	}

	if cfg.LLMProvider == config.ProviderGemini {
		g, err := NewGemini(ctx, gcfg, collector)
		if err != nil {
			return nil, nil, fmt.Errorf("create gemini backend: %w", err)
		}
		return g, g, nil
	}

	lc, err := NewLangChain(ctx, cfg, collector)
	if err != nil {
		return nil, nil, err
	}
	if cfg.GeminiAPIKey == "" && cfg.GoogleProject == "" {
		return lc, nil, nil
	}

	gcfg.Model = config.DefaultModel(config.ProviderGemini)
	gcfg.ThinkModel = ""
	g, err := NewGemini(ctx, gcfg, collector)
	if err != nil {
		return nil, nil, fmt.Errorf("create gemini image backend: %w", err)
	}
	return lc, g, nil
}
