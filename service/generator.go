package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// NewGenerator builds the configured model provider, throttled to the
// configured request rate.
func NewGenerator(ctx context.Context, cfg *config.LLMConfig) (engine.Generator, error) {
	var gen engine.Generator
	switch cfg.Provider {
	case "gemini", "":
		g, err := NewGeminiGenerator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		gen = g
	case "openai":
		gen = NewOpenAIGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	logger.Info(ctx, "llm provider configured",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"requests_per_minute", cfg.RequestsPerMinute,
	)
	return NewRateLimitedGenerator(gen, cfg.RequestsPerMinute), nil
}

// RateLimitedGenerator spaces out model calls with a token bucket so that a
// burst of uploads cannot exhaust the provider quota.
type RateLimitedGenerator struct {
	next    engine.Generator
	limiter *rate.Limiter
}

// NewRateLimitedGenerator wraps next. A non-positive rate disables limiting.
func NewRateLimitedGenerator(next engine.Generator, perMinute int) *RateLimitedGenerator {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
		burst = max(1, perMinute/10)
	}
	return &RateLimitedGenerator{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Generate waits for a token, then delegates. Waiting honours ctx, so the
// per call timeout covers time spent queued.
func (g *RateLimitedGenerator) Generate(ctx context.Context, p engine.Prompt) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	out, err := g.next.Generate(ctx, p)
	if err != nil {
		logger.Warn(ctx, "model call failed",
			"task", p.Task,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "", err
	}
	logger.Debug(ctx, "model call finished",
		"task", p.Task,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", len(out),
	)
	return out, nil
}
