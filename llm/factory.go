package llm

import (
	"context"
	"fmt"
	"log"

	"prepq-backend/config"
)

// NewProvider builds the configured backend. Selection happens once at
// startup; everything downstream sees only the Provider interface.
func NewProvider(ctx context.Context, cfg config.Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		log.Printf("[llm][init] provider=openai model=%s", cfg.OpenAIModel)
		return NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIModel), nil
	case "gemini":
		log.Printf("[llm][init] provider=gemini model=%s", cfg.GeminiModel)
		return NewGeminiProvider(ctx, cfg.GeminiKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
