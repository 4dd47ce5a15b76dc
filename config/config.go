package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every value the service reads from the environment. It is
// loaded once in main and injected into constructors; no package inspects
// feature-affecting env vars at request time.
type Config struct {
	Addr string

	DB DB

	// Provider selects the generation backend: "openai" or "gemini".
	Provider    string
	OpenAIKey   string
	OpenAIModel string
	GeminiKey   string
	GeminiModel string

	StripeKey           string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	// SessionDBPath locates the device-local question-session store. It is
	// a separate sqlite file, never the shared MySQL instance.
	SessionDBPath string

	// CreditBypass turns the credit gate into a no-op for trusted local
	// runs. Explicit flag only; nothing infers it from hostnames.
	CreditBypass bool

	TokenSecret     string
	SessionDefault  time.Duration
	SessionRemember time.Duration
}

// DB holds MySQL connection settings.
type DB struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// Load reads .env if present and assembles the runtime configuration.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr: getenv("HTTP_ADDR", ":8080"),
		DB: DB{
			User:     getenv("DB_USER", "root"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     getenv("DB_HOST", "127.0.0.1"),
			Port:     getenv("DB_PORT", "3306"),
			Name:     getenv("DB_NAME", "prepq"),
		},
		Provider:            getenv("LLM_PROVIDER", "openai"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getenv("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiKey:           os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getenv("GEMINI_MODEL", "gemini-1.5-flash"),
		StripeKey:           os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:    getenv("STRIPE_SUCCESS_URL", "https://app.example.com/pay/success"),
		StripeCancelURL:     getenv("STRIPE_CANCEL_URL", "https://app.example.com/pay/cancel"),
		SessionDBPath:       getenv("SESSION_DB_PATH", "data/sessions.db"),
		CreditBypass:        os.Getenv("CREDIT_BYPASS") == "1",
		TokenSecret:         getenv("SESSION_SECRET", "dev-insecure-secret"),
		SessionDefault:      hoursFromEnv("SESSION_DEFAULT_HOURS", 12),
		SessionRemember:     daysFromEnv("SESSION_REMEMBER_DAYS", 30),
	}
}

// Validate rejects configurations that would only fail later at request
// time. A missing provider key is a startup error, not a 502 in production.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("config: LLM_PROVIDER=openai but OPENAI_API_KEY is empty")
		}
	case "gemini":
		if c.GeminiKey == "" {
			return fmt.Errorf("config: LLM_PROVIDER=gemini but GEMINI_API_KEY is empty")
		}
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.Provider)
	}
	if c.SessionDBPath == "" {
		return fmt.Errorf("config: SESSION_DB_PATH is empty")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func hoursFromEnv(key string, def int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Hour
		}
	}
	return time.Duration(def) * time.Hour
}

func daysFromEnv(key string, def int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	return time.Duration(def) * 24 * time.Hour
}
