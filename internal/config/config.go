package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Supabase auth
	JWTSecret string

	// Billing. DollarsPerCredit stays zero when unset; the relay refuses to
	// convert any non-zero cost without it.
	DollarsPerCredit         float64
	ImageGenerationSurcharge float64

	// Vendors
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AnthropicAPIKey   string
	AnthropicBaseURL  string
	GoogleAPIKey      string
	GoogleConcurrency int
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	UpstreamTimeout   int

	// Storage
	StorageType    string
	StoragePath    string
	PublicBaseURL  string
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	// Limits and workers
	ChatRateLimitPerMin int
	UsageWorkers        int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                     getEnvOrDefault("PORT", "8080"),
		Env:                      getEnvOrDefault("ENV", "development"),
		LogLevel:                 getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:                getEnvOrDefault("LOG_FORMAT", "json"),
		DatabaseURL:              mustGetEnv("DATABASE_URL"),
		RedisURL:                 mustGetEnv("REDIS_URL"),
		JWTSecret:                mustGetEnv("SUPABASE_JWT_SECRET"),
		DollarsPerCredit:         getEnvAsFloatOrDefault("DOLLARS_PER_CREDIT", 0),
		ImageGenerationSurcharge: getEnvAsFloatOrDefault("IMAGE_GENERATION_SURCHARGE", 0.25),
		OpenAIAPIKey:             getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:            getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey:          getEnvOrDefault("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL:         getEnvOrDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		GoogleAPIKey:             getEnvOrDefault("GOOGLE_API_KEY", ""),
		GoogleConcurrency:        getEnvAsIntOrDefault("GOOGLE_CONCURRENT_REQUESTS", 10),
		OpenRouterAPIKey:         getEnvOrDefault("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:        getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		UpstreamTimeout:          getEnvAsIntOrDefault("UPSTREAM_TIMEOUT_SECONDS", 600),
		StorageType:              getEnvOrDefault("STORAGE_TYPE", "local"),
		StoragePath:              getEnvOrDefault("STORAGE_PATH", "./uploads"),
		PublicBaseURL:            getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
		SupabaseURL:              getEnvOrDefault("SUPABASE_URL", ""),
		SupabaseKey:              getEnvOrDefault("SUPABASE_SERVICE_KEY", ""),
		SupabaseBucket:           getEnvOrDefault("SUPABASE_BUCKET", "images"),
		ChatRateLimitPerMin:      getEnvAsIntOrDefault("CHAT_RATE_LIMIT_PER_MINUTE", 30),
		UsageWorkers:             getEnvAsIntOrDefault("USAGE_WORKERS", 2),
		FrontendURL:              getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		return defaultVal
	}
	return f
}
