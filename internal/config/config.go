package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM providers supported by llm.New.
const (
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Storage backends.
const (
	StoreSQLite    = "sqlite"
	StoreSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// Generation backend
	LLMProvider     string
	LLMModel        string
	ThinkModel      string
	ImageModel      string
	GeminiAPIKey    string
	GoogleProject   string
	GoogleLocation  string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Persistence
	StoreBackend string
	SQLitePath   string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Turn handling
	SendCooldown time.Duration
	SyncInterval time.Duration
	PromptsFile  string

	// Server
	ServerPort int
}

// Load reads configuration from environment variables.
func Load() Config {
	provider := strings.ToLower(getEnv("SWITCHBOARD_LLM_PROVIDER", ProviderGemini))
	return Config{
		LLMProvider:     provider,
		LLMModel:        getEnv("SWITCHBOARD_LLM_MODEL", DefaultModel(provider)),
		ThinkModel:      getEnv("SWITCHBOARD_THINK_MODEL", ""),
		ImageModel:      getEnv("SWITCHBOARD_IMAGE_MODEL", "imagen-4.0-generate-001"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		GoogleProject:   getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleLocation:  getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		StoreBackend: strings.ToLower(getEnv("SWITCHBOARD_STORE_BACKEND", StoreSQLite)),
		SQLitePath:   getEnv("SWITCHBOARD_SQLITE_PATH", defaultSQLitePath()),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "switchboard"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "chat"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LogFile:  getEnv("SWITCHBOARD_LOG_FILE", "/tmp/switchboard.log"),
		LogLevel: parseLogLevel(getEnv("SWITCHBOARD_LOG_LEVEL", "INFO")),

		SendCooldown: parseDuration(getEnv("SWITCHBOARD_SEND_COOLDOWN", ""), 500*time.Millisecond),
		SyncInterval: parseDuration(getEnv("SWITCHBOARD_SYNC_INTERVAL", ""), 15*time.Second),
		PromptsFile:  getEnv("SWITCHBOARD_PROMPTS_FILE", ""),

		ServerPort: parseInt(getEnv("SWITCHBOARD_SERVER_PORT", ""), 8585),
	}
}

// DefaultModel returns the text model used when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOllama:
		return "llama3.2"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderBedrock:
		return "anthropic.claude-3-5-sonnet-20240620-v1:0"
	default:
		return "gemini-2.5-flash"
	}
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "switchboard.db"
	}
	return dir + "/switchboard/switchboard.db"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
