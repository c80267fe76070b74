package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lifelensai/lifelens/internal/policy"
)

// History modes select what the composer receives as user-history context.
const (
	HistoryModeSummary = "summary"
	HistoryModeRecall  = "recall"
)

// Config contains all runtime settings for the LifeLens service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool

	LogLevel  string
	LogFormat string

	DataDir            string
	DatabaseURL        string
	SQLitePath         string
	ConversationLogDir string
	VectorDir          string

	GenerationProvider string
	OllamaURL          string
	OllamaModel        string
	GenerationTimeout  time.Duration

	EmbeddingProvider string
	EmbeddingURL      string
	EmbeddingModel    string
	EmbeddingTimeout  time.Duration

	RetrievalTopK    int
	RetrievalTimeout time.Duration
	HistoryMode      string
	SummaryCacheSize int

	CrisisTerms       []string
	FarewellTerms     []string
	EscalationContact string

	KBDatasetPath string

	WhisperCLI       string
	WhisperModelPath string
	WhisperLanguage  string
	TTSCommand       string
	SpeechTimeout    time.Duration
}

// LoadDotEnv loads a .env file when one exists. Variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads environment variables, applies defaults and validates the result.
func Load() (Config, error) {
	dataDir := envOrDefault("DATA_DIR", "./data")
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "lifelens"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		DataDir:            dataDir,
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		SQLitePath:         envOrDefault("SQLITE_PATH", filepath.Join(dataDir, "user_memory.db")),
		ConversationLogDir: envOrDefault("CONVERSATION_LOG_DIR", filepath.Join(dataDir, "conversations")),
		VectorDir:          envOrDefault("VECTOR_DIR", filepath.Join(dataDir, "chroma_storage")),
		GenerationProvider: strings.ToLower(envOrDefault("GENERATION_PROVIDER", "ollama")),
		OllamaURL:          envOrDefault("OLLAMA_URL", "http://localhost:11434/api/generate"),
		OllamaModel:        envOrDefault("OLLAMA_MODEL", "mistral"),
		EmbeddingProvider:  strings.ToLower(envOrDefault("EMBEDDING_PROVIDER", "ollama")),
		EmbeddingURL:       envOrDefault("EMBEDDING_URL", "http://localhost:11434/api/embeddings"),
		EmbeddingModel:     envOrDefault("EMBEDDING_MODEL", "all-minilm"),
		HistoryMode:        strings.ToLower(envOrDefault("HISTORY_MODE", HistoryModeSummary)),
		EscalationContact:  envOrDefault("ESCALATION_CONTACT", policy.DefaultEscalationContact),
		KBDatasetPath:      stringsTrimSpace("KB_DATASET_PATH"),
		WhisperCLI:         envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperModelPath:   stringsTrimSpace("WHISPER_MODEL_PATH"),
		WhisperLanguage:    envOrDefault("WHISPER_LANGUAGE", "en"),
		TTSCommand:         stringsTrimSpace("TTS_COMMAND"),
		RetrievalTopK:      5,
		SummaryCacheSize:   1024,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		GenerationTimeout:        60 * time.Second,
		EmbeddingTimeout:         10 * time.Second,
		RetrievalTimeout:         5 * time.Second,
		SpeechTimeout:            30 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationTimeout, err = durationFromEnv("GENERATION_TIMEOUT", cfg.GenerationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingTimeout, err = durationFromEnv("EMBEDDING_TIMEOUT", cfg.EmbeddingTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalTimeout, err = durationFromEnv("RETRIEVAL_TIMEOUT", cfg.RetrievalTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechTimeout, err = durationFromEnv("SPEECH_TIMEOUT", cfg.SpeechTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalTopK, err = intFromEnv("RETRIEVAL_TOP_K", cfg.RetrievalTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryCacheSize, err = intFromEnv("SUMMARY_CACHE_SIZE", cfg.SummaryCacheSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.CrisisTerms, err = crisisTermsFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.FarewellTerms = listFromEnv("FAREWELL_TERMS", policy.DefaultFarewellTerms)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings the conversation core cannot run without.
func (c Config) Validate() error {
	switch c.GenerationProvider {
	case "ollama":
		if strings.TrimSpace(c.OllamaURL) == "" {
			return fmt.Errorf("OLLAMA_URL must not be empty")
		}
		if strings.TrimSpace(c.OllamaModel) == "" {
			return fmt.Errorf("OLLAMA_MODEL must not be empty")
		}
	case "mock":
	default:
		return fmt.Errorf("invalid GENERATION_PROVIDER: %q (expected ollama|mock)", c.GenerationProvider)
	}
	switch c.EmbeddingProvider {
	case "ollama":
		if strings.TrimSpace(c.EmbeddingURL) == "" || strings.TrimSpace(c.EmbeddingModel) == "" {
			return fmt.Errorf("EMBEDDING_URL and EMBEDDING_MODEL must not be empty")
		}
	case "hash":
	default:
		return fmt.Errorf("invalid EMBEDDING_PROVIDER: %q (expected ollama|hash)", c.EmbeddingProvider)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	if c.HistoryMode != HistoryModeSummary && c.HistoryMode != HistoryModeRecall {
		return fmt.Errorf("invalid HISTORY_MODE: %q (expected summary|recall)", c.HistoryMode)
	}
	if len(c.CrisisTerms) == 0 {
		return fmt.Errorf("crisis word list is empty: set CRISIS_TERMS_FILE or CRISIS_TERMS")
	}
	if len(c.FarewellTerms) == 0 {
		return fmt.Errorf("FAREWELL_TERMS must not be empty")
	}
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.GenerationTimeout <= 0 || c.EmbeddingTimeout <= 0 || c.RetrievalTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT, EMBEDDING_TIMEOUT and RETRIEVAL_TIMEOUT must be positive")
	}
	if c.SummaryCacheSize <= 0 {
		return fmt.Errorf("SUMMARY_CACHE_SIZE must be positive")
	}
	return nil
}

func crisisTermsFromEnv() ([]string, error) {
	var terms []string
	if path := stringsTrimSpace("CRISIS_TERMS_FILE"); path != "" {
		fromFile, err := policy.LoadTermsFile(path)
		if err != nil {
			return nil, fmt.Errorf("CRISIS_TERMS_FILE: %w", err)
		}
		terms = append(terms, fromFile...)
	}
	terms = append(terms, listFromEnv("CRISIS_TERMS", nil)...)
	return terms, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string, fallback []string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
