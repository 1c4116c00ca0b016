package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the agent service.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`

	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	TracesEnabled bool   `yaml:"otel_traces"`

	AgentMaxIterations int           `yaml:"agent_max_iterations"`
	AgentCallTimeout   time.Duration `yaml:"agent_call_timeout"`
	AgentSystemPrompt  string        `yaml:"agent_system_prompt"`
	RetrievalDefaultK  int           `yaml:"retrieval_default_k"`

	SummaryMaxTurns     int `yaml:"summary_max_turns"`
	SummaryMaxTokens    int `yaml:"summary_max_tokens"`
	SummaryRetainRecent int `yaml:"summary_retain_recent"`

	StoreKind          string        `yaml:"store_kind"`
	StorePersistRetry  int           `yaml:"store_persist_retries"`
	StoreRetryBackoff  time.Duration `yaml:"store_retry_backoff"`
	StoreCompress      bool          `yaml:"store_compress"`
	DatabaseURL        string        `yaml:"database_url"`
	SQLitePath         string        `yaml:"sqlite_path"`
	BadgerPath         string        `yaml:"badger_path"`
	RedactPersistedPII bool          `yaml:"redact_persisted_pii"`

	LLMMode         string `yaml:"llm_mode"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	LLMModel        string `yaml:"llm_model"`
	LLMHTTPURL      string `yaml:"llm_http_url"`
	LLMFallbackMock bool   `yaml:"llm_fallback_mock"`

	RetrievalMode    string `yaml:"retrieval_mode"`
	WeaviateURL      string `yaml:"weaviate_url"`
	WeaviateClass    string `yaml:"weaviate_class"`
	RetrievalHTTPURL string `yaml:"retrieval_http_url"`
	CorpusDir        string `yaml:"corpus_dir"`
	CorpusWatch      bool   `yaml:"corpus_watch"`
	EmbeddingModel   string `yaml:"embedding_model"`
}

func defaults() Config {
	return Config{
		BindAddr:         ":8080",
		ShutdownTimeout:  15 * time.Second,
		MetricsNamespace: "ragent",
		RateLimitRPS:     5,
		RateLimitBurst:   10,

		LogLevel:  "info",
		LogFormat: "json",

		AgentMaxIterations: 5,
		AgentCallTimeout:   30 * time.Second,
		RetrievalDefaultK:  8,

		SummaryMaxTurns:     12,
		SummaryRetainRecent: 2,

		StoreKind:         "auto",
		StorePersistRetry: 3,
		StoreRetryBackoff: 50 * time.Millisecond,
		StoreCompress:     true,
		SQLitePath:        "data/chat.db",
		BadgerPath:        "data/badger",

		LLMMode:  "auto",
		LLMModel: "gpt-4o",

		RetrievalMode:  "auto",
		WeaviateClass:  "Document",
		CorpusDir:      "data/embeddings",
		CorpusWatch:    true,
		EmbeddingModel: "text-embedding-3-small",
	}
}

// Load applies defaults, then the YAML file named by APP_CONFIG_FILE, then
// environment variables. Environment values win over the file.
func Load() (Config, error) {
	cfg := defaults()
	if path := stringsTrimSpace("APP_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.AgentSystemPrompt = envOrDefault("AGENT_SYSTEM_PROMPT", cfg.AgentSystemPrompt)
	cfg.StoreKind = envOrDefault("STORE_KIND", cfg.StoreKind)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = envOrDefault("SQLITE_PATH", cfg.SQLitePath)
	cfg.BadgerPath = envOrDefault("BADGER_PATH", cfg.BadgerPath)
	cfg.LLMMode = envOrDefault("LLM_MODE", cfg.LLMMode)
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.LLMModel = envOrDefault("LLM_MODEL", cfg.LLMModel)
	cfg.LLMHTTPURL = envOrDefault("LLM_HTTP_URL", cfg.LLMHTTPURL)
	cfg.RetrievalMode = envOrDefault("RETRIEVAL_MODE", cfg.RetrievalMode)
	cfg.WeaviateURL = envOrDefault("WEAVIATE_URL", cfg.WeaviateURL)
	cfg.WeaviateClass = envOrDefault("WEAVIATE_CLASS", cfg.WeaviateClass)
	cfg.RetrievalHTTPURL = envOrDefault("RETRIEVAL_HTTP_URL", cfg.RetrievalHTTPURL)
	cfg.CorpusDir = envOrDefault("CORPUS_DIR", cfg.CorpusDir)
	cfg.EmbeddingModel = envOrDefault("EMBEDDING_MODEL", cfg.EmbeddingModel)

	var err error
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"AGENT_CALL_TIMEOUT", &cfg.AgentCallTimeout},
		{"STORE_RETRY_BACKOFF", &cfg.StoreRetryBackoff},
	} {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	for _, i := range []struct {
		key string
		dst *int
	}{
		{"APP_RATE_LIMIT_BURST", &cfg.RateLimitBurst},
		{"AGENT_MAX_ITERATIONS", &cfg.AgentMaxIterations},
		{"RETRIEVAL_DEFAULT_K", &cfg.RetrievalDefaultK},
		{"SUMMARY_MAX_TURNS", &cfg.SummaryMaxTurns},
		{"SUMMARY_MAX_TOKENS", &cfg.SummaryMaxTokens},
		{"SUMMARY_RETAIN_RECENT", &cfg.SummaryRetainRecent},
		{"STORE_PERSIST_RETRIES", &cfg.StorePersistRetry},
	} {
		if *i.dst, err = intFromEnv(i.key, *i.dst); err != nil {
			return Config{}, err
		}
	}
	for _, b := range []struct {
		key string
		dst *bool
	}{
		{"APP_ALLOW_ANY_ORIGIN", &cfg.AllowAnyOrigin},
		{"OTEL_TRACES", &cfg.TracesEnabled},
		{"STORE_COMPRESS", &cfg.StoreCompress},
		{"REDACT_PERSISTED_PII", &cfg.RedactPersistedPII},
		{"LLM_FALLBACK_MOCK", &cfg.LLMFallbackMock},
		{"CORPUS_WATCH", &cfg.CorpusWatch},
	} {
		if *b.dst, err = boolFromEnv(b.key, *b.dst); err != nil {
			return Config{}, err
		}
	}
	cfg.RateLimitRPS, err = floatFromEnv("APP_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	case c.RateLimitRPS < 0:
		return fmt.Errorf("APP_RATE_LIMIT_RPS must be >= 0")
	case c.RateLimitRPS > 0 && c.RateLimitBurst <= 0:
		return fmt.Errorf("APP_RATE_LIMIT_BURST must be positive")
	case c.AgentMaxIterations <= 0:
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be positive")
	case c.AgentCallTimeout <= 0:
		return fmt.Errorf("AGENT_CALL_TIMEOUT must be positive")
	case c.RetrievalDefaultK <= 0:
		return fmt.Errorf("RETRIEVAL_DEFAULT_K must be positive")
	case c.SummaryMaxTurns < 0:
		return fmt.Errorf("SUMMARY_MAX_TURNS must be >= 0")
	case c.SummaryMaxTokens < 0:
		return fmt.Errorf("SUMMARY_MAX_TOKENS must be >= 0")
	case c.SummaryRetainRecent < 0:
		return fmt.Errorf("SUMMARY_RETAIN_RECENT must be >= 0")
	case c.SummaryMaxTurns > 0 && c.SummaryRetainRecent >= c.SummaryMaxTurns:
		return fmt.Errorf("SUMMARY_RETAIN_RECENT must be below SUMMARY_MAX_TURNS")
	case c.StorePersistRetry <= 0:
		return fmt.Errorf("STORE_PERSIST_RETRIES must be positive")
	case c.StoreRetryBackoff <= 0:
		return fmt.Errorf("STORE_RETRY_BACKOFF must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
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

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
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
