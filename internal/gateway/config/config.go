package config

import (
	"flag"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	Env       string
	LLM       LLMConfig
	History   HistoryConfig
	Artifact  ArtifactConfig
	RateLimit RateLimitConfig
	// RunIdleTTL is how long an untouched run stays in the registry.
	RunIdleTTL   time.Duration
	MaxRuns      int
	ContextRunes int
}

type LLMConfig struct {
	Provider      string
	APIKey        string
	SearchModel   string
	AnalysisModel string
	ImageModel    string
	ChatModel     string
	RPS           float64
	Burst         int
}

type HistoryConfig struct {
	Backend     string
	FilePath    string
	PostgresDSN string
	RedisAddr   string
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Backend is "s3", "postgres" or "memory".
	Backend     string
	PostgresDSN string
	URLExpiry   time.Duration
}

type RateLimitConfig struct {
	RPS   float64
	Burst int64
}

const (
	ProviderGemini = "gemini"
	ProviderFake   = "fake"
)

func Load() (*Config, error) {
	return LoadFrom(os.Args[1:])
}

// LoadFrom reads .env and the environment, then applies flags from args.
func LoadFrom(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	port := fs.String("port", ":8081", "server port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:         *port,
		Env:          env,
		LLM:          loadLLMConfig(),
		History:      loadHistoryConfig(),
		Artifact:     loadArtifactConfig(env),
		RateLimit:    RateLimitConfig{RPS: envFloat("RATE_LIMIT_RPS", 3), Burst: int64(envInt("RATE_LIMIT_BURST", 60))},
		RunIdleTTL:   envDuration("RUN_IDLE_TTL", 2*time.Hour),
		MaxRuns:      envInt("RUN_MAX", 256),
		ContextRunes: envInt("PHARMACOLOGY_CONTEXT_RUNES", 10000),
	}, nil
}

func loadLLMConfig() LLMConfig {
	key := firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_API_KEY")), strings.TrimSpace(os.Getenv("API_KEY")))
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER")))
	if provider == "" {
		provider = ProviderGemini
		if key == "" {
			provider = ProviderFake
		}
	}
	return LLMConfig{
		Provider:      provider,
		APIKey:        key,
		SearchModel:   firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_SEARCH_MODEL")), "gemini-2.5-flash"),
		AnalysisModel: firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_ANALYSIS_MODEL")), "gemini-2.5-pro"),
		ImageModel:    firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_IMAGE_MODEL")), "gemini-2.5-flash-image"),
		ChatModel:     firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_CHAT_MODEL")), "gemini-2.5-flash"),
		RPS:           envFloat("LLM_RPS", 1),
		Burst:         envInt("LLM_BURST", 2),
	}
}

func loadHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Backend:     firstNonEmpty(strings.ToLower(strings.TrimSpace(os.Getenv("HISTORY_BACKEND"))), "file"),
		FilePath:    strings.TrimSpace(os.Getenv("HISTORY_FILE")),
		PostgresDSN: firstNonEmpty(strings.TrimSpace(os.Getenv("HISTORY_PG_DSN")), strings.TrimSpace(os.Getenv("DATABASE_URL"))),
		RedisAddr:   firstNonEmpty(strings.TrimSpace(os.Getenv("HISTORY_REDIS_ADDR")), strings.TrimSpace(os.Getenv("REDIS_ADDR"))),
	}
}

func loadArtifactConfig(env string) ArtifactConfig {
	endpoint := resolveArtifactEndpoint(env)
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ARTIFACT_BACKEND")))
	if backend == "" {
		backend = "memory"
		if endpoint != "" {
			backend = "s3"
		}
	}
	return ArtifactConfig{
		Enabled:     backend != "none",
		Endpoint:    endpoint,
		Region:      firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey:   firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey:   firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:      firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "medianalyst-artifacts"),
		UseSSL:      resolveArtifactUseSSL(env),
		Backend:     backend,
		PostgresDSN: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_PG_DSN")), strings.TrimSpace(os.Getenv("DATABASE_URL"))),
		URLExpiry:   envDuration("ARTIFACT_URL_EXPIRY", 24*time.Hour),
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "docker") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT")), "minio:9000")
	}
	return firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")), strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT")))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") || strings.EqualFold(strings.TrimSpace(env), "docker") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
