package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider selects the generation backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

type Config struct {
	Addr string

	// Token secrets. The user secret signs connection tokens; the admin
	// access and refresh secrets are distinct so a leaked access secret
	// cannot mint refresh tokens.
	UserTokenSecret    string
	AdminAccessSecret  string
	AdminRefreshSecret string

	UserTokenTTL    time.Duration
	AdminAccessTTL  time.Duration
	AdminRefreshTTL time.Duration

	// The administrative identity and its exact-match secret.
	AdminIdentity string
	AdminSecret   string

	// Session authority knobs.
	SessionDuration time.Duration
	MaxMessages     int
	ReaperInterval  time.Duration

	// Persistence. Empty DSN selects the in-memory stores; empty Redis
	// address disables the response cache.
	PostgresDSN string
	RedisAddr   string
	CacheTTL    time.Duration

	// Generation backend.
	GenProvider  Provider
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string
	SystemPrompt string

	// Speech and avatar backends.
	ElevenLabsAPIKey string
	ElevenLabsVoice  string
	DIDAPIKey        string
	DIDSourceURL     string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live WebSocket knobs.
	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration
	TimeTickInterval time.Duration
	TurnTimeout      time.Duration

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("VOXGATE_ADDR", ":8080"),
		UserTokenSecret:     os.Getenv("VOXGATE_USER_TOKEN_SECRET"),
		AdminAccessSecret:   os.Getenv("VOXGATE_ADMIN_ACCESS_SECRET"),
		AdminRefreshSecret:  os.Getenv("VOXGATE_ADMIN_REFRESH_SECRET"),
		UserTokenTTL:        envDurationOr("VOXGATE_USER_TOKEN_TTL", 365*24*time.Hour),
		AdminAccessTTL:      envDurationOr("VOXGATE_ADMIN_ACCESS_TTL", 2*time.Hour),
		AdminRefreshTTL:     envDurationOr("VOXGATE_ADMIN_REFRESH_TTL", 7*24*time.Hour),
		AdminIdentity:       envOr("VOXGATE_ADMIN_IDENTITY", ""),
		AdminSecret:         os.Getenv("VOXGATE_ADMIN_SECRET"),
		SessionDuration:     envDurationOr("VOXGATE_SESSION_DURATION", 5*time.Minute),
		MaxMessages:         envIntOr("VOXGATE_MAX_MESSAGES", 20),
		ReaperInterval:      envDurationOr("VOXGATE_REAPER_INTERVAL", time.Minute),
		PostgresDSN:         os.Getenv("VOXGATE_POSTGRES_DSN"),
		RedisAddr:           envOr("VOXGATE_REDIS_ADDR", ""),
		CacheTTL:            envDurationOr("VOXGATE_CACHE_TTL", time.Hour),
		GenProvider:         Provider(envOr("VOXGATE_GEN_PROVIDER", string(ProviderGemini))),
		GeminiAPIKey:        os.Getenv("VOXGATE_GEMINI_API_KEY"),
		GeminiModel:         envOr("VOXGATE_GEMINI_MODEL", ""),
		OpenAIAPIKey:        os.Getenv("VOXGATE_OPENAI_API_KEY"),
		OpenAIModel:         envOr("VOXGATE_OPENAI_MODEL", ""),
		SystemPrompt:        envOr("VOXGATE_SYSTEM_PROMPT", ""),
		ElevenLabsAPIKey:    os.Getenv("VOXGATE_ELEVENLABS_API_KEY"),
		ElevenLabsVoice:     envOr("VOXGATE_ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		DIDAPIKey:           os.Getenv("VOXGATE_DID_API_KEY"),
		DIDSourceURL:        envOr("VOXGATE_DID_SOURCE_URL", ""),
		CORSAllowedOrigins:  make(map[string]struct{}),
		WSWriteTimeout:      envDurationOr("VOXGATE_WS_WRITE_TIMEOUT", 10*time.Second),
		WSPingInterval:      envDurationOr("VOXGATE_WS_PING_INTERVAL", 25*time.Second),
		TimeTickInterval:    envDurationOr("VOXGATE_TIME_TICK_INTERVAL", time.Second),
		TurnTimeout:         envDurationOr("VOXGATE_TURN_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout:   envDurationOr("VOXGATE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("VOXGATE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("VOXGATE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VOXGATE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.UserTokenSecret) == "" {
		return Config{}, fmt.Errorf("VOXGATE_USER_TOKEN_SECRET must be set")
	}
	if strings.TrimSpace(cfg.AdminAccessSecret) == "" {
		return Config{}, fmt.Errorf("VOXGATE_ADMIN_ACCESS_SECRET must be set")
	}
	if strings.TrimSpace(cfg.AdminRefreshSecret) == "" {
		return Config{}, fmt.Errorf("VOXGATE_ADMIN_REFRESH_SECRET must be set")
	}
	if cfg.AdminAccessSecret == cfg.AdminRefreshSecret {
		return Config{}, fmt.Errorf("VOXGATE_ADMIN_ACCESS_SECRET and VOXGATE_ADMIN_REFRESH_SECRET must differ")
	}
	if cfg.AdminIdentity != "" && strings.TrimSpace(cfg.AdminSecret) == "" {
		return Config{}, fmt.Errorf("VOXGATE_ADMIN_SECRET must be set when VOXGATE_ADMIN_IDENTITY is set")
	}
	if cfg.UserTokenTTL <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_USER_TOKEN_TTL must be > 0")
	}
	if cfg.AdminAccessTTL <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_ADMIN_ACCESS_TTL must be > 0")
	}
	if cfg.AdminRefreshTTL <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_ADMIN_REFRESH_TTL must be > 0")
	}
	if cfg.SessionDuration <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_SESSION_DURATION must be > 0")
	}
	if cfg.MaxMessages <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_MAX_MESSAGES must be > 0")
	}
	if cfg.ReaperInterval <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_REAPER_INTERVAL must be > 0")
	}
	if cfg.CacheTTL <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_CACHE_TTL must be > 0")
	}
	switch cfg.GenProvider {
	case ProviderGemini:
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return Config{}, fmt.Errorf("VOXGATE_GEMINI_API_KEY must be set when VOXGATE_GEN_PROVIDER=gemini")
		}
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return Config{}, fmt.Errorf("VOXGATE_OPENAI_API_KEY must be set when VOXGATE_GEN_PROVIDER=openai")
		}
	default:
		return Config{}, fmt.Errorf("VOXGATE_GEN_PROVIDER must be one of gemini|openai")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.TimeTickInterval <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_TIME_TICK_INTERVAL must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_TURN_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOXGATE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
