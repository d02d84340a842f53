package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"VOXGATE_ADDR",
	"VOXGATE_USER_TOKEN_SECRET",
	"VOXGATE_ADMIN_ACCESS_SECRET",
	"VOXGATE_ADMIN_REFRESH_SECRET",
	"VOXGATE_USER_TOKEN_TTL",
	"VOXGATE_ADMIN_ACCESS_TTL",
	"VOXGATE_ADMIN_REFRESH_TTL",
	"VOXGATE_ADMIN_IDENTITY",
	"VOXGATE_ADMIN_SECRET",
	"VOXGATE_SESSION_DURATION",
	"VOXGATE_MAX_MESSAGES",
	"VOXGATE_REAPER_INTERVAL",
	"VOXGATE_POSTGRES_DSN",
	"VOXGATE_REDIS_ADDR",
	"VOXGATE_CACHE_TTL",
	"VOXGATE_GEN_PROVIDER",
	"VOXGATE_GEMINI_API_KEY",
	"VOXGATE_GEMINI_MODEL",
	"VOXGATE_OPENAI_API_KEY",
	"VOXGATE_OPENAI_MODEL",
	"VOXGATE_SYSTEM_PROMPT",
	"VOXGATE_ELEVENLABS_API_KEY",
	"VOXGATE_ELEVENLABS_VOICE_ID",
	"VOXGATE_DID_API_KEY",
	"VOXGATE_DID_SOURCE_URL",
	"VOXGATE_CORS_ORIGINS",
	"VOXGATE_WS_WRITE_TIMEOUT",
	"VOXGATE_WS_PING_INTERVAL",
	"VOXGATE_TIME_TICK_INTERVAL",
	"VOXGATE_TURN_TIMEOUT",
	"VOXGATE_READ_HEADER_TIMEOUT",
	"VOXGATE_READ_TIMEOUT",
	"VOXGATE_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("VOXGATE_USER_TOKEN_SECRET", "user-secret")
	t.Setenv("VOXGATE_ADMIN_ACCESS_SECRET", "access-secret")
	t.Setenv("VOXGATE_ADMIN_REFRESH_SECRET", "refresh-secret")
	t.Setenv("VOXGATE_GEMINI_API_KEY", "gm-key")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.GenProvider != ProviderGemini {
		t.Fatalf("GenProvider = %q, want gemini", cfg.GenProvider)
	}
	if cfg.SessionDuration != 5*time.Minute {
		t.Fatalf("SessionDuration = %v, want 5m", cfg.SessionDuration)
	}
	if cfg.MaxMessages != 20 {
		t.Fatalf("MaxMessages = %d, want 20", cfg.MaxMessages)
	}
	if cfg.ReaperInterval != time.Minute {
		t.Fatalf("ReaperInterval = %v, want 1m", cfg.ReaperInterval)
	}
	if cfg.UserTokenTTL != 365*24*time.Hour {
		t.Fatalf("UserTokenTTL = %v, want 8760h", cfg.UserTokenTTL)
	}
	if cfg.AdminAccessTTL != 2*time.Hour {
		t.Fatalf("AdminAccessTTL = %v, want 2h", cfg.AdminAccessTTL)
	}
	if cfg.AdminRefreshTTL != 7*24*time.Hour {
		t.Fatalf("AdminRefreshTTL = %v, want 168h", cfg.AdminRefreshTTL)
	}
	if cfg.TimeTickInterval != time.Second {
		t.Fatalf("TimeTickInterval = %v, want 1s", cfg.TimeTickInterval)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
	if cfg.PostgresDSN != "" {
		t.Fatalf("PostgresDSN = %q, want empty", cfg.PostgresDSN)
	}
}

func TestLoadFromEnvMissingSecrets(t *testing.T) {
	cases := []struct {
		name string
		omit string
	}{
		{"user secret", "VOXGATE_USER_TOKEN_SECRET"},
		{"access secret", "VOXGATE_ADMIN_ACCESS_SECRET"},
		{"refresh secret", "VOXGATE_ADMIN_REFRESH_SECRET"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			setRequiredEnv(t)
			t.Setenv(tc.omit, "")

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() succeeded without %s", tc.omit)
			} else if !strings.Contains(err.Error(), tc.omit) {
				t.Fatalf("error %q does not name %s", err, tc.omit)
			}
		})
	}
}

func TestLoadFromEnvSharedAdminSecretsRejected(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("VOXGATE_ADMIN_REFRESH_SECRET", "access-secret")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() accepted identical access and refresh secrets")
	}
}

func TestLoadFromEnvAdminIdentityNeedsSecret(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("VOXGATE_ADMIN_IDENTITY", "admin@example.com")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() accepted admin identity without admin secret")
	}

	t.Setenv("VOXGATE_ADMIN_SECRET", "hunter2")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.AdminIdentity != "admin@example.com" || cfg.AdminSecret != "hunter2" {
		t.Fatalf("admin config = %q/%q", cfg.AdminIdentity, cfg.AdminSecret)
	}
}

func TestLoadFromEnvProviderKeyRequired(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("VOXGATE_GEN_PROVIDER", "openai")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() accepted provider=openai without an API key")
	}

	t.Setenv("VOXGATE_OPENAI_API_KEY", "oa-key")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.GenProvider != ProviderOpenAI {
		t.Fatalf("GenProvider = %q, want openai", cfg.GenProvider)
	}
}

func TestLoadFromEnvUnknownProvider(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("VOXGATE_GEN_PROVIDER", "llama")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("LoadFromEnv() accepted unknown provider")
	}
}

func TestLoadFromEnvCORSOrigins(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("VOXGATE_CORS_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	for _, origin := range []string{"https://app.example.com", "https://staging.example.com"} {
		if _, ok := cfg.CORSAllowedOrigins[origin]; !ok {
			t.Fatalf("origin %q missing from %v", origin, cfg.CORSAllowedOrigins)
		}
	}
}

func TestLoadFromEnvDurationOverride(t *testing.T) {
	clearGatewayEnv(t)
	setRequiredEnv(t)
	t.Setenv("VOXGATE_SESSION_DURATION", "90s")
	t.Setenv("VOXGATE_MAX_MESSAGES", "5")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.SessionDuration != 90*time.Second {
		t.Fatalf("SessionDuration = %v, want 90s", cfg.SessionDuration)
	}
	if cfg.MaxMessages != 5 {
		t.Fatalf("MaxMessages = %d, want 5", cfg.MaxMessages)
	}
}
