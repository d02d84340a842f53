// voxgate is the conversation gateway: a WebSocket front end for live AI
// conversations with per-identity session quotas and a token-gated admin
// surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/dotenv"
	"github.com/voxgate/voxgate/pkg/authority"
	"github.com/voxgate/voxgate/pkg/backends/did"
	"github.com/voxgate/voxgate/pkg/backends/elevenlabs"
	"github.com/voxgate/voxgate/pkg/backends/gemini"
	"github.com/voxgate/voxgate/pkg/backends/openai"
	"github.com/voxgate/voxgate/pkg/backends/rediscache"
	"github.com/voxgate/voxgate/pkg/gateway/config"
	"github.com/voxgate/voxgate/pkg/gateway/live"
	gatewayserver "github.com/voxgate/voxgate/pkg/gateway/server"
	"github.com/voxgate/voxgate/pkg/stale"
	"github.com/voxgate/voxgate/pkg/store"
	"github.com/voxgate/voxgate/pkg/store/memory"
	"github.com/voxgate/voxgate/pkg/store/postgres"
	"github.com/voxgate/voxgate/pkg/token"
)

func buildStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.CredentialStore, store.SessionStore, func(), error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("no postgres dsn configured, using in-memory stores")
		return memory.NewCredentialStore(), memory.NewSessionStore(), func() {}, nil
	}

	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return postgres.NewCredentialStore(pool), postgres.NewSessionStore(pool), pool.Close, nil
}

func buildBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (live.Backends, error) {
	var be live.Backends

	switch cfg.GenProvider {
	case config.ProviderGemini:
		gen, err := gemini.New(ctx, gemini.Config{
			APIKey:       cfg.GeminiAPIKey,
			Model:        cfg.GeminiModel,
			SystemPrompt: cfg.SystemPrompt,
		})
		if err != nil {
			return live.Backends{}, fmt.Errorf("gemini client: %w", err)
		}
		be.Generator = gen
	case config.ProviderOpenAI:
		be.Generator = openai.New(openai.Config{
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.SystemPrompt,
		})
	default:
		return live.Backends{}, fmt.Errorf("unknown generation provider %q", cfg.GenProvider)
	}

	if cfg.ElevenLabsAPIKey != "" {
		be.Speech = elevenlabs.New(elevenlabs.Config{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.ElevenLabsVoice,
		})
	} else {
		logger.Warn("no elevenlabs key configured, audio synthesis disabled")
	}

	if cfg.DIDAPIKey != "" {
		be.Avatar = did.New(did.Config{
			APIKey:    cfg.DIDAPIKey,
			SourceURL: cfg.DIDSourceURL,
		})
	} else {
		logger.Warn("no d-id key configured, avatar streaming disabled")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		be.Cache = rediscache.New(client, logger, cfg.CacheTTL)
	}

	return be, nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	creds, sessions, closeStores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	be, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tokens, err := token.NewService(token.Config{
		UserSecret:     []byte(cfg.UserTokenSecret),
		AccessSecret:   []byte(cfg.AdminAccessSecret),
		RefreshSecret:  []byte(cfg.AdminRefreshSecret),
		UserTokenTTL:   cfg.UserTokenTTL,
		AccessTokenTTL: cfg.AdminAccessTTL,
		RefreshTTL:     cfg.AdminRefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	auth := authority.New(creds, sessions, logger, authority.Config{
		SessionDuration: cfg.SessionDuration,
		MaxMessages:     cfg.MaxMessages,
		ReaperInterval:  cfg.ReaperInterval,
		AdminIdentity:   cfg.AdminIdentity,
		AdminSecret:     cfg.AdminSecret,
	})

	staleTracker := stale.NewTracker()
	gw := gatewayserver.New(cfg, gatewayserver.Deps{
		Authority: auth,
		Tokens:    tokens,
		Creds:     creds,
		Sessions:  sessions,
		Stale:     staleTracker,
		Backends:  be,
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gateway", "addr", cfg.Addr, "provider", cfg.GenProvider)

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return auth.RunReaper(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				staleTracker.Sweep(stale.DefaultMaxAge)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		gw.Drain(context.Background())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voxgate: %v\n", err)
		return 1
	}

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "voxgate: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
