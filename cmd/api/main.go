package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/portrait-api/internal/application/artifact"
	"github.com/portrait-api/internal/application/composition"
	"github.com/portrait-api/internal/application/generation"
	"github.com/portrait-api/internal/application/identity"
	"github.com/portrait-api/internal/application/notification"
	"github.com/portrait-api/internal/application/verification"
	"github.com/portrait-api/internal/config"
	"github.com/portrait-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/portrait-api/internal/infrastructure/jwt"
	"github.com/portrait-api/internal/infrastructure/openrouter"
	redisinfra "github.com/portrait-api/internal/infrastructure/redis"
	s3infra "github.com/portrait-api/internal/infrastructure/s3"
	"github.com/portrait-api/internal/infrastructure/smtp"
	"github.com/portrait-api/internal/infrastructure/sns"
	"github.com/portrait-api/internal/infrastructure/whatsapp"
	"github.com/portrait-api/internal/pkg/metrics"
	transporthttp "github.com/portrait-api/internal/transport/http"
	"github.com/portrait-api/internal/transport/http/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	setupLogger(cfg)
	ctx := context.Background()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
	generations := dynamo.NewGenerationRepo(dynamoClient, cfg.DynamoTables.Generations, cfg.DynamoTables.IdentityClaims)
	codes := dynamo.NewVerificationRepo(dynamoClient, cfg.DynamoTables.Verifications)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Grants are optional; without keys regeneration and admin routes reject every request.
	var tokens middleware.TokenVerifier = rejectAll{}
	var signer grantSigner = unsignable{}
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		tokens, signer = p, p
	} else {
		slog.Warn("JWT provider not available", "err", err)
	}

	artifacts := artifact.NewStore(s3infra.NewStore(s3infra.NewClient(cfg), cfg.S3BucketName))
	mailer := smtp.NewMailer(cfg)

	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		slog.Warn("SNS sender not available", "err", err)
	}

	engine, err := composition.NewEngine(
		composition.NewFileTemplates(cfg.TemplateBackgroundPath, cfg.TemplateLayerPath),
		composition.DefaultLayout(),
	)
	if err != nil {
		log.Fatalf("composition engine: %v", err)
	}

	dispatcher := notification.NewDispatcher(notification.DispatcherDeps{
		SMS:         smsSender,
		WhatsApp:    whatsapp.NewSender(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIKey, cfg.NotifyTimeout),
		Mailer:      mailer,
		Links:       artifacts,
		PreviewTTL:  cfg.PreviewURLTTL,
		DownloadTTL: cfg.DownloadURLTTL,
		Timeout:     cfg.NotifyTimeout,
		Metrics:     m,
	})

	resolver := identity.NewResolver(generations)
	genDeps := generation.ServiceDeps{
		Resolver: resolver,
		Records:  generations,
		AI: openrouter.New(openrouter.Config{
			BaseURL: cfg.OpenRouterBaseURL,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   cfg.OpenRouterModel,
			Referer: cfg.OpenRouterReferer,
			Timeout: cfg.AITimeout,
		}),
		PrepareInput:    openrouter.PrepareInput,
		Composer:        engine,
		Artifacts:       artifacts,
		Notifier:        dispatcher,
		Verifications:   codes,
		Metrics:         m,
		DefaultDialCode: cfg.DefaultDialCode,
		PreviewTTL:      cfg.PreviewURLTTL,
		DownloadTTL:     cfg.DownloadURLTTL,
		LeaseTTL:        cfg.RegenerateLease,
	}

	rdb, err := redisinfra.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
		genDeps.Leases = redisinfra.NewLeases(rdb)
		slog.Info("regeneration leases enabled")
	}

	verifySvc := verification.NewService(verification.ServiceDeps{
		Codes:           codes,
		Records:         resolver,
		SMS:             smsSender,
		Mailer:          mailer,
		Signer:          signer,
		Metrics:         m,
		DefaultDialCode: cfg.DefaultDialCode,
		TTL:             cfg.OTPTTL,
		MaxAttempts:     cfg.OTPMaxAttempts,
	})

	router := transporthttp.NewRouter(cfg, &transporthttp.Deps{
		Generations:   generation.NewService(genDeps),
		Verifications: verifySvc,
		Images:        artifacts,
		Tokens:        tokens,
		Metrics:       reg,
	})

	// Generation waits on the AI provider, so writes get the AI timeout plus headroom.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.AITimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.NotifyTimeout+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		slog.Warn("notifications still in flight at exit", "err", err)
	}
	slog.Info("server stopped")
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if !cfg.IsProduction() {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
