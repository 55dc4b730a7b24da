package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leadflow/api/internal/app"
	"leadflow/api/internal/authpw"
	"leadflow/api/internal/config"
	"leadflow/api/internal/email"
	"leadflow/api/internal/embedqueue"
	"leadflow/api/internal/keyvault"
	"leadflow/api/internal/logging"
	"leadflow/api/internal/metrics"
	"leadflow/api/internal/openai"
	"leadflow/api/internal/querycache"
	"leadflow/api/internal/search"
	"leadflow/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		logger = zap.NewExample()
		logger.Warn("falling back to default logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}

	dataStore := store.NewPostgresStore(db)
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		ResetURL: cfg.ResetURL,
	})
	if !mailer.IsConfigured() {
		logger.Warn("SMTP not configured, password reset tokens are returned in responses")
	}
	authService := authpw.NewService(dataStore, mailer, cfg.JWTSecret, cfg.AccessTTL)

	vault, err := keyvault.New(cfg.KeyEncryptionKey)
	if errors.Is(err, keyvault.ErrNoKey) {
		logger.Warn("AI key encryption not configured, saving user keys is disabled")
		vault = nil
	} else if err != nil {
		return err
	}

	ai := openai.New(openai.Config{
		APIKey:         cfg.OpenAIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		EmbeddingModel: cfg.EmbeddingModel,
		ChatModel:      cfg.ChatModel,
	})

	var checks []app.Check
	var cacheStore querycache.Store = querycache.NewMemoryStore(time.Hour)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := querycache.NewRedisStore(cfg.RedisURL, time.Hour)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		cacheStore = redisStore
		checks = append(checks, app.Check{Name: "redis", Ping: redisStore.Ping})
		logger.Info("query cache backed by redis")
	}
	cache := querycache.New(cacheStore, querycache.Options{StaleTime: 10 * time.Minute, Logger: logger})

	pgfts := search.NewPgFTS(db)
	var primary search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, pgfts, logger)
	go func() {
		reindexCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if n, err := searchService.Reindex(reindexCtx, pgfts); err != nil {
			logger.Warn("search reindex failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("search index rebuilt", zap.Int("leads", n))
		}
	}()

	m := metrics.New()
	service := app.NewService(app.Deps{
		Config:  cfg,
		Store:   dataStore,
		Auth:    authService,
		Vault:   vault,
		AI:      ai,
		Cache:   cache,
		Search:  searchService,
		Metrics: m,
		Logger:  logger,
		Checks:  checks,
	})

	embeds := embedqueue.New(service.ProcessEmbedJob, embedqueue.Options{
		Workers:  cfg.EmbedWorkers,
		Observer: m.EmbedJob,
		Logger:   logger,
	})
	service.SetEmbedQueue(embeds)
	embeds.Start()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("leadflow api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	embeds.Stop(shutdownCtx)
	return nil
}
