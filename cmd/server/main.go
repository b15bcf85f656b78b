// Command server runs the Lumina Books storefront API.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"luminabooks/internal/app"
	"luminabooks/internal/config"
	"luminabooks/internal/server"
	"luminabooks/internal/session"
	"luminabooks/internal/util"
	"luminabooks/pkg/mail"
	"luminabooks/pkg/media"
	"luminabooks/pkg/queue"
	"luminabooks/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, _ := config.ParseOptionalDuration(cfg.SessionTTL, 24*time.Hour)
	magicLinkTTL, _ := config.ParseOptionalDuration(cfg.MagicLinkTTL, 15*time.Minute)
	draftTTL, _ := config.ParseOptionalDuration(cfg.DraftTTL, time.Hour)
	pollInterval, _ := config.ParseOptionalDuration(cfg.VideoPollInterval, 5*time.Second)
	searchDebounce, _ := config.ParseOptionalDuration(cfg.SearchDebounce, 0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, err := storage.NewMinioStore(
		cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
		cfg.MinioBucket, cfg.MinioPublicBaseURL, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}

	var mailer mail.Mailer = mail.LogMailer{}
	if cfg.RabbitURL != "" {
		amqpMailer, err := mail.NewAMQPMailer(cfg.RabbitURL, cfg.MailQueue)
		if err != nil {
			log.Fatalf("failed to init mailer: %v", err)
		}
		defer amqpMailer.Close()
		mailer = amqpMailer
	} else {
		slog.Warn("no rabbitURL configured, magic link mail is log-only")
	}

	var generator media.Generator
	if cfg.MediaAPIKey != "" {
		opts := []media.GeminiOption{}
		if cfg.MediaBaseURL != "" {
			opts = append(opts, media.WithBaseURL(cfg.MediaBaseURL))
		}
		client, err := media.NewGeminiClient(cfg.MediaAPIKey, opts...)
		if err != nil {
			log.Fatalf("failed to init media client: %v", err)
		}
		generator = client
	} else {
		slog.Warn("no media API key configured, generation endpoints disabled")
	}

	jobs, err := queue.NewVideoQueue(queue.VideoQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("failed to init video queue: %v", err)
	}

	broadcast := session.NewBroadcaster()
	defer broadcast.Close()

	appCore, err := app.New(app.Config{
		DatabaseURL:          cfg.DatabaseURL,
		RedisAddr:            cfg.RedisAddr,
		RedisPassword:        cfg.RedisPassword,
		SessionTTL:           sessionTTL,
		MagicLinkTTL:         magicLinkTTL,
		DraftTTL:             draftTTL,
		FeaturedLimit:        cfg.FeaturedLimit,
		SiteBaseURL:          cfg.SiteBaseURL,
		VideoPollInterval:    pollInterval,
		VideoPollMaxAttempts: cfg.VideoPollMaxAttempts,
		Objects:              objects,
		Media:                generator,
		Mailer:               mailer,
		Broadcast:            broadcast,
		Jobs:                 jobs,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	// Audit log of session changes, the first broadcaster subscriber.
	events, cancelAudit := broadcast.Subscribe()
	defer cancelAudit()
	go func() {
		for ev := range events {
			slog.Info("session_event", "type", ev.Type, "user_id", ev.User.ID)
		}
	}()

	workers := cfg.VideoWorkers
	if workers <= 0 {
		workers = 1
	}
	if generator != nil {
		jobs.Start(ctx, workers, appCore.VideoJobHandler)
	}

	httpServer, err := server.New(server.Config{
		App:                         appCore,
		RedisAddr:                   cfg.RedisAddr,
		RedisPassword:               cfg.RedisPassword,
		SignupRateLimitPerMinute:    cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:     cfg.LoginRateLimitPerMinute,
		MagicLinkRateLimitPerMinute: cfg.MagicLinkRateLimitPerMinute,
		GenerateRateLimitPerMinute:  cfg.GenerateRateLimitPerMinute,
		MaxUploadBytes:              cfg.MaxUploadBytes,
		AllowedExtensions:           cfg.AllowedExtensions,
		SearchDebounce:              searchDebounce,
		DistinguishFetchErrors:      cfg.DistinguishFetchErrors,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
