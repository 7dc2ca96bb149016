package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"shorts-relay/internal"
	"shorts-relay/internal/ai"
	"shorts-relay/internal/bot"
	"shorts-relay/internal/credstore"
	"shorts-relay/internal/logging"
	"shorts-relay/internal/relay"
	"shorts-relay/internal/s3"
	"shorts-relay/internal/scheduler"
	"shorts-relay/internal/sources"
	"shorts-relay/internal/uploaders"
)

const errorsLogPath = "errors.log"

func main() {
	// Load .env file if it exists (try multiple paths)
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		_ = godotenv.Load(path)
	}

	log, err := logging.New(errorsLogPath)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	cfg, err := internal.LoadConfig()
	if err != nil {
		log.Errorf("config: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	var (
		s3c  s3.Client
		host uploaders.URLProvider
	)
	if cfg.S3Configured() {
		s3c, err = s3.New(cfg)
		if err != nil {
			log.Errorf("s3 client: %v", err)
			return
		}
		host = s3.NewMediaHost(s3c, cfg.S3MediaPrefix, cfg.MediaPublicBaseURL, log)
	}

	var backend credstore.Backend = credstore.FileBackend{}
	if cfg.CredentialsStore == "s3" {
		backend = credstore.S3Backend{Client: s3c, Prefix: cfg.S3TokensPrefix}
	}
	store := credstore.New(backend)

	manager := uploaders.BuildManager(cfg, store, host, log)
	log.Infof("enabled platforms: %v (mode %s)", manager.AvailablePlatforms(), cfg.PublishMode)

	opts := relay.Options{
		RequestTimeout:  cfg.RequestTimeout,
		AllowDuplicates: cfg.AllowDuplicateUploads,
	}
	if cfg.AITitles {
		opts.Titles = ai.NewTitleGenerator(cfg.GeminiAPIKey, log)
	}
	svc := relay.NewService(sources.NewDownloader(cfg.DownloadDir, log), manager, opts, log)

	sched, err := scheduler.BuildService(cfg, log)
	if err != nil {
		log.Errorf("build scheduler: %v", err)
		return
	}
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Errorf("scheduler stopped: %v", err)
		}
	}()

	b, err := bot.NewTelegramBot(bot.Config{
		Token:      cfg.TelegramToken,
		ChannelID:  cfg.TelegramChannelID,
		ErrorsPath: errorsLogPath,
		Platforms:  manager.AvailablePlatforms(),
	}, svc, log)
	if err != nil {
		log.Errorf("bot init: %v", err)
		return
	}
	if err := b.Run(ctx); err != nil {
		log.Errorf("bot run: %v", err)
		return
	}

	cancel()
	time.Sleep(300 * time.Millisecond)
}
