package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/bot"
	"pricewatch/internal/config"
	"pricewatch/internal/fetcher"
	"pricewatch/internal/httpapi"
	"pricewatch/internal/notify"
	"pricewatch/internal/scheduler"
	"pricewatch/internal/storage"
	"pricewatch/internal/telemetry"
	"pricewatch/internal/tracker"
)

func main() {
	configDir := flag.String("config", "./configs", "directory containing config.yaml")
	once := flag.Bool("once", false, "run a single refresh batch, print the summary and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"store":          cfg.StoreDriver,
		"fetcher":        cfg.Fetcher,
		"mail_transport": cfg.MailTransport,
	}).Info("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "pricewatch", log)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("Error flushing traces")
		}
	}()

	connector := storage.NewConnector(openStore(cfg, log), log)
	defer func() {
		log.Info("Closing database...")
		if err := connector.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}()
	repo, err := connector.Get(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if badgerRepo, ok := repo.(*storage.BadgerRepository); ok {
		go badgerRepo.RunGC(ctx, 10*time.Minute)
	}

	mailer, err := newMailer(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize mailer: %v", err)
	}
	notifier := notify.NewNotifier(mailer, log)
	pageFetcher := newFetcher(cfg, log)

	opts := []tracker.Option{tracker.WithDiscountThreshold(cfg.DiscountThreshold())}
	registrar := tracker.NewRegistrar(repo, pageFetcher, notifier, log, opts...)
	runner := tracker.NewRunner(repo, pageFetcher, notifier, log, cfg.BatchConcurrency, cfg.BatchBudget, opts...)

	if *once {
		summary, err := runner.Run(ctx)
		if err != nil {
			log.Fatalf("Batch failed: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.WithError(err).Error("Failed to print summary")
		}
		return
	}

	log.Info("Starting pricewatch...")

	server := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewHandler(registrar, runner, log))
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	go scheduler.Run(ctx, runner, cfg.ScheduleInterval, log)

	if cfg.TelegramBotToken != "" {
		botHandler, err := bot.NewHandler(cfg.TelegramBotToken, registrar, log)
		if err != nil {
			log.Fatalf("Failed to initialize Telegram bot handler: %v", err)
		}
		go botHandler.Start(ctx)
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	log.Info("pricewatch is running. Press Ctrl+C to exit.")
	<-ctx.Done()

	log.Info("Shutting down pricewatch...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Error shutting down HTTP server")
	}
	log.Info("pricewatch shut down gracefully.")
}

func openStore(cfg config.Config, log logrus.FieldLogger) storage.OpenFunc {
	return func(ctx context.Context) (storage.Repository, error) {
		if cfg.StoreDriver == config.StorePostgres {
			return storage.NewPostgresRepository(ctx, cfg.PostgresDSN, log)
		}
		return storage.NewBadgerRepository(cfg.BadgerDBPath, log)
	}
}

func newFetcher(cfg config.Config, log logrus.FieldLogger) tracker.Fetcher {
	proxy := fetcher.ProxyOptions{
		Host:        cfg.ProxyHost,
		Port:        cfg.ProxyPort,
		Username:    cfg.ProxyUsername,
		Password:    cfg.ProxyPassword,
		InsecureTLS: cfg.ProxyInsecureTLS,
	}
	var pages fetcher.Fetcher
	if cfg.Fetcher == config.FetcherRod {
		pages = fetcher.NewRodFetcher(proxy, cfg.FetchTimeout, log)
	} else {
		pages = fetcher.NewHTTPFetcher(log,
			fetcher.WithProxy(proxy),
			fetcher.WithTimeout(cfg.FetchTimeout),
		)
	}
	return fetcher.NewRateLimited(pages, cfg.FetchRPS)
}

func newMailer(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (notify.Mailer, error) {
	switch cfg.MailTransport {
	case config.MailSMTP:
		return notify.NewSMTPMailer(notify.SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	case config.MailSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return notify.NewQueueMailer(sqs.NewFromConfig(awsCfg), cfg.MailQueueURL), nil
	default:
		return notify.NewLogMailer(log), nil
	}
}
