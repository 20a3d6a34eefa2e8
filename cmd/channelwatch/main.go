package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bakkerme/channelwatch/internal/config"
	"github.com/bakkerme/channelwatch/internal/detect"
	"github.com/bakkerme/channelwatch/internal/notify"
	"github.com/bakkerme/channelwatch/internal/observability/otelx"
	"github.com/bakkerme/channelwatch/internal/outputs/email/smtp"
	"github.com/bakkerme/channelwatch/internal/registry"
	"github.com/bakkerme/channelwatch/internal/runner"
	"github.com/bakkerme/channelwatch/internal/sources/youtube"
	apiimpl "github.com/bakkerme/channelwatch/internal/sources/youtube/impl"
	"github.com/bakkerme/channelwatch/internal/sources/youtube/rssimpl"
	"github.com/bakkerme/channelwatch/internal/trigger"
)

// Exit codes. Isolated per-channel failures do not fail the process; a
// credential rejection does, distinguishably.
const (
	exitConfig      = 1
	exitCredentials = 2
)

func main() {
	env := config.LoadEnv()
	configPath := flag.String("config", env.WatchConfigPath, "path to watch document")
	runOnce := flag.Bool("run-once", env.RunOnce, "run once and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	doc, err := loadDocument(*configPath)
	if err != nil {
		log.Fatalf("failed to load watch document: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := otelx.Init(ctx, logger, env.OTel)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	if shutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	store, err := buildStore(doc)
	if err != nil {
		log.Fatalf("failed to open registry: %v", err)
	}
	defer store.Close()
	for _, channel := range doc.Watch.Channels {
		if err := store.Ensure(ctx, channel.ID); err != nil {
			log.Fatalf("failed to seed registry with %s: %v", channel.ID, err)
		}
	}

	filters, err := buildFilters(doc)
	if err != nil {
		log.Fatalf("failed to compile filters: %v", err)
	}

	if err := smtp.ValidateConfig(env.SMTP.Host, env.SMTP.Port); err != nil {
		log.Fatalf("invalid smtp configuration: %v", err)
	}
	sender := smtp.NewSender(
		env.SMTP.Host,
		env.SMTP.Port,
		env.SMTP.User,
		env.SMTP.Password,
		env.SMTP.TLSMode,
		env.SMTP.InsecureSkipVerify,
	)
	emailConfig := doc.Watch.Notify.Email
	notifier, err := notify.NewEmailNotifier(sender, emailConfig.From, emailConfig.To, emailConfig.Subject, env.Notify.SendTimeout)
	if err != nil {
		log.Fatalf("failed to build notifier: %v", err)
	}

	watchRunner := runner.New(
		logger,
		runner.Config{MaxConcurrency: doc.Watch.MaxConcurrency},
		store,
		buildFetcher(doc, env),
		notifier,
		filters,
	)

	if *runOnce || len(doc.Watch.Trigger) == 0 {
		if _, err := watchRunner.RunOnce(ctx); err != nil {
			if youtube.IsUnauthorized(err) || notify.IsAuthFailed(err) {
				logger.Error("run aborted by credential failure", "error", err)
				os.Exit(exitCredentials)
			}
			logger.Error("run failed", "error", err)
			os.Exit(exitConfig)
		}
		return
	}

	cronConfig := doc.Watch.Trigger[0].Cron
	trig := trigger.NewCronProcessor(cronConfig.Schedule, cronConfig.Timezone)
	if err := watchRunner.Start(ctx, trig); err != nil {
		log.Fatalf("failed to start runner: %v", err)
	}

	<-ctx.Done()
	time.Sleep(200 * time.Millisecond)
}

func loadDocument(path string) (*config.WatchDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc config.WatchDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse watch document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func buildStore(doc *config.WatchDocument) (registry.Store, error) {
	switch doc.RegistryBackend() {
	case config.RegistryBackendSQLite:
		return registry.NewSQLiteStore(doc.RegistryPath())
	default:
		return registry.NewFileStore(doc.RegistryPath())
	}
}

func buildFetcher(doc *config.WatchDocument, env config.EnvConfig) youtube.Fetcher {
	if doc.SourceBackend() == config.SourceBackendRSS {
		return rssimpl.NewFetcher(env.Feed.HTTPTimeout, env.Feed.UserAgent, env.Feed.BaseURL)
	}
	return apiimpl.NewFetcher(env.YouTube.HTTPTimeout, env.YouTube.UserAgent, env.YouTube.BaseURL, env.YouTube.APIKey)
}

func buildFilters(doc *config.WatchDocument) (map[string]*detect.Filter, error) {
	filters := map[string]*detect.Filter{}
	for _, channel := range doc.Watch.Channels {
		if channel.Filter == "" {
			continue
		}
		filter, err := detect.NewFilter(channel.Filter)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", channel.ID, err)
		}
		filters[channel.ID] = filter
	}
	return filters, nil
}
