package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ryosukesatoh/daily-brief/internal/archive"
	"github.com/ryosukesatoh/daily-brief/internal/config"
	"github.com/ryosukesatoh/daily-brief/internal/fetcher"
	"github.com/ryosukesatoh/daily-brief/internal/llm"
	"github.com/ryosukesatoh/daily-brief/internal/logging"
	"github.com/ryosukesatoh/daily-brief/internal/publisher"
	"github.com/ryosukesatoh/daily-brief/internal/runner"
	"github.com/ryosukesatoh/daily-brief/internal/search"
	"github.com/ryosukesatoh/daily-brief/internal/summarizer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "build one newsletter and exit")
	date := flag.String("date", "", "restrict sources to a single day (YYYY-MM-DD)")
	dateRange := flag.String("date-range", "", "restrict sources to past_day, past_week, past_month or past_year")
	format := flag.String("format", "", "output format: markdown, html or text")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	applyOverrides(cfg, *date, *dateRange, *format)
	if err := cfg.Request().Validate(); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	provider, err := search.New(cfg.Search.Provider, cfg.Search.APIKey, cfg.Search.MaxResults, nil)
	if err != nil {
		log.Fatalf("Failed to build search provider: %v", err)
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		log.Fatalf("Failed to build llm client: %v", err)
	}
	sum := summarizer.New(gen, summarizer.Options{
		Retry:   cfg.RetryPolicy(),
		Timeout: cfg.LLM.Timeout,
		Logger:  log,
	})

	pubs, webPub, err := buildPublishers(cfg, log)
	if err != nil {
		log.Fatalf("Failed to build publishers: %v", err)
	}

	opts := runner.Options{
		Workers:       cfg.Workers,
		MinScore:      cfg.MinScore,
		SearchTimeout: cfg.Search.Timeout,
		Retry:         cfg.RetryPolicy(),
		SkipPublished: cfg.Archive.SkipPublished,
		Publishers:    pubs,
		Logger:        log,
	}
	if cfg.FetchFullPage {
		opts.Enricher = fetcher.NewPageFetcher(nil, fetcher.DefaultTimeout)
	}
	if cfg.Archive.Path != "" {
		a, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer a.Close()
		opts.Archive = a
	}

	// Start web server if configured
	if webPub != nil {
		if err := webPub.Start(); err != nil {
			log.Fatalf("Failed to start web publisher: %v", err)
		}
	}

	r := runner.New(provider, sum, opts)

	// Single-run mode: build the newsletter once and exit
	if *once {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		log.Info("Building newsletter (once mode)...")
		if err := r.Run(ctx, cfg.Request()); err != nil {
			log.Fatalf("Newsletter failed: %v", err)
		}
		log.Info("Done")
		return
	}

	// Set up context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run immediately on startup if configured
	if cfg.RunOnStart {
		log.Info("Building initial newsletter...")
		if err := r.Run(ctx, cfg.Request()); err != nil {
			log.Errorf("Initial run failed: %v", err)
		}
	}

	// Set up cron scheduler
	c := cron.New()
	_, err = c.AddFunc(cfg.Schedule, func() {
		log.Info("Cron triggered, building newsletter...")
		if err := r.Run(ctx, cfg.Request()); err != nil {
			log.Errorf("Scheduled run failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to set up cron schedule %q: %v", cfg.Schedule, err)
	}
	c.Start()
	log.Infof("Scheduled newsletter with cron expression: %s", cfg.Schedule)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("Received signal %v, shutting down...", sig)

	// Graceful shutdown
	cancel()
	<-c.Stop().Done()

	if webPub != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := webPub.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Web server shutdown error: %v", err)
		}
	}

	log.Info("Shutdown complete")
}

// applyOverrides lets command-line flags replace the configured request
// fields. A date flag clears a configured range and vice versa.
func applyOverrides(cfg *config.Config, date, dateRange, format string) {
	if date != "" {
		cfg.Date = date
		cfg.DateRange = ""
	}
	if dateRange != "" {
		cfg.DateRange = dateRange
		if date == "" {
			cfg.Date = ""
		}
	}
	if format != "" {
		cfg.Format = format
	}
}

func buildGenerator(cfg *config.Config) (llm.Generator, error) {
	return llm.New(cfg.LLM.Provider, llm.Options{
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Endpoint: cfg.LLM.Endpoint,
		Client:   &http.Client{Timeout: cfg.LLM.Timeout + 10*time.Second},
	})
}

// buildPublishers creates every configured publisher. The web publisher is
// also returned on its own so main can start and stop its server.
func buildPublishers(cfg *config.Config, log logrus.FieldLogger) ([]publisher.Publisher, *publisher.WebPublisher, error) {
	var pubs []publisher.Publisher
	var webPub *publisher.WebPublisher

	for _, typ := range cfg.PublisherTypes() {
		switch typ {
		case "stdout":
			pubs = append(pubs, publisher.NewStdoutPublisher())
		case "file":
			pubs = append(pubs, publisher.NewFilePublisher(cfg.Publisher.File.Dir))
		case "email":
			pubs = append(pubs, publisher.NewEmailPublisher(
				cfg.Publisher.Email.SMTPHost,
				cfg.Publisher.Email.SMTPPort,
				cfg.Publisher.Email.Username,
				cfg.Publisher.Email.Password,
				cfg.Publisher.Email.From,
				cfg.Publisher.Email.To,
			))
		case "web":
			if webPub == nil {
				webPub = publisher.NewWebPublisher(cfg.Publisher.Web.Addr, log)
				pubs = append(pubs, webPub)
			}
		case "discord":
			pubs = append(pubs, publisher.NewDiscordPublisher(cfg.Publisher.Discord.WebhookURL, cfg.RetryPolicy()))
		default:
			return nil, nil, fmt.Errorf("unknown publisher type: %s", typ)
		}
	}
	return pubs, webPub, nil
}
