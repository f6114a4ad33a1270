package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvisser/tablehawk/internal/clock/system"
	"github.com/nvisser/tablehawk/internal/config"
	"github.com/nvisser/tablehawk/internal/crawl"
	"github.com/nvisser/tablehawk/internal/enrich"
	"github.com/nvisser/tablehawk/internal/fetch"
	"github.com/nvisser/tablehawk/internal/fetch/headless"
	"github.com/nvisser/tablehawk/internal/hash/sha256"
	"github.com/nvisser/tablehawk/internal/id/uuid"
	"github.com/nvisser/tablehawk/internal/listing"
	"github.com/nvisser/tablehawk/internal/logging"
	notifypubsub "github.com/nvisser/tablehawk/internal/notify/pubsub"
	"github.com/nvisser/tablehawk/internal/ops"
	"github.com/nvisser/tablehawk/internal/progress"
	"github.com/nvisser/tablehawk/internal/progress/sinks"
	gcssink "github.com/nvisser/tablehawk/internal/sink/gcs"
	localsink "github.com/nvisser/tablehawk/internal/sink/local"
	memorysink "github.com/nvisser/tablehawk/internal/sink/memory"
)

const hubCloseTimeout = 5 * time.Second

func newCrawlCmd() *cobra.Command {
	var (
		limit      int
		mode       string
		enrichOn   bool
		format     string
		outputDir  string
		headlessOn bool
	)

	cmd := &cobra.Command{
		Use:   "crawl CITY [CITY...]",
		Short: "Crawl restaurant listings for one or more cities",
		Long: `Crawls every listing page for each city, writing one result document
per city. Cities are crawled one after another; a failed city is reported
and the remaining cities still run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("limit") {
				cfg.Crawler.ResultLimit = limit
			}
			if cmd.Flags().Changed("mode") {
				cfg.Crawler.Mode = mode
			}
			if cmd.Flags().Changed("enrich") {
				cfg.Crawler.Enrich = enrichOn
			}
			if cmd.Flags().Changed("format") {
				cfg.Output.Format = format
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Output.Dir = outputDir
			}
			if cmd.Flags().Changed("headless") {
				cfg.Headless.Enabled = headlessOn
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg, args)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records per city (0 = unbounded)")
	cmd.Flags().StringVar(&mode, "mode", "", "page visit mode: sequential or concurrent")
	cmd.Flags().BoolVar(&enrichOn, "enrich", true, "visit detail and menu pages for each record")
	cmd.Flags().StringVar(&format, "format", "", "output format: json or csv")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for result documents (local backend)")
	cmd.Flags().BoolVar(&headlessOn, "headless", false, "allow headless browser promotion")

	return cmd
}

func runCrawl(ctx context.Context, cfg config.Config, cities []string) error {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init metrics sink: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), hubCloseTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	store, storeClose, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer storeClose()

	publisher, publisherClose, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer publisherClose()

	probe := fetch.New(fetch.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.Crawler.RequestTimeout,
		RespectRobots: cfg.Crawler.RespectRobots,
	})

	var (
		headlessFetcher listing.Fetcher
		detector        listing.Detector
	)
	if cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, continuing without promotion", zap.Error(err))
		} else {
			defer hf.Close()
			headlessFetcher = hf
			detector = headless.NewHeuristic(cfg.Headless.BodyThreshold)
		}
	}

	crawler := crawl.New(
		probe,
		headlessFetcher,
		detector,
		enrich.New(probe, logger.Named("enrich")),
		store,
		publisher,
		sha256.New(),
		system.New(),
		uuid.New(),
		hub,
		cfg.CrawlConfig(),
		logger.Named("crawl"),
	)

	if cfg.Ops.Enabled {
		opsServer := ops.New(fmt.Sprintf(":%d", cfg.Ops.Port), registry, logger.Named("ops"))
		go func() {
			if err := opsServer.Serve(); err != nil {
				logger.Error("ops listener failed", zap.Error(err))
			}
		}()
		defer func() {
			if err := opsServer.Shutdown(context.Background()); err != nil {
				logger.Warn("ops shutdown failed", zap.Error(err))
			}
		}()
	}

	var failed []string
	for _, city := range cities {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("crawl interrupted: %w", err)
		}
		if _, err := crawler.Run(ctx, city); err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("crawl interrupted: %w", err)
			}
			failed = append(failed, city)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("crawl failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (listing.DocumentStore, func(), error) {
	switch cfg.Output.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcssink.New(client, gcssink.Config{
			Bucket: cfg.Output.GCSBucket,
			Prefix: cfg.Output.GCSPrefix,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case "memory":
		return memorysink.New(), func() {}, nil
	default:
		store, err := localsink.New(localsink.Config{BaseDir: cfg.Output.Dir})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (listing.Publisher, func(), error) {
	if !cfg.Notify.Enabled {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Notify.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	return notifypubsub.New(client), func() { _ = client.Close() }, nil
}
