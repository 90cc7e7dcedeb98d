package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/medscrape/telegram-warehouse/internal/config"
	"github.com/medscrape/telegram-warehouse/internal/enrich"
	"github.com/medscrape/telegram-warehouse/internal/observability"
	"github.com/medscrape/telegram-warehouse/internal/pipeline"
	"github.com/medscrape/telegram-warehouse/internal/scraper"
	"github.com/medscrape/telegram-warehouse/internal/store"
	"github.com/medscrape/telegram-warehouse/internal/warehouse"
)

const (
	stageScrape         = "scrape"
	stageLoadRaw        = "load-raw"
	stageEnrich         = "enrich"
	stageLoadDetections = "load-detections"
	stageAll            = "all"
)

func main() {
	stageFlag := flag.String("stage", stageAll,
		"pipeline stage to run: scrape, load-raw, enrich, load-detections, or all")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if cfg.MetricsPort > 0 {
		go serveMetrics(cfg.MetricsPort, &logger)
	}

	runID := uuid.NewString()
	stages, err := buildStages(cfg, *stageFlag, runID, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid stage selection")
	}

	logger.Info().Str("run_id", runID).Str("stage", *stageFlag).Msg("Starting pipeline")

	p := pipeline.New(runID, &logger, stages...)
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Pipeline failed")
	}

	logger.Info().Str("run_id", runID).Msg("Pipeline finished")
}

// buildStages wires the requested subset of the stage chain. Stage order
// is fixed; selecting a single stage runs just that step.
func buildStages(cfg *config.Config, selection, runID string, logger *zerolog.Logger) ([]pipeline.Stage, error) {
	all := []pipeline.Stage{
		{Name: stageScrape, Run: scrapeStage(cfg, logger)},
		{Name: stageLoadRaw, Run: loadRawStage(cfg, logger)},
		{Name: stageEnrich, Run: enrichStage(cfg, runID, logger)},
		{Name: stageLoadDetections, Run: loadDetectionsStage(cfg, logger)},
	}

	if selection == stageAll {
		return all, nil
	}

	for _, stage := range all {
		if stage.Name == selection {
			return []pipeline.Stage{stage}, nil
		}
	}

	return nil, fmt.Errorf("unknown stage %q", selection)
}

func scrapeStage(cfg *config.Config, logger *zerolog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		st := store.New(cfg.MessagesDir, logger)

		return scraper.New(cfg, st, logger).Run(ctx)
	}
}

func loadRawStage(cfg *config.Config, logger *zerolog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		db, err := warehouse.New(ctx, cfg.PostgresDSN(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}

		msgs, err := store.New(cfg.MessagesDir, logger).ReadAll()
		if err != nil {
			return err
		}

		inserted, err := db.LoadMessages(ctx, msgs)
		if err != nil {
			return err
		}

		observability.RowsLoaded.WithLabelValues("telegram_messages").Add(float64(inserted))

		return nil
	}
}

func enrichStage(cfg *config.Config, runID string, logger *zerolog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		engine := enrich.NewHTTPEngine(cfg.DetectorURL, cfg.DetectionModel, cfg.DetectorTimeout)
		runner := enrich.NewRunner(cfg.ImagesDir, cfg.OutputFile, cfg.ConfidenceThreshold, engine, runID, logger)

		_, err := runner.Run(ctx)

		return err
	}
}

func loadDetectionsStage(cfg *config.Config, logger *zerolog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		rows, err := warehouse.ReadDetectionsCSV(enrich.CSVPath(cfg.OutputFile))
		if err != nil {
			return err
		}

		db, err := warehouse.New(ctx, cfg.PostgresDSN(), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}

		if cfg.DetectionsFreshLoad {
			if err := db.TruncateDetections(ctx); err != nil {
				return err
			}
		}

		inserted, err := db.LoadDetections(ctx, rows)
		if err != nil {
			return err
		}

		observability.RowsLoaded.WithLabelValues("image_detections").Add(float64(inserted))

		_, err = db.VerifyDetections(ctx)

		return err
	}
}

func serveMetrics(port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Int("port", port).Msg("Starting metrics server")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("Metrics server error")
	}
}

// setLogLevel sets the global log level based on the configuration.
func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
