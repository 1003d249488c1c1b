package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"habitflow/config"
	"habitflow/internal/dashboard"
	"habitflow/logger"
	"habitflow/models"
	"habitflow/processor"
	"habitflow/reader/sheets"
	"habitflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Habitflow.Name,
		"version": cfg.Habitflow.Version,
	}).Info("starting habitflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	creds, err := sheetsCredentials(cfg.Sheets)
	if err != nil {
		log.WithError(err).Error("failed to configure sheets credentials")
		os.Exit(1)
	}

	source := sheets.NewClient(cfg.Sheets, creds)

	engine, err := processor.NewEngine(cfg.Pipeline)
	if err != nil {
		log.WithError(err).Error("failed to build derivation engine")
		os.Exit(1)
	}

	pipeline := processor.NewPipeline(cfg.Pipeline, source, engine)

	snapshots := make(chan *models.Snapshot, 4)
	refresher := processor.NewRefresher(cfg.Refresh.Interval, pipeline, snapshots)

	var exporter *writer.Exporter
	if cfg.Export.Enabled {
		exporter = writer.NewExporter(cfg.Export.Directory)
	} else {
		log.WithComponent("main").Info("csv export disabled; snapshots stay in memory")
	}

	srv, err := dashboard.NewServer(cfg.Dashboard, cfg.Pipeline, engine, refresher, log)
	if err != nil {
		log.WithError(err).Error("failed to build dashboard server")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeSnapshots(ctx, snapshots, srv, exporter, log)
	}()

	if err := refresher.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start refresher")
		os.Exit(1)
	}

	if srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithComponent("dashboard").WithFields(logger.Fields{
				"address": srv.Address(),
			}).Info("dashboard listening")
			if err := srv.Run(ctx, cfg.Habitflow.Name); err != nil {
				log.WithError(err).Error("dashboard server failed")
				cancel()
			}
		}()
	} else {
		log.WithComponent("main").Info("dashboard disabled")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
		log.Info("component failure triggered shutdown")
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping refresher")
	refresher.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("habitflow stopped")
}

// sheetsCredentials picks the credential provider for the configured sheet.
// A token file wins over an API key when both are set.
func sheetsCredentials(cfg config.SheetsConfig) (sheets.CredentialProvider, error) {
	if cfg.TokenFile != "" {
		return sheets.NewTokenFileProvider(cfg.TokenFile), nil
	}
	if cfg.APIKey != "" {
		return sheets.NewAPIKeyProvider(cfg.APIKey), nil
	}
	return nil, errors.New("no sheets credentials configured; set sheets.api_key or sheets.token_file")
}

// consumeSnapshots fans refresh outcomes out to the dashboard and the CSV
// exporter until the context is cancelled.
func consumeSnapshots(ctx context.Context, snapshots <-chan *models.Snapshot, srv *dashboard.Server, exporter *writer.Exporter, log *logger.Log) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			if snap == nil {
				continue
			}
			srv.ApplySnapshot(snap)
			if exporter != nil && snap.OK() {
				if _, err := exporter.ExportSnapshot(snap); err != nil {
					log.WithComponent("exporter").WithError(err).Error("failed to export snapshot")
				}
			}
		}
	}
}
