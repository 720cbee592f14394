package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/app"
	"github.com/hamed0406/sensorwatch/internal/config"
	"github.com/hamed0406/sensorwatch/internal/httpapi"
	apimw "github.com/hamed0406/sensorwatch/internal/httpapi/middleware"
	"github.com/hamed0406/sensorwatch/internal/logging"
	"github.com/hamed0406/sensorwatch/internal/metrics"
	"github.com/hamed0406/sensorwatch/internal/roster"
)

// Standalone read-only API over the status store, for deployments where the
// poll cycle runs from cron.
func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogStdout)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := roster.Load(cfg.SensorsFile, cfg.ContactsFile)
	if err != nil {
		logger.Fatal("roster_load_failed", zap.Error(err))
	}
	rs := roster.NewHolder(r)
	go func() {
		if err := roster.Watch(ctx, cfg.SensorsFile, cfg.ContactsFile, logger, rs.Set); err != nil {
			logger.Warn("roster_watch_failed", zap.Error(err))
		}
	}()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store_open_failed", zap.Error(err))
	}
	defer closeStore()

	api := httpapi.NewServer(logger, store, rs, cfg.ThresholdAttempts)
	api.Metrics = metrics.New().Handler()
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(apimw.ParseKeys(cfg.APIKeys)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api_listen", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("api_listen_failed", zap.Error(err))
	}
}

// loadConfig applies the same validation as the poller, so a bad threshold
// fails at startup instead of on every /api/notifications/pending request.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load("")
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
