package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
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
	"github.com/hamed0406/sensorwatch/internal/scheduler"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (default $CONFIG_FILE)")
		sensors    = flag.String("sensors", "", "sensors.csv roster (overrides SENSORS_FILE)")
		contacts   = flag.String("contacts", "", "mailing_list.csv (overrides CONTACTS_FILE)")
		request    = flag.Bool("request", false, "only query InfluxDB and print the availability totals")
		statusOnly = flag.Bool("status", false, "update the status store without notifying")
		notifyAll  = flag.Bool("notify", false, "update the status store and notify people in charge (default)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *sensors != "" {
		cfg.SensorsFile = *sensors
	}
	if *contacts != "" {
		cfg.ContactsFile = *contacts
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	mode := scheduler.ModeNotify
	switch {
	case *request:
		mode = scheduler.ModeRequest
	case *statusOnly:
		mode = scheduler.ModeStatus
	case *notifyAll:
		mode = scheduler.ModeNotify
	}

	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogStdout)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, mode, logger); err != nil {
		logger.Error("sensorwatch_failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, mode scheduler.Mode, logger *zap.Logger) error {
	contactsFile := cfg.ContactsFile
	if mode == scheduler.ModeRequest {
		contactsFile = ""
	}
	r, err := roster.Load(cfg.SensorsFile, contactsFile)
	if err != nil {
		return err
	}
	rs := roster.NewHolder(r)

	o, closeOracle, err := app.Oracle(cfg, logger)
	if err != nil {
		return err
	}
	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		_ = closeOracle()
		return err
	}
	locker, closeLock := app.Locker(cfg)
	pub, closeEvents, err := app.Events(cfg, logger)
	if err != nil {
		_ = app.CloseAll(closeOracle, closeStore, closeLock)
		return err
	}
	defer func() {
		if err := app.CloseAll(closeOracle, closeStore, closeLock, closeEvents); err != nil {
			logger.Warn("shutdown_close_failed", zap.Error(err))
		}
	}()

	m := metrics.New()
	poller := scheduler.NewPoller(logger, rs, o, store, app.Notifier(cfg, logger),
		cfg.ThresholdAttempts, cfg.Window(), cfg.Location())
	poller.Events = pub
	poller.Lock = locker
	poller.Metrics = m
	poller.Interval = cfg.PollInterval

	if cfg.PollInterval == 0 {
		sum, err := poller.RunOnce(ctx, mode)
		printSummary(sum)
		return err
	}

	// daemon
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := roster.Watch(ctx, cfg.SensorsFile, contactsFile, logger, rs.Set); err != nil {
			logger.Warn("roster_watch_failed", zap.Error(err))
		}
	}()

	var srv *http.Server
	if cfg.Addr != "" {
		api := httpapi.NewServer(logger, store, rs, cfg.ThresholdAttempts)
		api.Cycles = poller
		api.Metrics = m.Handler()
		srv = &http.Server{
			Addr:              cfg.Addr,
			Handler:           api.Router(apimw.ParseKeys(cfg.APIKeys)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("api_listen", zap.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("api_listen_failed", zap.Error(err))
			}
		}()
	}

	logger.Info("poller_started", zap.Duration("interval", cfg.PollInterval), zap.String("mode", mode.String()))
	poller.Run(ctx, mode)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	return nil
}

func printSummary(s scheduler.Summary) {
	fmt.Println("Total Sensors:", s.Total)
	fmt.Println("Total Available Sensors:", s.Available)
	fmt.Println("Total Unavailable Sensors:", s.Unavailable)
	if s.Mode == scheduler.ModeRequest.String() {
		return
	}
	fmt.Println("Transitions:", len(s.Transitions))
	for _, t := range s.Transitions {
		fmt.Printf("  %-14s sensor=%s row=%d attempts=%d\n", t.Kind, t.SensorID, t.RecordID, t.Attempts)
	}
	if s.Mode == scheduler.ModeNotify.String() {
		fmt.Printf("Notifications: %d sent, %d failed\n", s.Notifications, s.Failed)
	}
}
