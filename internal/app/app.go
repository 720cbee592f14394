// Package app builds the collaborators of a poll cycle from configuration.
// Every command wires through here so they agree on which store and channels
// are in use.
package app

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/config"
	"github.com/hamed0406/sensorwatch/internal/events"
	"github.com/hamed0406/sensorwatch/internal/lock"
	"github.com/hamed0406/sensorwatch/internal/notify"
	"github.com/hamed0406/sensorwatch/internal/oracle"
	"github.com/hamed0406/sensorwatch/internal/repo"
	"github.com/hamed0406/sensorwatch/internal/repo/csvfile"
	pg "github.com/hamed0406/sensorwatch/internal/repo/postgres"
)

// Closer releases whatever a builder opened. Never nil.
type Closer func() error

func noClose() error { return nil }

// OpenStore picks Postgres when DATABASE_URL is set, the CSV file otherwise.
// Postgres is migrated before use.
func OpenStore(ctx context.Context, cfg config.Config, log *zap.Logger) (repo.StatusStore, Closer, error) {
	if cfg.DatabaseURL == "" {
		log.Info("status_store", zap.String("kind", "csv"), zap.String("path", cfg.StoreFile))
		return csvfile.New(cfg.StoreFile), noClose, nil
	}
	s, err := pg.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, noClose, fmt.Errorf("open postgres: %w", err)
	}
	if err := pg.Migrate(s.DB()); err != nil {
		s.Close()
		return nil, noClose, err
	}
	log.Info("status_store", zap.String("kind", "postgres"), zap.String("host", dsnHost(cfg.DatabaseURL)))
	return s.In(cfg.Location()), s.Close, nil
}

func dsnHost(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return u.Host
}

func Oracle(cfg config.Config, log *zap.Logger) (oracle.Oracle, Closer, error) {
	in, err := oracle.NewInflux(cfg.InfluxEndpoint, cfg.InfluxDB, cfg.OracleTimeout, log)
	if err != nil {
		return nil, noClose, err
	}
	if cfg.InfluxMeasurement != "" {
		in.Measurement = cfg.InfluxMeasurement
	}
	if cfg.InfluxField != "" {
		in.Field = cfg.InfluxField
	}
	return &oracle.Retry{Inner: in, Attempts: cfg.RetryAttempts, Backoff: cfg.RetryBackoff, Logger: log}, in.Close, nil
}

// Notifier fans out over every configured channel. With none configured the
// requests are only logged.
func Notifier(cfg config.Config, log *zap.Logger) notify.Notifier {
	var senders notify.Multi
	if s := notify.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.NotifyFrom, cfg.FoundersEmails); s != nil {
		senders = append(senders, s)
	}
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		senders = append(senders, s)
	}
	var sender notify.Sender = senders
	if len(senders) == 0 {
		log.Warn("notify_no_channel", zap.String("fallback", "log"))
		sender = notify.Log{Logger: log}
	}
	return notify.NewDispatcher(sender, log, cfg.NotifyConcurrency, 0)
}

// Locker returns a Redis lock keyed on the store location, or a no-op lock.
func Locker(cfg config.Config) (lock.Locker, Closer) {
	if cfg.RedisAddr == "" {
		return lock.Noop{}, noClose
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return lock.NewRedis(rdb, LockKey(cfg), cfg.LockTTL), rdb.Close
}

func LockKey(cfg config.Config) string {
	target := cfg.DatabaseURL
	if target == "" {
		if abs, err := filepath.Abs(cfg.StoreFile); err == nil {
			target = abs
		} else {
			target = cfg.StoreFile
		}
	} else {
		target = dsnHost(target)
	}
	return "sensorwatch:cycle:" + target
}

// Events connects to NATS when configured.
func Events(cfg config.Config, log *zap.Logger) (events.Publisher, Closer, error) {
	if cfg.NATSURL == "" {
		return events.Noop{}, noClose, nil
	}
	p, nc, err := events.Connect(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, noClose, err
	}
	log.Info("events_connected", zap.String("subject", cfg.NATSSubject))
	return p, nc.Drain, nil
}

// CloseAll runs closers in reverse order and combines their errors.
func CloseAll(cs ...Closer) error {
	var err error
	for i := len(cs) - 1; i >= 0; i-- {
		if cs[i] != nil {
			err = multierr.Append(err, cs[i]())
		}
	}
	return err
}
