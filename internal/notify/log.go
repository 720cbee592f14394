package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// Log only records what would have been sent. Used when no channel is
// configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Deliver(ctx context.Context, req domain.NotificationRequest) error {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("notify_dry_run",
		zap.String("sensor_id", string(req.SensorID)),
		zap.String("to", req.Recipient.Email),
		zap.String("subject", req.Subject),
		zap.Time("datetime_down", req.DatetimeDown),
		zap.Int("attempts", req.Attempts),
	)
	return nil
}
