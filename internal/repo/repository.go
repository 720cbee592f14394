package repo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
	"github.com/hamed0406/sensorwatch/internal/status"
)

var ErrMalformedRow = errors.New("malformed status row")

// StatusStore persists the status table. Load returns rows in append order;
// Save must be all-or-nothing.
type StatusStore interface {
	Load(ctx context.Context) ([]domain.StatusRecord, error)
	Save(ctx context.Context, l *status.Ledger) error
}

// Open loads the store into a ledger. Invariant violations are logged and
// tolerated: the latest row of each sensor stays ground truth.
func Open(ctx context.Context, s StatusStore, log *zap.Logger) (*status.Ledger, error) {
	rows, err := s.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load status store: %w", err)
	}
	l, anomalies := status.NewLedger(rows)
	for _, a := range anomalies {
		log.Warn("status_store_corruption",
			zap.String("kind", string(a.Kind)),
			zap.String("sensor_id", string(a.SensorID)),
			zap.Int64s("row_ids", a.RowIDs),
		)
	}
	return l, nil
}
