package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// Retry re-runs a failed query with a fixed backoff.
type Retry struct {
	Inner    Oracle
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

func (r *Retry) Query(ctx context.Context, roster []domain.Sensor, window time.Duration) (domain.Partition, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var last error
	for i := 0; i < attempts; i++ {
		p, err := r.Inner.Query(ctx, roster, window)
		if err == nil {
			return p, nil
		}
		last = err
		log.Warn("oracle_query_failed", zap.Int("attempt", i+1), zap.Error(err))
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return domain.Partition{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(r.Backoff):
		}
	}
	if !errors.Is(last, ErrUnavailable) {
		last = fmt.Errorf("%w: %v", ErrUnavailable, last)
	}
	return domain.Partition{}, fmt.Errorf("after %d attempts: %w", attempts, last)
}
