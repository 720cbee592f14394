// Package oracle answers which sensors reported data over a recent window.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// ErrUnavailable means the source could not produce a trustworthy partition.
// Callers must not infer any up/down state from a failed query.
var ErrUnavailable = errors.New("availability oracle unavailable")

// Oracle partitions the whole roster. A sensor the source does not mention
// is unavailable.
type Oracle interface {
	Query(ctx context.Context, roster []domain.Sensor, window time.Duration) (domain.Partition, error)
}

// Split partitions roster by membership of each sensor's source key in seen.
func Split(roster []domain.Sensor, seen map[string]struct{}) domain.Partition {
	var p domain.Partition
	for _, s := range roster {
		if _, ok := seen[s.SourceKey()]; ok {
			p.Available = append(p.Available, s)
		} else {
			p.Unavailable = append(p.Unavailable, s)
		}
	}
	return p
}
