package status

import (
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

type TransitionKind string

const (
	WentDown    TransitionKind = "went_down"
	StillDown   TransitionKind = "still_down"
	Recovered   TransitionKind = "recovered"
	FirstSeenUp TransitionKind = "first_seen_up"
)

// Transition describes the single append or mutation applied for a sensor.
type Transition struct {
	Kind     TransitionKind  `json:"kind"`
	SensorID domain.SensorID `json:"sensor_id"`
	RecordID int64           `json:"record_id"`
	At       time.Time       `json:"at"`
	Attempts int             `json:"attempts"`
}

type Engine struct {
	Logger *zap.Logger
}

func NewEngine(l *zap.Logger) *Engine {
	if l == nil {
		l = zap.NewNop()
	}
	return &Engine{Logger: l}
}

// UpdateStatus folds one poll into a copy of prev and returns it with the
// transitions applied. prev is never modified, so a cycle that fails before
// saving leaves the caller's snapshot as it was.
//
// Unavailable sensors are handled first, then available ones. A sensor
// already up (or first seen up and still up) produces no transition.
func (e *Engine) UpdateStatus(prev *Ledger, p domain.Partition, now time.Time) (*Ledger, []Transition) {
	next := prev.Clone()
	out := make([]Transition, 0, p.Total())

	for _, s := range p.Unavailable {
		i, ok := next.latestIndex(s.ID)
		switch {
		case !ok || !next.records[i].Open():
			rec := next.appendRecord(newDownRecord(s, now))
			out = append(out, Transition{Kind: WentDown, SensorID: s.ID, RecordID: rec.ID, At: now})
		default:
			// Open means DATETIME_UP is absent; DATETIME_DOWN should be set too.
			if next.records[i].DatetimeDown == nil {
				e.Logger.Warn("status_invariant_violation",
					zap.String("sensor_id", string(s.ID)),
					zap.Int64("record_id", next.records[i].ID),
					zap.String("reason", "open record without datetime_down"),
				)
			}
			n := next.incrementAttempts(i)
			out = append(out, Transition{Kind: StillDown, SensorID: s.ID, RecordID: next.records[i].ID, At: now, Attempts: n})
		}
	}

	for _, s := range p.Available {
		i, ok := next.latestIndex(s.ID)
		switch {
		case !ok:
			rec := next.appendRecord(newUpRecord(s, now))
			out = append(out, Transition{Kind: FirstSeenUp, SensorID: s.ID, RecordID: rec.ID, At: now})
		case next.records[i].OpenDown():
			next.closeEpisode(i, now)
			out = append(out, Transition{
				Kind:     Recovered,
				SensorID: s.ID,
				RecordID: next.records[i].ID,
				At:       now,
				Attempts: next.records[i].Attempts,
			})
		}
	}

	return next, out
}

func newDownRecord(s domain.Sensor, now time.Time) domain.StatusRecord {
	t := now
	return domain.StatusRecord{
		DatetimeDown:     &t,
		SensorID:         s.ID,
		PersonInChargeID: s.PersonInChargeID,
	}
}

func newUpRecord(s domain.Sensor, now time.Time) domain.StatusRecord {
	t := now
	return domain.StatusRecord{
		DatetimeUp:       &t,
		SensorID:         s.ID,
		PersonInChargeID: s.PersonInChargeID,
	}
}
