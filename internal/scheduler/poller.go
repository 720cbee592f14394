package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/events"
	"github.com/hamed0406/sensorwatch/internal/lock"
	"github.com/hamed0406/sensorwatch/internal/metrics"
	"github.com/hamed0406/sensorwatch/internal/notify"
	"github.com/hamed0406/sensorwatch/internal/oracle"
	"github.com/hamed0406/sensorwatch/internal/repo"
	"github.com/hamed0406/sensorwatch/internal/roster"
	"github.com/hamed0406/sensorwatch/internal/status"
)

// Mode selects how far a cycle goes.
type Mode int

const (
	// ModeRequest only queries the oracle.
	ModeRequest Mode = iota
	// ModeStatus also updates and saves the status store.
	ModeStatus
	// ModeNotify also notifies people in charge of due sensors.
	ModeNotify
)

func (m Mode) String() string {
	switch m {
	case ModeRequest:
		return "request"
	case ModeStatus:
		return "status"
	case ModeNotify:
		return "notify"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Summary describes one finished cycle.
type Summary struct {
	CycleID       string              `json:"cycle_id"`
	Mode          string              `json:"mode"`
	StartedAt     time.Time           `json:"started_at"`
	Duration      time.Duration       `json:"duration_ns"`
	Total         int                 `json:"total"`
	Available     int                 `json:"available"`
	Unavailable   int                 `json:"unavailable"`
	Transitions   []status.Transition `json:"transitions,omitempty"`
	Notifications int                 `json:"notifications"`
	Failed        int                 `json:"failed_notifications"`
	Error         string              `json:"error,omitempty"`
}

type Poller struct {
	Logger    *zap.Logger
	Roster    *roster.Holder
	Oracle    oracle.Oracle
	Store     repo.StatusStore
	Engine    *status.Engine
	Selector  *status.Selector
	Notifier  notify.Notifier
	Events    events.Publisher
	Lock      lock.Locker
	Metrics   *metrics.Metrics
	Threshold int
	Window    time.Duration
	Location  *time.Location
	Interval  time.Duration
	Now       func() time.Time

	mu   sync.RWMutex
	last *Summary
}

func NewPoller(
	logger *zap.Logger,
	rs *roster.Holder,
	o oracle.Oracle,
	store repo.StatusStore,
	n notify.Notifier,
	threshold int,
	window time.Duration,
	loc *time.Location,
) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Poller{
		Logger:    logger,
		Roster:    rs,
		Oracle:    o,
		Store:     store,
		Engine:    status.NewEngine(logger),
		Selector:  status.NewSelector(logger, rs, rs),
		Notifier:  n,
		Events:    events.Noop{},
		Lock:      lock.Noop{},
		Threshold: threshold,
		Window:    window,
		Location:  loc,
		Now:       time.Now,
	}
}

// Run does an immediate cycle, then one per tick. Cycles never overlap.
// Stops when ctx is cancelled.
func (p *Poller) Run(ctx context.Context, mode Mode) {
	if p.Interval <= 0 {
		p.Logger.Info("poller_disabled")
		return
	}
	t := time.NewTicker(p.Interval)
	defer t.Stop()

	// immediate pass
	_, _ = p.RunOnce(ctx, mode)

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("poller_stopped")
			return
		case <-t.C:
			_, _ = p.RunOnce(ctx, mode)
		}
	}
}

// RunOnce executes a single cycle. Any error before the save leaves the
// store exactly as it was.
func (p *Poller) RunOnce(ctx context.Context, mode Mode) (Summary, error) {
	start := p.Now()
	sum := Summary{CycleID: uuid.NewString(), Mode: mode.String(), StartedAt: start.In(p.Location)}
	log := p.Logger.With(zap.String("cycle_id", sum.CycleID), zap.String("mode", sum.Mode))

	result, err := p.cycle(ctx, mode, log, &sum)
	sum.Duration = time.Since(start)
	if err != nil {
		sum.Error = err.Error()
		log.Warn("poll_cycle_failed", zap.String("result", result), zap.Error(err))
	} else {
		log.Info("poll_cycle_done",
			zap.Int("total", sum.Total),
			zap.Int("available", sum.Available),
			zap.Int("unavailable", sum.Unavailable),
			zap.Int("transitions", len(sum.Transitions)),
			zap.Int("notifications", sum.Notifications),
			zap.Int("failed_notifications", sum.Failed),
			zap.Duration("took", sum.Duration),
		)
	}
	p.Metrics.Cycle(result, sum.Duration)

	p.mu.Lock()
	p.last = &sum
	p.mu.Unlock()
	return sum, err
}

func (p *Poller) cycle(ctx context.Context, mode Mode, log *zap.Logger, sum *Summary) (string, error) {
	if mode == ModeNotify && p.Threshold <= 0 {
		return metrics.ResultConfigError, fmt.Errorf("%w: got %d", status.ErrInvalidThreshold, p.Threshold)
	}
	if mode != ModeRequest {
		release, err := p.Lock.Acquire(ctx)
		if err != nil {
			return metrics.ResultLocked, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("cycle_lock_release_failed", zap.Error(err))
			}
		}()
	}

	r := p.Roster.Get()
	if r == nil {
		return metrics.ResultRosterError, errors.New("roster not loaded")
	}
	sensors := r.Sensors()

	part, err := p.Oracle.Query(ctx, sensors, p.Window)
	if err != nil {
		log.Warn("oracle_query_failed", zap.Error(err))
		return metrics.ResultOracleError, err
	}
	sum.Total, sum.Available, sum.Unavailable = part.Total(), len(part.Available), len(part.Unavailable)
	p.Metrics.Partition(sum.Available, sum.Unavailable)
	log.Info("poll_partition",
		zap.Int("total", sum.Total),
		zap.Int("available", sum.Available),
		zap.Int("unavailable", sum.Unavailable),
	)
	if mode == ModeRequest {
		return metrics.ResultOK, nil
	}

	prev, err := repo.Open(ctx, p.Store, log)
	if err != nil {
		return metrics.ResultStoreError, err
	}
	next, ts := p.Engine.UpdateStatus(prev, part, p.Now().In(p.Location))
	if err := p.Store.Save(ctx, next); err != nil {
		return metrics.ResultStoreError, fmt.Errorf("save status store: %w", err)
	}
	sum.Transitions = ts
	p.Metrics.Transitions(ts)
	for _, t := range ts {
		if t.Kind == status.StillDown {
			continue
		}
		log.Info("sensor_"+string(t.Kind),
			zap.String("sensor_id", string(t.SensorID)),
			zap.Int64("record_id", t.RecordID),
			zap.Int("attempts", t.Attempts),
		)
	}
	if err := p.Events.Publish(ctx, sum.CycleID, ts); err != nil {
		log.Warn("events_publish_failed", zap.Error(err))
	}

	if mode != ModeNotify {
		return metrics.ResultOK, nil
	}
	reqs, err := p.Selector.SelectNotifications(next, p.Threshold)
	if err != nil {
		return metrics.ResultConfigError, err
	}
	if len(reqs) == 0 {
		return metrics.ResultOK, nil
	}
	results := p.Notifier.Send(ctx, reqs)
	sum.Failed = notify.Failed(results)
	sum.Notifications = len(results) - sum.Failed
	p.Metrics.Notifications(sum.Notifications, sum.Failed)
	if err := notify.Errors(results); err != nil {
		log.Warn("notify_batch_partial_failure", zap.Int("failed", sum.Failed), zap.Error(err))
	}
	return metrics.ResultOK, nil
}

// Last returns the summary of the most recent cycle.
func (p *Poller) Last() (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Summary{}, false
	}
	return *p.last, true
}
