package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// Dispatcher fans a batch out to a Sender with bounded concurrency.
type Dispatcher struct {
	Sender      Sender
	Logger      *zap.Logger
	Concurrency int
	Timeout     time.Duration
}

func NewDispatcher(s Sender, logger *zap.Logger, concurrency int, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{Sender: s, Logger: logger, Concurrency: concurrency, Timeout: timeout}
}

// Send delivers every request. Results keep the order of reqs.
func (d *Dispatcher) Send(ctx context.Context, reqs []domain.NotificationRequest) []Result {
	out := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return out
	}

	sem := make(chan struct{}, d.Concurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, req domain.NotificationRequest) {
			defer func() { <-sem }()
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, d.Timeout)
			defer cancel()

			err := d.deliver(cctx, req)
			out[i] = Result{Request: req, Err: err}
			if out[i].Partial() {
				d.Logger.Warn("notify_channel_failed",
					zap.String("sensor_id", string(req.SensorID)),
					zap.String("recipient", req.Recipient.Email),
					zap.Error(err),
				)
			} else if err != nil {
				d.Logger.Warn("notify_delivery_failed",
					zap.String("sensor_id", string(req.SensorID)),
					zap.String("recipient", req.Recipient.Email),
					zap.Error(err),
				)
				return
			}
			d.Logger.Info("notify_delivered",
				zap.String("sensor_id", string(req.SensorID)),
				zap.String("recipient", req.Recipient.Email),
				zap.Int("attempts", req.Attempts),
			)
		}(i, req)
	}

	wg.Wait()
	return out
}

// deliver turns a sender panic into that request's error.
func (d *Dispatcher) deliver(ctx context.Context, req domain.NotificationRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return d.Sender.Deliver(ctx, req)
}
