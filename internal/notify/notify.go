// Package notify delivers down-sensor notices to people in charge.
package notify

import (
	"context"
	"errors"

	"go.uber.org/multierr"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// Sender delivers a single request over one channel.
type Sender interface {
	Deliver(ctx context.Context, req domain.NotificationRequest) error
}

// Notifier delivers a batch. It never fails as a whole; each request gets
// its own Result.
type Notifier interface {
	Send(ctx context.Context, reqs []domain.NotificationRequest) []Result
}

type Result struct {
	Request domain.NotificationRequest
	Err     error
}

// OK reports whether the request reached its recipient on at least one
// channel.
func (r Result) OK() bool { return r.Err == nil || r.Partial() }

// Partial reports a request delivered with some channels failing.
func (r Result) Partial() bool {
	var pe *PartialError
	return errors.As(r.Err, &pe)
}

// PartialError carries the channel failures of a request that another
// channel still delivered.
type PartialError struct {
	Err error
}

func (e *PartialError) Error() string { return "some channels failed: " + e.Err.Error() }

func (e *PartialError) Unwrap() error { return e.Err }

// Multi delivers over every channel. A request counts as sent once any
// channel accepts it; failures next to a success come back as *PartialError.
type Multi []Sender

func (m Multi) Deliver(ctx context.Context, req domain.NotificationRequest) error {
	var err error
	delivered := 0
	for _, s := range m {
		if s == nil {
			continue
		}
		if e := s.Deliver(ctx, req); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		delivered++
	}
	if err != nil && delivered > 0 {
		return &PartialError{Err: err}
	}
	return err
}

// Errors folds the failed results into one error, nil if all succeeded.
func Errors(results []Result) error {
	var err error
	for _, r := range results {
		err = multierr.Append(err, r.Err)
	}
	return err
}

// Failed counts requests no channel delivered.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}
