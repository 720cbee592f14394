// Package events publishes status transitions to NATS so other services can
// follow sensor state without reading the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"

	"github.com/hamed0406/sensorwatch/internal/status"
)

type Event struct {
	CycleID string `json:"cycle_id"`
	status.Transition
}

type Publisher interface {
	Publish(ctx context.Context, cycleID string, ts []status.Transition) error
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, string, []status.Transition) error { return nil }

type NATS struct {
	conn       Conn
	subject    string
	maxRetries int
	backoff    time.Duration
}

func NewNATS(conn Conn, subject string, maxRetries int) *NATS {
	return &NATS{conn: conn, subject: subject, maxRetries: maxRetries, backoff: 100 * time.Millisecond}
}

// Connect dials url and returns a publisher plus the connection to drain on
// shutdown.
func Connect(url, subject string) (*NATS, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("sensorwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewNATS(nc, subject, 3), nc, nil
}

// Subject is where a transition of kind k is published.
func (p *NATS) Subject(k status.TransitionKind) string {
	return p.subject + "." + string(k)
}

// Publish sends one message per transition. Failures of one event don't stop
// the rest.
func (p *NATS) Publish(ctx context.Context, cycleID string, ts []status.Transition) error {
	var errs error
	for _, t := range ts {
		data, err := json.Marshal(Event{CycleID: cycleID, Transition: t})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("marshal error: %w", err))
			continue
		}
		errs = multierr.Append(errs, p.publish(ctx, p.Subject(t.Kind), data))
	}
	return errs
}

func (p *NATS) publish(ctx context.Context, subj string, data []byte) error {
	var err error
	for i := 0; i <= p.maxRetries; i++ {
		if err = p.conn.Publish(subj, data); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * p.backoff):
		}
	}
	return fmt.Errorf("publish %s failed after %d retries: %w", subj, p.maxRetries, err)
}
