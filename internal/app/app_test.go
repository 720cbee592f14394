package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/config"
	"github.com/hamed0406/sensorwatch/internal/events"
	"github.com/hamed0406/sensorwatch/internal/lock"
	"github.com/hamed0406/sensorwatch/internal/oracle"
	"github.com/hamed0406/sensorwatch/internal/repo/csvfile"
)

func TestOpenStore_CSVWithoutDatabase(t *testing.T) {
	cfg := config.Defaults()
	cfg.StoreFile = filepath.Join(t.TempDir(), "s.csv")
	s, closer, err := OpenStore(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	if cs, ok := s.(*csvfile.Store); !ok || cs.Path() != cfg.StoreFile {
		t.Fatalf("want csv store at %s, got %T", cfg.StoreFile, s)
	}
}

func TestOptionalCollaboratorsDefaultToNoop(t *testing.T) {
	cfg := config.Defaults()
	if l, _ := Locker(cfg); l != (lock.Noop{}) {
		t.Fatalf("want noop lock, got %T", l)
	}
	p, _, err := Events(cfg, zap.NewNop())
	if err != nil || p != (events.Noop{}) {
		t.Fatalf("want noop events, got %T %v", p, err)
	}
	if Notifier(cfg, zap.NewNop()) == nil {
		t.Fatal("notifier must never be nil")
	}
}

func TestOracle_WrapsInfluxInRetry(t *testing.T) {
	cfg := config.Defaults()
	cfg.InfluxEndpoint = "http://influx.local:8086/query"
	o, closer, err := Oracle(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	r, ok := o.(*oracle.Retry)
	if !ok {
		t.Fatalf("want retrying oracle, got %T", o)
	}
	in, ok := r.Inner.(*oracle.Influx)
	if !ok || in.Measurement != "fixed_stations_01" || in.Field != "pm25" {
		t.Fatalf("inner oracle %#v", r.Inner)
	}

	cfg.InfluxEndpoint = "influx.local:8086"
	if _, _, err := Oracle(cfg, zap.NewNop()); err == nil {
		t.Fatal("want error for endpoint without scheme")
	}
}

func TestLockKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.DatabaseURL = "postgres://u:p@db.internal:5432/sensors"
	if got := LockKey(cfg); got != "sensorwatch:cycle:db.internal:5432" {
		t.Fatalf("lock key %q", got)
	}
}

func TestCloseAll_ReverseOrderAndCombined(t *testing.T) {
	var order []int
	e1, e2 := errors.New("one"), errors.New("two")
	err := CloseAll(
		func() error { order = append(order, 1); return e1 },
		nil,
		func() error { order = append(order, 2); return e2 },
	)
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("order = %v", order)
	}
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("combined err = %v", err)
	}
}
