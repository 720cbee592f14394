package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
	"github.com/hamed0406/sensorwatch/internal/lock"
	"github.com/hamed0406/sensorwatch/internal/notify"
	"github.com/hamed0406/sensorwatch/internal/oracle"
	"github.com/hamed0406/sensorwatch/internal/repo"
	"github.com/hamed0406/sensorwatch/internal/repo/csvfile"
	"github.com/hamed0406/sensorwatch/internal/repo/memory"
	"github.com/hamed0406/sensorwatch/internal/roster"
	"github.com/hamed0406/sensorwatch/internal/status"
)

// --- fakes ---

type fakeOracle struct {
	mu    sync.Mutex
	down  map[domain.SensorID]bool
	err   error
	calls int
}

func (f *fakeOracle) Query(ctx context.Context, sensors []domain.Sensor, window time.Duration) (domain.Partition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Partition{}, f.err
	}
	var p domain.Partition
	for _, s := range sensors {
		if f.down[s.ID] {
			p.Unavailable = append(p.Unavailable, s)
		} else {
			p.Available = append(p.Available, s)
		}
	}
	return p, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []domain.NotificationRequest
	fail error
}

func (f *fakeNotifier) Send(ctx context.Context, reqs []domain.NotificationRequest) []notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.Result, len(reqs))
	for i, r := range reqs {
		f.sent = append(f.sent, r)
		out[i] = notify.Result{Request: r, Err: f.fail}
	}
	return out
}

type fakeEvents struct{ got []status.Transition }

func (f *fakeEvents) Publish(ctx context.Context, cycleID string, ts []status.Transition) error {
	f.got = append(f.got, ts...)
	return nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context) (lock.Release, error) { return nil, lock.ErrHeld }

var (
	s1 = domain.Sensor{ID: "1", MAC: "AA01", Name: "Parque", PersonInChargeID: "P1"}
	s2 = domain.Sensor{ID: "2", MAC: "AA02", Name: "Colegio", PersonInChargeID: "NOPE"}
	t0 = time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
)

func newPoller(o oracle.Oracle, store repo.StatusStore, n notify.Notifier) *Poller {
	rs := roster.NewHolder(roster.New(
		[]domain.Sensor{s1, s2},
		[]domain.Contact{{ID: "P1", FirstName: "Ana", Email: "ana@example.org"}},
	))
	p := NewPoller(zap.NewNop(), rs, o, store, n, 3, 5*time.Minute, time.FixedZone("", -5*3600))
	now := t0
	p.Now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	return p
}

// --- tests ---

func TestRunOnce_OracleFailureLeavesStoreByteIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors_status.csv")
	before := []byte("DATETIME_DOWN,DATETIME_UP,SENSOR_ID,PERSON_IN_CHARGE_ID,ATTEMPTS\n" +
		"2024-05-01T10:00:00-05:00,,1,P1,2\n")
	if err := os.WriteFile(path, before, 0o644); err != nil {
		t.Fatal(err)
	}

	n := &fakeNotifier{}
	p := newPoller(&fakeOracle{err: oracle.ErrUnavailable}, csvfile.New(path), n)
	sum, err := p.RunOnce(context.Background(), ModeNotify)
	if !errors.Is(err, oracle.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if sum.Error == "" {
		t.Fatal("summary should carry the error")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Fatalf("store changed:\n%s", after)
	}
	if len(n.sent) != 0 {
		t.Fatalf("no notifications expected, got %d", len(n.sent))
	}
}

func TestRunOnce_NotifiesOnThresholdMultiplesAndSkipsUnresolvable(t *testing.T) {
	store := memory.New()
	n := &fakeNotifier{}
	ev := &fakeEvents{}
	p := newPoller(&fakeOracle{down: map[domain.SensorID]bool{"1": true, "2": true}}, store, n)
	p.Events = ev

	for k := 0; k <= 3; k++ {
		if _, err := p.RunOnce(context.Background(), ModeNotify); err != nil {
			t.Fatalf("cycle %d: %v", k, err)
		}
	}

	// attempts 0 and 3 for sensor 1; sensor 2 has no contact
	if len(n.sent) != 2 {
		t.Fatalf("want 2 notifications, got %d", len(n.sent))
	}
	for _, r := range n.sent {
		if r.SensorID != "1" || r.Recipient.Email != "ana@example.org" || r.Subject != "Sensor Tangara: Parque" {
			t.Fatalf("unexpected request %+v", r)
		}
	}
	if n.sent[1].Attempts != 3 {
		t.Fatalf("second notice at attempts %d", n.sent[1].Attempts)
	}

	rows, _ := store.Load(context.Background())
	if len(rows) != 2 {
		t.Fatalf("want one open episode per sensor, got %d rows", len(rows))
	}
	if len(ev.got) != 8 {
		t.Fatalf("want 8 transitions published, got %d", len(ev.got))
	}
	if _, off := rows[0].DatetimeDown.Zone(); off != -5*3600 {
		t.Fatalf("timestamps should use the configured offset, got %d", off)
	}
}

func TestRunOnce_DeliveryFailureDoesNotFailCycle(t *testing.T) {
	n := &fakeNotifier{fail: errors.New("smtp down")}
	p := newPoller(&fakeOracle{down: map[domain.SensorID]bool{"1": true}}, memory.New(), n)
	sum, err := p.RunOnce(context.Background(), ModeNotify)
	if err != nil {
		t.Fatalf("cycle should succeed, got %v", err)
	}
	if sum.Failed != 1 || sum.Notifications != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRunOnce_StatusModeSavesWithoutNotifying(t *testing.T) {
	store := memory.New()
	n := &fakeNotifier{}
	p := newPoller(&fakeOracle{down: map[domain.SensorID]bool{"1": true}}, store, n)
	sum, err := p.RunOnce(context.Background(), ModeStatus)
	if err != nil {
		t.Fatal(err)
	}
	if store.Saves() != 1 || len(n.sent) != 0 {
		t.Fatalf("saves=%d sent=%d", store.Saves(), len(n.sent))
	}
	if sum.Available != 1 || sum.Unavailable != 1 || len(sum.Transitions) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRunOnce_RequestModeOnlyQueries(t *testing.T) {
	store := memory.New()
	p := newPoller(&fakeOracle{}, store, &fakeNotifier{})
	sum, err := p.RunOnce(context.Background(), ModeRequest)
	if err != nil {
		t.Fatal(err)
	}
	if store.Saves() != 0 || sum.Total != 2 {
		t.Fatalf("saves=%d summary=%+v", store.Saves(), sum)
	}
}

func TestRunOnce_LockHeldSkipsCycle(t *testing.T) {
	o := &fakeOracle{}
	p := newPoller(o, memory.New(), &fakeNotifier{})
	p.Lock = heldLock{}
	if _, err := p.RunOnce(context.Background(), ModeNotify); !errors.Is(err, lock.ErrHeld) {
		t.Fatalf("want ErrHeld, got %v", err)
	}
	if o.calls != 0 {
		t.Fatal("oracle must not be queried without the lock")
	}
}

func TestRunOnce_InvalidThresholdAbortsBeforeStore(t *testing.T) {
	store := memory.New()
	p := newPoller(&fakeOracle{down: map[domain.SensorID]bool{"1": true}}, store, &fakeNotifier{})
	p.Threshold = 0
	if _, err := p.RunOnce(context.Background(), ModeNotify); !errors.Is(err, status.ErrInvalidThreshold) {
		t.Fatalf("want ErrInvalidThreshold, got %v", err)
	}
	if store.Saves() != 0 {
		t.Fatal("store must not be touched")
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	o := &fakeOracle{}
	p := newPoller(o, memory.New(), &fakeNotifier{})
	p.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, ModeStatus)
		close(done)
	}()
	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	o.mu.Lock()
	calls := o.calls
	o.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected several cycles, got %d", calls)
	}
	if _, ok := p.Last(); !ok {
		t.Fatal("expected a last summary")
	}
}
