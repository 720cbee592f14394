// Package status holds the sensor up/down state machine: the append-only
// episode ledger, the engine that folds a poll into it, and the selector
// that decides which down sensors are due a notification.
package status

import (
	"sort"
	"time"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// AnomalyKind names a way a loaded ledger can violate the episode invariants.
type AnomalyKind string

const (
	// More than one row without DATETIME_UP for the same sensor.
	MultipleOpenEpisodes AnomalyKind = "multiple_open_episodes"
	// Latest row has neither DATETIME_DOWN nor DATETIME_UP.
	OpenWithoutDown AnomalyKind = "open_without_down"
)

type Anomaly struct {
	Kind     AnomalyKind
	SensorID domain.SensorID
	RowIDs   []int64
}

// Ledger is an in-memory snapshot of the status table. Rows keep append
// order; bySensor maps each sensor to its row indexes, newest last, so
// lookups don't rescan the table.
type Ledger struct {
	records  []domain.StatusRecord
	bySensor map[domain.SensorID][]int
	changed  map[int]struct{}
	nextID   int64
}

// NewLedger indexes records in the given order. Rows with a zero ID get the
// next free key. Invariant violations are returned, never fixed: the latest
// row for a sensor stays authoritative.
func NewLedger(records []domain.StatusRecord) (*Ledger, []Anomaly) {
	l := &Ledger{
		records:  make([]domain.StatusRecord, 0, len(records)),
		bySensor: make(map[domain.SensorID][]int),
		changed:  make(map[int]struct{}),
		nextID:   1,
	}
	for _, r := range records {
		if r.ID >= l.nextID {
			l.nextID = r.ID + 1
		}
	}
	for _, r := range records {
		rec := r.Clone()
		if rec.ID == 0 {
			rec.ID = l.nextID
			l.nextID++
		}
		l.bySensor[rec.SensorID] = append(l.bySensor[rec.SensorID], len(l.records))
		l.records = append(l.records, rec)
	}
	return l, l.Check()
}

// Check scans the ledger for invariant violations.
func (l *Ledger) Check() []Anomaly {
	var out []Anomaly
	for _, id := range l.sensorsInOrder() {
		rows := l.bySensor[id]
		var open []int64
		for _, i := range rows {
			if l.records[i].Open() {
				open = append(open, l.records[i].ID)
			}
		}
		if len(open) > 1 {
			out = append(out, Anomaly{Kind: MultipleOpenEpisodes, SensorID: id, RowIDs: open})
		}
		last := l.records[rows[len(rows)-1]]
		if last.DatetimeDown == nil && last.DatetimeUp == nil {
			out = append(out, Anomaly{Kind: OpenWithoutDown, SensorID: id, RowIDs: []int64{last.ID}})
		}
	}
	return out
}

func (l *Ledger) Len() int { return len(l.records) }

// Records returns copies of every row in append order.
func (l *Ledger) Records() []domain.StatusRecord {
	out := make([]domain.StatusRecord, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

// Latest returns the most recent row for a sensor.
func (l *Ledger) Latest(id domain.SensorID) (domain.StatusRecord, bool) {
	i, ok := l.latestIndex(id)
	if !ok {
		return domain.StatusRecord{}, false
	}
	return l.records[i].Clone(), true
}

// LatestAll returns the latest row of every known sensor, ordered by row key.
func (l *Ledger) LatestAll() []domain.StatusRecord {
	out := make([]domain.StatusRecord, 0, len(l.bySensor))
	for _, rows := range l.bySensor {
		out = append(out, l.records[rows[len(rows)-1]].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns all rows of one sensor, oldest first.
func (l *Ledger) History(id domain.SensorID) []domain.StatusRecord {
	rows := l.bySensor[id]
	out := make([]domain.StatusRecord, 0, len(rows))
	for _, i := range rows {
		out = append(out, l.records[i].Clone())
	}
	return out
}

// Changed returns the rows appended or mutated since the ledger was loaded,
// in append order.
func (l *Ledger) Changed() []domain.StatusRecord {
	idx := make([]int, 0, len(l.changed))
	for i := range l.changed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]domain.StatusRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.records[i].Clone())
	}
	return out
}

// Clone deep-copies the ledger, including its pending changes.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		records:  make([]domain.StatusRecord, len(l.records)),
		bySensor: make(map[domain.SensorID][]int, len(l.bySensor)),
		changed:  make(map[int]struct{}, len(l.changed)),
		nextID:   l.nextID,
	}
	for i, r := range l.records {
		c.records[i] = r.Clone()
	}
	for id, rows := range l.bySensor {
		c.bySensor[id] = append([]int(nil), rows...)
	}
	for i := range l.changed {
		c.changed[i] = struct{}{}
	}
	return c
}

func (l *Ledger) latestIndex(id domain.SensorID) (int, bool) {
	rows := l.bySensor[id]
	if len(rows) == 0 {
		return 0, false
	}
	return rows[len(rows)-1], true
}

func (l *Ledger) sensorsInOrder() []domain.SensorID {
	ids := make([]domain.SensorID, 0, len(l.bySensor))
	for id := range l.bySensor {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return l.bySensor[ids[i]][0] < l.bySensor[ids[j]][0]
	})
	return ids
}

func (l *Ledger) appendRecord(rec domain.StatusRecord) domain.StatusRecord {
	rec.ID = l.nextID
	l.nextID++
	i := len(l.records)
	l.records = append(l.records, rec)
	l.bySensor[rec.SensorID] = append(l.bySensor[rec.SensorID], i)
	l.changed[i] = struct{}{}
	return rec
}

func (l *Ledger) incrementAttempts(i int) int {
	l.records[i].Attempts++
	l.changed[i] = struct{}{}
	return l.records[i].Attempts
}

func (l *Ledger) closeEpisode(i int, at time.Time) {
	t := at
	l.records[i].DatetimeUp = &t
	l.changed[i] = struct{}{}
}
