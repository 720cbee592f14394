package memory

import (
	"context"
	"sync"

	"github.com/hamed0406/sensorwatch/internal/domain"
	"github.com/hamed0406/sensorwatch/internal/repo"
	"github.com/hamed0406/sensorwatch/internal/status"
)

var _ repo.StatusStore = (*Store)(nil)

// Store keeps the status table in process memory. Save swaps the whole
// table under the lock, so readers never see a half-applied cycle.
type Store struct {
	mu    sync.RWMutex
	rows  []domain.StatusRecord
	saves int
}

func New(seed ...domain.StatusRecord) *Store {
	rows := make([]domain.StatusRecord, 0, len(seed))
	for _, r := range seed {
		rows = append(rows, r.Clone())
	}
	return &Store{rows: rows}
}

func (m *Store) Load(ctx context.Context) ([]domain.StatusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StatusRecord, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.Clone()
	}
	return out, nil
}

func (m *Store) Save(ctx context.Context, l *status.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := l.Records()
	m.mu.Lock()
	m.rows = rows
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves reports how many times Save succeeded.
func (m *Store) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
