package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
	"github.com/hamed0406/sensorwatch/internal/repo"
	"github.com/hamed0406/sensorwatch/internal/status"
)

var _ repo.StatusStore = (*Store)(nil)

// Store keeps the status table in Postgres. The row key is the id column;
// Save upserts only the rows a cycle touched.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	loc *time.Location
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctxPing); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return NewWithDB(db, log), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log, loc: time.UTC}
}

// In sets the zone loaded timestamps are expressed in.
func (s *Store) In(loc *time.Location) *Store {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context) ([]domain.StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, datetime_down, datetime_up, sensor_id, person_in_charge_id, attempts
		   FROM sensor_status
		  ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sensor_status: %w", err)
	}
	defer rows.Close()

	var out []domain.StatusRecord
	for rows.Next() {
		var (
			r        domain.StatusRecord
			down, up sql.NullTime
			sensor   string
		)
		if err := rows.Scan(&r.ID, &down, &up, &sensor, &r.PersonInChargeID, &r.Attempts); err != nil {
			return nil, fmt.Errorf("scan sensor_status: %w", err)
		}
		if sensor == "" {
			return nil, fmt.Errorf("%w: id %d: empty sensor_id", repo.ErrMalformedRow, r.ID)
		}
		r.SensorID = domain.SensorID(sensor)
		r.DatetimeDown = s.timePtr(down)
		r.DatetimeUp = s.timePtr(up)
		out = append(out, r)
	}
	return out, rows.Err()
}

const upsertSQL = `
	INSERT INTO sensor_status (id, datetime_down, datetime_up, sensor_id, person_in_charge_id, attempts)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id)
	DO UPDATE SET datetime_down=EXCLUDED.datetime_down,
	              datetime_up=EXCLUDED.datetime_up,
	              person_in_charge_id=EXCLUDED.person_in_charge_id,
	              attempts=EXCLUDED.attempts
`

// Save writes every changed row in one transaction.
func (s *Store) Save(ctx context.Context, l *status.Ledger) error {
	changed := l.Changed()
	if len(changed) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, r := range changed {
		if _, err := tx.ExecContext(ctx, upsertSQL,
			r.ID, nullTime(r.DatetimeDown), nullTime(r.DatetimeUp),
			string(r.SensorID), r.PersonInChargeID, r.Attempts,
		); err != nil {
			return fmt.Errorf("upsert sensor_status id=%d: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("status_store_saved", zap.Int("rows", len(changed)))
	return nil
}

func (s *Store) timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.In(s.loc)
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
