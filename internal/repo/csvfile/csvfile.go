// Package csvfile persists the status table as a flat CSV file:
//
//	DATETIME_DOWN,DATETIME_UP,SENSOR_ID,PERSON_IN_CHARGE_ID,ATTEMPTS
//
// Absent timestamps are empty cells. The row key of a record is its 1-based
// position in the file, which is stable because rows are only ever appended.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/sensorwatch/internal/domain"
	"github.com/hamed0406/sensorwatch/internal/repo"
	"github.com/hamed0406/sensorwatch/internal/status"
)

var _ repo.StatusStore = (*Store)(nil)

const (
	colDown     = "DATETIME_DOWN"
	colUp       = "DATETIME_UP"
	colSensor   = "SENSOR_ID"
	colPerson   = "PERSON_IN_CHARGE_ID"
	colAttempts = "ATTEMPTS"
)

var header = []string{colDown, colUp, colSensor, colPerson, colAttempts}

type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load reads every row in file order. A missing file is an empty table.
func (s *Store) Load(ctx context.Context) ([]domain.StatusRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a status table. Columns are matched by header name.
func Decode(r io.Reader) ([]domain.StatusRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(head))
	for i, h := range head {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, h := range header {
		if _, ok := idx[h]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", repo.ErrMalformedRow, h)
		}
	}

	var out []domain.StatusRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		cell := func(name string) string {
			i := idx[name]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		rec := domain.StatusRecord{
			ID:               int64(len(out) + 1),
			SensorID:         domain.SensorID(cell(colSensor)),
			PersonInChargeID: cell(colPerson),
		}
		if rec.SensorID == "" {
			return nil, fmt.Errorf("%w: line %d: empty %s", repo.ErrMalformedRow, line, colSensor)
		}
		if rec.DatetimeDown, err = parseTime(cell(colDown)); err != nil {
			return nil, fmt.Errorf("%w: line %d: %s: %v", repo.ErrMalformedRow, line, colDown, err)
		}
		if rec.DatetimeUp, err = parseTime(cell(colUp)); err != nil {
			return nil, fmt.Errorf("%w: line %d: %s: %v", repo.ErrMalformedRow, line, colUp, err)
		}
		if rec.Attempts, err = parseAttempts(cell(colAttempts)); err != nil {
			return nil, fmt.Errorf("%w: line %d: %s: %v", repo.ErrMalformedRow, line, colAttempts, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Save rewrites the whole file through a temp file and rename, so the
// previous table survives any failure before the rename.
func (s *Store) Save(ctx context.Context, l *status.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if err := Encode(tmp, l.Records()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func Encode(w io.Writer, rows []domain.StatusRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			formatTime(r.DatetimeDown),
			formatTime(r.DatetimeUp),
			string(r.SensorID),
			r.PersonInChargeID,
			strconv.Itoa(r.Attempts),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" || strings.EqualFold(v, "nan") {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseAttempts accepts "3" and the float form "3.0" some tools write.
func parseAttempts(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid attempts %q", v)
	}
	return int(f), nil
}
