// Package roster loads the sensor list and the people-in-charge mailing list.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

var ErrInvalid = errors.New("invalid roster")

// Roster is immutable once built; reloads swap in a new one through Holder.
type Roster struct {
	sensors  []domain.Sensor
	byID     map[domain.SensorID]domain.Sensor
	contacts map[string]domain.Contact
}

func New(sensors []domain.Sensor, contacts []domain.Contact) *Roster {
	r := &Roster{
		sensors:  append([]domain.Sensor(nil), sensors...),
		byID:     make(map[domain.SensorID]domain.Sensor, len(sensors)),
		contacts: make(map[string]domain.Contact, len(contacts)),
	}
	for _, s := range sensors {
		r.byID[s.ID] = s
	}
	for _, c := range contacts {
		r.contacts[c.ID] = c
	}
	return r
}

// Load reads both files. An empty contactsPath yields no contacts.
func Load(sensorsPath, contactsPath string) (*Roster, error) {
	sensors, err := readFile(sensorsPath, ReadSensors)
	if err != nil {
		return nil, err
	}
	var contacts []domain.Contact
	if contactsPath != "" {
		if contacts, err = readFile(contactsPath, ReadContacts); err != nil {
			return nil, err
		}
	}
	return New(sensors, contacts), nil
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer f.Close()
	out, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

func (r *Roster) Sensors() []domain.Sensor {
	return append([]domain.Sensor(nil), r.sensors...)
}

func (r *Roster) Sensor(id domain.SensorID) (domain.Sensor, bool) {
	s, ok := r.byID[id]
	return s, ok
}

func (r *Roster) Resolve(personID string) (domain.Contact, bool) {
	c, ok := r.contacts[personID]
	return c, ok
}

func (r *Roster) Len() int { return len(r.sensors) }

// ReadSensors parses ID,MAC,NAME,PERSON_IN_CHARGE_ID. IDs must be unique.
func ReadSensors(rd io.Reader) ([]domain.Sensor, error) {
	var out []domain.Sensor
	seen := make(map[domain.SensorID]int)
	err := readTable(rd, []string{"ID"}, func(line int, get func(string) string) error {
		s := domain.Sensor{
			ID:               domain.SensorID(get("ID")),
			MAC:              get("MAC"),
			Name:             get("NAME"),
			PersonInChargeID: get("PERSON_IN_CHARGE_ID"),
		}
		if s.ID == "" {
			return fmt.Errorf("%w: line %d: empty ID", ErrInvalid, line)
		}
		if prev, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: line %d: sensor %s already defined on line %d", ErrInvalid, line, s.ID, prev)
		}
		seen[s.ID] = line
		out = append(out, s)
		return nil
	})
	return out, err
}

// ReadContacts parses ID,FIRST_NAME,LAST_NAME,EMAIL.
func ReadContacts(rd io.Reader) ([]domain.Contact, error) {
	var out []domain.Contact
	err := readTable(rd, []string{"ID", "EMAIL"}, func(line int, get func(string) string) error {
		c := domain.Contact{
			ID:        get("ID"),
			FirstName: get("FIRST_NAME"),
			LastName:  get("LAST_NAME"),
			Email:     get("EMAIL"),
		}
		if c.ID == "" {
			return fmt.Errorf("%w: line %d: empty ID", ErrInvalid, line)
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

func readTable(rd io.Reader, required []string, row func(line int, get func(string) string) error) error {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: empty file", ErrInvalid)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	idx := make(map[string]int, len(head))
	for i, h := range head {
		idx[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range required {
		if _, ok := idx[c]; !ok {
			return fmt.Errorf("%w: missing column %s", ErrInvalid, c)
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		if err := row(line, get); err != nil {
			return err
		}
	}
}

// Holder shares the current roster between the poll loop and the watcher.
type Holder struct {
	mu  sync.RWMutex
	cur *Roster
}

func NewHolder(r *Roster) *Holder { return &Holder{cur: r} }

func (h *Holder) Get() *Roster {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

func (h *Holder) Set(r *Roster) {
	h.mu.Lock()
	h.cur = r
	h.mu.Unlock()
}

func (h *Holder) Sensor(id domain.SensorID) (domain.Sensor, bool) { return h.Get().Sensor(id) }

func (h *Holder) Resolve(personID string) (domain.Contact, bool) { return h.Get().Resolve(personID) }
