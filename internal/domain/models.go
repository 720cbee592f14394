package domain

import "time"

type SensorID string

// Sensor is roster reference data. MAC is the name the time-series source
// reports under; it falls back to ID when empty.
type Sensor struct {
	ID               SensorID `json:"id"`
	MAC              string   `json:"mac"`
	Name             string   `json:"name"`
	PersonInChargeID string   `json:"person_in_charge_id"`
}

func (s Sensor) SourceKey() string {
	if s.MAC != "" {
		return s.MAC
	}
	return string(s.ID)
}

type Contact struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Partition is one poll's split of the roster.
type Partition struct {
	Available   []Sensor
	Unavailable []Sensor
}

func (p Partition) Total() int { return len(p.Available) + len(p.Unavailable) }

// StatusRecord is one down/up episode of a sensor. ID is the stable row key,
// assigned on append and never reused.
type StatusRecord struct {
	ID               int64      `json:"id"`
	DatetimeDown     *time.Time `json:"datetime_down"` // nil while the episode is an up episode
	DatetimeUp       *time.Time `json:"datetime_up"`   // nil while the episode is open
	SensorID         SensorID   `json:"sensor_id"`
	PersonInChargeID string     `json:"person_in_charge_id"`
	Attempts         int        `json:"attempts"`
}

// Open reports whether the episode has no end timestamp yet.
func (r StatusRecord) Open() bool { return r.DatetimeUp == nil }

// OpenDown reports a proper open-down episode: down set, up absent.
func (r StatusRecord) OpenDown() bool { return r.DatetimeDown != nil && r.DatetimeUp == nil }

// Clone returns a deep copy; timestamps are copied so callers can't alias rows.
func (r StatusRecord) Clone() StatusRecord {
	out := r
	if r.DatetimeDown != nil {
		v := *r.DatetimeDown
		out.DatetimeDown = &v
	}
	if r.DatetimeUp != nil {
		v := *r.DatetimeUp
		out.DatetimeUp = &v
	}
	return out
}

type NotificationRequest struct {
	SensorID     SensorID  `json:"sensor_id"`
	SensorName   string    `json:"sensor_name"`
	Recipient    Contact   `json:"recipient"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	DatetimeDown time.Time `json:"datetime_down"`
	Attempts     int       `json:"attempts"`
}
