package status

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

var ErrInvalidThreshold = errors.New("status: threshold must be a positive integer")

// ContactResolver maps a person-in-charge ID to contact details.
type ContactResolver interface {
	Resolve(personID string) (domain.Contact, bool)
}

// SensorLookup maps a sensor ID to its roster entry.
type SensorLookup interface {
	Sensor(id domain.SensorID) (domain.Sensor, bool)
}

// Message renders subject and body for one down sensor.
type Message func(name string, since time.Time) (subject, body string)

// SupportGroupURL is the Tangara WhatsApp support group.
const SupportGroupURL = "https://chat.whatsapp.com/ITyQlokTiBMGrRAfuXVT0j"

// DefaultMessage is the stock Spanish notice sent to people in charge.
func DefaultMessage(name string, since time.Time) (string, string) {
	subject := fmt.Sprintf("Sensor Tangara: %s", name)
	body := fmt.Sprintf("Hola, el sensor de Tangara: %s no está reportando datos desde la fecha: %s.\n"+
		"Por favor apague y vuelva a encender el sensor, verifique que funcione el internet en el lugar.\n"+
		"Si el problema persiste, comuniquese con el equipo de Tangara:\n"+
		"Grupo en WhatsApp: %s\n"+
		"Gracias.", name, since.Format(time.RFC3339), SupportGroupURL)
	return subject, body
}

type Selector struct {
	Logger   *zap.Logger
	Contacts ContactResolver
	Sensors  SensorLookup
	Message  Message
}

func NewSelector(l *zap.Logger, contacts ContactResolver, sensors SensorLookup) *Selector {
	if l == nil {
		l = zap.NewNop()
	}
	return &Selector{Logger: l, Contacts: contacts, Sensors: sensors, Message: DefaultMessage}
}

// Due reports whether rec should trigger a notification: an open-down episode
// whose attempt count sits on a threshold multiple. That fires on detection
// (attempts 0) and every threshold polls after.
func Due(rec domain.StatusRecord, threshold int) bool {
	return rec.OpenDown() && rec.Attempts%threshold == 0
}

// SelectNotifications scans the latest row of each sensor and builds one
// request per due sensor. Sensors whose contact can't be resolved are skipped
// with a warning.
func (s *Selector) SelectNotifications(l *Ledger, threshold int) ([]domain.NotificationRequest, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	msg := s.Message
	if msg == nil {
		msg = DefaultMessage
	}

	var out []domain.NotificationRequest
	for _, rec := range l.LatestAll() {
		if !Due(rec, threshold) {
			continue
		}
		contact, ok := s.Contacts.Resolve(rec.PersonInChargeID)
		if !ok || contact.Email == "" {
			s.Logger.Warn("notify_contact_unresolved",
				zap.String("sensor_id", string(rec.SensorID)),
				zap.String("person_in_charge_id", rec.PersonInChargeID),
			)
			continue
		}
		name := string(rec.SensorID)
		if s.Sensors != nil {
			if sn, ok := s.Sensors.Sensor(rec.SensorID); ok && sn.Name != "" {
				name = sn.Name
			}
		}
		subject, body := msg(name, *rec.DatetimeDown)
		out = append(out, domain.NotificationRequest{
			SensorID:     rec.SensorID,
			SensorName:   name,
			Recipient:    contact,
			Subject:      subject,
			Body:         body,
			DatetimeDown: *rec.DatetimeDown,
			Attempts:     rec.Attempts,
		})
	}
	return out, nil
}
