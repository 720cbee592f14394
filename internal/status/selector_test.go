package status

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

type fakeContacts map[string]domain.Contact

func (f fakeContacts) Resolve(id string) (domain.Contact, bool) {
	c, ok := f[id]
	return c, ok
}

type fakeSensors map[domain.SensorID]domain.Sensor

func (f fakeSensors) Sensor(id domain.SensorID) (domain.Sensor, bool) {
	s, ok := f[id]
	return s, ok
}

var contacts = fakeContacts{
	"P1": {ID: "P1", FirstName: "Ana", LastName: "Ríos", Email: "ana@example.org"},
	"P2": {ID: "P2", FirstName: "Luis", Email: "luis@example.org"},
}

func newSelector() *Selector {
	return NewSelector(zap.NewNop(), contacts, fakeSensors{s1.ID: s1, s2.ID: s2})
}

func TestSelectNotifications_RejectsNonPositiveThreshold(t *testing.T) {
	l, _ := NewLedger(nil)
	for _, th := range []int{0, -3} {
		_, err := newSelector().SelectNotifications(l, th)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidThreshold))
	}
}

func TestDue_OnlyOnThresholdMultiples(t *testing.T) {
	const threshold = 4
	rec := domain.StatusRecord{DatetimeDown: &t0}
	var hits []int
	for a := 0; a < 3*threshold; a++ {
		rec.Attempts = a
		if Due(rec, threshold) {
			hits = append(hits, a)
		}
	}
	assert.Equal(t, []int{0, 4, 8}, hits)

	closed := domain.StatusRecord{DatetimeDown: &t0, DatetimeUp: &t0}
	assert.False(t, Due(closed, threshold))
	assert.False(t, Due(domain.StatusRecord{DatetimeUp: &t0}, threshold))
}

func TestScenario_ThresholdThreeSixMissesThenRecovery(t *testing.T) {
	const threshold = 3
	e := NewEngine(zap.NewNop())
	sel := newSelector()
	l := empty(t)

	var notifiedAt []int
	for k := 0; k <= 5; k++ {
		l, _ = e.UpdateStatus(l, down(s1), t0.Add(time.Duration(k)*time.Minute))
		reqs, err := sel.SelectNotifications(l, threshold)
		require.NoError(t, err)
		if len(reqs) > 0 {
			require.Len(t, reqs, 1)
			assert.Equal(t, "ana@example.org", reqs[0].Recipient.Email)
			assert.True(t, reqs[0].DatetimeDown.Equal(t0))
			notifiedAt = append(notifiedAt, k)
		}
	}
	assert.Equal(t, []int{0, 3}, notifiedAt)

	t6 := t0.Add(6 * time.Minute)
	l, _ = e.UpdateStatus(l, up(s1), t6)
	rec, _ := l.Latest(s1.ID)
	require.NotNil(t, rec.DatetimeUp)
	assert.True(t, rec.DatetimeUp.Equal(t6))
	reqs, err := sel.SelectNotifications(l, threshold)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestSelectNotifications_SkipsUnresolvableContact(t *testing.T) {
	orphan := domain.Sensor{ID: "9", Name: "Huérfano", PersonInChargeID: "NOPE"}
	e := NewEngine(zap.NewNop())
	l, _ := e.UpdateStatus(empty(t), down(s1, orphan, s2), t0)

	reqs, err := newSelector().SelectNotifications(l, 3)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	got := []domain.SensorID{reqs[0].SensorID, reqs[1].SensorID}
	assert.ElementsMatch(t, []domain.SensorID{"1", "2"}, got)
}

func TestSelectNotifications_MessageUsesRosterName(t *testing.T) {
	e := NewEngine(zap.NewNop())
	unknown := domain.Sensor{ID: "77", PersonInChargeID: "P2"}
	l, _ := e.UpdateStatus(empty(t), down(s1, unknown), t0)

	reqs, err := newSelector().SelectNotifications(l, 1)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "Sensor Tangara: Parque", reqs[0].Subject)
	assert.True(t, strings.Contains(reqs[0].Body, "Parque"))
	assert.True(t, strings.Contains(reqs[0].Body, t0.Format(time.RFC3339)))
	assert.Equal(t, "77", reqs[1].SensorName, "sensor missing from roster falls back to its ID")
}

func TestNewLedger_FlagsMultipleOpenEpisodesAndKeepsLatest(t *testing.T) {
	t1 := t0.Add(time.Hour)
	l, anomalies := NewLedger([]domain.StatusRecord{
		{DatetimeDown: &t0, SensorID: "1", PersonInChargeID: "P1", Attempts: 5},
		{DatetimeDown: &t1, SensorID: "1", PersonInChargeID: "P1", Attempts: 0},
	})
	require.Len(t, anomalies, 1)
	assert.Equal(t, MultipleOpenEpisodes, anomalies[0].Kind)
	assert.Equal(t, []int64{1, 2}, anomalies[0].RowIDs)

	rec, _ := l.Latest("1")
	assert.Equal(t, int64(2), rec.ID)
	assert.True(t, rec.DatetimeDown.Equal(t1))

	// the engine only ever touches the latest row
	next, _ := NewEngine(zap.NewNop()).UpdateStatus(l, down(s1), t1.Add(time.Minute))
	hist := next.History("1")
	assert.Equal(t, 5, hist[0].Attempts)
	assert.Equal(t, 1, hist[1].Attempts)
}

func TestDefaultMessage_FixedTemplate(t *testing.T) {
	subject, body := DefaultMessage("Parque", t0)
	assert.Equal(t, "Sensor Tangara: Parque", subject)
	want := "Hola, el sensor de Tangara: Parque no está reportando datos desde la fecha: 2024-05-01T10:00:00-05:00.\n" +
		"Por favor apague y vuelva a encender el sensor, verifique que funcione el internet en el lugar.\n" +
		"Si el problema persiste, comuniquese con el equipo de Tangara:\n" +
		"Grupo en WhatsApp: https://chat.whatsapp.com/ITyQlokTiBMGrRAfuXVT0j\n" +
		"Gracias."
	assert.Equal(t, want, body)
}
