package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

var req = domain.NotificationRequest{
	SensorID:   "1",
	SensorName: "Parque",
	Recipient:  domain.Contact{ID: "P1", FirstName: "Ana", LastName: "Ríos", Email: "ana@example.org"},
	Subject:    "Sensor Tangara: Parque",
	Body:       "Hola, el sensor de Tangara: Parque no está reportando datos.",
}

func TestSlack_OK(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got = payload["text"]
		w.WriteHeader(200)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	if s == nil {
		t.Fatal("expected slack client")
	}
	if err := s.Deliver(context.Background(), req); err != nil {
		t.Fatalf("send err: %v", err)
	}
	if !strings.HasPrefix(got, "*Sensor Tangara: Parque*") || !strings.Contains(got, "ana@example.org") {
		t.Fatalf("payload not as expected: %q", got)
	}
}

func TestSlack_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	if err := NewSlack(ts.URL).Deliver(context.Background(), req); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestSlack_EmptyWebhookDisabled(t *testing.T) {
	if NewSlack("") != nil {
		t.Fatal("expected nil client for empty webhook")
	}
}
