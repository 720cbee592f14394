package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

type Slack struct {
	Webhook string
	Client  *http.Client
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Deliver(ctx context.Context, req domain.NotificationRequest) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	text := fmt.Sprintf("*%s*\n%s\n_Responsable: %s <%s>_", req.Subject, req.Body, req.Recipient.FullName(), req.Recipient.Email)
	body, _ := json.Marshal(slackPayload{Text: text})
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(hreq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack non-2xx: %s", resp.Status)
	}
	return nil
}
