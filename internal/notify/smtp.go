package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// SMTP mails each request to its recipient, blind-copying Bcc.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Bcc      []string
	// Timeout bounds a whole session when ctx carries no earlier deadline.
	Timeout time.Duration

	send func(ctx context.Context, c *mail.Client, m *mail.Msg) error
	now  func() time.Time
}

func NewSMTP(host string, port int, user, password, from string, bcc []string) *SMTP {
	if host == "" || from == "" {
		return nil
	}
	if port == 0 {
		port = 587
	}
	return &SMTP{
		Host:     host,
		Port:     port,
		Username: user,
		Password: password,
		From:     from,
		Bcc:      cleanAddrs(bcc),
		Timeout:  30 * time.Second,
		send: func(ctx context.Context, c *mail.Client, m *mail.Msg) error {
			return c.DialAndSendWithContext(ctx, m)
		},
		now: time.Now,
	}
}

func (s *SMTP) Deliver(ctx context.Context, req domain.NotificationRequest) error {
	if s == nil {
		return errors.New("smtp disabled")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Recipient.Email == "" {
		return errors.New("smtp: empty recipient")
	}

	m, err := s.Msg(req)
	if err != nil {
		return fmt.Errorf("smtp message for %s: %w", req.Recipient.Email, err)
	}
	c, err := s.client(ctx)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := s.send(ctx, c, m); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send to %s: %w", req.Recipient.Email, ctxErr)
		}
		return fmt.Errorf("smtp send to %s: %w", req.Recipient.Email, err)
	}
	return nil
}

// Msg builds the message. Bcc addresses travel in the envelope only.
func (s *SMTP) Msg(req domain.NotificationRequest) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.From); err != nil {
		return nil, err
	}
	if err := m.To(req.Recipient.Email); err != nil {
		return nil, err
	}
	if len(s.Bcc) > 0 {
		if err := m.Bcc(s.Bcc...); err != nil {
			return nil, err
		}
	}
	m.Subject(req.Subject)
	m.SetDateWithValue(s.now())
	m.SetBodyString(mail.TypeTextPlain, req.Body)
	return m, nil
}

// client is built per delivery so the connection deadline follows ctx. The
// deadline and the close on cancel keep a stalled server from holding the
// socket past the delivery.
func (s *SMTP) client(ctx context.Context) (*mail.Client, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dial := func(dctx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(dctx, network, addr)
		if err != nil {
			return nil, err
		}
		deadline := time.Now().Add(timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		_ = conn.SetDeadline(deadline)
		context.AfterFunc(ctx, func() { _ = conn.Close() })
		return conn, nil
	}

	opts := []mail.Option{
		mail.WithPort(s.Port),
		mail.WithTimeout(timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(dial),
	}
	if s.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.Username),
			mail.WithPassword(s.Password),
		)
	}
	return mail.NewClient(s.Host, opts...)
}

func cleanAddrs(in []string) []string {
	var out []string
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
