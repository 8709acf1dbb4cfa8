package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/basket/asis/internal/otel"
)

// ErrNotConfigured is returned when SMTP or IMAP credentials are missing.
var ErrNotConfigured = errors.New("mail: credentials not configured")

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	// From defaults to User.
	From    string
	Observe otel.Instrumentation
}

// SMTP sends mail through a submission server. smtp.SendMail upgrades to
// STARTTLS whenever the server offers it.
type SMTP struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTP{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if s.cfg.User == "" || s.cfg.Password == "" {
		return ErrNotConfigured
	}
	raw, err := s.compose(msg)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)

	return s.cfg.Observe.Call(ctx, "smtp", "send", func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() { done <- s.send(addr, auth, s.cfg.From, []string{msg.To}, raw) }()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("smtp send to %s: %w", msg.To, err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// compose renders msg as a single-part RFC 5322 message with encoded headers.
func (s *SMTP) compose(msg Message) ([]byte, error) {
	from, err := gomail.ParseAddress(s.cfg.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address: %w", err)
	}
	to, err := gomail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("parse to address: %w", err)
	}

	var h gomail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*gomail.Address{from})
	h.SetAddressList("To", []*gomail.Address{to})
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}
