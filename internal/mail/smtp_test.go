package mail

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTP_ComposeHTML(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 587, User: "bot@example.com", Password: "pw"})
	s.now = func() time.Time { return time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC) }

	raw, err := s.compose(Message{To: "ana@example.com", Subject: "✅ Întâlnire programată: Sync", Body: "<p>Salut</p>", HTML: true})
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, "From: <bot@example.com>")
	assert.Contains(t, text, "To: <ana@example.com>")
	assert.Contains(t, text, "Subject: =?utf-8?")
	assert.Contains(t, text, "Content-Type: text/html; charset=utf-8")
	assert.Contains(t, text, "Message-Id: <")
	assert.Contains(t, text, "<p>Salut</p>")
}

func TestSMTP_SendUsesConfiguredServer(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 587, User: "bot@example.com", Password: "pw"})
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, s.Send(context.Background(), Message{To: "ana@example.com", Subject: "Salut", Body: "text simplu"}))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"ana@example.com"}, gotTo)
	assert.True(t, strings.Contains(string(gotMsg), "text/plain"))
}

func TestSMTP_SendErrors(t *testing.T) {
	unconfigured := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 587})
	assert.ErrorIs(t, unconfigured.Send(context.Background(), Message{To: "ana@example.com"}), ErrNotConfigured)

	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 587, User: "bot@example.com", Password: "pw"})
	refused := errors.New("535 5.7.8 Username and Password not accepted")
	s.send = func(string, smtp.Auth, string, []string, []byte) error { return refused }
	err := s.Send(context.Background(), Message{To: "ana@example.com", Subject: "x", Body: "y"})
	assert.ErrorIs(t, err, refused)

	block := make(chan struct{})
	defer close(block)
	s.send = func(string, smtp.Auth, string, []string, []byte) error { <-block; return nil }
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Send(ctx, Message{To: "ana@example.com", Subject: "x", Body: "y"}), context.DeadlineExceeded)
}

func TestSMTP_RejectsBadRecipient(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "smtp.example.com", Port: 587, User: "bot@example.com", Password: "pw"})
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	assert.Error(t, s.Send(context.Background(), Message{To: "not an address"}))
}
