package mail

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startIMAP serves the go-imap memory backend (user "username", password
// "password", one seeded INBOX message) on a loopback port.
func startIMAP(t *testing.T) (host string, port int) {
	t.Helper()
	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	h, p, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err = strconv.Atoi(p)
	require.NoError(t, err)
	return h, port
}

func appendMessage(t *testing.T, addr, from, subject, body string) {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Logout()
	require.NoError(t, c.Login("username", "password"))

	raw := "From: " + from + "\r\n" +
		"To: contact@example.org\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + time.Now().Format(time.RFC1123Z) + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body
	require.NoError(t, c.Append("INBOX", nil, time.Now(), bytes.NewBufferString(raw)))
}

func TestIMAP_FetchRecentNewestFirst(t *testing.T) {
	host, port := startIMAP(t)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	appendMessage(t, addr, "Ana <ana@example.com>", "Factura octombrie", "Găsești factura atașată.")
	appendMessage(t, addr, "bob@example.com", "Ședință mâine", "Ne vedem la 10.")

	r := NewIMAP(IMAPConfig{Host: host, Port: port, User: "username", Password: "password", Plain: true})
	emails, err := r.FetchRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "Ședință mâine", emails[0].Subject)
	assert.Equal(t, "bob@example.com", emails[0].From)
	assert.Equal(t, "Ne vedem la 10.", emails[0].Body)
	assert.Equal(t, "Ana <ana@example.com>", emails[1].From)
	assert.Greater(t, emails[0].ID, emails[1].ID)

	all, err := r.FetchRecent(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestIMAP_Search(t *testing.T) {
	host, port := startIMAP(t)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	appendMessage(t, addr, "ana@example.com", "Factura octombrie", "plată")
	appendMessage(t, addr, "facturi@furnizor.ro", "Notificare", "Sold curent")

	r := NewIMAP(IMAPConfig{Host: host, Port: port, User: "username", Password: "password", Plain: true})
	found, err := r.Search(context.Background(), "FACTUR")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = r.Search(context.Background(), "nimic de găsit")
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = r.Search(context.Background(), "  ")
	assert.Error(t, err)
}

func TestIMAP_LoginFailure(t *testing.T) {
	host, port := startIMAP(t)
	r := NewIMAP(IMAPConfig{Host: host, Port: port, User: "username", Password: "wrong", Plain: true})
	_, err := r.FetchRecent(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap login")
}

func TestIMAP_NotConfigured(t *testing.T) {
	r := NewIMAP(IMAPConfig{Host: "imap.example.com", Port: 993})
	_, err := r.FetchRecent(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFilterEmails_Limit(t *testing.T) {
	var emails []Email
	for i := 0; i < 8; i++ {
		emails = append(emails, Email{ID: uint32(i), Subject: "raport"})
	}
	assert.Len(t, filterEmails(emails, "raport", searchLimit), searchLimit)
}
