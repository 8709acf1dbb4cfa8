package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/basket/asis/internal/otel"
)

const (
	searchWindow = 50
	searchLimit  = 5
)

type IMAPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Mailbox  string
	// Plain disables implicit TLS. Only for local test servers.
	Plain   bool
	Observe otel.Instrumentation
}

// IMAP reads the inbox. Each call opens its own session; the assistant reads
// mail rarely enough that a pooled connection is not worth holding.
type IMAP struct {
	cfg IMAPConfig
}

func NewIMAP(cfg IMAPConfig) *IMAP {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAP{cfg: cfg}
}

func (m *IMAP) dial() (*client.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if m.cfg.Plain {
		return client.Dial(addr)
	}
	return client.DialTLS(addr, &tls.Config{ServerName: m.cfg.Host})
}

func (m *IMAP) FetchRecent(ctx context.Context, count int) ([]Email, error) {
	if count <= 0 {
		count = 5
	}
	var out []Email
	err := m.cfg.Observe.Call(ctx, "imap", "fetch_recent", func(ctx context.Context) error {
		var err error
		out, err = m.fetch(ctx, count)
		return err
	})
	return out, err
}

func (m *IMAP) Search(ctx context.Context, query string) ([]Email, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, fmt.Errorf("imap search: empty query")
	}
	var out []Email
	err := m.cfg.Observe.Call(ctx, "imap", "search", func(ctx context.Context) error {
		recent, err := m.fetch(ctx, searchWindow)
		if err != nil {
			return err
		}
		out = filterEmails(recent, needle, searchLimit)
		return nil
	})
	return out, err
}

func filterEmails(emails []Email, needle string, limit int) []Email {
	var out []Email
	for _, e := range emails {
		if strings.Contains(strings.ToLower(e.Subject), needle) ||
			strings.Contains(strings.ToLower(e.From), needle) ||
			strings.Contains(strings.ToLower(e.Body), needle) {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// fetch returns the last n messages of the mailbox, newest first.
func (m *IMAP) fetch(ctx context.Context, n int) ([]Email, error) {
	if m.cfg.User == "" || m.cfg.Password == "" {
		return nil, ErrNotConfigured
	}
	c, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	defer func() { _ = c.Logout() }()

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if err := c.Login(m.cfg.User, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mbox, err := c.Select(m.cfg.Mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("imap select %s: %w", m.cfg.Mailbox, err)
	}
	if mbox.Messages == 0 {
		return []Email{}, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(n) {
		from = mbox.Messages - uint32(n) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() { done <- c.Fetch(seqset, items, messages) }()

	var out []Email
	for msg := range messages {
		out = append(out, toEmail(msg, section))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func toEmail(msg *imap.Message, section *imap.BodySectionName) Email {
	e := Email{ID: msg.SeqNum}
	if env := msg.Envelope; env != nil {
		e.Subject = env.Subject
		e.Date = env.Date
		if len(env.From) > 0 {
			e.From = formatAddress(env.From[0])
		}
	}
	if lit := msg.GetBody(section); lit != nil {
		e.Body = textBody(lit)
	}
	return e
}

func formatAddress(a *imap.Address) string {
	addr := a.Address()
	if a.PersonalName != "" {
		return a.PersonalName + " <" + addr + ">"
	}
	return addr
}

// textBody returns the first text/plain part, falling back to the first
// text/html part.
func textBody(r io.Reader) string {
	mr, err := gomail.CreateReader(r)
	if err != nil {
		return ""
	}
	var htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		h, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		data, err := io.ReadAll(io.LimitReader(p.Body, 1<<20))
		if err != nil {
			continue
		}
		switch ct {
		case "text/plain", "":
			return strings.TrimSpace(string(data))
		case "text/html":
			if htmlBody == "" {
				htmlBody = strings.TrimSpace(string(data))
			}
		}
	}
	return htmlBody
}
