// Package mail is the email collaborator: outbound SMTP, inbox reads over
// IMAP, and address validation.
package mail

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var addressRE = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidateAddress reports whether addr is a plain, syntactically valid
// mailbox address (no display name).
func ValidateAddress(addr string) bool {
	return addressRE.MatchString(strings.TrimSpace(addr))
}

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Email is a message read from the inbox.
type Email struct {
	ID      uint32    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}

// Sender delivers outbound mail.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Reader reads the inbox.
type Reader interface {
	// FetchRecent returns up to count messages, most recent first.
	FetchRecent(ctx context.Context, count int) ([]Email, error)
	// Search returns recent messages whose subject, sender or body contain
	// query case-insensitively.
	Search(ctx context.Context, query string) ([]Email, error)
}

// Mailer is the full email collaborator.
type Mailer interface {
	Sender
	Reader
}

// Preview truncates body to n runes, appending "..." when cut.
func Preview(body string, n int) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= n {
		return body
	}
	runes := []rune(body)
	return string(runes[:n]) + "..."
}

// Client combines an SMTP sender and an IMAP reader.
type Client struct {
	*SMTP
	*IMAP
}

var _ Mailer = (*Client)(nil)
