package actions

import (
	"context"
	"fmt"

	"github.com/basket/asis/internal/mail"
	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/shared"
)

const previewRunes = 200

func (d *Dispatcher) sendEmail(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	a := p.Args()
	to := a.Text("to")
	if to == "" {
		return Result{}, shared.Validation("Adresa de email nu a fost specificată.")
	}
	if !mail.ValidateAddress(to) {
		return Result{}, shared.Validation("Adresa de email nu este validă.")
	}
	subject := a.Text("subject")
	if subject == "" {
		subject = "Mesaj de la Asistentul AI"
	}
	body := a.Text("body")

	id, err := tx.BeginAction(ctx, "email", to, fmt.Sprintf("Subject: %s\n\n%s", subject, body))
	if err != nil {
		return Result{}, err
	}
	sendErr := mail.ErrNotConfigured
	if d.mail != nil {
		sendErr = d.observe.Call(ctx, "mail", "send", func(ctx context.Context) error {
			return d.mail.Send(ctx, mail.Message{To: to, Subject: subject, Body: body, HTML: a.Bool("html")})
		})
	}
	if sendErr != nil {
		if err := tx.FinishAction(ctx, id, persistence.ActionFailed, sendErr.Error()); err != nil {
			return Result{}, err
		}
		return Result{}, shared.External("Trimiterea emailului a eșuat", sendErr)
	}
	if err := tx.FinishAction(ctx, id, persistence.ActionCompleted, ""); err != nil {
		return Result{}, err
	}
	return success(string(SendEmail), fmt.Sprintf("Emailul către %s a fost trimis cu succes.", to)).
		With("to", to).
		With("subject", subject).
		With("action_id", id), nil
}

func (d *Dispatcher) reader() (mail.Reader, error) {
	if d.mail == nil {
		return nil, mail.ErrNotConfigured
	}
	return d.mail, nil
}

func (d *Dispatcher) fetchRecent(ctx context.Context, n int) ([]mail.Email, error) {
	r, err := d.reader()
	if err != nil {
		return nil, err
	}
	var out []mail.Email
	err = d.observe.Call(ctx, "mail", "fetch_recent", func(ctx context.Context) error {
		var err error
		out, err = r.FetchRecent(ctx, n)
		return err
	})
	return out, err
}

// summaries renders inbox messages for list views: 1-based index and a
// bounded body preview.
func (d *Dispatcher) summaries(emails []mail.Email) []map[string]any {
	out := make([]map[string]any, 0, len(emails))
	for i, e := range emails {
		m := d.emailView(e)
		delete(m, "body")
		m["index"] = i + 1
		m["preview"] = mail.Preview(e.Body, previewRunes)
		out = append(out, m)
	}
	return out
}

func (d *Dispatcher) emailView(e mail.Email) map[string]any {
	from, subject, date := e.From, e.Subject, ""
	if from == "" {
		from = "Necunoscut"
	}
	if subject == "" {
		subject = "Fără subiect"
	}
	if !e.Date.IsZero() {
		date = d.formatTime(e.Date)
	}
	return map[string]any{"from": from, "subject": subject, "date": date, "body": e.Body}
}

func (d *Dispatcher) readEmails(ctx context.Context, _ *persistence.Tx, p Payload) (Result, error) {
	count := p.Args().Int("count", 5)
	if count <= 0 {
		count = 5
	}
	emails, err := d.fetchRecent(ctx, count)
	if err != nil {
		return Result{}, shared.External("Nu am putut citi emailurile", err)
	}
	if len(emails) == 0 {
		return success(string(ReadEmails), "Nu ai emailuri noi în inbox.").With("emails", []any{}), nil
	}
	return success(string(ReadEmails), fmt.Sprintf("Ai %d emailuri recente.", len(emails))).
		With("emails", d.summaries(emails)), nil
}

func (d *Dispatcher) readLastEmail(ctx context.Context, _ *persistence.Tx, _ Payload) (Result, error) {
	emails, err := d.fetchRecent(ctx, 1)
	if err != nil {
		return Result{}, shared.External("Nu am putut citi emailul", err)
	}
	if len(emails) == 0 {
		return success(string(ReadLastEmail), "Nu ai emailuri noi în inbox.").With("email", nil), nil
	}
	return success(string(ReadLastEmail), "Am citit ultimul email.").With("email", d.emailView(emails[0])), nil
}

func (d *Dispatcher) searchEmails(ctx context.Context, _ *persistence.Tx, p Payload) (Result, error) {
	query := p.Args().Text("query")
	if query == "" {
		return Result{}, shared.Validation("Nu ai specificat ce să caut în emailuri.")
	}
	r, err := d.reader()
	var emails []mail.Email
	if err == nil {
		err = d.observe.Call(ctx, "mail", "search", func(ctx context.Context) error {
			var err error
			emails, err = r.Search(ctx, query)
			return err
		})
	}
	if err != nil {
		return Result{}, shared.External("Nu am putut căuta emailuri", err)
	}
	if len(emails) == 0 {
		return success(string(SearchEmails), fmt.Sprintf("Nu am găsit emailuri care să conțină '%s'.", query)).
			With("emails", []any{}), nil
	}
	return success(string(SearchEmails), fmt.Sprintf("Am găsit %d emailuri pentru '%s'.", len(emails), query)).
		With("emails", d.summaries(emails)), nil
}

// summarizeEmail hands the full body back for an external summarizer.
func (d *Dispatcher) summarizeEmail(ctx context.Context, _ *persistence.Tx, p Payload) (Result, error) {
	index := p.Args().Int("index", 1)
	if index <= 0 {
		index = 1
	}
	emails, err := d.fetchRecent(ctx, index)
	if err != nil {
		return Result{}, shared.External("Nu am putut citi emailul", err)
	}
	if len(emails) < index {
		return Result{}, shared.NotFound("Nu am găsit emailul cu indexul %d.", index)
	}
	return success(string(SummarizeEmail), "Am citit emailul pentru rezumat.").
		With("email", d.emailView(emails[index-1])).
		With("needs_ai_summary", true), nil
}
