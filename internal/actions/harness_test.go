package actions_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/basket/asis/internal/actions"
	"github.com/basket/asis/internal/bus"
	"github.com/basket/asis/internal/calendar"
	"github.com/basket/asis/internal/cron"
	"github.com/basket/asis/internal/mail"
	"github.com/basket/asis/internal/meeting"
	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/search"
)

const organizer = "owner@example.com"

var testLoc = time.FixedZone("EET", 2*60*60)

type fakeMailer struct {
	mu      sync.Mutex
	sent    []mail.Message
	sendErr error
	inbox   []mail.Email
	readErr error
}

func (f *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) FetchRecent(_ context.Context, count int) ([]mail.Email, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if count > len(f.inbox) {
		count = len(f.inbox)
	}
	return f.inbox[:count], nil
}

func (f *fakeMailer) Search(_ context.Context, query string) ([]mail.Email, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []mail.Email
	for _, e := range f.inbox {
		if strings.Contains(strings.ToLower(e.Subject+" "+e.Body), strings.ToLower(query)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeMailer) messages() []mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mail.Message(nil), f.sent...)
}

type fakeSearch struct {
	resp  search.Response
	err   error
	query string
}

func (f *fakeSearch) Search(_ context.Context, q string) (search.Response, error) {
	f.query = q
	if f.err != nil {
		return search.Response{}, f.err
	}
	resp := f.resp
	resp.Query = q
	return resp, nil
}

type fakeCalendar struct {
	mu        sync.Mutex
	created   []calendar.EventRequest
	deleted   []string
	createErr error
	listErr   error
	upcoming  []calendar.Event
}

func (f *fakeCalendar) CreateEvent(_ context.Context, req calendar.EventRequest) (calendar.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return calendar.Created{}, f.createErr
	}
	f.created = append(f.created, req)
	id := fmt.Sprintf("g%d", len(f.created))
	created := calendar.Created{EventID: id, EventLink: "https://calendar.google.com/e/" + id}
	if req.WithMeet {
		created.MeetLink = "https://meet.google.com/" + id
	}
	return created, nil
}

func (f *fakeCalendar) ListUpcoming(_ context.Context, _ int) ([]calendar.Event, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.upcoming, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCalendar) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type harness struct {
	store  *persistence.Store
	mail   *fakeMailer
	search *fakeSearch
	cal    *fakeCalendar
	jobs   *cron.Scheduler
	bus    *bus.Bus
	d      *actions.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "asis.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	jobs := cron.NewScheduler(cron.Config{Location: testLoc})
	t.Cleanup(func() { _ = jobs.Stop(context.Background()) })

	h := &harness{
		store:  store,
		mail:   &fakeMailer{},
		search: &fakeSearch{},
		cal:    &fakeCalendar{},
		jobs:   jobs,
		bus:    bus.New(),
	}
	meetings := meeting.New(meeting.Config{
		Calendar:  h.cal,
		Mail:      h.mail,
		Jobs:      jobs,
		Store:     store,
		Bus:       h.bus,
		Location:  testLoc,
		Organizer: organizer,
	})
	h.d, err = actions.NewDispatcher(actions.Deps{
		Store:    store,
		Mail:     h.mail,
		Search:   h.search,
		Calendar: h.cal,
		Meetings: meetings,
		Bus:      h.bus,
		Location: testLoc,
	})
	require.NoError(t, err)
	return h
}

// exec dispatches intent with payload given as a JSON string ("" for none).
func (h *harness) exec(intent, payload string) actions.Result {
	return h.d.Execute(context.Background(), intent, json.RawMessage(payload))
}

func (h *harness) count(t *testing.T, q string) int {
	t.Helper()
	var n int
	require.NoError(t, h.store.DB().QueryRow(q).Scan(&n))
	return n
}

func strs(v any) []string {
	out, _ := v.([]string)
	return out
}
