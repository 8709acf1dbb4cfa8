package calendar_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basket/asis/internal/calendar"
)

func writeServiceAccount(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	creds, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"private_key":  string(pemKey),
		"client_email": "asis@project.iam.gserviceaccount.com",
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, creds, 0o600))
	return path
}

type fakeGoogle struct {
	tokenCalls atomic.Int32
	lastBody   atomic.Value
	lastQuery  atomic.Value
	deleteCode int
	handler    http.HandlerFunc
}

func newFakeGoogle(t *testing.T, f *fakeGoogle) (*calendar.Google, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.Equal(t, 3, len(strings.Split(r.Form.Get("assertion"), ".")))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(string(body))
		f.lastQuery.Store(r.URL.RawQuery)
		f.handler(w, r)
	})
	mux.HandleFunc("/calendars/primary/events/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if f.deleteCode != 0 {
			w.WriteHeader(f.deleteCode)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g, err := calendar.NewGoogle(calendar.Config{
		CredentialsFile: writeServiceAccount(t),
		TimeZone:        "Europe/Bucharest",
		BaseURL:         srv.URL,
		TokenURL:        srv.URL + "/token",
	})
	require.NoError(t, err)
	return g, srv
}

func TestGoogle_CreateEventWithMeet(t *testing.T) {
	f := &fakeGoogle{handler: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{
			"id": "evt123",
			"htmlLink": "https://calendar.google.com/event?eid=evt123",
			"conferenceData": {"entryPoints": [
				{"entryPointType": "phone", "uri": "tel:+40-000"},
				{"entryPointType": "video", "uri": "https://meet.google.com/abc-defg-hij"}
			]}
		}`))
	}}
	g, _ := newFakeGoogle(t, f)

	start := time.Date(2030, 5, 10, 14, 0, 0, 0, time.UTC)
	created, err := g.CreateEvent(context.Background(), calendar.EventRequest{
		Title:               "Sync",
		Start:               start,
		End:                 start.Add(time.Hour),
		Attendees:           []string{"boss@example.com", "ana@example.com"},
		Notify:              true,
		WithMeet:            true,
		ReminderLeadMinutes: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, "evt123", created.EventID)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", created.MeetLink)
	assert.Contains(t, created.EventLink, "evt123")

	query := f.lastQuery.Load().(string)
	assert.Contains(t, query, "conferenceDataVersion=1")
	assert.Contains(t, query, "sendUpdates=all")

	var sent map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.lastBody.Load().(string)), &sent))
	assert.Equal(t, "Sync", sent["summary"])
	conf := sent["conferenceData"].(map[string]any)["createRequest"].(map[string]any)
	assert.NotEmpty(t, conf["requestId"])
	assert.Len(t, sent["attendees"], 2)
	assert.Equal(t, "Europe/Bucharest", sent["start"].(map[string]any)["timeZone"])
}

func TestGoogle_TokenIsCached(t *testing.T) {
	f := &fakeGoogle{handler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	}}
	g, _ := newFakeGoogle(t, f)

	for i := 0; i < 3; i++ {
		_, err := g.ListUpcoming(context.Background(), 5)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestGoogle_ListUpcoming(t *testing.T) {
	f := &fakeGoogle{handler: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "startTime", r.URL.Query().Get("orderBy"))
		_, _ = w.Write([]byte(`{"items": [
			{"id": "a", "summary": "Standup", "start": {"dateTime": "2030-01-01T09:00:00+02:00"}, "end": {"dateTime": "2030-01-01T09:15:00+02:00"}, "hangoutLink": "https://meet.google.com/x"},
			{"id": "b", "summary": "Holiday", "start": {"date": "2030-01-02"}, "end": {"date": "2030-01-03"}},
			{"id": "c", "summary": "Broken", "start": {"dateTime": "not-a-time"}}
		]}`))
	}}
	g, _ := newFakeGoogle(t, f)

	events, err := g.ListUpcoming(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Standup", events[0].Title)
	assert.Equal(t, "https://meet.google.com/x", events[0].MeetLink)
	assert.True(t, events[1].AllDay)
}

func TestGoogle_APIErrorSurfaces(t *testing.T) {
	f := &fakeGoogle{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "Requests from this service account are blocked"}}`))
	}}
	g, _ := newFakeGoogle(t, f)

	_, err := g.CreateEvent(context.Background(), calendar.EventRequest{Title: "x", Start: time.Now(), End: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar API error (403)")
	assert.Contains(t, err.Error(), "blocked")
}

func TestGoogle_DeleteEvent(t *testing.T) {
	f := &fakeGoogle{}
	g, _ := newFakeGoogle(t, f)
	require.NoError(t, g.DeleteEvent(context.Background(), "evt123"))

	f.deleteCode = http.StatusNotFound
	require.NoError(t, g.DeleteEvent(context.Background(), "gone"))

	f.deleteCode = http.StatusInternalServerError
	require.Error(t, g.DeleteEvent(context.Background(), "evt123"))

	require.Error(t, g.DeleteEvent(context.Background(), ""))
}

func TestNewGoogle_RejectsNonServiceAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"authorized_user"}`), 0o600))
	_, err := calendar.NewGoogle(calendar.Config{CredentialsFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account")
}

func TestUnconfigured(t *testing.T) {
	var c calendar.Calendar = calendar.Unconfigured{}
	_, err := c.CreateEvent(context.Background(), calendar.EventRequest{})
	assert.ErrorIs(t, err, calendar.ErrNotConfigured)
	_, err = c.ListUpcoming(context.Background(), 10)
	assert.ErrorIs(t, err, calendar.ErrNotConfigured)
	assert.ErrorIs(t, c.DeleteEvent(context.Background(), "x"), calendar.ErrNotConfigured)
}
