package calendar

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/asis/internal/otel"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	tokenLifetime   = 55 * time.Minute
	calendarScope   = "https://www.googleapis.com/auth/calendar"
)

// serviceAccount holds the fields of a service account JSON key we use.
type serviceAccount struct {
	Type        string `json:"type"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// Config holds Google client configuration.
type Config struct {
	CredentialsFile string
	CalendarID      string
	// TimeZone is sent with event times, e.g. "Europe/Bucharest".
	TimeZone string
	// BaseURL and TokenURL override the Google endpoints (tests).
	BaseURL  string
	TokenURL string
	HTTP     *http.Client
	Observe  otel.Instrumentation
}

// Google talks to the Calendar v3 REST API with a service account.
type Google struct {
	httpClient *http.Client
	baseURL    string
	tokenURL   string
	calendarID string
	timeZone   string
	creds      serviceAccount
	key        *rsa.PrivateKey
	observe    otel.Instrumentation

	mu          sync.RWMutex
	accessToken string
	tokenExpiry time.Time
}

// NewGoogle reads the service account key and prepares a client. It does not
// contact Google until the first call.
func NewGoogle(cfg Config) (*Google, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	var creds serviceAccount
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Type != "service_account" {
		return nil, fmt.Errorf("credentials file must be a service account key (got %q)", creds.Type)
	}
	key, err := parseRSAKey(creds.PrivateKey)
	if err != nil {
		return nil, err
	}

	g := &Google{
		httpClient: cfg.HTTP,
		baseURL:    cfg.BaseURL,
		tokenURL:   cfg.TokenURL,
		calendarID: cfg.CalendarID,
		timeZone:   cfg.TimeZone,
		creds:      creds,
		key:        key,
		observe:    cfg.Observe,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if g.baseURL == "" {
		g.baseURL = defaultBaseURL
	}
	if g.tokenURL == "" {
		g.tokenURL = defaultTokenURL
		if creds.TokenURI != "" {
			g.tokenURL = creds.TokenURI
		}
	}
	if g.calendarID == "" {
		g.calendarID = "primary"
	}
	return g, nil
}

func parseRSAKey(pemKey string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("parse private key: no PEM block")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// token returns a cached access token, exchanging a fresh JWT assertion when
// the cached one is missing or close to expiry.
func (g *Google) token(ctx context.Context) (string, error) {
	g.mu.RLock()
	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		tok := g.accessToken
		g.mu.RUnlock()
		return tok, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	now := time.Now()
	assertion, err := g.signJWT(map[string]any{
		"iss":   g.creds.ClientEmail,
		"scope": calendarScope,
		"aud":   g.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (%d): %s", resp.StatusCode, string(body))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	g.accessToken = tr.AccessToken
	g.tokenExpiry = now.Add(tokenLifetime)
	return g.accessToken, nil
}

func (g *Google) signJWT(claims map[string]any) (string, error) {
	headerJSON, _ := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	hash := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(nil, g.key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// request makes an authenticated call to the Calendar API. A nil out skips
// decoding (DELETE answers 204 with no body).
func (g *Google) request(ctx context.Context, method, path string, body, out any) error {
	tok, err := g.token(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

type googleEvent struct {
	ID             string           `json:"id,omitempty"`
	Summary        string           `json:"summary"`
	Description    string           `json:"description,omitempty"`
	Status         string           `json:"status,omitempty"`
	HTMLLink       string           `json:"htmlLink,omitempty"`
	HangoutLink    string           `json:"hangoutLink,omitempty"`
	Start          *googleDateTime  `json:"start,omitempty"`
	End            *googleDateTime  `json:"end,omitempty"`
	Attendees      []googleAttendee `json:"attendees,omitempty"`
	ConferenceData *conferenceData  `json:"conferenceData,omitempty"`
	Reminders      *googleReminders `json:"reminders,omitempty"`
}

type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleAttendee struct {
	Email string `json:"email"`
}

type conferenceData struct {
	CreateRequest *createRequest `json:"createRequest,omitempty"`
	EntryPoints   []entryPoint   `json:"entryPoints,omitempty"`
}

type createRequest struct {
	RequestID             string `json:"requestId"`
	ConferenceSolutionKey struct {
		Type string `json:"type"`
	} `json:"conferenceSolutionKey"`
}

type entryPoint struct {
	EntryPointType string `json:"entryPointType"`
	URI            string `json:"uri"`
}

type googleReminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

func (g *Google) eventsPath() string {
	return "/calendars/" + url.PathEscape(g.calendarID) + "/events"
}

func (g *Google) dateTime(t time.Time) *googleDateTime {
	dt := &googleDateTime{DateTime: t.Format(time.RFC3339)}
	if g.timeZone != "" {
		dt.TimeZone = g.timeZone
	}
	return dt
}

// CreateEvent inserts an event. With WithMeet set, Google generates a Meet
// conference and the returned MeetLink carries its video URI.
func (g *Google) CreateEvent(ctx context.Context, req EventRequest) (Created, error) {
	ev := googleEvent{
		Summary:     req.Title,
		Description: req.Description,
		Start:       g.dateTime(req.Start),
		End:         g.dateTime(req.End),
	}
	for _, addr := range req.Attendees {
		if addr != "" {
			ev.Attendees = append(ev.Attendees, googleAttendee{Email: addr})
		}
	}
	if req.WithMeet {
		cr := &createRequest{RequestID: uuid.NewString()}
		cr.ConferenceSolutionKey.Type = "hangoutsMeet"
		ev.ConferenceData = &conferenceData{CreateRequest: cr}
	}
	if req.ReminderLeadMinutes > 0 {
		ev.Reminders = &googleReminders{Overrides: []reminderOverride{
			{Method: "email", Minutes: req.ReminderLeadMinutes},
			{Method: "popup", Minutes: req.ReminderLeadMinutes},
		}}
	}

	q := url.Values{}
	if req.WithMeet {
		q.Set("conferenceDataVersion", "1")
	}
	if req.Notify {
		q.Set("sendUpdates", "all")
	} else {
		q.Set("sendUpdates", "none")
	}

	var out googleEvent
	err := g.observe.Call(ctx, "google_calendar", "create_event", func(ctx context.Context) error {
		return g.request(ctx, http.MethodPost, g.eventsPath()+"?"+q.Encode(), ev, &out)
	})
	if err != nil {
		return Created{}, err
	}
	if out.ID == "" {
		return Created{}, fmt.Errorf("calendar API returned event without id")
	}
	return Created{EventID: out.ID, MeetLink: meetLink(out), EventLink: out.HTMLLink}, nil
}

// ListUpcoming returns up to max events starting from now, soonest first.
func (g *Google) ListUpcoming(ctx context.Context, max int) ([]Event, error) {
	if max <= 0 {
		max = 10
	}
	q := url.Values{}
	q.Set("timeMin", time.Now().UTC().Format(time.RFC3339))
	q.Set("maxResults", fmt.Sprintf("%d", max))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")

	var resp struct {
		Items []googleEvent `json:"items"`
	}
	err := g.observe.Call(ctx, "google_calendar", "list_upcoming", func(ctx context.Context) error {
		return g.request(ctx, http.MethodGet, g.eventsPath()+"?"+q.Encode(), nil, &resp)
	})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(resp.Items))
	for i := range resp.Items {
		ev, err := convertEvent(&resp.Items[i])
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// DeleteEvent removes an event and notifies attendees. An event that is
// already gone (404/410) counts as deleted.
func (g *Google) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("delete event: empty id")
	}
	path := g.eventsPath() + "/" + url.PathEscape(eventID) + "?sendUpdates=all"
	err := g.observe.Call(ctx, "google_calendar", "delete_event", func(ctx context.Context) error {
		return g.request(ctx, http.MethodDelete, path, nil, nil)
	})
	if err != nil && (strings.Contains(err.Error(), "(404)") || strings.Contains(err.Error(), "(410)")) {
		return nil
	}
	return err
}

func meetLink(ev googleEvent) string {
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				return ep.URI
			}
		}
	}
	return ev.HangoutLink
}

func convertEvent(item *googleEvent) (Event, error) {
	ev := Event{
		ID:          item.ID,
		Title:       item.Summary,
		Description: item.Description,
		MeetLink:    meetLink(*item),
		EventLink:   item.HTMLLink,
	}
	var err error
	if ev.Start, ev.AllDay, err = parseGoogleTime(item.Start); err != nil {
		return Event{}, fmt.Errorf("parse start: %w", err)
	}
	if ev.End, _, err = parseGoogleTime(item.End); err != nil {
		return Event{}, fmt.Errorf("parse end: %w", err)
	}
	for _, a := range item.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	return ev, nil
}

func parseGoogleTime(dt *googleDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, nil
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		return t, true, err
	}
	return time.Time{}, false, nil
}
