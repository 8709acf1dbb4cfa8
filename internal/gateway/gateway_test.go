package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/asis/internal/actions"
	"github.com/basket/asis/internal/bus"
	"github.com/basket/asis/internal/gateway"
	"github.com/basket/asis/internal/persistence"
)

type fakeJobs int

func (f fakeJobs) PendingCount() int { return int(f) }

func newTestServer(t *testing.T, token string) (*httptest.Server, *bus.Bus) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "asis.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	b := bus.New()
	d, err := actions.NewDispatcher(actions.Deps{Store: store, Bus: b})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	srv := gateway.New(gateway.Config{
		Actions:           d,
		Store:             store,
		Bus:               b,
		Jobs:              fakeJobs(2),
		AuthToken:         token,
		ConfigFingerprint: "cfg-test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, b
}

func postExecute(t *testing.T, ts *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/execute", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, out
}

func TestExecute_Success(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, out := postExecute(t, ts, `{"intent":"add_shopping_item","payload":[{"name":"lapte"},{"name":"ouă"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, out)
	}
	if out["success"] != true || out["total_items"] != float64(2) {
		t.Fatalf("unexpected result: %v", out)
	}
	if resp.Header.Get("X-Trace-Id") == "" {
		t.Fatal("missing X-Trace-Id")
	}
}

func TestExecute_StatusMapping(t *testing.T) {
	ts, _ := newTestServer(t, "")
	cases := []struct {
		body string
		want int
		kind string
	}{
		{`{"intent":"fly_to_moon"}`, http.StatusBadRequest, "unknown_intent"},
		{`{"intent":"complete_task","payload":{"task_title":"inexistent"}}`, http.StatusNotFound, "not_found"},
		{`{"intent":"send_email","payload":{"to":"x@example.com"}}`, http.StatusBadGateway, "external"},
		{`{"intent":"add_task","payload":{"due_date":"când pot"}}`, http.StatusBadRequest, "validation"},
	}
	for _, tc := range cases {
		resp, out := postExecute(t, ts, tc.body)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.body, resp.StatusCode, tc.want)
		}
		if out["error_kind"] != tc.kind {
			t.Fatalf("%s: error_kind = %v, want %s", tc.body, out["error_kind"], tc.kind)
		}
	}

	resp, _ := postExecute(t, ts, `{"payload":{}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing intent: status = %d", resp.StatusCode)
	}
}

func TestExecute_MethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, err := http.Get(ts.URL + "/api/execute")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestIntentsAndActions(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/intents")
	if err != nil {
		t.Fatal(err)
	}
	var intents struct {
		Intents []string `json:"intents"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&intents)
	resp.Body.Close()
	if len(intents.Intents) != 17 {
		t.Fatalf("intents = %d, want 17", len(intents.Intents))
	}

	postExecute(t, ts, `{"intent":"send_email","payload":{"to":"x@example.com"}}`)
	resp, err = http.Get(ts.URL + "/api/actions?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Actions []persistence.AgentAction `json:"actions"`
		Count   int                       `json:"count"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if list.Count != 1 || list.Actions[0].Status != persistence.ActionFailed {
		t.Fatalf("unexpected actions: %+v", list)
	}
}

func TestHealthz_ReportsFingerprintWithoutAuth(t *testing.T) {
	ts, _ := newTestServer(t, "tok")
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusOK || out["healthy"] != true {
		t.Fatalf("healthz: %d %v", resp.StatusCode, out)
	}
	if out["config_fingerprint"] != "cfg-test" || out["pending_jobs"] != float64(2) {
		t.Fatalf("healthz payload: %v", out)
	}

	resp2, err := http.Post(ts.URL+"/api/execute", "application/json", bytes.NewBufferString(`{"intent":"list_tasks"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("execute without token: %d", resp2.StatusCode)
	}
}

type rpcMsg struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Params json.RawMessage `json:"params"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id int, method string, params any) rpcMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params}); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
	for {
		var msg rpcMsg
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("read %s: %v", method, err)
		}
		if msg.Method == "" {
			return msg
		}
	}
}

func TestWS_ExecuteAndListIntents(t *testing.T) {
	ts, _ := newTestServer(t, "")
	conn := dialWS(t, ts)

	if msg := call(t, conn, 1, "system.hello", nil); msg.Error != nil {
		t.Fatalf("hello: %+v", msg.Error)
	}

	msg := call(t, conn, 2, "intent.execute", map[string]any{"intent": "add_task", "payload": map[string]any{"title": "Sun la doctor"}})
	if msg.Error != nil {
		t.Fatalf("execute: %+v", msg.Error)
	}
	var out struct {
		TraceID string         `json:"trace_id"`
		Result  map[string]any `json:"result"`
	}
	if err := json.Unmarshal(msg.Result, &out); err != nil {
		t.Fatal(err)
	}
	if out.TraceID == "" || out.Result["success"] != true {
		t.Fatalf("unexpected execute result: %s", msg.Result)
	}

	msg = call(t, conn, 3, "intent.execute", map[string]any{"payload": map[string]any{}})
	if msg.Error == nil || msg.Error.Code != gateway.ErrCodeInvalid {
		t.Fatalf("expected invalid params error, got %+v", msg)
	}

	msg = call(t, conn, 4, "no.such.method", nil)
	if msg.Error == nil || msg.Error.Code != gateway.ErrCodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", msg)
	}

	msg = call(t, conn, 5, "system.status", nil)
	if !strings.Contains(string(msg.Result), `"ws_clients":1`) {
		t.Fatalf("status: %s", msg.Result)
	}
}

func TestWS_SubscribeReceivesBusEvents(t *testing.T) {
	ts, b := newTestServer(t, "")
	conn := dialWS(t, ts)

	msg := call(t, conn, 1, "events.subscribe", map[string]any{"topics": []string{"meeting."}})
	if msg.Error != nil {
		t.Fatalf("subscribe: %+v", msg.Error)
	}

	b.Publish(bus.TopicActionExecuted, bus.ActionExecutedEvent{Intent: "list_tasks"})
	b.Publish(bus.TopicMeetingScheduled, bus.MeetingEvent{EventID: 7, Title: "Sync"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev rpcMsg
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Method != "event" {
		t.Fatalf("method = %q", ev.Method)
	}
	var pushed bus.Event
	_ = json.Unmarshal(ev.Params, &pushed)
	if pushed.Topic != bus.TopicMeetingScheduled {
		t.Fatalf("topic = %q, want %q", pushed.Topic, bus.TopicMeetingScheduled)
	}
}
