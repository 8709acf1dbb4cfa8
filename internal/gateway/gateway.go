package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/asis/internal/actions"
	"github.com/basket/asis/internal/bus"
	"github.com/basket/asis/internal/config"
	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/shared"
)

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603

	// ErrCodeInvalid is returned for well-formed calls with bad params.
	ErrCodeInvalid = 1000

	maxBodyBytes = 1 << 20
)

// Executor runs one intent. *actions.Dispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, intent string, raw json.RawMessage) actions.Result
	Intents() []actions.Intent
}

// PendingCounter reports deferred jobs waiting to fire.
type PendingCounter interface {
	PendingCount() int
}

type Config struct {
	Actions Executor
	Store   *persistence.Store
	Bus     *bus.Bus
	Jobs    PendingCounter
	Logger  *slog.Logger

	// AuthToken, when non-empty, is required on every route but /healthz.
	AuthToken string

	// AllowOrigins lists Origin patterns accepted for browser WebSockets.
	// Empty means same-origin only.
	AllowOrigins []string

	CORS      config.CORSConfig
	RateLimit config.RateLimitConfig

	// ConfigFingerprint is the hash of the active config, exposed in status.
	ConfigFingerprint string
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	limiter *RateLimitMiddleware
	started time.Time

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex

	subMu     sync.Mutex
	busSubs   []*bus.Subscription
	busCtx    context.Context
	busCancel context.CancelFunc
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	Method  string    `json:"method,omitempty"`
	Params  any       `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// executeRequest is the body of POST /api/execute and the params of
// intent.execute.
type executeRequest struct {
	Intent  string          `json:"intent"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		limiter: NewRateLimitMiddleware(cfg.RateLimit),
		started: time.Now(),
		clients: map[*client]struct{}{},
	}
}

// Handler returns the HTTP surface wrapped in CORS, auth, rate limiting and
// body size limits, outermost first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/execute", s.handleAPIExecute)
	mux.HandleFunc("/api/intents", s.handleAPIIntents)
	mux.HandleFunc("/api/actions", s.handleAPIActions)

	var h http.Handler = mux
	h = RequestSizeLimitMiddleware(maxBodyBytes)(h)
	h = s.limiter.Wrap(h)
	h = NewAuthMiddleware(s.cfg.AuthToken).Wrap(h)
	h = NewCORSMiddleware(s.cfg.CORS)(h)
	return h
}

// StartEviction drops idle rate-limit buckets until ctx is done.
func (s *Server) StartEviction(ctx context.Context) {
	s.limiter.StartEviction(ctx, time.Minute, 10*time.Minute)
}

func (s *Server) status(ctx context.Context) (map[string]any, bool) {
	dbOK := s.cfg.Store == nil || s.cfg.Store.Ping(ctx) == nil
	pending := 0
	if s.cfg.Jobs != nil {
		pending = s.cfg.Jobs.PendingCount()
	}
	s.clientsMu.RLock()
	clients := len(s.clients)
	s.clientsMu.RUnlock()
	return map[string]any{
		"healthy":            dbOK,
		"db_ok":              dbOK,
		"config_fingerprint": s.cfg.ConfigFingerprint,
		"pending_jobs":       pending,
		"ws_clients":         clients,
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
	}, dbOK
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.status(r.Context())
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (s *Server) handleAPIExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}
	if req.Intent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "intent is required"})
		return
	}

	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = shared.NewTraceID()
	}
	res := s.cfg.Actions.Execute(shared.WithTraceID(r.Context(), traceID), req.Intent, req.Payload)
	w.Header().Set("X-Trace-Id", traceID)
	writeJSON(w, statusFor(res), res)
}

// statusFor maps a dispatch outcome onto an HTTP status.
func statusFor(res actions.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case shared.KindValidation, shared.KindUnknownIntent:
		return http.StatusBadRequest
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAPIIntents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": s.cfg.Actions.Intents()})
}

func (s *Server) handleAPIActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.listActions(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": list, "count": len(list)})
}

func (s *Server) listActions(ctx context.Context, limit int) ([]persistence.AgentAction, error) {
	list, err := s.cfg.Store.ListAgentActions(ctx, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []persistence.AgentAction{}
	}
	return list, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.addClient(c)
	s.logger.Info("ws: client connected")
	defer func() {
		s.removeClient(c)
		s.logger.Info("ws: client disconnecting")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var req rpcRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Debug("ws: read error, closing", "error", err)
			}
			return
		}
		resp := s.handleRPC(r.Context(), c, req)
		if resp == nil {
			continue
		}
		if err := c.write(r.Context(), resp); err != nil {
			s.logger.Error("ws: write response error", "method", req.Method, "error", err)
		}
	}
}

func (s *Server) handleRPC(ctx context.Context, c *client, req rpcRequest) *rpcResponse {
	id, hasID := decodeID(req.ID)
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !hasID {
			return nil
		}
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: ErrCodeInvalidRequest, Message: "invalid JSON-RPC request"},
		}
	}

	var result any
	var rpcErr *rpcError

	switch req.Method {
	case "system.hello":
		result = map[string]any{"protocol": "asis", "version": "1.0"}
	case "system.status":
		result, _ = s.status(ctx)
	case "intents.list":
		result = map[string]any{"intents": s.cfg.Actions.Intents()}
	case "intent.execute":
		var p executeRequest
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Intent == "" {
			rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "params must carry a non-empty intent"}
			break
		}
		traceID := shared.NewTraceID()
		res := s.cfg.Actions.Execute(shared.WithTraceID(ctx, traceID), p.Intent, p.Payload)
		result = map[string]any{"trace_id": traceID, "result": res}
	case "actions.list":
		var p struct {
			Limit int `json:"limit"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "invalid params"}
				break
			}
		}
		list, err := s.listActions(ctx, p.Limit)
		if err != nil {
			rpcErr = &rpcError{Code: ErrCodeInternal, Message: err.Error()}
			break
		}
		result = map[string]any{"actions": list}
	case "events.subscribe":
		var p struct {
			Topics []string `json:"topics"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "invalid params"}
				break
			}
		}
		if s.cfg.Bus == nil {
			rpcErr = &rpcError{Code: ErrCodeInternal, Message: "event bus unavailable"}
			break
		}
		if len(p.Topics) == 0 {
			p.Topics = []string{""}
		}
		s.subscribeClient(c, p.Topics)
		result = map[string]any{"subscribed": p.Topics}
	default:
		rpcErr = &rpcError{Code: ErrCodeMethodNotFound, Message: "method not found"}
	}

	if !hasID {
		return nil
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr}
}

func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	return generic, true
}

func (s *Server) addClient(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *client) {
	c.subMu.Lock()
	if c.busCancel != nil {
		c.busCancel()
	}
	for _, sub := range c.busSubs {
		s.cfg.Bus.Unsubscribe(sub)
	}
	c.busSubs = nil
	c.subMu.Unlock()

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

// subscribeClient forwards bus events whose topic starts with one of the
// prefixes to the client as "event" notifications. The empty prefix
// matches every topic.
func (s *Server) subscribeClient(c *client, prefixes []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.busCtx == nil {
		c.busCtx, c.busCancel = context.WithCancel(context.Background())
	}
	for _, prefix := range prefixes {
		sub := s.cfg.Bus.Subscribe(prefix)
		c.busSubs = append(c.busSubs, sub)
		go s.forwardBusEvents(c.busCtx, c, sub)
	}
}

func (s *Server) forwardBusEvents(ctx context.Context, c *client, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if err := c.write(ctx, rpcResponse{JSONRPC: "2.0", Method: "event", Params: ev}); err != nil {
				s.logger.Debug("ws: event push failed", "topic", ev.Topic, "error", err)
			}
		}
	}
}
