// Package http exposes the session state machine over a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/concierge"
	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// Machine is the part of session.Machine the API serves.
type Machine interface {
	Run(ctx context.Context, key, text string) (*domain.RunResult, error)
	Inspect(ctx context.Context, key string) (*domain.SessionState, error)
	List(ctx context.Context) ([]string, error)
	Reset(ctx context.Context, key string) error
	Status(key string) domain.SessionStatus
}

// Server serves the session API.
type Server struct {
	Machine Machine
	Streams *StreamManager

	logger  *slog.Logger
	limits  *limiter
	metrics http.Handler
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit caps inbound messages per session key.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limits = newLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewHandler creates the HTTP handler for machine.
func NewHandler(machine Machine, opts ...Option) http.Handler {
	s := &Server{
		Machine: machine,
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	api, err := loadAPI()
	if err != nil {
		panic(fmt.Sprintf("embedded OpenAPI document: %v", err))
	}

	r := chi.NewRouter()
	r.Use(validateRequests(api, s.logger))
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/openapi.yaml", GetOpenAPI)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Post("/messages", s.PostMessage)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MessageRequest is the body of POST /sessions/{key}/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse carries both the rendered reply and the structured items.
type MessageResponse struct {
	Response        string            `json:"response"`
	Agent           string            `json:"agent"`
	Items           domain.Transcript `json:"items"`
	Turns           int               `json:"turns"`
	BudgetExhausted bool              `json:"budget_exhausted,omitempty"`
}

// SessionResponse is the committed state plus whether an invocation is running.
type SessionResponse struct {
	*domain.SessionState
	Status domain.SessionStatus `json:"status"`
}

// PostMessage handles POST /sessions/{key}/messages.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if s.limits != nil && !s.limits.allow(key) {
		http.Error(w, "Too many messages for this session", http.StatusTooManyRequests)
		return
	}

	// The body already passed the MessageRequest schema.
	var body MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, s.logger)
		return
	}

	res, err := s.Machine.Run(r.Context(), key, body.Text)
	if err != nil {
		s.fail(w, err)
		return
	}

	resp := MessageResponse{
		Response:        runner.FormatResponse(res),
		Agent:           res.LastAgent,
		Items:           res.NewItems,
		Turns:           res.Turns,
		BudgetExhausted: res.BudgetExhausted,
	}
	if data, err := json.Marshal(resp); err == nil {
		s.Streams.Broadcast(key, string(data))
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// GetSession handles GET /sessions/{key}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	state, err := s.Machine.Inspect(r.Context(), key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionState: state, Status: s.Machine.Status(key)}, s.logger)
}

// DeleteSession handles DELETE /sessions/{key}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Machine.Reset(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Machine.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": keys}, s.logger)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "concierge-http",
		"version": concierge.Version,
	}, s.logger)
}

// StatusCode maps a machine error to an HTTP status.
func StatusCode(err error) int {
	var se *domain.SessionError
	switch {
	case errors.As(err, &se) && (se.Op == "validate" || se.Op == "sanitize"):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrTurnBudgetExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code >= 500 {
		s.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()}, s.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Response encode failed", "error", err)
	}
}

// StreamManager handles active SSE connections per session key.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(key string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[key]; !ok {
		sm.subscribers[key] = make(map[chan<- string]struct{})
	}
	sm.subscribers[key][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[key]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, key)
			}
		}
	}
}

// Broadcast sends msg to every subscriber of key. Slow clients miss messages.
func (sm *StreamManager) Broadcast(key string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[key] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// SubscribeEvents handles GET /sessions/{key}/events (SSE). Each committed
// message posted through this server is pushed as one data frame.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	key := chi.URLParam(r, "key")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(key)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

const (
	limiterIdle  = 10 * time.Minute
	limiterSweep = time.Minute
)

type limiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*rate.Limiter
	seen      map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(limit rate.Limit, burst int) *limiter {
	return &limiter{
		limit:     limit,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
		seen:      make(map[string]time.Time),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// allow forgets keys idle for limiterIdle. The scan runs at most once per limiterSweep.
func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= limiterSweep {
		l.sweep(now)
	}
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.seen[key] = now
	return lim.Allow()
}

func (l *limiter) sweep(now time.Time) {
	for k, t := range l.seen {
		if now.Sub(t) > limiterIdle {
			delete(l.seen, k)
			delete(l.limiters, k)
		}
	}
	l.lastSweep = now
}
