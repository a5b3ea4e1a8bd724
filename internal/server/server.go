// Package server exposes the avatar over HTTP: a JSON control API, a
// WebSocket state stream for the renderer, Prometheus metrics and an optional
// static front-end.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/avatar"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/sentence"
	"github.com/normanking/talkingavatar/internal/speech"
)

// Version is reported by /health.
var Version = "dev"

const maxBodySize = 1 << 20

// Config holds the HTTP surface settings.
type Config struct {
	Addr           string
	FrameInterval  time.Duration
	ReadTimeout    time.Duration
	SendTimeout    time.Duration
	AllowedOrigins []string
	StaticDir      string
}

// DefaultConfig returns the local-only defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8765",
		FrameInterval:  33 * time.Millisecond,
		ReadTimeout:    15 * time.Second,
		SendTimeout:    5 * time.Minute,
		AllowedOrigins: []string{"*"},
	}
}

// Deps are the collaborators behind the routes. Chat and Logs are optional.
type Deps struct {
	Avatar *avatar.Controller
	Chat   chat.Client
	Bus    *bus.EventBus
	Logs   *logging.Logger
}

// Server handles the HTTP API and WebSocket connections.
type Server struct {
	cfg       Config
	deps      Deps
	logger    zerolog.Logger
	handler   http.Handler
	upgrader  websocket.Upgrader
	startTime time.Time

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	closing   chan struct{}
	closeOnce sync.Once
}

// New builds the server and subscribes it to the bus.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Avatar == nil {
		return nil, errors.New("server: avatar controller is required")
	}
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = defaults.FrameInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
		clients:   make(map[*wsClient]struct{}),
		closing:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/speak", s.handleSpeak)
	s.route(mux, "POST /api/v1/send", s.handleSend)
	s.route(mux, "POST /api/v1/cancel", s.handleCancel)
	s.route(mux, "GET /api/v1/status", s.handleStatus)
	s.route(mux, "GET /api/v1/voices", s.handleVoices)
	s.route(mux, "POST /api/v1/voice", s.handleVoice)
	s.route(mux, "GET /api/v1/logs", s.handleLogs)
	s.route(mux, "GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}
	s.handler = s.corsMiddleware(mux)

	if deps.Bus != nil {
		deps.Bus.SubscribeAll(s.broadcastEvent)
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.Close()
		return err
	case <-ctx.Done():
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("HTTP server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	}
}

// Close disconnects every WebSocket client.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// route registers an instrumented JSON handler.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RequestCount.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed accepts requests without an Origin header, any origin when
// "*" is configured, and exact matches otherwise.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) publish(t bus.EventType, data map[string]any) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(bus.Event{Type: t, Data: data})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// controllerStatus maps controller call failures to HTTP statuses.
func controllerStatus(err error) int {
	switch {
	case errors.Is(err, loop.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// SpeakRequest starts a speech session.
type SpeakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// SpeakResponse reports whether the request started a session.
type SpeakResponse struct {
	Accepted  bool   `json:"accepted"`
	SessionID string `json:"session_id,omitempty"`
	// Text is the request as it will be spoken, one space between sentences.
	Text string `json:"text,omitempty"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req SpeakRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, accepted, err := s.deps.Avatar.Start(r.Context(), req.Text, req.Voice)
	if err != nil {
		writeError(w, controllerStatus(err), err.Error())
		return
	}
	if !accepted {
		writeJSON(w, http.StatusOK, SpeakResponse{Accepted: false})
		return
	}
	writeJSON(w, http.StatusAccepted, SpeakResponse{
		Accepted:  true,
		SessionID: id,
		Text:      sentence.Join(sentence.Split(req.Text)),
	})
}

// SendRequest is a chat message to answer aloud.
type SendRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
	Voice   string `json:"voice,omitempty"`
}

// SendResponse is written once the spoken reply has finished.
type SendResponse struct {
	Response  string `json:"response,omitempty"`
	Mode      string `json:"mode,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Spoken    int    `json:"spoken"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	var req SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, chat.ErrEmptyMessage.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SendTimeout)
	defer cancel()

	reply, err := s.deps.Chat.Send(ctx, req.UserID, req.Message)
	if err != nil {
		s.logger.Warn().Err(err).Str("user", req.UserID).Msg("Chat request failed")
		s.publish(bus.EventTypeChatError, map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusBadGateway, SendResponse{Error: err.Error()})
		return
	}
	s.publish(bus.EventTypeChatReply, map[string]any{"text": reply.Text, "mode": string(reply.Mode)})

	var outcome speech.Outcome
	if reply.Mode == chat.ModeAudio {
		outcome, err = s.deps.Avatar.SpeakAudio(ctx, reply.Text, speech.Audio{Data: reply.Audio, Format: reply.Format})
	} else {
		outcome, err = s.deps.Avatar.Speak(ctx, reply.Text, req.Voice)
	}

	resp := SendResponse{Response: reply.Text, Mode: string(reply.Mode)}
	switch {
	case errors.Is(err, avatar.ErrNotSpeaking):
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
		return
	case err != nil:
		resp.Error = err.Error()
		writeJSON(w, controllerStatus(err), resp)
		return
	}

	resp.SessionID = outcome.SessionID
	resp.Status = outcome.Status.String()
	resp.Spoken = outcome.Spoken
	if outcome.Failed() {
		resp.Error = outcome.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Avatar.Cancel(r.Context()); err != nil {
		writeError(w, controllerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Avatar.Snapshot(r.Context())
	if err != nil {
		writeError(w, controllerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Avatar.Voices(r.Context())
	if err != nil {
		writeError(w, controllerStatus(err), err.Error())
		return
	}
	selected, err := s.deps.Avatar.Voice(r.Context())
	if err != nil {
		writeError(w, controllerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": list, "selected": selected})
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "voice name is required")
		return
	}
	if err := s.deps.Avatar.SetVoice(r.Context(), req.Name); err != nil {
		writeError(w, controllerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selected": req.Name})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries := []logging.LogEntry{}
	if s.deps.Logs != nil {
		entries = s.deps.Logs.GetHistory(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"chat":    s.deps.Chat != nil,
	})
}
