package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/ragent/internal/config"
	"github.com/ent0n29/ragent/internal/controller"
	"github.com/ent0n29/ragent/internal/observability"
	"github.com/ent0n29/ragent/internal/session"
)

// ChatService is the controller surface the HTTP layer drives.
type ChatService interface {
	SubmitTurn(ctx context.Context, req controller.SubmitRequest) (controller.SubmitResult, error)
	Session(ctx context.Context, id string) (*session.Session, error)
	Close(ctx context.Context, id string) error
	Clear(ctx context.Context, id string) (bool, error)
}

// ReadyFunc reports whether dependencies can serve traffic.
type ReadyFunc func(ctx context.Context) error

type Server struct {
	cfg      config.Config
	chat     ChatService
	ready    ReadyFunc
	metrics  *observability.Metrics
	logger   *slog.Logger
	validate *validator.Validate
	limiter  *clientLimiter
	upgrader websocket.Upgrader
}

func New(cfg config.Config, chat ChatService, metrics *observability.Metrics, logger *slog.Logger, ready ReadyFunc) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		chat:     chat,
		ready:    ready,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
		limiter:  newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/health", s.handleLegacyHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/v1/chat", s.handleChat)
		r.Post("/chat", s.handleLegacyChat)
		r.Get("/v1/sessions/ws", s.handleSessionWS)
		r.Get("/v1/sessions/{id}", s.handleGetSession)
		r.Post("/v1/sessions/{id}/close", s.handleCloseSession)
		r.Delete("/v1/sessions/{id}", s.handleDeleteSession)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
