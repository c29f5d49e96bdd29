package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vendaflow/vendaflow/internal/bus"
)

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// RateLimitRPM limits webhook posts per source IP per minute. 0 disables.
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`
	// MaxBodyBytes bounds the webhook request body.
	MaxBodyBytes int64 `json:"max_body_bytes,omitempty"`
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 18850
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}

// Server exposes the webhook ingestion endpoint over HTTP.
type Server struct {
	cfg        ServerConfig
	ingestor   *Ingestor
	limiter    *WebhookRateLimiter
	httpServer *http.Server
}

// NewServer builds the server around an ingestor.
func NewServer(cfg ServerConfig, ingestor *Ingestor) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:      cfg,
		ingestor: ingestor,
		limiter:  NewWebhookRateLimiter(cfg.RateLimitRPM),
	}
}

// Router builds the chi router with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/inbound", s.handleInbound)
	return r
}

// Start begins listening. Non-blocking after the listener is bound.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway: webhook server listening", "addr", addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway: server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// webhookPayload is the provider-facing wire shape. Timestamps arrive as unix
// seconds; zero means "not provided" and the gateway stamps arrival itself.
type webhookPayload struct {
	ProviderMessageID     string            `json:"provider_message_id"`
	RawContactIdentifier  string            `json:"raw_contact_identifier"`
	ParticipantIdentifier string            `json:"participant_identifier,omitempty"`
	Text                  string            `json:"text"`
	MessageType           string            `json:"message_type,omitempty"`
	ProviderTimestamp     int64             `json:"provider_timestamp,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.RemoteAddr) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	ev := bus.InboundEvent{
		ProviderMessageID:     payload.ProviderMessageID,
		RawContactIdentifier:  payload.RawContactIdentifier,
		ParticipantIdentifier: payload.ParticipantIdentifier,
		Text:                  payload.Text,
		MessageType:           payload.MessageType,
		Metadata:              payload.Metadata,
	}
	if payload.ProviderTimestamp > 0 {
		ev.ProviderTimestamp = time.Unix(payload.ProviderTimestamp, 0)
	}

	decision := s.ingestor.Ingest(ev)

	// Replays and stale events are not caller errors: the provider did its
	// job delivering, we just decline to process. 200 keeps retry storms away.
	writeJSON(w, http.StatusOK, decision)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
