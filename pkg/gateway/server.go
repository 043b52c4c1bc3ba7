// DotConnect - WhatsApp conversational agent gateway
// License: MIT
//
// Copyright (c) 2026 DotConnect contributors

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dotsetgreg/dotconnect/pkg/bus"
	"github.com/dotsetgreg/dotconnect/pkg/config"
	"github.com/dotsetgreg/dotconnect/pkg/logger"
	"github.com/dotsetgreg/dotconnect/pkg/session"
)

// Server exposes the webhook that the messaging provider calls for each
// inbound message, plus health and a small admin surface.
//
// The webhook always answers 200 with an empty body. The provider
// retries non-2xx responses, and a retried message would be processed
// twice, so internal failures are logged and swallowed here.
type Server struct {
	cfg        config.GatewayConfig
	bus        *bus.MessageBus
	manager    *session.Manager
	httpServer *http.Server
}

func NewServer(cfg config.GatewayConfig, messageBus *bus.MessageBus, manager *session.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		bus:     messageBus,
		manager: manager,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sessions/close", s.handleCloseSession)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	logger.InfoCF("gateway", "HTTP gateway listening", map[string]interface{}{
		"addr": s.httpServer.Addr,
	})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway listen: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Acknowledge no matter what happens below.
	defer w.WriteHeader(http.StatusOK)

	if err := r.ParseForm(); err != nil {
		logger.WarnCF("gateway", "Malformed webhook form", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	sid := r.PostFormValue("MessageSid")

	identity := session.NormalizeIdentity(from)
	if identity == "" || body == "" {
		logger.WarnCF("gateway", "Webhook missing sender or body", map[string]interface{}{
			"message_sid": sid,
		})
		return
	}

	s.bus.PublishInbound(bus.InboundMessage{
		Identity:   identity,
		Text:       body,
		MessageSID: sid,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleCloseSession is an operator escape hatch to end a session early.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "admin"
	}

	if err := s.manager.Close(r.Context(), req.SessionID, req.Reason); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		logger.ErrorCF("gateway", "Admin close failed", map[string]interface{}{
			"session_id": req.SessionID,
			"error":      err.Error(),
		})
		http.Error(w, "close failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "closed"})
}
