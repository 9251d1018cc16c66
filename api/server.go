package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"smartflow/database"
	"smartflow/notifications"
	"smartflow/realtime"
	"smartflow/registry"
)

// Server handles HTTP API requests
type Server struct {
	repo      *database.Repository
	webhookMq *notifications.WebhookManager
	broker    *realtime.Broker
	registry  *registry.Registry
}

// NewServer creates a new API server instance
func NewServer(repo *database.Repository, webhookMq *notifications.WebhookManager, broker *realtime.Broker, reg *registry.Registry) *Server {
	return &Server{
		repo:      repo,
		webhookMq: webhookMq,
		broker:    broker,
		registry:  reg,
	}
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	// Register routes
	mux.Handle("GET /api/events", s.broker) // SSE Endpoint
	mux.HandleFunc("GET /api/flows", s.handleGetFlows)
	mux.HandleFunc("GET /api/entities", s.handleGetEntities)
	mux.HandleFunc("GET /api/positions", s.handleGetPositions)

	// Webhook Management Routes
	mux.HandleFunc("GET /api/config/webhooks", s.handleGetWebhooks)
	mux.HandleFunc("POST /api/config/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("PUT /api/config/webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/config/webhooks/{id}", s.handleDeleteWebhook)

	mux.HandleFunc("GET /health", s.handleHealth)

	// Add middleware
	handler := s.corsMiddleware(s.loggingMiddleware(mux))

	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Printf("🚀 API Server starting on %s", serverAddr)
	return http.ListenAndServe(serverAddr, handler)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
