// Package api provides the HTTP and WebSocket server for running backtests
// and serving their results. It is a presentation layer only: all simulation
// and analysis happens in the backtest, analyzer, and batch packages.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantlab/portfolio-backend/internal/batch"
	"github.com/quantlab/portfolio-backend/internal/pricedata"
	"github.com/quantlab/portfolio-backend/internal/registry"
	"github.com/quantlab/portfolio-backend/pkg/types"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*client

	provider    pricedata.Provider
	registry    *registry.Registry
	runner      *batch.Runner
	metrics     *Metrics
	defaultTopN int

	runs map[string]*runState
}

// runState tracks one submitted backtest
type runState struct {
	ID       string
	Config   *types.BacktestConfig
	Status   string // "running", "completed", "failed"
	Started  time.Time
	Result   *types.BacktestResult
	ErrorMsg string
}

// NewServer creates a new API server. A nil batch config means default
// worker and drawdown settings.
func NewServer(logger *zap.Logger, config *types.ServerConfig, batchConfig *types.BatchConfig, provider pricedata.Provider, reg *registry.Registry) *Server {
	runner := batch.NewRunner(logger, provider, reg)
	defaultTopN := 0
	if batchConfig != nil {
		runner.SetMaxWorkers(batchConfig.MaxWorkers)
		defaultTopN = batchConfig.DrawdownTopN
	}

	s := &Server{
		logger:      logger,
		config:      config,
		router:      mux.NewRouter(),
		clients:     make(map[string]*client),
		provider:    provider,
		registry:    reg,
		runner:      runner,
		metrics:     NewMetrics(),
		defaultTopN: defaultTopN,
		runs:        make(map[string]*runState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	// Reference data
	s.router.HandleFunc("/api/v1/instruments", s.handleGetInstruments).Methods("GET")

	// Backtest endpoints
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/compare", s.handleCompare).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/rolling", s.handleRollingWindow).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	// WebSocket
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
