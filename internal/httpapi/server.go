// Package httpapi serves the administrative HTTP API of a robomesh node:
// JWT-authenticated endpoints for inspecting and driving the router, the
// websocket link endpoint and the Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/robomesh/internal/meshnode"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
)

// Version is reported at the API root
var Version = "dev"

const devSecretKey = "robomesh-dev-secret-change-me"

// Config holds server configuration
type Config struct {
	// Address is the host:port to listen on
	Address string

	SecretKey   string
	AdminSecret string
	TokenTTL    time.Duration

	// NoAuth bypasses token checks on non-admin endpoints
	NoAuth bool

	// RequestTimeout bounds discover and ping round trips
	RequestTimeout time.Duration

	// PollInterval is how often log streams look for new records
	PollInterval time.Duration

	// KeepAliveInterval spaces SSE comments on idle log streams
	KeepAliveInterval time.Duration
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.SecretKey == "" {
		c.SecretKey = devSecretKey
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 15 * time.Second
	}
}

// Server represents the HTTP API server
type Server struct {
	node       *meshnode.Node
	config     Config
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP API server for node
func NewServer(node *meshnode.Node, config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")
	config.SetDefaults()
	if config.SecretKey == devSecretKey {
		logger.Warn("Using the development token secret; set a secret key in production")
	}

	jwtAuth := NewJWTAuth(config.SecretKey, config.TokenTTL)
	middleware := NewMiddleware(jwtAuth, config.NoAuth, logger)
	middleware.metrics = metrics.NewHTTPMetrics(node.Metrics())

	s := &Server{
		node:       node,
		config:     config,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(node, jwtAuth, config, logger),
		middleware: middleware,
		logger:     logger,
	}
	s.server = &http.Server{
		Addr:              config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("HTTP API listening", "address", l.Addr().String())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the full route table
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	auth := s.middleware.AuthRequired
	admin := s.middleware.AdminRequired
	asJSON := s.middleware.ContentType

	api.HandleFunc("GET /{$}", asJSON(s.handlers.Info))
	api.HandleFunc("POST /api/v1/auth/login", asJSON(s.handlers.Login))
	api.HandleFunc("GET /api/v1/health", asJSON(s.handlers.Health))

	api.HandleFunc("GET /api/v1/topics", asJSON(auth(s.handlers.Topics)))
	api.HandleFunc("GET /api/v1/links", asJSON(auth(s.handlers.Links)))
	api.HandleFunc("POST /api/v1/transmit", asJSON(auth(s.handlers.Transmit)))
	api.HandleFunc("GET /api/v1/logs/{target}", asJSON(auth(s.handlers.Logs)))
	api.HandleFunc("GET /api/v1/logs/{target}/stream", auth(s.handlers.StreamLogs))
	api.HandleFunc("GET /api/v1/discover/{peer...}", asJSON(auth(s.handlers.Discover)))
	api.HandleFunc("POST /api/v1/ping", asJSON(auth(s.handlers.Ping)))
	api.HandleFunc("POST /api/v1/rpc/query", asJSON(auth(s.handlers.Query)))
	api.HandleFunc("POST /api/v1/rpc/signal", asJSON(auth(s.handlers.Signal)))

	api.HandleFunc("POST /api/v1/links", asJSON(admin(s.handlers.Connect)))
	api.HandleFunc("DELETE /api/v1/links/{name}", asJSON(admin(s.handlers.Disconnect)))
	api.HandleFunc("GET /api/v1/admin/stats", asJSON(admin(s.handlers.Stats)))
	api.HandleFunc("GET /api/v1/admin/bridge", asJSON(admin(s.handlers.BridgeRecords)))

	// Link upgrades hijack the connection, so they bypass the
	// response-wrapping middleware.
	root := http.NewServeMux()
	root.Handle("GET /api/v1/link", s.node.LinkHandler())
	root.Handle("GET /metrics", s.node.Metrics().Handler())
	root.Handle("/", s.middleware.Recovery(s.middleware.Logging(s.middleware.CORS(api.ServeHTTP))))
	return root
}
