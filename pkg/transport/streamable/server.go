package streamable

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codemaster-ai/codemaster/pkg/logger"
	"github.com/codemaster-ai/codemaster/pkg/transport/types"
)

// Server hosts the streamable HTTP transport: the MCP endpoint, the health
// probe, and optionally a Prometheus metrics endpoint.
type Server struct {
	host string
	port int

	binding           *Binding
	healthHandler     http.Handler
	prometheusHandler http.Handler
	middlewares       []types.Middleware

	server *http.Server
	addr   string
}

// NewServer creates a transport server. healthHandler is mounted on
// /health outside the middleware chain; prometheusHandler is optional and
// mounted on /metrics when non-nil.
func NewServer(
	host string,
	port int,
	binding *Binding,
	healthHandler http.Handler,
	prometheusHandler http.Handler,
	middlewares ...types.Middleware,
) *Server {
	return &Server{
		host:              host,
		port:              port,
		binding:           binding,
		healthHandler:     healthHandler,
		prometheusHandler: prometheusHandler,
		middlewares:       middlewares,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Handle(StreamableHTTPEndpoint, applyMiddlewares(s.binding, s.middlewares...))

	// Liveness must answer regardless of session load, so it skips the
	// middleware chain entirely.
	if s.healthHandler != nil {
		r.Get("/health", s.healthHandler.ServeHTTP)
	}
	if s.prometheusHandler != nil {
		r.Handle("/metrics", s.prometheusHandler)
	}
	return r
}

// Start begins serving in a background goroutine. Use Stop to shut down.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.addr = listener.Addr().String()

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		logger.Infof("Streamable HTTP server started on %s", s.addr)
		logger.Infof("MCP endpoint: http://%s%s", s.addr, StreamableHTTPEndpoint)
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Streamable HTTP server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound address once Start has succeeded. Useful when the
// server was started on port 0.
func (s *Server) Addr() string {
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// applyMiddlewares applies a chain of middlewares to a handler.
// The chain is applied in reverse order so the first middleware listed is
// the outermost.
func applyMiddlewares(handler http.Handler, middlewares ...types.Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
