package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/codemaster-ai/codemaster/pkg/codemaster"
	"github.com/codemaster-ai/codemaster/pkg/healthcheck"
	"github.com/codemaster-ai/codemaster/pkg/logger"
	"github.com/codemaster-ai/codemaster/pkg/transport/session"
	"github.com/codemaster-ai/codemaster/pkg/transport/streamable"
	"github.com/codemaster-ai/codemaster/pkg/versions"
)

const (
	defaultPort     = 9090
	shutdownTimeout = 10 * time.Second
)

var (
	serveHost    string
	servePort    int
	serveMetrics bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Codemaster gateway",
	Long: `Start the streamable HTTP server: the MCP endpoint on /mcp, the liveness
probe on /health, and optionally Prometheus metrics on /metrics. The PORT
environment variable overrides the default port when --port is not given.`,
	RunE: serveCmdFunc,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Host to bind the server to")
	serveCmd.Flags().IntVar(&servePort, "port", defaultPort, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", false, "Expose Prometheus metrics on /metrics")
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	// Re-initialize so the logger picks up the parsed --debug flag.
	logger.Initialize()

	port := servePort
	if !cmd.Flags().Changed("port") {
		if env := os.Getenv("PORT"); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return fmt.Errorf("invalid PORT value %q: %w", env, err)
			}
			port = p
		}
	}

	store := session.NewStore()
	defer store.Stop()

	invoker := codemaster.NewInvoker(versions.GetVersionInfo().Version)
	binding := streamable.NewBinding(store, invoker)
	health := healthcheck.NewHealthChecker("streamable-http", streamable.NewInvokerPinger(invoker))

	var metricsHandler http.Handler
	if serveMetrics {
		metricsHandler = promhttp.Handler()
	}

	server := streamable.NewServer(serveHost, port, binding, health, metricsHandler)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}
