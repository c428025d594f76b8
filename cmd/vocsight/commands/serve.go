package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vocsight/vocsight-go/internal/logging"
	"github.com/vocsight/vocsight-go/internal/server"
	"github.com/vocsight/vocsight-go/internal/tracing"
)

// NewServeCmd constructs the `vocsight serve` command, which starts the HTTP
// server exposing the processing engine over a REST/SSE API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the VocSight HTTP server",
		Long: `Start the VocSight HTTP server on localhost.

The server accepts VOC row batches on POST /api/process, streams session
progress as Server-Sent Events, exposes pause/resume/cancel controls, and
serves similarity search and store statistics. Prometheus metrics are
published on /metrics.

Examples:
  vocsight serve
  vocsight serve --port 9090
  MODEL_PROVIDER=azure vocsight serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			reg := prometheus.NewRegistry()
			eng, vectors, sessions, cleanup, err := buildEngine(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer cleanup()

			retriever, err := buildRetriever(vectors, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{
				server.NewStorePinger(vectors),
			}
			if ollamaHost := os.Getenv("OLLAMA_HOST"); ollamaHost != "" {
				pingers = append(pingers, server.NewHTTPPinger(ollamaHost, "ollama"))
			}

			srv, err := server.New(eng, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Sessions:        sessions,
				Retriever:       retriever,
				Vectors:         vectors,
				Pingers:         pingers,
				APIKey:          os.Getenv("VOCSIGHT_API_KEY"),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
