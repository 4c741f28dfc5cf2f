package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/tixrag/internal/logging"
	"github.com/54b3r/tixrag/internal/server"
	"github.com/54b3r/tixrag/internal/tracing"
)

// startupCheckTimeout bounds the dependency check run before serving.
const startupCheckTimeout = 10 * time.Second

// NewServeCmd constructs the `tixrag serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tixrag HTTP API",
		Long: `Start the tixrag HTTP API.

Routes:
  POST /api/tickets          create or replace one ticket
  POST /api/tickets/batch    ingest a JSON array of tickets
  GET  /api/tickets/{id}     fetch a stored ticket
  POST /api/search           similar tickets for a query
  POST /api/guide            troubleshooting guide (JSON, or SSE with "stream": true)
  GET  /api/health           liveness
  GET  /api/ready            record store and Ollama reachability
  GET  /metrics              Prometheus metrics

Examples:
  tixrag serve
  tixrag serve --port 9090
  TIXRAG_STORE=postgres POSTGRES_DSN=postgres://... tixrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("store", getEnvOrDefault("TIXRAG_STORE", storeSQLite)),
			)

			flush := tracing.Install(tracing.ConfigFromEnv(), log)
			defer flush()

			c, err := openCorpus(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = c.Close() }()

			history, closeHistory := buildHistory(log)
			defer closeHistory()

			helpdesk, providerCfg, err := buildAgent(ctx, c.retriever, history, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pipeline, err := c.pipeline(nil)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := buildPingers(c, providerCfg)
			checkDependencies(ctx, log, pingers)

			srv, err := server.New(server.Deps{
				Guides:    helpdesk,
				Retriever: c.retriever,
				Ingester:  pipeline,
				Records:   c.store,
			}, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: getEnvFloat("TIXRAG_RATE_LIMIT", 0),
				RateBurst: getEnvInt("TIXRAG_RATE_BURST", 0),
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

// checkDependencies pings every dependency once before serving. Failures
// are logged, not fatal: /api/ready reports them until they recover.
func checkDependencies(ctx context.Context, log *slog.Logger, pingers []server.Pinger) {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	if err := server.NewMultiPinger(pingers...).Ping(ctx); err != nil {
		log.Warn("serve: dependency check failed, starting anyway", slog.Any("error", err))
		return
	}
	log.Info("serve: dependencies reachable", slog.Int("checks", len(pingers)))
}
