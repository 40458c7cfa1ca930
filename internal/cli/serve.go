package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aezell/perfrev/internal/agent"
	"github.com/aezell/perfrev/internal/api"
	"github.com/aezell/perfrev/internal/config"
	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the perfrev analyzers.

Endpoints:
  GET  /health              Health check
  POST /api/analyze         Analyze one file or the new side of a diff
  POST /api/complexity      Estimate loop and recursion complexity
  POST /api/parse           Parse a diff into structured files
  POST /api/commit-message  Suggest a commit message for a diff
  GET  /api/ws              WebSocket for streaming review sessions

Review sessions need GEMINI_API_KEY; the other endpoints work without it.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "127.0.0.1", "address to listen on")
	serveCmd.Flags().IntP("port", "p", 6142, "port to listen on")
	serveCmd.Flags().Int("max-retries", 0, "retries for a failed model request")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr())

	srv, err := newServer(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func newServer(cfg config.Config, log *slog.Logger) (*api.Server, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	diffOpts := diff.Options{Exclude: cfg.Exclude}
	return api.New(fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port), api.Options{
		Engine: engine,
		Tools: tools.NewDefaultRegistry(tools.Deps{
			Engine:      engine,
			ReportPath:  cfg.ReportPath,
			DiffOptions: diffOpts,
		}),
		Model: func(ctx context.Context) (agent.Model, error) {
			return openModel(ctx, cfg, log)
		},
		System: systemPrompt,
		Agent: agent.Options{
			MaxSteps:    cfg.MaxSteps,
			StepTimeout: time.Duration(cfg.StepTimeout),
			ToolTimeout: time.Duration(cfg.ToolTimeout),
			DiffOptions: diffOpts,
		},
		Logger: log,
	})
}
