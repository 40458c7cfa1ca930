package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aezell/perfrev/internal/agent"
	"github.com/aezell/perfrev/internal/config"
	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/llm"
	"github.com/aezell/perfrev/internal/report"
	"github.com/aezell/perfrev/internal/tools"
)

var reviewCmd = &cobra.Command{
	Use:   "review [request]",
	Short: "Let the model review the uncommitted changes",
	Long: `Run a review session. The model inspects the changes under --dir with
the performance analyzers and writes its review as markdown.

The review text streams to stdout; tool activity goes to stderr.

Examples:
  perfrev review                          # review changes in the current directory
  perfrev review --dir ./src              # review a subdirectory
  perfrev review "Suggest a commit message for the changes in '.'"
  perfrev review --report review.md       # always leave a report behind`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringP("dir", "d", ".", "directory whose changes are reviewed")
	reviewCmd.Flags().StringP("report", "r", "", "markdown report path; the review text is saved here if the model does not write it")
	reviewCmd.Flags().Int("max-steps", 0, "maximum model steps")
	reviewCmd.Flags().StringP("model", "m", "", "Gemini model name")
	reviewCmd.Flags().Duration("step-timeout", 0, "timeout for one model step")
	reviewCmd.Flags().Duration("tool-timeout", 0, "timeout for one tool call")
	reviewCmd.Flags().Int("max-retries", 0, "retries for a failed model request")
	reviewCmd.Flags().Int("large-function-lines", 0, "line count above which a function is flagged")
}

// openModel connects to the configured model. Tests replace it.
var openModel = func(ctx context.Context, cfg config.Config, log *slog.Logger) (agent.Model, error) {
	g, err := llm.NewGemini(ctx, llm.Config{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		MaxRetries: cfg.MaxRetries,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, _ := cmd.Flags().GetString("dir")
	request := defaultRequest(dir)
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		request = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(cmd.ErrOrStderr())
	m, err := openModel(ctx, cfg, log)
	if err != nil {
		return err
	}

	r := &reviewer{
		cfg:         cfg,
		forceReport: cmd.Flags().Changed("report"),
		stdout:      cmd.OutOrStdout(),
		stderr:      cmd.ErrOrStderr(),
		log:         log,
	}
	_, err = r.run(ctx, m, request)
	return err
}

// reviewer runs one review session and renders it to a terminal.
type reviewer struct {
	cfg config.Config

	// forceReport saves the review text to cfg.ReportPath when the model
	// never called the report tool.
	forceReport bool
	stdout      io.Writer
	stderr      io.Writer
	log         *slog.Logger

	st styles
	// midLine is set while the last text written to stdout did not end
	// in a newline.
	midLine bool
}

func (r *reviewer) run(ctx context.Context, m agent.Model, request string) (*agent.Artifact, error) {
	engine, err := newEngine(r.cfg)
	if err != nil {
		return nil, err
	}
	diffOpts := diff.Options{Exclude: r.cfg.Exclude}
	registry := tools.NewDefaultRegistry(tools.Deps{
		Engine:      engine,
		ReportPath:  r.cfg.ReportPath,
		DiffOptions: diffOpts,
	})

	r.st = newStyles(r.stderr)
	a := agent.New(m, registry, systemPrompt, agent.Options{
		MaxSteps:    r.cfg.MaxSteps,
		StepTimeout: time.Duration(r.cfg.StepTimeout),
		ToolTimeout: time.Duration(r.cfg.ToolTimeout),
		DiffOptions: diffOpts,
		Hooks: agent.Hooks{
			OnText:       r.onText,
			OnToolCall:   r.onToolCall,
			OnToolResult: r.onToolResult,
		},
		Logger: r.log,
	})

	art, err := a.Run(ctx, request)
	r.endLine()
	if err != nil {
		if art != nil && art.Stop == agent.StopCancelled {
			fmt.Fprintln(r.stderr, r.st.warn.Render(fmt.Sprintf("review cancelled after %d steps", art.Steps)))
		}
		return art, err
	}

	if art.Stop == agent.StopStepLimit {
		fmt.Fprintln(r.stderr, r.st.warn.Render(fmt.Sprintf("stopped at the step limit (%d steps)", art.Steps)))
	}

	if r.forceReport && art.ReportPath == "" && strings.TrimSpace(art.Text) != "" {
		path, err := report.WriteMarkdown(r.cfg.ReportPath, art.Text)
		if err != nil {
			return art, err
		}
		art.ReportPath = path
	}
	if art.ReportPath != "" {
		fmt.Fprintf(r.stderr, "%s review written to %s\n", r.st.ok.Render("✓"), art.ReportPath)
	}
	return art, nil
}

func (r *reviewer) onText(_ int, text string) {
	fmt.Fprint(r.stdout, text)
	r.midLine = !strings.HasSuffix(text, "\n")
}

func (r *reviewer) onToolCall(step int, c agent.ToolCall) {
	r.endLine()
	fmt.Fprintf(r.stderr, "%s %s %s\n",
		r.st.step.Render(fmt.Sprintf("[%d]", step)),
		r.st.tool.Render(c.Name),
		r.st.dim.Render(abbreviate(string(c.Args), 80)))
}

func (r *reviewer) onToolResult(_ int, res agent.ToolResult) {
	if res.Err != nil {
		fmt.Fprintf(r.stderr, "    %s %s: %v\n", r.st.failed.Render("✗"), res.Name, res.Err)
		return
	}
	fmt.Fprintf(r.stderr, "    %s %s %s\n", r.st.ok.Render("✓"), res.Name,
		r.st.dim.Render(fmt.Sprintf("(%d bytes)", len(res.Output))))
}

func (r *reviewer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.stdout)
		r.midLine = false
	}
}

// abbreviate shortens s to at most n runes, collapsing newlines.
func abbreviate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if rs := []rune(s); len(rs) > n {
		return string(rs[:n-1]) + "…"
	}
	return s
}
