// Package cli implements the perfrev command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aezell/perfrev/internal/analysis"
	"github.com/aezell/perfrev/internal/config"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitSuggestions  = 1
	ExitBlocking     = 2
	ExitRuntimeError = 3
)

var rootCmd = &cobra.Command{
	Use:   "perfrev",
	Short: "Performance-focused code review assistant",
	Long: `perfrev reviews the uncommitted changes in a git repository with a
focus on performance. "review" lets a Gemini model drive the analyzers
and write a markdown report; "check" runs the analyzers on their own.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.AddCommand(reviewCmd, checkCmd, serveCmd, versionCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	exitCode = ExitSuccess
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return ExitRuntimeError
	}
	return exitCode
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"model":                "model",
	"max-steps":            "maxSteps",
	"step-timeout":         "stepTimeout",
	"tool-timeout":         "toolTimeout",
	"max-retries":          "maxRetries",
	"large-function-lines": "largeFunctionLines",
	"report":               "reportPath",
	"addr":                 "addr",
	"port":                 "port",
}

// loadConfig resolves the config with the flags the user set on cmd as
// the top layer.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	overrides := make(map[string]string)
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f != nil && f.Changed {
			overrides[key] = f.Value.String()
		}
	}
	cfg, err := config.Load(overrides)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newEngine(cfg config.Config) (*analysis.Engine, error) {
	return analysis.New(analysis.Options{
		MaxFunctionLines: cfg.LargeFunctionLines,
		Exclude:          cfg.Exclude,
	})
}
