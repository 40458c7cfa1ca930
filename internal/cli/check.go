package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aezell/perfrev/internal/analysis"
	"github.com/aezell/perfrev/internal/commit"
	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/model"
)

var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Run the analyzers and output a report (no model)",
	Long: `Run the performance analyzers on the uncommitted changes under dir
and print a structured report. Useful for CI and pre-commit hooks.

Exit codes:
  0  clean, or nits only
  1  suggestions found
  2  blocking findings found
  3  the check could not run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringP("format", "f", "text", "output format: text, json, markdown, html")
	checkCmd.Flags().Bool("commit-msg", false, "also print a suggested commit message")
	checkCmd.Flags().Bool("complexity", false, "also estimate the complexity of each changed file")
	checkCmd.Flags().Int("large-function-lines", 0, "line count above which a function is flagged")
}

// checkOptions selects what a check prints.
type checkOptions struct {
	format     string
	commitMsg  bool
	complexity bool
}

// checkResult is everything a check produced.
type checkResult struct {
	Report        *analysis.DirectoryReport
	Complexity    map[string][]analysis.ComplexityEstimate
	CommitMessage string
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	var opts checkOptions
	opts.format, _ = cmd.Flags().GetString("format")
	opts.commitMsg, _ = cmd.Flags().GetBool("commit-msg")
	opts.complexity, _ = cmd.Flags().GetBool("complexity")
	switch opts.format {
	case "text", "json", "markdown", "html":
	default:
		return fmt.Errorf("unknown format %q: want text, json, markdown or html", opts.format)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	ctx := diff.WithSnapshot(cmd.Context(), diff.NewSnapshot(diff.Options{Exclude: cfg.Exclude}))
	res, err := check(ctx, engine, dir, opts)
	if err != nil {
		return err
	}
	if err := writeCheck(cmd.OutOrStdout(), res, opts.format); err != nil {
		return err
	}
	exitCode = checkExitCode(res.Report.MaxSeverity())
	return nil
}

func check(ctx context.Context, engine *analysis.Engine, dir string, opts checkOptions) (*checkResult, error) {
	rep, err := engine.AnalyzeDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}
	res := &checkResult{Report: rep}

	if opts.complexity && len(rep.Files) > 0 {
		root, err := diff.RepoRoot(ctx, dir)
		if err != nil {
			return nil, err
		}
		res.Complexity = make(map[string][]analysis.ComplexityEstimate)
		for _, f := range rep.Files {
			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f)))
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			est, err := engine.AnalyzeComplexity(f, string(data))
			if err != nil {
				return nil, err
			}
			if len(est) > 0 {
				res.Complexity[f] = est
			}
		}
	}

	if opts.commitMsg {
		changes, err := diff.Load(ctx, dir, diff.Options{})
		if err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			msg, err := commit.Generate(changes)
			if err != nil {
				return nil, err
			}
			res.CommitMessage = msg
		}
	}
	return res, nil
}

func checkExitCode(sev model.Severity) int {
	switch sev {
	case model.SeverityBlocking:
		return ExitBlocking
	case model.SeveritySuggestion:
		return ExitSuggestions
	default:
		return ExitSuccess
	}
}

func writeCheck(w io.Writer, res *checkResult, format string) error {
	switch format {
	case "json":
		return outputJSON(w, res)
	case "markdown":
		return outputMarkdown(w, res)
	case "html":
		return outputHTML(w, res)
	default:
		return outputText(w, res)
	}
}

func outputText(w io.Writer, res *checkResult) error {
	rep := res.Report
	st := newStyles(w)
	fmt.Fprintf(w, "%s\n\n", rep.Summary())

	if len(rep.Findings) == 0 {
		fmt.Fprintln(w, st.ok.Render("No issues found."))
	}
	byFile := analysis.ByFile(rep.Findings)
	for _, file := range sortedKeys(byFile) {
		fmt.Fprintf(w, "  %s\n", st.tool.Render(file))
		for _, f := range byFile[file] {
			loc := file
			if f.Line > 0 {
				loc = fmt.Sprintf("%s:%d", file, f.Line)
			}
			fmt.Fprintf(w, "    %s [%s] %s: %s\n", st.severity(f.Severity).Render(severityIcon(f.Severity)), f.Rule, loc, f.Message)
			if f.SuggestedFix != "" {
				fmt.Fprintf(w, "       %s\n", st.dim.Render(f.SuggestedFix))
			}
		}
		fmt.Fprintln(w)
	}

	if len(rep.Observations) > 0 {
		fmt.Fprintln(w, "  Across files")
		for _, o := range rep.Observations {
			fmt.Fprintf(w, "    %s %s\n", st.warn.Render("~"), o.Message)
		}
		fmt.Fprintln(w)
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  %s %s\n", st.failed.Render("✗"), e.Error())
	}

	for _, file := range sortedKeys(res.Complexity) {
		fmt.Fprintf(w, "  %s complexity\n", st.tool.Render(file))
		for _, e := range res.Complexity[file] {
			fmt.Fprintf(w, "    line %-4d %-12s %s\n", e.Line, e.Estimate, st.dim.Render(e.Construct))
		}
		fmt.Fprintln(w)
	}

	if res.CommitMessage != "" {
		fmt.Fprintf(w, "Suggested commit message:\n\n%s\n", res.CommitMessage)
	}
	return nil
}

func outputJSON(w io.Writer, res *checkResult) error {
	type jsonOutput struct {
		Summary       string                                   `json:"summary"`
		MaxSeverity   model.Severity                           `json:"max_severity"`
		Total         int                                      `json:"total"`
		Report        *analysis.DirectoryReport                `json:"report"`
		Complexity    map[string][]analysis.ComplexityEstimate `json:"complexity,omitempty"`
		CommitMessage string                                   `json:"commit_message,omitempty"`
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonOutput{
		Summary:       res.Report.Summary(),
		MaxSeverity:   res.Report.MaxSeverity(),
		Total:         len(res.Report.Findings),
		Report:        res.Report,
		Complexity:    res.Complexity,
		CommitMessage: res.CommitMessage,
	})
}

func outputMarkdown(w io.Writer, res *checkResult) error {
	rep := res.Report
	fmt.Fprintf(w, "## Performance Report\n\n")
	fmt.Fprintf(w, "**%d file(s)** analyzed in `%s`\n\n", len(rep.Files), rep.Dir)
	fmt.Fprintf(w, "**Max severity:** %s | **Findings:** %d\n\n", rep.MaxSeverity(), len(rep.Findings))

	if len(rep.Findings) == 0 {
		fmt.Fprintln(w, "No issues found.")
	} else {
		fmt.Fprintln(w, "| Severity | Rule | Location | Message |")
		fmt.Fprintln(w, "|----------|------|----------|---------|")
		for _, f := range rep.Findings {
			fmt.Fprintf(w, "| %s | %s | `%s` | %s |\n", f.Severity, f.Rule, location(f), escapeTable(f.Message))
		}
	}

	if len(rep.Observations) > 0 {
		fmt.Fprintf(w, "\n### Across files\n\n")
		for _, o := range rep.Observations {
			fmt.Fprintf(w, "- %s\n", o.Message)
		}
	}

	if len(res.Complexity) > 0 {
		fmt.Fprintf(w, "\n### Complexity\n\n")
		fmt.Fprintln(w, "| Location | Construct | Estimate |")
		fmt.Fprintln(w, "|----------|-----------|----------|")
		for _, file := range sortedKeys(res.Complexity) {
			for _, e := range res.Complexity[file] {
				fmt.Fprintf(w, "| `%s:%d` | %s | %s |\n", file, e.Line, escapeTable(e.Construct), e.Estimate)
			}
		}
	}

	if res.CommitMessage != "" {
		fmt.Fprintf(w, "\n### Suggested commit message\n\n```\n%s\n```\n", res.CommitMessage)
	}
	return nil
}

func outputHTML(w io.Writer, res *checkResult) error {
	rep := res.Report
	top := rep.MaxSeverity()

	fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>perfrev Performance Report</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 900px; margin: 40px auto; padding: 0 20px; background: #282a36; color: #f8f8f2; }
  h1 { color: #bd93f9; }
  .summary { background: #343746; padding: 16px; border-radius: 8px; margin-bottom: 24px; }
  .summary span { margin-right: 24px; }
  .sev-blocking { color: #ff5555; font-weight: bold; }
  .sev-suggestion { color: #f1fa8c; }
  .sev-nit { color: #6272a4; }
  table { width: 100%; border-collapse: collapse; }
  th { text-align: left; padding: 8px 12px; background: #44475a; color: #f8f8f2; }
  td { padding: 8px 12px; border-bottom: 1px solid #44475a; }
  tr:hover { background: #343746; }
  .rule { color: #bd93f9; }
  .file { color: #8be9fd; }
  code { background: #343746; padding: 2px 6px; border-radius: 4px; font-size: 0.9em; }
  .clean { color: #50fa7b; font-size: 1.2em; }
  footer { margin-top: 32px; color: #6272a4; font-size: 0.85em; }
</style>
</head>
<body>
<h1>perfrev Performance Report</h1>
`)

	fmt.Fprintf(w, `<div class="summary">
  <span><strong>%d</strong> file(s) analyzed</span>
  <span>Max severity: <span class="sev-%s">%s</span></span>
  <span>Findings: <strong>%d</strong></span>
</div>
`, len(rep.Files), top, top, len(rep.Findings))

	if len(rep.Findings) == 0 {
		fmt.Fprintln(w, `<p class="clean">No issues found.</p>`)
	} else {
		fmt.Fprintln(w, `<table>
<thead><tr><th>Severity</th><th>Rule</th><th>Location</th><th>Message</th></tr></thead>
<tbody>`)
		for _, f := range rep.Findings {
			fmt.Fprintf(w, `<tr><td class="sev-%s">%s</td><td class="rule">%s</td><td class="file"><code>%s</code></td><td>%s</td></tr>
`, f.Severity, f.Severity, f.Rule, html.EscapeString(location(f)), html.EscapeString(f.Message))
		}
		fmt.Fprintln(w, `</tbody></table>`)
	}

	if len(rep.Observations) > 0 {
		fmt.Fprintln(w, `<h2>Across files</h2>
<ul>`)
		for _, o := range rep.Observations {
			fmt.Fprintf(w, "<li>%s</li>\n", html.EscapeString(o.Message))
		}
		fmt.Fprintln(w, `</ul>`)
	}

	if res.CommitMessage != "" {
		fmt.Fprintf(w, "<h2>Suggested commit message</h2>\n<pre><code>%s</code></pre>\n", html.EscapeString(res.CommitMessage))
	}

	fmt.Fprintln(w, `<footer>Generated by <strong>perfrev</strong></footer>
</body>
</html>`)
	return nil
}

func location(f analysis.Finding) string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return f.File
}

func escapeTable(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func severityIcon(s model.Severity) string {
	switch s {
	case model.SeverityBlocking:
		return "!!"
	case model.SeveritySuggestion:
		return "* "
	default:
		return "- "
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
