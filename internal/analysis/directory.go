package analysis

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"golang.org/x/sync/errgroup"

	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/model"
)

// Observation kinds.
const (
	ObservationRepeatedRule   = "repeated-rule"
	ObservationSharedHotPath  = "shared-hot-path"
	ObservationDuplicateBlock = "duplicate-block"
)

// Observation is a finding that only shows up across several files.
type Observation struct {
	Kind    string   `json:"kind"`
	Rule    string   `json:"rule,omitempty"`
	Files   []string `json:"files"`
	Message string   `json:"message"`
}

// DirectoryReport is the outcome of analyzing every changed file under a
// directory.
type DirectoryReport struct {
	Dir string `json:"dir"`
	// Files lists the analyzed paths; Deleted lists changes with no
	// current content.
	Files        []string        `json:"files"`
	Deleted      []string        `json:"deleted,omitempty"`
	Findings     []Finding       `json:"findings"`
	Errors       []AnalysisError `json:"errors,omitempty"`
	Observations []Observation   `json:"observations,omitempty"`
}

// MaxSeverity returns the highest severity among the report's findings.
func (r *DirectoryReport) MaxSeverity() model.Severity {
	return MaxSeverity(r.Findings)
}

// Summary returns a one-line summary of the report.
func (r *DirectoryReport) Summary() string {
	s := fmt.Sprintf("%d files analyzed: %s", len(r.Files), Summary(r.Findings))
	if n := len(r.Observations); n > 0 {
		s += fmt.Sprintf("; %d cross-file observations", n)
	}
	if n := len(r.Errors); n > 0 {
		s += fmt.Sprintf("; %d files failed", n)
	}
	return s
}

type fileResult struct {
	change   model.FileChange
	content  string
	findings []Finding
	err      *AnalysisError
}

// AnalyzeDirectory analyzes the current content of every changed file
// under dir. Per-file failures land in the report's Errors; only an
// unreadable change set fails the call.
func (e *Engine) AnalyzeDirectory(ctx context.Context, dir string) (*DirectoryReport, error) {
	changes, err := diff.Load(ctx, dir, diff.Options{Exclude: e.opts.Exclude})
	if err != nil {
		return nil, err
	}
	root, err := repoRootFor(ctx, dir)
	if err != nil {
		return nil, err
	}

	report := &DirectoryReport{Dir: dir, Findings: []Finding{}}
	var targets []model.FileChange
	for _, c := range changes {
		if c.Kind == model.ChangeDeleted {
			report.Deleted = append(report.Deleted, c.Path)
			continue
		}
		targets = append(targets, c)
	}

	results := make([]fileResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, c := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i].change = c

			data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(c.Path)))
			if err != nil {
				results[i].err = &AnalysisError{Path: c.Path, Err: err}
				return nil
			}
			results[i].content = string(data)

			findings, err := e.AnalyzeFile(c.Path, results[i].content)
			if err != nil {
				var ae *AnalysisError
				if !errors.As(err, &ae) {
					ae = &AnalysisError{Path: c.Path, Err: err}
				}
				results[i].err = ae
				return nil
			}
			results[i].findings = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var analyzed []fileResult
	for _, r := range results {
		if r.err != nil {
			report.Errors = append(report.Errors, *r.err)
			continue
		}
		report.Files = append(report.Files, r.change.Path)
		report.Findings = append(report.Findings, r.findings...)
		analyzed = append(analyzed, r)
	}
	sortFindings(report.Findings)

	report.Observations = append(report.Observations, repeatedRules(report.Findings)...)
	report.Observations = append(report.Observations, sharedHotPaths(report.Findings, analyzed)...)
	report.Observations = append(report.Observations, duplicateBlocks(analyzed)...)
	return report, nil
}

func repoRootFor(ctx context.Context, dir string) (string, error) {
	cwd := dir
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		cwd = filepath.Dir(dir)
	}
	return diff.RepoRoot(ctx, cwd)
}

// repeatedRules reports rules that fire in two or more files.
func repeatedRules(findings []Finding) []Observation {
	files := make(map[string][]string)
	var rules []string
	for _, f := range findings {
		if _, ok := files[f.Rule]; !ok {
			rules = append(rules, f.Rule)
		}
		files[f.Rule] = append(files[f.Rule], f.File)
	}
	sort.Strings(rules)

	var obs []Observation
	for _, rule := range rules {
		// Findings arrive sorted by file.
		list := slices.Compact(files[rule])
		if len(list) < 2 {
			continue
		}
		obs = append(obs, Observation{
			Kind:    ObservationRepeatedRule,
			Rule:    rule,
			Files:   list,
			Message: fmt.Sprintf("%s appears in %d files: %s", rule, len(list), strings.Join(list, ", ")),
		})
	}
	return obs
}

// sharedHotPaths reports flagged functions that two or more other changed
// files reference.
func sharedHotPaths(findings []Finding, analyzed []fileResult) []Observation {
	seen := make(map[string]bool)
	var obs []Observation
	for _, f := range findings {
		if len(f.Function) < 3 || f.Severity < model.SeveritySuggestion {
			continue
		}
		key := f.File + "\x00" + f.Function
		if seen[key] {
			continue
		}
		seen[key] = true

		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(f.Function) + `\b`)
		var refs []string
		for _, r := range analyzed {
			if r.change.Path != f.File && pattern.MatchString(r.content) {
				refs = append(refs, r.change.Path)
			}
		}
		if len(refs) < 2 {
			continue
		}
		obs = append(obs, Observation{
			Kind:    ObservationSharedHotPath,
			Rule:    f.Rule,
			Files:   append([]string{f.File}, refs...),
			Message: fmt.Sprintf("%s in %s is flagged by %s and referenced from %d other changed files", f.Function, f.File, f.Rule, len(refs)),
		})
	}
	return obs
}

// duplicateBlocks looks for near-duplicate blocks added in different
// files, using a sliding window over added lines.
func duplicateBlocks(analyzed []fileResult) []Observation {
	const windowSize = 4

	type blockLoc struct {
		file string
		line int
	}
	blocks := make(map[string][]blockLoc)
	var order []string

	for _, r := range analyzed {
		ds, err := diff.Parse(r.change.DiffText)
		if err != nil {
			continue
		}

		type addedLine struct {
			text    string
			lineNum int
		}
		var added []addedLine
		for _, f := range ds.Files {
			for _, frag := range f.Fragments {
				lineNum := int(frag.NewPosition)
				for _, line := range frag.Lines {
					if line.Op == gitdiff.OpAdd {
						trimmed := strings.TrimSpace(line.Line)
						if trimmed != "" && trimmed != "{" && trimmed != "}" && trimmed != ")" && trimmed != "(" && trimmed != "});" {
							added = append(added, addedLine{text: trimmed, lineNum: lineNum})
						}
					}
					if line.Op == gitdiff.OpAdd || line.Op == gitdiff.OpContext {
						lineNum++
					}
				}
			}
		}

		for i := 0; i+windowSize <= len(added); i++ {
			var window []string
			for j := 0; j < windowSize; j++ {
				window = append(window, added[i+j].text)
			}
			h := hashBlock(window)
			if _, ok := blocks[h]; !ok {
				order = append(order, h)
			}
			blocks[h] = append(blocks[h], blockLoc{file: r.change.Path, line: added[i].lineNum})
		}
	}

	reported := make(map[string]bool)
	var obs []Observation
	for _, h := range order {
		locs := blocks[h]
		var files, where []string
		for _, l := range locs {
			if !slices.Contains(files, l.file) {
				files = append(files, l.file)
				where = append(where, fmt.Sprintf("%s:%d", l.file, l.line))
			}
		}
		if len(files) < 2 {
			continue
		}
		// Overlapping windows of one duplicated run share a file set.
		key := strings.Join(files, "\x00")
		if reported[key] {
			continue
		}
		reported[key] = true
		obs = append(obs, Observation{
			Kind:    ObservationDuplicateBlock,
			Files:   files,
			Message: fmt.Sprintf("Near-duplicate block at %s; consider a shared helper", strings.Join(where, " and ")),
		})
	}
	return obs
}

func hashBlock(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
