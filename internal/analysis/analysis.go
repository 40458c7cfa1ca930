// Package analysis implements static performance heuristics over source
// files and change sets.
//
// Blocks are found by pairing braces, so only brace-delimited languages
// (JavaScript, TypeScript, Go, Rust, Java, C and their relatives) get
// loop and function structure. Indentation-delimited sources such as Python
// are scanned line by line with no enclosing blocks.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aezell/perfrev/internal/model"
)

// DefaultMaxFunctionLines is the large-function threshold when none is set.
const DefaultMaxFunctionLines = 50

// Finding is a single performance concern attached to a file and line.
type Finding struct {
	File         string         `json:"file"`
	Line         int            `json:"line"` // 1-based, 0 if file-level
	Rule         string         `json:"rule"`
	Category     model.Category `json:"category"`
	Severity     model.Severity `json:"severity"`
	Message      string         `json:"message"`
	SuggestedFix string         `json:"suggestedFix,omitempty"`
	// Function names the enclosing function, when there is one.
	Function string `json:"function,omitempty"`
}

func (f Finding) String() string {
	loc := f.File
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	if f.Function != "" {
		loc += " (" + f.Function + ")"
	}
	return fmt.Sprintf("[%s] %s: %s", f.Rule, loc, f.Message)
}

// MaxSeverity returns the highest severity among findings; SeverityNit when
// there are none.
func MaxSeverity(findings []Finding) model.Severity {
	max := model.SeverityNit
	for _, f := range findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}

// Summary returns a one-line summary of findings.
func Summary(findings []Finding) string {
	if len(findings) == 0 {
		return "No issues found"
	}

	counts := make(map[model.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}

	var parts []string
	for _, sev := range []model.Severity{model.SeverityBlocking, model.SeveritySuggestion, model.SeverityNit} {
		if c := counts[sev]; c > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c, sev))
		}
	}
	return strings.Join(parts, ", ")
}

// ByFile returns findings grouped by file path.
func ByFile(findings []Finding) map[string][]Finding {
	m := make(map[string][]Finding)
	for _, f := range findings {
		m[f.File] = append(m[f.File], f)
	}
	return m
}

// ErrNotText marks content that is not valid UTF-8 text.
var ErrNotText = errors.New("content is not valid UTF-8 text")

// AnalysisError reports a file that could not be analyzed.
type AnalysisError struct {
	Path string
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyzing %s: %v", e.Path, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// MarshalText lets AnalysisError travel inside JSON reports.
func (e AnalysisError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}

// Rule is a single heuristic. Check reports findings with Line, Message
// and SuggestedFix set; the engine fills in the rest from the rule.
type Rule struct {
	ID       string
	Category model.Category
	Severity model.Severity
	Check    func(src *Source) []Finding
}

// Options tunes an Engine.
type Options struct {
	// Rules replaces the catalogue. Nil means DefaultRules().
	Rules []Rule
	// MaxFunctionLines is the large-function threshold.
	MaxFunctionLines int
	// Concurrency bounds per-file work in AnalyzeDirectory.
	Concurrency int
	// CacheSize is the number of memoised results kept.
	CacheSize int
	// Exclude is passed to the diff reader.
	Exclude []string
}

// Engine runs a rule set over files. It is safe for concurrent use.
type Engine struct {
	rules []Rule
	opts  Options

	findings   *lru.Cache[string, []Finding]
	complexity *lru.Cache[string, []ComplexityEstimate]
}

// New returns an engine configured by opts.
func New(opts Options) (*Engine, error) {
	if opts.Rules == nil {
		opts.Rules = DefaultRules()
	}
	if opts.MaxFunctionLines <= 0 {
		opts.MaxFunctionLines = DefaultMaxFunctionLines
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.GOMAXPROCS(0)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}

	findings, err := lru.New[string, []Finding](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating findings cache: %w", err)
	}
	complexity, err := lru.New[string, []ComplexityEstimate](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating complexity cache: %w", err)
	}

	return &Engine{
		rules:      slices.Clone(opts.Rules),
		opts:       opts,
		findings:   findings,
		complexity: complexity,
	}, nil
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() []Rule {
	return slices.Clone(e.rules)
}

// AnalyzeFile runs every rule over content and returns the findings
// ordered by line, then rule.
func (e *Engine) AnalyzeFile(path, content string) ([]Finding, error) {
	if err := checkText(path, content); err != nil {
		return nil, err
	}

	key := cacheKey(path, content)
	if cached, ok := e.findings.Get(key); ok {
		return slices.Clone(cached), nil
	}

	src := e.source(path, content)
	var findings []Finding
	for _, r := range e.rules {
		for _, f := range r.Check(src) {
			f.File = path
			f.Rule = r.ID
			f.Category = r.Category
			f.Severity = r.Severity
			if f.Function == "" {
				f.Function = src.EnclosingFunction(f.Line)
			}
			findings = append(findings, f)
		}
	}
	sortFindings(findings)

	e.findings.Add(key, findings)
	return slices.Clone(findings), nil
}

func (e *Engine) source(path, content string) *Source {
	src := NewSource(path, content)
	src.MaxFunctionLines = e.opts.MaxFunctionLines
	return src
}

func checkText(path, content string) error {
	if !utf8.ValidString(content) || strings.IndexByte(content, 0) >= 0 {
		return &AnalysisError{Path: path, Err: ErrNotText}
	}
	return nil
}

func cacheKey(path, content string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Rule < b.Rule
	})
}
