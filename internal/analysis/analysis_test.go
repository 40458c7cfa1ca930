package analysis

import (
	"errors"
	"strings"
	"testing"

	"github.com/aezell/perfrev/internal/model"
)

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func analyze(t *testing.T, path, content string) []Finding {
	t.Helper()
	findings, err := newEngine(t, Options{}).AnalyzeFile(path, content)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	return findings
}

func byRule(findings []Finding, rule string) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Rule == rule {
			out = append(out, f)
		}
	}
	return out
}

func byCategory(findings []Finding, cat model.Category) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

// --- Algorithmic complexity ---

const nestedLoopTS = `function inefficientSearch(items: string[], target: string): boolean {
  for (let i = 0; i < items.length; i++) {
    for (let j = 0; j < items.length; j++) {
      if (items[i] === target && items[j] === target) {
        return true;
      }
    }
  }
  return false;
}
`

func TestNestedLoopSameCollection(t *testing.T) {
	findings := analyze(t, "search.ts", nestedLoopTS)

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %v", len(findings), findings)
	}
	f := findings[0]
	if f.Rule != "nested-loop-same-collection" {
		t.Errorf("expected rule nested-loop-same-collection, got %q", f.Rule)
	}
	if f.Category != model.CategoryAlgorithmicComplexity {
		t.Errorf("expected algorithmic-complexity, got %s", f.Category)
	}
	if f.Severity != model.SeverityBlocking {
		t.Errorf("expected blocking, got %s", f.Severity)
	}
	if f.Line != 3 {
		t.Errorf("expected line 3, got %d", f.Line)
	}
	if f.Function != "inefficientSearch" {
		t.Errorf("expected function inefficientSearch, got %q", f.Function)
	}
	if f.File != "search.ts" || f.SuggestedFix == "" {
		t.Errorf("finding not filled in: %+v", f)
	}
}

const nestedDifferentTS = `function pairs(xs: number[], ys: number[]) {
  for (const x of xs) {
    for (const y of ys) {
      console.log(x, y);
    }
  }
}
`

func TestNestedLoopDifferentCollections(t *testing.T) {
	findings := analyze(t, "pairs.ts", nestedDifferentTS)
	if got := byRule(findings, "nested-loop-same-collection"); len(got) != 0 {
		t.Errorf("expected no same-collection findings, got %v", got)
	}
}

const lookupTS = `function check(data: number[]) {
  if (data.includes(1) && data.includes(2) && data.includes(3)) {
    console.log('Found all');
  }
}

function scan(rows: string[], allowed: string[]) {
  for (const row of rows) {
    if (allowed.indexOf(row) >= 0) {
      console.log(row);
    }
  }
}
`

func TestRepeatedLinearLookup(t *testing.T) {
	findings := byRule(analyze(t, "lookup.ts", lookupTS), "repeated-linear-lookup")

	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d: %v", len(findings), findings)
	}
	if findings[0].Line != 2 || !strings.Contains(findings[0].Message, "3 times") {
		t.Errorf("unexpected repeated-lookup finding: %+v", findings[0])
	}
	if findings[1].Line != 9 || !strings.Contains(findings[1].Message, "inside a loop") {
		t.Errorf("unexpected in-loop finding: %+v", findings[1])
	}
	for _, f := range findings {
		if f.Severity != model.SeveritySuggestion {
			t.Errorf("expected suggestion, got %s", f.Severity)
		}
	}
}

// --- Memory leaks ---

const leakyTS = `class Poller {
  constructor() {
    // Memory leak: nothing calls removeEventListener or clearInterval
    document.addEventListener('click', this.onClick.bind(this));
    setInterval(() => {
      this.refresh();
    }, 1000);
  }

  onClick() {}
  refresh() {}
}
`

func TestUnreleasedListener(t *testing.T) {
	findings := byCategory(analyze(t, "poller.ts", leakyTS), model.CategoryMemoryLeak)

	if len(findings) != 2 {
		t.Fatalf("expected 2 memory-leak findings, got %d: %v", len(findings), findings)
	}
	if findings[0].Line != 4 || !strings.Contains(findings[0].Message, `"click"`) {
		t.Errorf("unexpected listener finding: %+v", findings[0])
	}
	if findings[1].Line != 5 || !strings.Contains(findings[1].Message, "Interval") {
		t.Errorf("unexpected interval finding: %+v", findings[1])
	}
	for _, f := range findings {
		if f.Severity != model.SeverityBlocking {
			t.Errorf("expected blocking, got %s", f.Severity)
		}
	}
}

const pairedTS = `class Poller {
  private intervalId?: number;
  private cleanups: Array<() => void> = [];

  constructor() {
    const onClick = this.onClick.bind(this);
    document.addEventListener('click', onClick);
    this.cleanups.push(() => document.removeEventListener('click', onClick));
    this.intervalId = setInterval(() => {
      this.refresh();
    }, 1000);
  }

  destroy() {
    this.cleanups.forEach(cleanup => cleanup());
    clearInterval(this.intervalId);
  }

  onClick() {}
  refresh() {}
}
`

func TestPairedListenerNoLeak(t *testing.T) {
	if got := byCategory(analyze(t, "poller.ts", pairedTS), model.CategoryMemoryLeak); len(got) != 0 {
		t.Errorf("expected no memory-leak findings, got %v", got)
	}
}

func TestReleaseInOtherScopeDoesNotPair(t *testing.T) {
	src := `function start() {
  window.addEventListener('resize', onResize);
}

function stop() {
  window.removeEventListener('resize', onResize);
}
`
	if got := byRule(analyze(t, "resize.ts", src), "unreleased-listener"); len(got) != 1 {
		t.Errorf("expected 1 unreleased listener, got %v", got)
	}
}

const goTickerSrc = `package main

import "time"

func leak() {
	t := time.NewTicker(time.Second)
	for range t.C {
	}
}

func tidy() {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	<-t.C
}
`

func TestGoTickerWithoutStop(t *testing.T) {
	findings := byRule(analyze(t, "tick.go", goTickerSrc), "unreleased-listener")
	if len(findings) != 1 || findings[0].Line != 6 {
		t.Errorf("expected one ticker finding at line 6, got %v", findings)
	}
}

const deferLoopGo = `package main

import "os"

func closeAll(paths []string) error {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
	}
	for _, p := range paths {
		func() {
			f, _ := os.Open(p)
			defer f.Close()
		}()
	}
	return nil
}
`

func TestDeferInLoop(t *testing.T) {
	findings := analyze(t, "close.go", deferLoopGo)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %v", len(findings), findings)
	}
	if findings[0].Rule != "defer-in-loop" || findings[0].Line != 11 {
		t.Errorf("unexpected finding: %+v", findings[0])
	}
	if findings[0].Function != "closeAll" {
		t.Errorf("expected function closeAll, got %q", findings[0].Function)
	}
}

// --- Anti-patterns and DOM ---

const antiPatternsTS = `function performanceAntiPatterns() {
  const data = [1, 2, 3, 4, 5];

  const result = data
    .filter(x => x > 2)
    .map(x => x * 2)
    .filter(x => x < 10);

  document.getElementById('container')!.innerHTML = '<div>New content</div>';

  setTimeout(() => {
    console.log('Deferred execution');
  }, 0);
  setTimeout(() => console.log('later'), 1000);

  const cloned = JSON.parse(JSON.stringify(data));

  return result;
}
`

func TestAntiPatterns(t *testing.T) {
	findings := analyze(t, "anti.ts", antiPatternsTS)

	tests := []struct {
		rule     string
		line     int
		category model.Category
		severity model.Severity
	}{
		{"chained-array-pass", 4, model.CategoryAntiPattern, model.SeverityNit},
		{"inner-html-write", 9, model.CategoryDOMInefficiency, model.SeveritySuggestion},
		{"zero-delay-timeout", 11, model.CategoryAntiPattern, model.SeverityNit},
		{"json-deep-clone", 16, model.CategoryAntiPattern, model.SeveritySuggestion},
	}
	for _, tt := range tests {
		got := byRule(findings, tt.rule)
		if len(got) != 1 {
			t.Errorf("%s: expected 1 finding, got %v", tt.rule, got)
			continue
		}
		if got[0].Line != tt.line {
			t.Errorf("%s: expected line %d, got %d", tt.rule, tt.line, got[0].Line)
		}
		if got[0].Category != tt.category || got[0].Severity != tt.severity {
			t.Errorf("%s: got %s/%s", tt.rule, got[0].Category, got[0].Severity)
		}
	}
	if len(findings) != len(tests) {
		t.Errorf("expected %d findings, got %d: %v", len(tests), len(findings), findings)
	}
}

func TestCleanCodeHasNoFindings(t *testing.T) {
	src := `function performanceBestPractices() {
  const data = [1, 2, 3, 4, 5];
  const dataSet = new Set(data);
  if (dataSet.has(1) && dataSet.has(2)) {
    console.log('Found all');
  }
  const container = document.getElementById('container');
  if (container) {
    container.textContent = 'New content';
  }
  requestAnimationFrame(() => {
    console.log('Deferred execution');
  });
  return structuredClone(data);
}
`
	if findings := analyze(t, "clean.ts", src); len(findings) != 0 {
		t.Errorf("expected no findings, got %v", findings)
	}
}

func TestLargeFunctionThreshold(t *testing.T) {
	var b strings.Builder
	b.WriteString("function build() {\n")
	for i := 0; i < 6; i++ {
		b.WriteString("  step();\n")
	}
	b.WriteString("}\n")

	e := newEngine(t, Options{MaxFunctionLines: 5})
	findings, err := e.AnalyzeFile("build.ts", b.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 || findings[0].Rule != "large-function" {
		t.Fatalf("expected one large-function finding, got %v", findings)
	}
	if !strings.Contains(findings[0].Message, "spans 8 lines (limit 5)") {
		t.Errorf("unexpected message: %s", findings[0].Message)
	}
	if findings[0].Category != model.CategoryLargeFunction {
		t.Errorf("expected large-function category, got %s", findings[0].Category)
	}

	if findings := analyze(t, "build.ts", b.String()); len(findings) != 0 {
		t.Errorf("default threshold should not flag an 8-line function: %v", findings)
	}
}

// --- Engine behaviour ---

func TestAnalyzeFileRejectsNonText(t *testing.T) {
	e := newEngine(t, Options{})
	for _, content := range []string{"bad \xff\xfe", "nul\x00byte"} {
		_, err := e.AnalyzeFile("bin.ts", content)
		var ae *AnalysisError
		if !errors.As(err, &ae) {
			t.Fatalf("expected AnalysisError, got %v", err)
		}
		if ae.Path != "bin.ts" || !errors.Is(err, ErrNotText) {
			t.Errorf("unexpected error: %v", err)
		}
	}
}

func TestAnalyzeFileCached(t *testing.T) {
	e := newEngine(t, Options{})
	first, err := e.AnalyzeFile("search.ts", nestedLoopTS)
	if err != nil {
		t.Fatal(err)
	}
	first[0].Message = "mutated"

	second, err := e.AnalyzeFile("search.ts", nestedLoopTS)
	if err != nil {
		t.Fatal(err)
	}
	if second[0].Message == "mutated" {
		t.Error("cached findings were modified through a returned slice")
	}
}

func TestFindingsOrderedByLineThenRule(t *testing.T) {
	src := leakyTS + antiPatternsTS
	findings := analyze(t, "mixed.ts", src)
	for i := 1; i < len(findings); i++ {
		a, b := findings[i-1], findings[i]
		if a.Line > b.Line || (a.Line == b.Line && a.Rule > b.Rule) {
			t.Errorf("findings out of order: %v before %v", a, b)
		}
	}
}

func TestCustomRule(t *testing.T) {
	rules := append(DefaultRules(), Rule{
		ID:       "console-log",
		Category: model.CategoryAntiPattern,
		Severity: model.SeverityNit,
		Check: func(src *Source) []Finding {
			var out []Finding
			for i, line := range src.Code {
				if strings.Contains(line, "console.log") {
					out = append(out, Finding{Line: i + 1, Message: "console.log left in"})
				}
			}
			return out
		},
	})
	e := newEngine(t, Options{Rules: rules})
	findings, err := e.AnalyzeFile("log.ts", "// console.log in a comment\nconsole.log('x');\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 || findings[0].Line != 2 || findings[0].Rule != "console-log" {
		t.Errorf("expected the custom rule to fire once on line 2, got %v", findings)
	}
}

func TestSummary(t *testing.T) {
	findings := []Finding{
		{Severity: model.SeverityBlocking},
		{Severity: model.SeverityNit},
		{Severity: model.SeverityNit},
	}
	if got, want := Summary(findings), "1 blocking, 2 nit"; got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
	if got := Summary(nil); got != "No issues found" {
		t.Errorf("Summary(nil) = %q", got)
	}
	if MaxSeverity(findings) != model.SeverityBlocking {
		t.Error("expected blocking max severity")
	}
}

func TestFindingString(t *testing.T) {
	tests := []struct {
		f    Finding
		want string
	}{
		{Finding{File: "a.ts", Line: 3, Rule: "sort-in-loop", Message: "sorted every iteration", Function: "build"},
			"[sort-in-loop] a.ts:3 (build): sorted every iteration"},
		{Finding{File: "a.ts", Line: 3, Rule: "sort-in-loop", Message: "sorted every iteration"},
			"[sort-in-loop] a.ts:3: sorted every iteration"},
		{Finding{File: "a.ts", Rule: "large-file", Message: "too long"},
			"[large-file] a.ts: too long"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestSourceBlocksNeedBraces(t *testing.T) {
	py := NewSource("pairs.py", "def pairs(xs):\n    for a in xs:\n        for b in xs:\n            yield a, b\n")
	if len(py.Blocks) != 0 {
		t.Errorf("expected no blocks in an indentation-delimited file, got %+v", py.Blocks)
	}
	if fn := py.EnclosingFunction(3); fn != "" {
		t.Errorf("expected no enclosing function, got %q", fn)
	}

	ts := NewSource("pairs.ts", "function pairs(xs: number[]) {\n  for (const a of xs) {\n    console.log(a);\n  }\n}\n")
	if fn := ts.EnclosingFunction(3); fn != "pairs" {
		t.Errorf("EnclosingFunction(3) = %q, want pairs", fn)
	}
}
