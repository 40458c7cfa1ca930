package analysis

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
)

// Estimates reported by AnalyzeComplexity.
const (
	EstimateConstant      = "O(1)"
	EstimateLogarithmic   = "O(log n)"
	EstimateLinear        = "O(n)"
	EstimateLinearithmic  = "O(n log n)"
	EstimateQuadratic     = "O(n^2)"
	EstimateExponential   = "O(2^n)"
	EstimateIndeterminate = "indeterminate"
)

// ComplexityEstimate is the estimated time complexity of one loop or
// recursive construct.
type ComplexityEstimate struct {
	Line      int    `json:"line"`
	Construct string `json:"construct"`
	Estimate  string `json:"estimate"`
	Rationale string `json:"rationale"`
}

// AnalyzeComplexity estimates the time complexity of every loop, sort call
// and self-recursive function in content, ordered by line.
func (e *Engine) AnalyzeComplexity(path, content string) ([]ComplexityEstimate, error) {
	if err := checkText(path, content); err != nil {
		return nil, err
	}

	key := cacheKey(path, content)
	if cached, ok := e.complexity.Get(key); ok {
		return slices.Clone(cached), nil
	}

	est := estimateComplexity(e.source(path, content))
	e.complexity.Add(key, est)
	return slices.Clone(est), nil
}

// cost is a growth term n^poly * (log n)^logs.
type cost struct {
	poly, logs int
}

func (c cost) add(o cost) cost { return cost{c.poly + o.poly, c.logs + o.logs} }

func (c cost) less(o cost) bool {
	if c.poly != o.poly {
		return c.poly < o.poly
	}
	return c.logs < o.logs
}

// estimate maps c onto the reported scale; exceeded is set when c grows
// faster than the scale can express.
func (c cost) estimate() (est string, exceeded bool) {
	switch {
	case c.poly == 0 && c.logs == 0:
		return EstimateConstant, false
	case c.poly == 0:
		return EstimateLogarithmic, c.logs > 1
	case c.poly == 1 && c.logs == 0:
		return EstimateLinear, false
	case c.poly == 1:
		return EstimateLinearithmic, c.logs > 1
	default:
		return EstimateQuadratic, c.poly > 2 || c.logs > 0
	}
}

func (c cost) String() string {
	var parts []string
	switch c.poly {
	case 0:
	case 1:
		parts = append(parts, "n")
	default:
		parts = append(parts, fmt.Sprintf("n^%d", c.poly))
	}
	switch c.logs {
	case 0:
	case 1:
		parts = append(parts, "log n")
	default:
		parts = append(parts, fmt.Sprintf("log^%d n", c.logs))
	}
	if len(parts) == 0 {
		return "O(1)"
	}
	return "O(" + strings.Join(parts, " ") + ")"
}

var (
	unboundedRe = regexp.MustCompile(`^(?:while\s*\(\s*(?:true|1)\s*\)|for\s*\(\s*;\s*;\s*\)|for)$`)
	exitRe      = regexp.MustCompile(`\b(?:break|return)\b`)
	halvingRe   = regexp.MustCompile(`[\w$\]]\s*(?:\*=|/=|>>=|>>>=|<<=)\s*[\w$]+|=\s*[\w$]+\s*[*/]\s*2\b|\(\s*[\w$]+\s*[+-]\s*[\w$]+\s*\)\s*(?:/\s*2\b|>>>?\s*1\b)`)
	sortCallRe  = regexp.MustCompile(`\.sort\s*\(|\bsort\.(?:Slice|SliceStable|Sort|Stable|Strings|Ints|Float64s)\s*\(|\bslices\.Sort\w*\s*\(`)
	scanCallRe  = regexp.MustCompile(`\.(?:includes|indexOf|lastIndexOf|find|findIndex|filter|some|every)\s*\(|\bslices\.(?:Contains|Index)\w*\s*\(`)
	hashLookRe  = regexp.MustCompile(`\.(?:has|get)\s*\(`)
	halfArgRe   = regexp.MustCompile(`/\s*2\b|>>>?\s*1\b|\bmid\b`)
)

type loopInfo struct {
	own        cost
	unbounded  bool
	halving    bool
	sorts      bool
	scans      bool
	hashLookup bool
	// parent is the nearest enclosing loop, -1 for an outermost loop.
	parent int
	// children are the loops whose nearest enclosing loop is this one.
	children []int
}

func estimateComplexity(src *Source) []ComplexityEstimate {
	loops := make(map[int]*loopInfo)
	for i, b := range src.Blocks {
		if b.IsLoop {
			loops[i] = inspectLoop(src, i)
		}
	}
	for i, info := range loops {
		info.parent = -1
		for p := src.Blocks[i].Parent; p >= 0; p = src.Blocks[p].Parent {
			if _, ok := loops[p]; ok {
				info.parent = p
				break
			}
		}
	}
	for i := range src.Blocks {
		if info, ok := loops[i]; ok && info.parent >= 0 {
			loops[info.parent].children = append(loops[info.parent].children, i)
		}
	}

	var out []ComplexityEstimate
	for i, b := range src.Blocks {
		if _, ok := loops[i]; !ok {
			continue
		}
		out = append(out, loopEstimate(src, b, i, loops))
	}

	// Sorts outside any loop are constructs of their own.
	for i, line := range src.Code {
		n := i + 1
		if !sortCallRe.MatchString(line) || nearestLoop(src, n) >= 0 {
			continue
		}
		out = append(out, ComplexityEstimate{
			Line:      n,
			Construct: "sort call",
			Estimate:  EstimateLinearithmic,
			Rationale: "comparison sort over the input",
		})
	}

	for _, b := range src.Blocks {
		if est, ok := recursionEstimate(src, b); ok {
			out = append(out, est)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Construct < out[j].Construct
	})
	return out
}

// nearestLoop returns the index of the innermost loop whose body holds
// line, or -1.
func nearestLoop(src *Source, line int) int {
	for i := src.Innermost(line); i >= 0; i = src.Blocks[i].Parent {
		if src.Blocks[i].IsLoop {
			return i
		}
	}
	return -1
}

func inspectLoop(src *Source, idx int) *loopInfo {
	b := src.Blocks[idx]
	info := &loopInfo{own: cost{poly: 1}, parent: -1}

	var body []string
	for n := b.Start + 1; n < b.End; n++ {
		if nearestLoop(src, n) == idx {
			body = append(body, src.CodeLine(n))
		}
	}
	// Code after the opening brace on a single-line loop.
	if b.Start == b.End || len(body) == 0 {
		if line := src.CodeLine(b.Start); strings.Contains(line, "{") {
			body = append(body, line[strings.Index(line, "{")+1:])
		}
	}
	joined := strings.Join(body, "\n")

	switch {
	case unboundedRe.MatchString(b.Header):
		info.unbounded = !exitRe.MatchString(spanText(src, b))
	case halvingRe.MatchString(b.Header) || (!b.IsFunc && !iteratesCollection(b.Header) && halvesCondition(b.Header, body)):
		info.halving = true
		info.own = cost{logs: 1}
	}

	info.sorts = sortCallRe.MatchString(joined)
	info.scans = scanCallRe.MatchString(joined)
	info.hashLookup = hashLookRe.MatchString(joined)
	return info
}

var (
	identRe        = regexp.MustCompile(`[A-Za-z_$][\w$]*`)
	assignTargetRe = regexp.MustCompile(`^\s*(?:(?:let|const|var)\s+)?([\w$]+(?:\.[\w$]+)*)\s*(?:\*=|/=|>>>=|>>=|<<=|:=|=)(?:[^=]|$)`)
	midpointRe     = regexp.MustCompile(`\(\s*[\w$]+\s*[+-]\s*[\w$]+\s*\)\s*(?:/\s*2\b|>>>?\s*1\b)`)
)

// conditionWords never name a loop variable.
var conditionWords = map[string]bool{
	"for": true, "while": true, "do": true, "true": true, "false": true,
	"null": true, "undefined": true, "len": true, "length": true, "nil": true,
}

// iteratesCollection reports headers that walk a collection or a counter
// clause (for-of, for-in, range, three-clause for), whose loop variable is
// not driven by the body.
func iteratesCollection(h string) bool {
	return strings.Contains(h, ";") || rangeRe.MatchString(h) || forOfRe.MatchString(h)
}

// conditionVars returns the identifiers a loop header tests.
func conditionVars(h string) map[string]bool {
	vars := make(map[string]bool)
	for _, id := range identRe.FindAllString(h, -1) {
		if !conditionWords[id] {
			vars[id] = true
		}
	}
	return vars
}

// halvesCondition reports whether the body scales a variable the loop
// condition tests, directly or through a midpoint it assigns back.
func halvesCondition(header string, body []string) bool {
	vars := conditionVars(header)
	if len(vars) == 0 {
		return false
	}
	tested := func(target string) bool {
		if vars[target] {
			return true
		}
		if i := strings.LastIndex(target, "."); i >= 0 {
			return vars[target[i+1:]]
		}
		return false
	}

	mids := make(map[string]bool)
	for _, line := range body {
		m := assignTargetRe.FindStringSubmatch(line)
		if m == nil || !halvingRe.MatchString(line) {
			continue
		}
		if tested(m[1]) {
			return true
		}
		if midpointRe.MatchString(line) {
			mids[m[1]] = true
		}
	}
	if len(mids) == 0 {
		return false
	}
	for _, line := range body {
		m := assignTargetRe.FindStringSubmatch(line)
		if m == nil || !tested(m[1]) {
			continue
		}
		rhs := line[len(m[0])-1:]
		for _, id := range identRe.FindAllString(rhs, -1) {
			if mids[id] {
				return true
			}
		}
	}
	return false
}

// spanText returns the comment-free text inside b's braces, nested blocks
// included.
func spanText(src *Source, b Block) string {
	var lines []string
	for n := b.Start; n <= b.End; n++ {
		lines = append(lines, src.CodeLine(n))
	}
	return strings.Join(lines, "\n")
}

// bodyCost is the cost one iteration of the loop adds through calls in
// its own body, with the reason it appears.
func bodyCost(info *loopInfo) (cost, string) {
	switch {
	case info.sorts:
		return cost{poly: 1, logs: 1}, "sorts inside the loop body"
	case info.scans:
		return cost{poly: 1}, "runs a linear scan inside the loop body"
	}
	return cost{}, ""
}

// innerCost returns the worst cost of the loops nested in idx and the
// chain of loops that produces it, outermost first.
func innerCost(loops map[int]*loopInfo, idx int) (cost, []int) {
	var worst cost
	var chain []int
	for _, c := range loops[idx].children {
		child := loops[c]
		if child.unbounded {
			continue
		}
		extra, _ := bodyCost(child)
		below, sub := innerCost(loops, c)
		total := child.own.add(extra).add(below)
		if chain == nil || worst.less(total) {
			worst, chain = total, append([]int{c}, sub...)
		}
	}
	return worst, chain
}

func loopEstimate(src *Source, b Block, idx int, loops map[int]*loopInfo) ComplexityEstimate {
	info := loops[idx]
	est := ComplexityEstimate{Line: b.Line, Construct: constructName(b)}
	if info.unbounded {
		est.Estimate = EstimateIndeterminate
		est.Rationale = "unbounded loop with no visible break or return"
		return est
	}

	total := info.own
	depth := 1
	sameCollection := false
	for p := info.parent; p >= 0; p = loops[p].parent {
		depth++
		total = total.add(loops[p].own)
		if b.Collection != "" && src.Blocks[p].Collection == b.Collection {
			sameCollection = true
		}
	}

	below, chain := innerCost(loops, idx)
	total = total.add(below)
	depth += len(chain)
	for _, c := range chain {
		if b.Collection != "" && src.Blocks[c].Collection == b.Collection {
			sameCollection = true
		}
	}

	var reasons []string
	switch {
	case depth == 1 && b.Collection != "":
		reasons = append(reasons, "single pass over "+b.Collection)
	case depth == 1:
		reasons = append(reasons, "single loop")
	case sameCollection:
		reasons = append(reasons, fmt.Sprintf("nested %d deep over the same collection %s", depth, b.Collection))
	default:
		reasons = append(reasons, fmt.Sprintf("nested %d loops deep", depth))
	}
	if len(chain) > 0 {
		inner := src.Blocks[chain[0]]
		reasons = append(reasons, fmt.Sprintf("the body runs the %s at line %d", constructName(inner), inner.Line))
	}
	if info.halving {
		reasons = append(reasons, "the loop variable halves or doubles each iteration")
	}

	extra, why := bodyCost(info)
	if why != "" {
		reasons = append(reasons, why)
	}
	if info.hashLookup && !info.scans {
		reasons = append(reasons, "Set/Map lookups stay constant time")
	}
	total = total.add(extra)

	s, exceeded := total.estimate()
	est.Estimate = s
	if exceeded {
		reasons = append(reasons, fmt.Sprintf("actual growth is about %s", total))
	}
	est.Rationale = strings.Join(reasons, "; ")
	return est
}

func constructName(b Block) string {
	h := b.Header
	if m := callbackLoopRe.FindStringSubmatch(h); m != nil && b.IsFunc {
		return m[2] + " callback"
	}
	switch {
	case strings.Contains(h, "range"):
		return "range loop"
	case strings.HasPrefix(h, "while") || strings.Contains(h, " while"):
		return "while loop"
	case h == "do":
		return "do-while loop"
	default:
		return "for loop"
	}
}

func recursionEstimate(src *Source, b Block) (ComplexityEstimate, bool) {
	if !b.IsFunc || b.Name == "" {
		return ComplexityEstimate{}, false
	}
	callRe, err := regexp.Compile(`(?:^|[^\w$])` + regexp.QuoteMeta(b.Name) + `\s*\(`)
	if err != nil {
		return ComplexityEstimate{}, false
	}

	calls, halved := 0, 0
	for n := b.Start + 1; n < b.End; n++ {
		line := src.CodeLine(n)
		for _, loc := range callRe.FindAllStringIndex(line, -1) {
			calls++
			open := strings.Index(line[loc[0]:], "(") + loc[0]
			args := line[open:]
			if end := matchParen(line, open); end > open {
				args = line[open : end+1]
			}
			if halfArgRe.MatchString(args) {
				halved++
			}
		}
	}
	if calls == 0 {
		return ComplexityEstimate{}, false
	}

	est := ComplexityEstimate{Line: b.Line, Construct: "recursion in " + b.Name}
	divides := halved > 0 || halfArgRe.MatchString(spanText(src, b))
	switch {
	case calls == 1 && divides:
		est.Estimate = EstimateLogarithmic
		est.Rationale = "one self-call on half of the input per level"
	case calls == 1:
		est.Estimate = EstimateLinear
		est.Rationale = "one self-call per level"
	case divides:
		est.Estimate = EstimateLinearithmic
		est.Rationale = fmt.Sprintf("divide and conquer: %d self-calls on halves of the input", calls)
	default:
		est.Estimate = EstimateExponential
		est.Rationale = fmt.Sprintf("%d self-calls per level branch exponentially", calls)
	}
	return est, true
}
