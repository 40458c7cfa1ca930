package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aezell/perfrev/internal/model"
)

// DefaultRules returns the built-in rule catalogue. Callers may append
// their own rules to the returned slice.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "nested-loop-same-collection", Category: model.CategoryAlgorithmicComplexity, Severity: model.SeverityBlocking, Check: checkNestedLoops},
		{ID: "unreleased-listener", Category: model.CategoryMemoryLeak, Severity: model.SeverityBlocking, Check: checkUnreleased},
		{ID: "repeated-linear-lookup", Category: model.CategoryAlgorithmicComplexity, Severity: model.SeveritySuggestion, Check: checkLinearLookups},
		{ID: "json-deep-clone", Category: model.CategoryAntiPattern, Severity: model.SeveritySuggestion, Check: checkJSONClone},
		{ID: "large-function", Category: model.CategoryLargeFunction, Severity: model.SeveritySuggestion, Check: checkLargeFunctions},
		{ID: "chained-array-pass", Category: model.CategoryAntiPattern, Severity: model.SeverityNit, Check: checkChainedPasses},
		{ID: "inner-html-write", Category: model.CategoryDOMInefficiency, Severity: model.SeveritySuggestion, Check: checkInnerHTML},
		{ID: "zero-delay-timeout", Category: model.CategoryAntiPattern, Severity: model.SeverityNit, Check: checkZeroTimeout},
		{ID: "defer-in-loop", Category: model.CategoryMemoryLeak, Severity: model.SeveritySuggestion, Check: checkDeferInLoop},
	}
}

func checkNestedLoops(src *Source) []Finding {
	var findings []Finding
	for _, b := range src.Blocks {
		if !b.IsLoop || b.Collection == "" {
			continue
		}
		for p := b.Parent; p >= 0; p = src.Blocks[p].Parent {
			outer := src.Blocks[p]
			if outer.IsLoop && outer.Collection == b.Collection {
				findings = append(findings, Finding{
					Line:         b.Line,
					Message:      fmt.Sprintf("Nested loop over %s inside another loop over %s (line %d) is O(n²)", b.Collection, outer.Collection, outer.Line),
					SuggestedFix: "Index the collection once in a Set or Map, or exit as soon as the match is found",
				})
				break
			}
		}
	}
	return findings
}

// resource pairs an acquisition with the call that releases it.
type resource struct {
	kind    string
	acquire *regexp.Regexp
	release *regexp.Regexp
	fix     string
}

var resources = []resource{
	{
		kind:    "event listener",
		acquire: regexp.MustCompile(`\baddEventListener\s*\(\s*(?:['"` + "`" + `]([\w:.-]+))?`),
		release: regexp.MustCompile(`\bremoveEventListener\s*\(\s*(?:['"` + "`" + `]([\w:.-]+))?`),
		fix:     "Keep a reference to the handler and call removeEventListener in the matching teardown",
	},
	{
		kind:    "interval",
		acquire: regexp.MustCompile(`\bsetInterval\s*\(`),
		release: regexp.MustCompile(`\bclearInterval\s*\(`),
		fix:     "Store the interval id and clearInterval it when the owner is destroyed",
	},
	{
		kind:    "timeout handle",
		acquire: regexp.MustCompile(`[\w$.\]]\s*=\s*setTimeout\s*\(`),
		release: regexp.MustCompile(`\bclearTimeout\s*\(`),
		fix:     "clearTimeout the stored handle before it is replaced or the owner goes away",
	},
	{
		kind:    "subscription",
		acquire: regexp.MustCompile(`\.subscribe\s*\(`),
		release: regexp.MustCompile(`\.unsubscribe\s*\(`),
		fix:     "Keep the subscription and unsubscribe during teardown",
	},
	{
		kind:    "ticker",
		acquire: regexp.MustCompile(`\btime\.NewTicker\s*\(`),
		release: regexp.MustCompile(`\.Stop\s*\(\s*\)`),
		fix:     "defer ticker.Stop() right after creating the ticker",
	},
}

// checkUnreleased pairs acquisitions with releases inside the same
// top-level scope. Listener releases pair by event name when both sides
// name one.
func checkUnreleased(src *Source) []Finding {
	type site struct {
		line  int
		key   string
		scope int
	}

	var findings []Finding
	for _, res := range resources {
		var acquired []site
		released := make(map[int][]string)

		for i, line := range src.Code {
			n := i + 1
			scope := src.TopLevel(n)
			for _, m := range res.acquire.FindAllStringSubmatch(line, -1) {
				acquired = append(acquired, site{line: n, key: submatch(m), scope: scope})
			}
			for _, m := range res.release.FindAllStringSubmatch(line, -1) {
				released[scope] = append(released[scope], submatch(m))
			}
		}

		for _, a := range acquired {
			keys := released[a.scope]
			idx := -1
			for i, k := range keys {
				if k == a.key || k == "" || a.key == "" {
					idx = i
					break
				}
			}
			if idx >= 0 {
				released[a.scope] = append(keys[:idx:idx], keys[idx+1:]...)
				continue
			}

			what := res.kind
			if a.key != "" {
				what = fmt.Sprintf("%q %s", a.key, res.kind)
			}
			findings = append(findings, Finding{
				Line:         a.line,
				Message:      fmt.Sprintf("%s is never released in the same scope", capitalize(what)),
				SuggestedFix: res.fix,
			})
		}
	}
	return findings
}

func submatch(m []string) string {
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var (
	jsLookupRe = regexp.MustCompile(`([\w$.]+)\.(includes|indexOf|lastIndexOf)\s*\(`)
	goLookupRe = regexp.MustCompile(`\bslices\.(Contains|Index)\s*\(\s*([\w$.]+)`)
)

func checkLinearLookups(src *Source) []Finding {
	type group struct {
		first  int
		method string
		count  int
		inLoop int // first line inside a loop, 0 if none
	}

	groups := make(map[string]*group)
	var order []string
	for i, line := range src.Code {
		n := i + 1
		var hits [][2]string
		for _, m := range jsLookupRe.FindAllStringSubmatch(line, -1) {
			hits = append(hits, [2]string{m[1], m[2]})
		}
		for _, m := range goLookupRe.FindAllStringSubmatch(line, -1) {
			hits = append(hits, [2]string{m[2], "slices." + m[1]})
		}
		for _, h := range hits {
			key := fmt.Sprintf("%d\x00%s", src.TopLevel(n), h[0])
			g, ok := groups[key]
			if !ok {
				g = &group{first: n, method: h[1]}
				groups[key] = g
				order = append(order, key)
			}
			g.count++
			if g.inLoop == 0 && src.InLoop(n) {
				g.inLoop = n
			}
		}
	}

	var findings []Finding
	for _, key := range order {
		g := groups[key]
		coll := key[strings.IndexByte(key, 0)+1:]
		switch {
		case g.count >= 2:
			findings = append(findings, Finding{
				Line:         g.first,
				Message:      fmt.Sprintf("%s is scanned linearly %d times with %s", coll, g.count, g.method),
				SuggestedFix: fmt.Sprintf("Build a Set (or map) from %s once and use constant-time lookups", coll),
			})
		case g.inLoop > 0:
			findings = append(findings, Finding{
				Line:         g.inLoop,
				Message:      fmt.Sprintf("Linear %s on %s inside a loop", g.method, coll),
				SuggestedFix: fmt.Sprintf("Hoist %s into a Set (or map) before the loop", coll),
			})
		}
	}
	return findings
}

var jsonCloneRe = regexp.MustCompile(`JSON\.parse\s*\(\s*JSON\.stringify\s*\(`)

func checkJSONClone(src *Source) []Finding {
	var findings []Finding
	for i, line := range src.Code {
		if jsonCloneRe.MatchString(line) {
			findings = append(findings, Finding{
				Line:         i + 1,
				Message:      "Deep clone through JSON.parse(JSON.stringify(...)) serialises the whole value",
				SuggestedFix: "Use structuredClone, or a shallow copy when nested values are not mutated",
			})
		}
	}
	return findings
}

func checkLargeFunctions(src *Source) []Finding {
	limit := src.MaxFunctionLines
	if limit <= 0 {
		limit = DefaultMaxFunctionLines
	}

	var findings []Finding
	for _, b := range src.Blocks {
		if !b.IsFunc || b.IsLoop {
			continue
		}
		span := b.End - b.Line + 1
		if span <= limit {
			continue
		}
		name := b.Name
		if name == "" {
			name = "anonymous function"
		}
		findings = append(findings, Finding{
			Line:         b.Line,
			Message:      fmt.Sprintf("Function %s spans %d lines (limit %d)", name, span, limit),
			SuggestedFix: "Split it into smaller functions with one responsibility each",
			Function:     b.Name,
		})
	}
	return findings
}

var arrayPassRe = regexp.MustCompile(`\.(?:filter|map|flatMap)\s*\(`)

// checkChainedPasses joins continuation lines into statements and counts
// chained filter/map passes in each.
func checkChainedPasses(src *Source) []Finding {
	var findings []Finding
	start := 0
	var stmt strings.Builder
	flush := func() {
		if n := len(arrayPassRe.FindAllStringIndex(stmt.String(), -1)); n >= 3 {
			findings = append(findings, Finding{
				Line:         start,
				Message:      fmt.Sprintf("%d chained filter/map passes walk the array %d times", n, n),
				SuggestedFix: "Fold the passes into a single reduce or loop",
			})
		}
		stmt.Reset()
		start = 0
	}

	for i, line := range src.Code {
		trimmed := strings.TrimSpace(line)
		if start == 0 && trimmed == "" {
			continue
		}
		if start == 0 {
			start = i + 1
		}
		stmt.WriteString(trimmed)
		stmt.WriteByte(' ')

		next := ""
		if i+1 < len(src.Code) {
			next = strings.TrimSpace(src.Code[i+1])
		}
		if !continues(trimmed, next) {
			flush()
		}
	}
	flush()
	return findings
}

func continues(line, next string) bool {
	if strings.HasPrefix(next, ".") || strings.HasPrefix(next, "?.") {
		return true
	}
	for _, suffix := range []string{".", "(", ",", "=", "&&", "||", "+", "?", ":"} {
		if strings.HasSuffix(line, suffix) {
			return true
		}
	}
	return false
}

var innerHTMLRe = regexp.MustCompile(`\.(innerHTML|outerHTML)\s*(\+?=)(?:[^=]|$)`)

func checkInnerHTML(src *Source) []Finding {
	var findings []Finding
	for i, line := range src.Code {
		m := innerHTMLRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		msg := fmt.Sprintf("Assigning %s re-parses markup and rebuilds the subtree", m[1])
		if m[2] == "+=" {
			msg = fmt.Sprintf("Appending to %s re-parses the whole subtree on every write", m[1])
		}
		if src.InLoop(i + 1) {
			msg += " inside a loop"
		}
		findings = append(findings, Finding{
			Line:         i + 1,
			Message:      msg,
			SuggestedFix: "Use textContent for text, or build nodes and insert them once",
		})
	}
	return findings
}

var setTimeoutRe = regexp.MustCompile(`\bsetTimeout\s*\(`)

func checkZeroTimeout(src *Source) []Finding {
	var findings []Finding
	for _, loc := range setTimeoutRe.FindAllStringIndex(src.flat, -1) {
		open := loc[1] - 1
		end := matchParen(src.flat, open)
		if end < 0 {
			continue
		}
		args := splitArgs(src.flat[open+1 : end])
		if len(args) < 2 || strings.TrimSpace(args[1]) != "0" {
			continue
		}
		findings = append(findings, Finding{
			Line:         src.lineOf(loc[0]),
			Message:      "setTimeout with a 0ms delay still waits for a full macrotask and is clamped after nesting",
			SuggestedFix: "Use queueMicrotask for deferred work, or requestAnimationFrame for rendering",
		})
	}
	return findings
}

// matchParen returns the index of the paren closing the one at open, or -1.
func matchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits an argument list on top-level commas.
func splitArgs(s string) []string {
	var args []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, s[last:i])
				last = i + 1
			}
		}
	}
	return append(args, s[last:])
}

var deferRe = regexp.MustCompile(`^\s*defer\b`)

func checkDeferInLoop(src *Source) []Finding {
	if !src.IsGo() {
		return nil
	}

	var findings []Finding
	for i, line := range src.Code {
		if !deferRe.MatchString(line) {
			continue
		}
		n := i + 1
		for b := src.Innermost(n); b >= 0; b = src.Blocks[b].Parent {
			blk := src.Blocks[b]
			if blk.IsFunc {
				break
			}
			if blk.IsLoop {
				findings = append(findings, Finding{
					Line:         n,
					Message:      "defer inside a loop holds every deferred call until the function returns",
					SuggestedFix: "Move the loop body into a function so each iteration's defer runs on time",
				})
				break
			}
		}
	}
	return findings
}
