package analysis

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// Source is a file prepared for rule checks: split into lines, with
// comments blanked out and its brace-block structure computed once.
type Source struct {
	Path string
	// Lang is the lexer name, empty when no lexer matched the file.
	Lang string
	// Lines holds the file as written, one entry per line.
	Lines []string
	// Code holds Lines with comment text replaced by spaces. Columns are
	// preserved, so offsets into Code are offsets into Lines.
	Code []string
	// Blocks lists every brace-delimited block in opening order.
	Blocks []Block

	// MaxFunctionLines is the large-function threshold.
	MaxFunctionLines int

	// skel additionally blanks string literals; braces and parens in it are
	// structural.
	skel       []string
	flat       string
	lineStarts []int
}

// Block is a brace-delimited region of a Source. Line numbers are 1-based.
type Block struct {
	// Line is where the construct starts: the brace line, or the header
	// line above it when the brace sits alone.
	Line int
	// Start and End are the lines of the opening and closing braces.
	Start, End int
	Header     string
	Parent     int // index into Source.Blocks, -1 at top level
	Depth      int

	IsLoop bool
	IsFunc bool
	// Name is the function name for named functions.
	Name string
	// Collection is what a loop iterates over, when it can be told.
	Collection string
}

// Contains reports whether line lies strictly inside the block's braces.
func (b Block) Contains(line int) bool {
	return line > b.Start && line < b.End
}

// NewSource prepares content for analysis.
func NewSource(path, content string) *Source {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	s := &Source{
		Path:             path,
		Lines:            strings.Split(content, "\n"),
		MaxFunctionLines: DefaultMaxFunctionLines,
	}

	code, skel := content, content
	if lexer := lexerForFile(path); lexer != nil {
		s.Lang = lexer.Config().Name
		if c, k, ok := blank(lexer, content); ok {
			code, skel = c, k
		}
	}
	s.Code = strings.Split(code, "\n")
	s.skel = strings.Split(skel, "\n")
	s.flat = skel
	s.lineStarts = []int{0}
	for i := 0; i < len(skel); i++ {
		if skel[i] == '\n' {
			s.lineStarts = append(s.lineStarts, i+1)
		}
	}

	s.buildBlocks()
	return s
}

// IsGo reports whether the source is Go code.
func (s *Source) IsGo() bool {
	return s.Lang == "Go" || filepath.Ext(s.Path) == ".go"
}

// CodeLine returns the comment-free text of 1-based line n.
func (s *Source) CodeLine(n int) string {
	if n < 1 || n > len(s.Code) {
		return ""
	}
	return s.Code[n-1]
}

// Innermost returns the index of the innermost block whose braces enclose
// line, or -1.
func (s *Source) Innermost(line int) int {
	best := -1
	for i, b := range s.Blocks {
		if b.Contains(line) && (best < 0 || b.Depth > s.Blocks[best].Depth) {
			best = i
		}
	}
	return best
}

// TopLevel returns the index of the outermost block enclosing line, or -1
// for file-level code.
func (s *Source) TopLevel(line int) int {
	i := s.Innermost(line)
	for i >= 0 && s.Blocks[i].Parent >= 0 {
		i = s.Blocks[i].Parent
	}
	return i
}

// InLoop reports whether line sits inside a loop body.
func (s *Source) InLoop(line int) bool {
	for i := s.Innermost(line); i >= 0; i = s.Blocks[i].Parent {
		if s.Blocks[i].IsLoop {
			return true
		}
	}
	return false
}

// EnclosingFunction returns the name of the nearest named function whose
// span covers line, including its header line.
func (s *Source) EnclosingFunction(line int) string {
	best := -1
	for i, b := range s.Blocks {
		if !b.IsFunc || b.Name == "" || line < b.Line || line > b.End {
			continue
		}
		if best < 0 || b.Depth > s.Blocks[best].Depth {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return s.Blocks[best].Name
}

// lineOf maps an offset in the flattened skeleton to a 1-based line.
func (s *Source) lineOf(off int) int {
	return sort.Search(len(s.lineStarts), func(i int) bool { return s.lineStarts[i] > off })
}

// lexerOverrides pins extensions that more than one lexer claims.
var lexerOverrides = map[string]string{
	".ts":  "TypeScript",
	".tsx": "TypeScript",
	".mts": "TypeScript",
	".cts": "TypeScript",
}

func lexerForFile(filename string) chroma.Lexer {
	var lexer chroma.Lexer
	if name, ok := lexerOverrides[strings.ToLower(filepath.Ext(filename))]; ok {
		lexer = lexers.Get(name)
	}
	if lexer == nil {
		lexer = lexers.Match(filename)
	}
	if lexer == nil {
		ext := filepath.Ext(filename)
		if ext != "" {
			lexer = lexers.Match("file" + ext)
		}
	}
	if lexer != nil {
		lexer = chroma.Coalesce(lexer)
	}
	return lexer
}

// blank tokenises content and returns two copies of it: one with comments
// replaced by spaces, one with comments and string literals replaced.
// Newlines are kept so line structure survives.
func blank(lexer chroma.Lexer, content string) (code, skel string, ok bool) {
	it, err := lexer.Tokenise(nil, content)
	if err != nil {
		return "", "", false
	}

	var c, k strings.Builder
	c.Grow(len(content))
	k.Grow(len(content))
	for _, tok := range it.Tokens() {
		switch {
		case tok.Type.InCategory(chroma.Comment):
			writeBlank(&c, tok.Value)
			writeBlank(&k, tok.Value)
		case tok.Type.InSubCategory(chroma.LiteralString):
			c.WriteString(tok.Value)
			writeBlank(&k, tok.Value)
		default:
			c.WriteString(tok.Value)
			k.WriteString(tok.Value)
		}
	}

	code, skel = c.String(), k.String()
	// Some lexers append a trailing newline.
	if len(code) == len(content)+1 && strings.HasSuffix(code, "\n") {
		code, skel = code[:len(content)], skel[:len(content)]
	}
	if len(code) != len(content) || len(skel) != len(content) {
		return "", "", false
	}
	return code, skel, true
}

func writeBlank(b *strings.Builder, v string) {
	for i := 0; i < len(v); i++ {
		if v[i] == '\n' {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}
}

var (
	loopHeaderRe     = regexp.MustCompile(`(?:^|[^\w.$])(?:for|while)\b|(?:^|[^\w.$])do$`)
	callbackLoopRe   = regexp.MustCompile(`([\w$.]+)\.(forEach|map|filter|reduce|some|every|find|findIndex|flatMap)\s*\(`)
	lengthRe         = regexp.MustCompile(`([\w$.]+)\.length\b`)
	forOfRe          = regexp.MustCompile(`\b(?:of|in)\s+([\w$.]+)`)
	rangeRe          = regexp.MustCompile(`\brange\s+([\w$.]+)`)
	goLenRe          = regexp.MustCompile(`\blen\(([\w$.]+)\)`)
	arrowHeaderRe    = regexp.MustCompile(`=>\s*$`)
	anonFuncHeaderRe = regexp.MustCompile(`\bfunc(?:tion)?\s*\([^()]*\)[^{]*$`)
	methodHeaderRe   = regexp.MustCompile(`^(?:(?:public|private|protected|static|async|override|readonly|get|set)\s+)*([A-Za-z_$][\w$]*)\s*\([^()]*\)\s*(?::[^{]*)?$`)
	assignedArrowRe  = regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([\w$]+)\s*=\s*(?:async\s+)?(?:function\b|\([^()]*\)|[\w$]+)\s*(?::[^=]*)?=?>?`)
)

// Function definition patterns, one capture group for the name.
var funcDefPatterns = []*regexp.Regexp{
	// Go: func Name(
	regexp.MustCompile(`^\s*func\s+(\w+)\s*[(\[]`),
	// Go method: func (r *Type) Name(
	regexp.MustCompile(`^\s*func\s+\([^)]+\)\s+(\w+)\s*[(\[]`),
	// JS/TS: function name(
	regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s+([\w$]+)\s*[(<]`),
	// Rust: fn name(  or  pub fn name(
	regexp.MustCompile(`^\s*(?:pub\s+)?(?:async\s+)?fn\s+(\w+)\s*[(<]`),
}

var controlKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "else": true, "do": true, "try": true,
	"with": true, "select": true, "func": true,
}

// buildBlocks pairs braces in the skeleton and classifies each block.
func (s *Source) buildBlocks() {
	var stack []int
	for li, line := range s.skel {
		for col := 0; col < len(line); col++ {
			switch line[col] {
			case '{':
				b := Block{Start: li + 1, End: len(s.skel), Parent: -1}
				if len(stack) > 0 {
					b.Parent = stack[len(stack)-1]
					b.Depth = s.Blocks[b.Parent].Depth + 1
				}
				b.Line, b.Header = s.header(li, col)
				classify(&b)
				s.Blocks = append(s.Blocks, b)
				stack = append(stack, len(s.Blocks)-1)
			case '}':
				if len(stack) == 0 {
					continue
				}
				s.Blocks[stack[len(stack)-1]].End = li + 1
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// header returns the code introducing the brace at (li, col), looking at
// the previous non-blank line when the brace opens a line.
func (s *Source) header(li, col int) (int, string) {
	text := strings.TrimSpace(s.Code[li][:col])
	text = strings.TrimSpace(strings.TrimLeft(text, "}"))
	if text != "" {
		// Only the part after the last brace on the line belongs here.
		if i := strings.LastIndexAny(text, "{}"); i >= 0 {
			text = strings.TrimSpace(text[i+1:])
		}
		return li + 1, text
	}
	for j := li - 1; j >= 0; j-- {
		prev := strings.TrimSpace(s.Code[j])
		if prev == "" {
			continue
		}
		if strings.HasSuffix(prev, ";") || strings.HasSuffix(prev, "}") || strings.HasSuffix(prev, "{") {
			break
		}
		return j + 1, prev
	}
	return li + 1, ""
}

func classify(b *Block) {
	h := b.Header
	if h == "" {
		return
	}

	if m := callbackLoopRe.FindStringSubmatch(h); m != nil && (arrowHeaderRe.MatchString(h) || anonFuncHeaderRe.MatchString(h)) {
		b.IsLoop, b.IsFunc = true, true
		b.Collection = m[1]
		return
	}

	if loopHeaderRe.MatchString(h) && !strings.Contains(h, "=>") {
		b.IsLoop = true
		b.Collection = loopCollection(h)
		return
	}

	for _, pat := range funcDefPatterns {
		if m := pat.FindStringSubmatch(h); m != nil {
			b.IsFunc, b.Name = true, m[1]
			return
		}
	}
	if m := assignedArrowRe.FindStringSubmatch(h); m != nil && (arrowHeaderRe.MatchString(h) || strings.Contains(h, "function")) {
		b.IsFunc, b.Name = true, m[1]
		return
	}
	if m := methodHeaderRe.FindStringSubmatch(h); m != nil && !controlKeywords[m[1]] {
		b.IsFunc, b.Name = true, m[1]
		return
	}
	if arrowHeaderRe.MatchString(h) || anonFuncHeaderRe.MatchString(h) {
		b.IsFunc = true
	}
}

func loopCollection(h string) string {
	for _, re := range []*regexp.Regexp{lengthRe, rangeRe, goLenRe, forOfRe} {
		if m := re.FindStringSubmatch(h); m != nil {
			return m[1]
		}
	}
	return ""
}
