// Package commit derives a conventional commit message from a change set.
package commit

import (
	"fmt"
	"path"
	"strings"

	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/model"
)

// EmptyChangeSetError is returned when there is nothing to describe.
type EmptyChangeSetError struct {
	Dir string
}

func (e *EmptyChangeSetError) Error() string {
	if e.Dir != "" {
		return "no changes to describe in " + e.Dir
	}
	return "no changes to describe"
}

// Conventional commit types.
const (
	TypeDocs     = "docs"
	TypeTest     = "test"
	TypeFeat     = "feat"
	TypeRefactor = "refactor"
	TypeChore    = "chore"
	TypeFix      = "fix"
)

// Generate returns a conventional commit message for changes. The same
// change set always yields the same message.
func Generate(changes []model.FileChange) (string, error) {
	if len(changes) == 0 {
		return "", &EmptyChangeSetError{}
	}

	var b strings.Builder
	b.WriteString(Type(changes))
	if scope := Scope(changes); scope != "" {
		fmt.Fprintf(&b, "(%s)", scope)
	}
	b.WriteString(": ")
	b.WriteString(subject(changes))

	b.WriteString("\n\n")
	for _, c := range changes {
		added, deleted := lineCounts(c.DiffText)
		fmt.Fprintf(&b, "- %s (%s, +%d -%d)\n", c.Path, c.Kind, added, deleted)
	}
	return b.String(), nil
}

// Type picks the conventional commit type that describes changes.
func Type(changes []model.FileChange) string {
	switch {
	case all(changes, func(c model.FileChange) bool { return isDoc(c.Path) }):
		return TypeDocs
	case all(changes, func(c model.FileChange) bool { return isTest(c.Path) }):
		return TypeTest
	case some(changes, func(c model.FileChange) bool {
		return c.Kind == model.ChangeAdded && isSource(c.Path)
	}):
		return TypeFeat
	case all(changes, func(c model.FileChange) bool { return c.Kind == model.ChangeDeleted }):
		return TypeRefactor
	case all(changes, func(c model.FileChange) bool { return isBuildConfig(c.Path) }):
		return TypeChore
	default:
		return TypeFix
	}
}

// Scope returns the last element of the directory every change shares, or
// "" when the changes have no common directory.
func Scope(changes []model.FileChange) string {
	if len(changes) == 0 {
		return ""
	}
	common := strings.Split(path.Dir(changes[0].Path), "/")
	for _, c := range changes[1:] {
		dir := strings.Split(path.Dir(c.Path), "/")
		n := 0
		for n < len(common) && n < len(dir) && common[n] == dir[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 0 {
		return ""
	}
	last := common[len(common)-1]
	if last == "." || last == "" {
		return ""
	}
	return last
}

func subject(changes []model.FileChange) string {
	if len(changes) == 1 {
		c := changes[0]
		name := path.Base(c.Path)
		switch c.Kind {
		case model.ChangeAdded:
			return "add " + name
		case model.ChangeDeleted:
			return "remove " + name
		default:
			return "update " + name
		}
	}

	added, modified, deleted := 0, 0, 0
	for _, c := range changes {
		switch c.Kind {
		case model.ChangeAdded:
			added++
		case model.ChangeDeleted:
			deleted++
		default:
			modified++
		}
	}

	var parts []string
	if modified > 0 {
		parts = append(parts, "update "+files(modified))
	}
	if added > 0 {
		parts = append(parts, "add "+files(added))
	}
	if deleted > 0 {
		parts = append(parts, "remove "+files(deleted))
	}
	return strings.Join(parts, ", ")
}

func files(n int) string {
	if n == 1 {
		return "1 file"
	}
	return fmt.Sprintf("%d files", n)
}

func lineCounts(diffText string) (added, deleted int) {
	ds, err := diff.Parse(diffText)
	if err != nil {
		return 0, 0
	}
	_, added, deleted = ds.Stats()
	return added, deleted
}

func all(changes []model.FileChange, pred func(model.FileChange) bool) bool {
	for _, c := range changes {
		if !pred(c) {
			return false
		}
	}
	return true
}

func some(changes []model.FileChange, pred func(model.FileChange) bool) bool {
	for _, c := range changes {
		if pred(c) {
			return true
		}
	}
	return false
}

func isDoc(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".mdx", ".markdown", ".rst":
		return true
	}
	return false
}

func isTest(p string) bool {
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	for _, dir := range strings.Split(path.Dir(p), "/") {
		if dir == "test" || dir == "tests" || dir == "__tests__" || dir == "testdata" {
			return true
		}
	}
	return false
}

var buildFiles = map[string]bool{
	"go.mod": true, "go.sum": true, "package.json": true, "Makefile": true,
	"Dockerfile": true, "Cargo.toml": true, "pyproject.toml": true,
	".gitignore": true, ".editorconfig": true, ".env.example": true,
}

func isBuildConfig(p string) bool {
	base := path.Base(p)
	if buildFiles[base] || strings.HasPrefix(base, "tsconfig") || strings.HasPrefix(p, ".github/") {
		return true
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".yml", ".yaml", ".toml", ".ini", ".cfg", ".lock":
		return true
	}
	return false
}

func isSource(p string) bool {
	return !isDoc(p) && !isTest(p) && !isBuildConfig(p)
}
