package diff

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// Patch reconstructs a unified diff for a single file.
func (f *File) Patch() string {
	var b strings.Builder

	oldName := "a/" + f.OldName
	newName := "b/" + f.NewName
	if f.IsNew || f.OldName == "" {
		oldName = "/dev/null"
	}
	if f.IsDeleted || f.NewName == "" {
		newName = "/dev/null"
	}

	aName, bName := f.OldName, f.NewName
	if aName == "" {
		aName = bName
	}
	if bName == "" {
		bName = aName
	}

	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", aName, bName)
	if f.IsNew {
		b.WriteString("new file mode 100644\n")
	} else if f.IsDeleted {
		b.WriteString("deleted file mode 100644\n")
	}
	fmt.Fprintf(&b, "--- %s\n", oldName)
	fmt.Fprintf(&b, "+++ %s\n", newName)

	for _, frag := range f.Fragments {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@",
			frag.OldPosition, frag.OldLines,
			frag.NewPosition, frag.NewLines)
		if frag.Comment != "" {
			b.WriteString(" " + frag.Comment)
		}
		b.WriteString("\n")

		for _, line := range frag.Lines {
			switch line.Op {
			case gitdiff.OpContext:
				b.WriteString(" " + line.Line)
			case gitdiff.OpDelete:
				b.WriteString("-" + line.Line)
			case gitdiff.OpAdd:
				b.WriteString("+" + line.Line)
			}
			if !strings.HasSuffix(line.Line, "\n") {
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

// syntheticNewFile renders content as a new-file diff, the way git would
// show an untracked file once it is added.
func syntheticNewFile(path, content string) string {
	content = strings.TrimSuffix(content, "\n")
	var lines []string
	if content != "" {
		lines = strings.Split(content, "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	b.WriteString("new file mode 100644\n")
	b.WriteString("--- /dev/null\n")
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	if len(lines) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "@@ -0,0 +1,%d @@\n", len(lines))
	for _, line := range lines {
		fmt.Fprintf(&b, "+%s\n", line)
	}
	return b.String()
}
