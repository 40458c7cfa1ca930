package diff

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aezell/perfrev/internal/model"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	full := append([]string{
		"-c", "user.name=perfrev", "-c", "user.email=perfrev@example.com",
		"-c", "commit.gpgsign=false", "-c", "init.defaultBranch=main",
	}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newRepo creates a repository with one commit containing files.
func newRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	requireGit(t)
	root := t.TempDir()
	runGit(t, root, "init", "-q")
	for name, content := range files {
		writeFile(t, root, name, content)
	}
	runGit(t, root, "add", "-A")
	runGit(t, root, "commit", "-q", "-m", "initial")
	return root
}

func TestReadChanges(t *testing.T) {
	root := newRepo(t, map[string]string{
		"b.ts":              "export const b = 1;\n",
		"a.ts":              "export const a = 1;\n",
		"d.ts":              "export const d = 1;\n",
		"package-lock.json": "{}\n",
	})

	writeFile(t, root, "b.ts", "export const b = 2;\n")
	writeFile(t, root, "a.ts", "export const a = 2;\n")
	writeFile(t, root, "c.ts", "export const c = 3;\n")
	writeFile(t, root, "package-lock.json", "{\"v\": 2}\n")
	writeFile(t, root, "image.bin", "PNG\x00\x01\x02")
	if err := os.Remove(filepath.Join(root, "d.ts")); err != nil {
		t.Fatal(err)
	}

	changes, err := ReadChanges(context.Background(), root, Options{})
	if err != nil {
		t.Fatalf("ReadChanges: %v", err)
	}

	var paths []string
	kinds := make(map[string]model.ChangeKind)
	for _, c := range changes {
		paths = append(paths, c.Path)
		kinds[c.Path] = c.Kind
	}

	want := []string{"a.ts", "b.ts", "c.ts", "d.ts"}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	if kinds["a.ts"] != model.ChangeModified {
		t.Errorf("a.ts: expected modified, got %s", kinds["a.ts"])
	}
	if kinds["c.ts"] != model.ChangeAdded {
		t.Errorf("c.ts: expected added, got %s", kinds["c.ts"])
	}
	if kinds["d.ts"] != model.ChangeDeleted {
		t.Errorf("d.ts: expected deleted, got %s", kinds["d.ts"])
	}
	if !strings.Contains(changes[0].DiffText, "+export const a = 2;") {
		t.Errorf("a.ts diff missing added line:\n%s", changes[0].DiffText)
	}

	again, err := ReadChanges(context.Background(), root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(changes, again) {
		t.Error("ReadChanges is not idempotent for an unchanged tree")
	}
}

func TestReadChangesSubdirectory(t *testing.T) {
	root := newRepo(t, map[string]string{
		"web/app.ts":  "let x = 1;\n",
		"api/main.go": "package main\n",
	})
	writeFile(t, root, "web/app.ts", "let x = 2;\n")
	writeFile(t, root, "api/main.go", "package main\n\nfunc main() {}\n")

	changes, err := ReadChanges(context.Background(), filepath.Join(root, "web"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Path != "web/app.ts" {
		t.Fatalf("expected only web/app.ts, got %+v", changes)
	}
}

func TestReadChangesNoCommits(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	runGit(t, root, "init", "-q")
	writeFile(t, root, "staged.ts", "let s = 1;\n")
	runGit(t, root, "add", "staged.ts")
	writeFile(t, root, "loose.ts", "let l = 1;\n")

	changes, err := ReadChanges(context.Background(), root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	for _, c := range changes {
		if c.Kind != model.ChangeAdded {
			t.Errorf("%s: expected added, got %s", c.Path, c.Kind)
		}
	}
}

func TestReadChangesMissingDirectory(t *testing.T) {
	_, err := ReadChanges(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	var dnf *DirectoryNotFoundError
	if !errors.As(err, &dnf) {
		t.Fatalf("expected DirectoryNotFoundError, got %v", err)
	}
}

func TestReadChangesNotARepository(t *testing.T) {
	requireGit(t)
	_, err := ReadChanges(context.Background(), t.TempDir(), Options{})
	var dnf *DirectoryNotFoundError
	if !errors.As(err, &dnf) {
		t.Fatalf("expected DirectoryNotFoundError, got %v", err)
	}
}

func TestSnapshotPinsChangeSet(t *testing.T) {
	root := newRepo(t, map[string]string{"a.ts": "let a = 1;\n"})
	writeFile(t, root, "a.ts", "let a = 2;\n")

	snap := NewSnapshot(Options{})
	ctx := WithSnapshot(context.Background(), snap)

	first, err := Load(ctx, root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, root, "b.ts", "let b = 1;\n")

	second, err := Load(ctx, root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("snapshot returned a different change set within one run")
	}

	fresh, err := Load(context.Background(), root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 2 {
		t.Errorf("expected a direct read to see 2 changes, got %d", len(fresh))
	}
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"package-lock.json", true},
		{"web/package-lock.json", true},
		{"dist/bundle.js", true},
		{"web/dist/bundle.js", true},
		{"src/app.ts", false},
	}
	for _, tt := range tests {
		if got := matchesAny(tt.path, DefaultExcludes); got != tt.want {
			t.Errorf("matchesAny(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
