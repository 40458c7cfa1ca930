package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/aezell/perfrev/internal/model"
)

// DefaultExcludes are generated or vendored paths that never carry
// reviewable changes.
var DefaultExcludes = []string{
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/bun.lock",
	"**/bun.lockb",
	"**/go.sum",
	"**/dist/**",
	"**/node_modules/**",
	"**/vendor/**",
}

// binarySniffLen matches the prefix git inspects when guessing binary content.
const binarySniffLen = 8000

// DirectoryNotFoundError reports a review target that does not exist or is
// not reachable from a git work tree.
type DirectoryNotFoundError struct {
	Path string
	Err  error
}

func (e *DirectoryNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("directory not found: %s: %v", e.Path, e.Err)
	}
	return "directory not found: " + e.Path
}

func (e *DirectoryNotFoundError) Unwrap() error { return e.Err }

// Options tunes ReadChanges.
type Options struct {
	// Exclude holds doublestar globs matched against repo-relative paths.
	// Nil means DefaultExcludes.
	Exclude []string
}

// ReadChanges returns the working-tree changes under dir relative to HEAD,
// including untracked files, sorted by path. Binary files, git metadata and
// excluded paths are dropped.
func ReadChanges(ctx context.Context, dir string, opts Options) ([]model.FileChange, error) {
	target, err := filepath.Abs(dir)
	if err == nil {
		target, err = filepath.EvalSymlinks(target)
	}
	if err != nil {
		return nil, &DirectoryNotFoundError{Path: dir, Err: err}
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, &DirectoryNotFoundError{Path: dir, Err: err}
	}
	cwd := target
	if !info.IsDir() {
		cwd = filepath.Dir(target)
	}

	root, err := RepoRoot(ctx, cwd)
	if err != nil {
		return nil, &DirectoryNotFoundError{Path: dir, Err: err}
	}
	spec, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(spec, "..") {
		return nil, &DirectoryNotFoundError{Path: dir, Err: errors.New("outside the repository")}
	}
	spec = filepath.ToSlash(spec)

	var raw strings.Builder
	tracked, err := trackedDiff(ctx, root, spec)
	if err != nil {
		return nil, err
	}
	raw.WriteString(tracked)

	untracked, err := untrackedDiff(ctx, root, spec)
	if err != nil {
		return nil, err
	}
	raw.WriteString(untracked)

	ds, err := Parse(raw.String())
	if err != nil {
		return nil, err
	}

	excludes := opts.Exclude
	if excludes == nil {
		excludes = DefaultExcludes
	}

	changes := make([]model.FileChange, 0, len(ds.Files))
	for _, f := range ds.Files {
		p := f.Path()
		if f.IsBinary || isGitMetadata(p) || matchesAny(p, excludes) {
			continue
		}
		changes = append(changes, model.FileChange{
			Path:     p,
			DiffText: f.Patch(),
			Kind:     f.Kind(),
		})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// RepoRoot returns the top level of the work tree containing dir.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	root := strings.TrimSpace(out)
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return root, nil
}

func trackedDiff(ctx context.Context, root, spec string) (string, error) {
	args := []string{"diff", "--no-color", "--no-ext-diff", "-M"}
	if _, err := git(ctx, root, "rev-parse", "--verify", "--quiet", "HEAD"); err == nil {
		args = append(args, "HEAD")
	} else {
		// No commits yet: everything staged is new.
		args = append(args, "--cached")
	}
	args = append(args, "--", spec)

	out, err := git(ctx, root, args...)
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	return out, nil
}

func untrackedDiff(ctx context.Context, root, spec string) (string, error) {
	out, err := git(ctx, root, "ls-files", "--others", "--exclude-standard", "-z", "--", spec)
	if err != nil {
		return "", fmt.Errorf("git ls-files: %w", err)
	}

	var names []string
	for _, name := range strings.Split(out, "\x00") {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			continue // raced with a delete
		}
		if looksBinary(data) {
			continue
		}
		b.WriteString(syntheticNewFile(name, string(data)))
	}
	return b.String(), nil
}

func looksBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func isGitMetadata(p string) bool {
	return p == ".git" || strings.HasPrefix(p, ".git/") || strings.Contains(p, "/.git/")
}

func matchesAny(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return true
		}
		// Bare file patterns also match the basename anywhere.
		if !strings.Contains(pattern, "/") {
			if ok, err := doublestar.Match(pattern, path.Base(p)); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmdArgs := append([]string{"-c", "core.quotepath=off"}, args...)
	cmd := exec.CommandContext(ctx, "git", cmdArgs...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}
