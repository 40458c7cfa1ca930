// Package report persists review output as markdown files.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath is where a review lands when no path is given.
const DefaultPath = "code-review.md"

// WriteError reports a report that could not be written. The target file is
// left as it was.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing report %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteMarkdown writes content to path, creating parent directories and
// replacing any existing file. The write is atomic: readers see either the
// old file or the complete new one. It returns the absolute path written.
func WriteMarkdown(path, content string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	if err := writeAtomic(abs, strings.NewReader(content)); err != nil {
		return "", &WriteError{Path: abs, Err: err}
	}
	return abs, nil
}

func writeAtomic(path string, r io.Reader) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
