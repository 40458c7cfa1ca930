package diff

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/aezell/perfrev/internal/model"
)

// Snapshot pins the change set of each directory for the lifetime of one
// review run, so every tool in the run sees the same FileChange set.
type Snapshot struct {
	opts Options

	mu   sync.Mutex
	sets map[string]*snapshotEntry
}

type snapshotEntry struct {
	mu      sync.Mutex
	done    bool
	changes []model.FileChange
}

// NewSnapshot returns an empty snapshot that reads with opts.
func NewSnapshot(opts Options) *Snapshot {
	return &Snapshot{opts: opts, sets: make(map[string]*snapshotEntry)}
}

// Changes returns the memoised change set for dir, reading it on first use.
// Failed reads are not memoised. The returned slice must not be modified.
func (s *Snapshot) Changes(ctx context.Context, dir string) ([]model.FileChange, error) {
	key := dir
	if abs, err := filepath.Abs(dir); err == nil {
		key = abs
	}

	s.mu.Lock()
	e, ok := s.sets[key]
	if !ok {
		e = &snapshotEntry{}
		s.sets[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return e.changes, nil
	}
	changes, err := ReadChanges(ctx, dir, s.opts)
	if err != nil {
		return nil, err
	}
	e.changes, e.done = changes, true
	return changes, nil
}

type snapshotKey struct{}

// WithSnapshot attaches s to ctx.
func WithSnapshot(ctx context.Context, s *Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, s)
}

// SnapshotFrom returns the snapshot attached to ctx, or nil.
func SnapshotFrom(ctx context.Context) *Snapshot {
	s, _ := ctx.Value(snapshotKey{}).(*Snapshot)
	return s
}

// Load reads the changes for dir through the run's snapshot when one is
// attached to ctx, and directly otherwise.
func Load(ctx context.Context, dir string, opts Options) ([]model.FileChange, error) {
	if s := SnapshotFrom(ctx); s != nil {
		return s.Changes(ctx, dir)
	}
	return ReadChanges(ctx, dir, opts)
}
