// Package model defines the core data types shared across perfrev.
package model

import "fmt"

// Severity ranks how urgently a finding should be addressed.
type Severity int

const (
	SeverityNit Severity = iota
	SeveritySuggestion
	SeverityBlocking
)

func (s Severity) String() string {
	switch s {
	case SeverityNit:
		return "nit"
	case SeveritySuggestion:
		return "suggestion"
	case SeverityBlocking:
		return "blocking"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity maps a name back to its Severity.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "nit":
		return SeverityNit, nil
	case "suggestion":
		return SeveritySuggestion, nil
	case "blocking":
		return SeverityBlocking, nil
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// Category classifies what kind of performance problem a finding describes.
type Category int

const (
	CategoryAlgorithmicComplexity Category = iota
	CategoryMemoryLeak
	CategoryDOMInefficiency
	CategoryAntiPattern
	CategoryLargeFunction
)

func (c Category) String() string {
	switch c {
	case CategoryAlgorithmicComplexity:
		return "algorithmic-complexity"
	case CategoryMemoryLeak:
		return "memory-leak"
	case CategoryDOMInefficiency:
		return "dom/IO-inefficiency"
	case CategoryAntiPattern:
		return "anti-pattern"
	case CategoryLargeFunction:
		return "large-function"
	default:
		return "unknown"
	}
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(b []byte) error {
	for v := CategoryAlgorithmicComplexity; v <= CategoryLargeFunction; v++ {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", string(b))
}

// ChangeKind describes how a file changed relative to HEAD.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota
	ChangeAdded
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ChangeKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "added":
		*k = ChangeAdded
	case "modified":
		*k = ChangeModified
	case "deleted":
		*k = ChangeDeleted
	default:
		return fmt.Errorf("unknown change kind %q", string(b))
	}
	return nil
}

// FileChange is one changed file in a review run. Path is relative to the
// repository root and slash-separated.
type FileChange struct {
	Path     string     `json:"path"`
	DiffText string     `json:"diffText"`
	Kind     ChangeKind `json:"kind"`
}

// LineRange identifies a range of lines in a file.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}
