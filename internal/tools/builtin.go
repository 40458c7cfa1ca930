package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/aezell/perfrev/internal/analysis"
	"github.com/aezell/perfrev/internal/commit"
	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/model"
	"github.com/aezell/perfrev/internal/report"
)

// Tool names exposed to the model.
const (
	GetFileChanges              = "getFileChangesInDirectoryTool"
	GenerateCommitMessage       = "generateCommitMessageTool"
	WriteReviewToMarkdown       = "writeReviewToMarkdownTool"
	AnalyzeFilePerformance      = "analyzeFilePerformanceTool"
	AnalyzeDirectoryPerformance = "analyzeDirectoryPerformanceTool"
	AnalyzeAlgorithmComplexity  = "analyzeAlgorithmComplexityTool"
)

// maxFileBytes caps files read from disk when the model omits content.
const maxFileBytes = 1 << 20

// Deps are the components the built-in tools call into.
type Deps struct {
	Engine *analysis.Engine
	// ReportPath is used when the model does not name a file.
	ReportPath string
	// ReportRoot bounds the report paths the model may name. Empty means
	// the working directory.
	ReportRoot  string
	DiffOptions diff.Options
}

// Builtin returns the six review tools.
func Builtin(d Deps) []Tool {
	if d.ReportPath == "" {
		d.ReportPath = report.DefaultPath
	}
	return []Tool{
		getFileChangesTool(d),
		generateCommitMessageTool(d),
		writeReviewTool(d),
		analyzeFileTool(d),
		analyzeDirectoryTool(d),
		analyzeComplexityTool(d),
	}
}

// NewDefaultRegistry returns a registry holding the built-in tools.
func NewDefaultRegistry(d Deps) *Registry {
	return NewRegistry(Builtin(d)...)
}

type rootDirInput struct {
	RootDir string `json:"rootDir"`
}

var rootDirSchema = Schema{
	Properties: map[string]Property{
		"rootDir": {Type: TypeString, Description: "Directory to inspect, relative to the working directory or absolute."},
	},
	Required: []string{"rootDir"},
}

func getFileChangesTool(d Deps) Tool {
	return New(Spec{
		Name:        GetFileChanges,
		Description: "List the files changed under a directory relative to the last commit, with the unified diff of each.",
		Input:       rootDirSchema,
	}, func(ctx context.Context, in rootDirInput) (any, error) {
		changes, err := diff.Load(ctx, in.RootDir, d.DiffOptions)
		if err != nil {
			return nil, err
		}
		if changes == nil {
			changes = []model.FileChange{}
		}
		return changes, nil
	})
}

// CommitMessage is the output of generateCommitMessageTool.
type CommitMessage struct {
	Message string `json:"message"`
}

func generateCommitMessageTool(d Deps) Tool {
	return New(Spec{
		Name:        GenerateCommitMessage,
		Description: "Propose a conventional commit message for the changes under a directory.",
		Input:       rootDirSchema,
	}, func(ctx context.Context, in rootDirInput) (any, error) {
		changes, err := diff.Load(ctx, in.RootDir, d.DiffOptions)
		if err != nil {
			return nil, err
		}
		if len(changes) == 0 {
			return nil, &commit.EmptyChangeSetError{Dir: in.RootDir}
		}
		msg, err := commit.Generate(changes)
		if err != nil {
			return nil, err
		}
		return CommitMessage{Message: msg}, nil
	})
}

type writeReviewInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// ReportWritten is the output of writeReviewToMarkdownTool.
type ReportWritten struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// ReportPath returns the file written.
func (r ReportWritten) ReportPath() string { return r.Path }

func writeReviewTool(d Deps) Tool {
	return New(Spec{
		Name:        WriteReviewToMarkdown,
		Description: "Write the finished review to a markdown file, replacing any existing file.",
		Input: Schema{
			Properties: map[string]Property{
				"filePath": {Type: TypeString, Description: "Target file. Defaults to " + d.ReportPath + "."},
				"content":  {Type: TypeString, Description: "Markdown body of the review."},
			},
			Required: []string{"content"},
		},
	}, func(ctx context.Context, in writeReviewInput) (any, error) {
		path := d.ReportPath
		if in.FilePath != "" {
			p, err := confine(d.ReportRoot, in.FilePath)
			if err != nil {
				return nil, &ValidationError{Tool: WriteReviewToMarkdown, Field: "filePath", Reason: err.Error()}
			}
			path = p
		}
		written, err := report.WriteMarkdown(path, in.Content)
		if err != nil {
			return nil, err
		}
		return ReportWritten{Path: written, Bytes: len(in.Content)}, nil
	})
}

type fileInput struct {
	FilePath string  `json:"filePath"`
	Content  *string `json:"content"`
}

var fileSchema = Schema{
	Properties: map[string]Property{
		"filePath": {Type: TypeString, Description: "Path of the file to analyze."},
		"content":  {Type: TypeString, Description: "File content. Read from disk when omitted."},
	},
	Required: []string{"filePath"},
}

// FileAnalysis is the output of analyzeFilePerformanceTool.
type FileAnalysis struct {
	FilePath string             `json:"filePath"`
	Findings []analysis.Finding `json:"findings"`
	Summary  string             `json:"summary"`
}

func analyzeFileTool(d Deps) Tool {
	return New(Spec{
		Name:        AnalyzeFilePerformance,
		Description: "Scan one file for performance problems: nested loops over the same data, unreleased listeners and timers, repeated linear lookups, oversized functions and common anti-patterns.",
		Input:       fileSchema,
	}, func(ctx context.Context, in fileInput) (any, error) {
		content, err := fileContent(in)
		if err != nil {
			return nil, err
		}
		findings, err := d.Engine.AnalyzeFile(in.FilePath, content)
		if err != nil {
			return nil, err
		}
		return FileAnalysis{FilePath: in.FilePath, Findings: findings, Summary: analysis.Summary(findings)}, nil
	})
}

type directoryInput struct {
	DirectoryPath string `json:"directoryPath"`
}

func analyzeDirectoryTool(d Deps) Tool {
	return New(Spec{
		Name:        AnalyzeDirectoryPerformance,
		Description: "Analyze every changed file under a directory and report per-file findings plus patterns that repeat across files.",
		Input: Schema{
			Properties: map[string]Property{
				"directoryPath": {Type: TypeString, Description: "Directory whose changed files are analyzed."},
			},
			Required: []string{"directoryPath"},
		},
	}, func(ctx context.Context, in directoryInput) (any, error) {
		rep, err := d.Engine.AnalyzeDirectory(ctx, in.DirectoryPath)
		if err != nil {
			return nil, err
		}
		return directoryAnalysis{DirectoryReport: rep, Summary: rep.Summary()}, nil
	})
}

type directoryAnalysis struct {
	*analysis.DirectoryReport
	Summary string `json:"summary"`
}

// ComplexityAnalysis is the output of analyzeAlgorithmComplexityTool.
type ComplexityAnalysis struct {
	FilePath  string                        `json:"filePath"`
	Estimates []analysis.ComplexityEstimate `json:"estimates"`
}

func analyzeComplexityTool(d Deps) Tool {
	return New(Spec{
		Name:        AnalyzeAlgorithmComplexity,
		Description: "Estimate the time complexity of each loop nest, recursive function and sort call in a file.",
		Input:       fileSchema,
	}, func(ctx context.Context, in fileInput) (any, error) {
		content, err := fileContent(in)
		if err != nil {
			return nil, err
		}
		estimates, err := d.Engine.AnalyzeComplexity(in.FilePath, content)
		if err != nil {
			return nil, err
		}
		return ComplexityAnalysis{FilePath: in.FilePath, Estimates: estimates}, nil
	})
}

// confine resolves path against root and rejects results outside root.
func confine(root, path string) (string, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", path, root)
	}
	if rel == "." {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

func fileContent(in fileInput) (string, error) {
	if in.Content != nil {
		return *in.Content, nil
	}
	info, err := os.Stat(in.FilePath)
	if err != nil {
		return "", &analysis.AnalysisError{Path: in.FilePath, Err: err}
	}
	if info.IsDir() {
		return "", &analysis.AnalysisError{Path: in.FilePath, Err: errors.New("is a directory")}
	}
	if info.Size() > maxFileBytes {
		return "", &analysis.AnalysisError{Path: in.FilePath, Err: fmt.Errorf("file exceeds %d bytes", maxFileBytes)}
	}
	data, err := os.ReadFile(in.FilePath)
	if err != nil {
		return "", &analysis.AnalysisError{Path: in.FilePath, Err: err}
	}
	if !utf8.Valid(data) {
		return "", &analysis.AnalysisError{Path: in.FilePath, Err: analysis.ErrNotText}
	}
	return string(data), nil
}
