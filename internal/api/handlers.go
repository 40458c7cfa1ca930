package api

import (
	"errors"
	"net/http"

	"github.com/aezell/perfrev/internal/analysis"
	"github.com/aezell/perfrev/internal/commit"
	"github.com/aezell/perfrev/internal/diff"
	"github.com/aezell/perfrev/internal/model"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Analyze ---

// analyzeRequest names one file with its content, or carries a unified diff
// whose post-images are analyzed.
type analyzeRequest struct {
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

type analyzeResponse struct {
	Summary     string             `json:"summary"`
	MaxSeverity string             `json:"max_severity"`
	Total       int                `json:"total"`
	Findings    []analysis.Finding `json:"findings"`
	Stats       *diffStatsJSON     `json:"stats,omitempty"`
}

type diffStatsJSON struct {
	Files   int `json:"files"`
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	switch {
	case req.Diff != "":
		s.analyzeDiff(w, req.Diff)
	case req.Path != "":
		findings, err := s.opts.Engine.AnalyzeFile(req.Path, req.Content)
		if err != nil {
			s.writeAnalysisError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, newAnalyzeResponse(findings, nil))
	default:
		s.writeError(w, http.StatusBadRequest, "path or diff is required")
	}
}

func (s *Server) analyzeDiff(w http.ResponseWriter, raw string) {
	ds, err := diff.Parse(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	findings := []analysis.Finding{}
	for _, f := range ds.Files {
		if f.IsDeleted || f.IsBinary {
			continue
		}
		ff, err := s.opts.Engine.AnalyzeFile(f.Path(), f.PostImage())
		if err != nil {
			s.writeAnalysisError(w, err)
			return
		}
		findings = append(findings, ff...)
	}

	nFiles, added, deleted := ds.Stats()
	s.writeJSON(w, http.StatusOK, newAnalyzeResponse(findings, &diffStatsJSON{
		Files:   nFiles,
		Added:   added,
		Deleted: deleted,
	}))
}

func newAnalyzeResponse(findings []analysis.Finding, stats *diffStatsJSON) analyzeResponse {
	return analyzeResponse{
		Summary:     analysis.Summary(findings),
		MaxSeverity: analysis.MaxSeverity(findings).String(),
		Total:       len(findings),
		Findings:    findings,
		Stats:       stats,
	}
}

func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	var ae *analysis.AnalysisError
	if errors.As(err, &ae) {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.log.Error("analysis failed", "err", err)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

// --- Complexity ---

type complexityRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type complexityResponse struct {
	Path      string                        `json:"path"`
	Estimates []analysis.ComplexityEstimate `json:"estimates"`
}

func (s *Server) handleComplexity(w http.ResponseWriter, r *http.Request) {
	var req complexityRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Path == "" {
		s.writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	estimates, err := s.opts.Engine.AnalyzeComplexity(req.Path, req.Content)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	if estimates == nil {
		estimates = []analysis.ComplexityEstimate{}
	}
	s.writeJSON(w, http.StatusOK, complexityResponse{Path: req.Path, Estimates: estimates})
}

// --- Parse ---

type parseRequest struct {
	Diff string `json:"diff"`
}

type parseResponse struct {
	Files []fileJSON    `json:"files"`
	Stats diffStatsJSON `json:"stats"`
}

type fileJSON struct {
	Name         string `json:"name"`
	OldName      string `json:"old_name,omitempty"`
	NewName      string `json:"new_name,omitempty"`
	Kind         string `json:"kind"`
	IsRenamed    bool   `json:"is_renamed,omitempty"`
	AddedLines   int    `json:"added_lines"`
	DeletedLines int    `json:"deleted_lines"`
	Fragments    int    `json:"fragments"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	if req.Diff == "" {
		s.writeError(w, http.StatusBadRequest, "diff is required")
		return
	}

	ds, err := diff.Parse(req.Diff)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	nFiles, added, deleted := ds.Stats()
	resp := parseResponse{
		Files: []fileJSON{},
		Stats: diffStatsJSON{Files: nFiles, Added: added, Deleted: deleted},
	}
	for _, f := range ds.Files {
		resp.Files = append(resp.Files, fileJSON{
			Name:         f.Name(),
			OldName:      f.OldName,
			NewName:      f.NewName,
			Kind:         f.Kind().String(),
			IsRenamed:    f.IsRenamed,
			AddedLines:   f.AddedLines,
			DeletedLines: f.DeletedLines,
			Fragments:    len(f.Fragments),
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// --- Commit message ---

type commitMessageRequest struct {
	Diff string `json:"diff"`
}

type commitMessageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleCommitMessage(w http.ResponseWriter, r *http.Request) {
	var req commitMessageRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	ds, err := diff.Parse(req.Diff)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	changes := make([]model.FileChange, 0, len(ds.Files))
	for _, f := range ds.Files {
		changes = append(changes, model.FileChange{Path: f.Path(), DiffText: f.Patch(), Kind: f.Kind()})
	}

	msg, err := commit.Generate(changes)
	if err != nil {
		var empty *commit.EmptyChangeSetError
		if errors.As(err, &empty) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, commitMessageResponse{Message: msg})
}
