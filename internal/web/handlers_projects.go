package web

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/colextract/internal/core"
	"github.com/JonMunkholm/colextract/internal/history"
	"github.com/JonMunkholm/colextract/internal/web/templates"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 32 << 20

// multipartOverhead allows for form fields and boundaries on top of the file.
const multipartOverhead = 1 << 20

// ProjectResponse is a project with one page of its table.
type ProjectResponse struct {
	Project core.ProjectInfo `json:"project"`
	Table   core.TablePage   `json:"table"`
}

// HistoryMoveResponse reports an undo or redo.
type HistoryMoveResponse struct {
	Entry   history.Entry    `json:"entry"`
	Project core.ProjectInfo `json:"project"`
}

// handleImport creates a project from an uploaded CSV file.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.respondError(w, r, err, statusForUpload(err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	info, err := s.service.ImportCSV(r.Context(), name, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{
		"project_id": info.ID,
		"project":    info,
	})
}

func statusForUpload(err error) int {
	if status := statusFor(err); status == http.StatusRequestEntityTooLarge {
		return status
	}
	return http.StatusBadRequest
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Projects())
}

// handleGetProject returns a project and a page of its rows, selected by
// the offset and limit query parameters.
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	info, err := s.service.Project(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.Table(id, parseIntParam(r, "offset", 0), parseIntParam(r, "limit", defaultPageSize))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, ProjectResponse{Project: info, Table: page})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// handleExportProject streams the project's current table as CSV.
func (s *Server) handleExportProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	info, err := s.service.Project(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	filename := strings.Trim(unsafeFilename.ReplaceAllString(info.Name, "_"), "_")
	if filename == "" {
		filename = "export"
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.csv"`)

	if err := s.service.Export(id, w); err != nil {
		// Headers are already sent.
		slog.Error("export failed", "project_id", id, "error", err)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.History(chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	s.respondHistoryMove(w, r, id, func() (history.Entry, error) {
		return s.service.Undo(r.Context(), id)
	})
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	s.respondHistoryMove(w, r, id, func() (history.Entry, error) {
		return s.service.Redo(r.Context(), id)
	})
}

func (s *Server) respondHistoryMove(w http.ResponseWriter, r *http.Request, id string, move func() (history.Entry, error)) {
	e, err := move()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	info, err := s.service.Project(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, HistoryMoveResponse{Entry: e, Project: info})
}

// handleProjectList renders the project list page.
func (s *Server) handleProjectList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ProjectList(s.service.Projects()).Render(r.Context(), w); err != nil {
		slog.Error("render project list", "error", err)
	}
}

// handleProjectPage renders a project's table preview and history.
func (s *Server) handleProjectPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	info, err := s.service.Project(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.Table(id, parseIntParam(r, "offset", 0), defaultPageSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hist, err := s.service.History(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ProjectPage(info, page, hist).Render(r.Context(), w); err != nil {
		slog.Error("render project page", "project_id", id, "error", err)
	}
}
