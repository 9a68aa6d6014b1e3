package httpserver

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/queue"
	"github.com/helixir/paper-radar-service/internal/radar"
)

// Listing and upload limits.
const (
	defaultListLimit = 50
	maxListLimit     = 200
	// multipartMemory is held in memory while parsing; larger parts spill to disk.
	multipartMemory = 8 << 20
	// multipartOverhead allows for form fields and boundaries around the file.
	multipartOverhead = 1 << 20

	defaultUploadFilename = "document.pdf"
)

// uploadForm holds the non-file fields of an upload.
type uploadForm struct {
	Filename string `validate:"required,max=255"`
	Mode     string `validate:"omitempty,max=32,excludesall=/\\"`
}

// triggerScan handles POST /api/v1/radar/scan. The scan runs in the
// background; the response only says whether it started.
func (s *Server) triggerScan(w http.ResponseWriter, _ *http.Request) {
	err := s.radar.Trigger(radar.TriggerManual)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, scanResponse{Status: "started"})
	case errors.Is(err, domain.ErrScanInProgress):
		writeJSON(w, http.StatusConflict, scanResponse{Status: "already_running"})
	case errors.Is(err, domain.ErrRadarDisabled):
		writeError(w, http.StatusServiceUnavailable, "radar is disabled")
	default:
		writeDomainError(w, err)
	}
}

// radarStatus handles GET /api/v1/radar/status.
func (s *Server) radarStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.radar.Status())
}

// uploadTask handles POST /api/v1/tasks. It accepts a multipart form with a
// "file" part and optional "mode" and "highlight" fields.
func (s *Server) uploadTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := ownerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if !acceptedUploadType(header.Header.Get("Content-Type")) {
		writeError(w, http.StatusUnsupportedMediaType, "only PDF files are supported")
		return
	}
	if header.Size == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	highlight := false
	if raw := r.FormValue("highlight"); raw != "" {
		highlight, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "highlight must be a boolean")
			return
		}
	}

	filename := sanitizeFilename(header.Filename)
	if filename == "" {
		filename = defaultUploadFilename
	}
	form := uploadForm{
		Filename: filename,
		Mode:     strings.TrimSpace(r.FormValue("mode")),
	}
	if err := s.validate.Struct(form); err != nil {
		writeValidationError(w, err)
		return
	}

	task, err := s.tasks.Upload(ctx, queue.UploadRequest{
		Owner:     owner,
		Filename:  form.Filename,
		Mode:      form.Mode,
		Highlight: highlight,
		Body:      file,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("task_id", task.ID.String()).
		Str("owner", owner).
		Str("filename", task.Filename).
		Msg("document uploaded")

	writeJSON(w, http.StatusCreated, domainTaskToResponse(task))
}

// listTasks handles GET /api/v1/tasks.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxListLimit)
	}

	tasks, err := s.tasks.List(ctx, ownerFromContext(ctx), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := listTasksResponse{Tasks: make([]taskResponse, len(tasks)), Count: len(tasks)}
	for i, t := range tasks {
		resp.Tasks[i] = domainTaskToResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// getTask handles GET /api/v1/tasks/{taskID}.
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "task_id")
	if !ok {
		return
	}

	task, err := s.tasks.Get(ctx, taskID, ownerFromContext(ctx))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainTaskToResponse(task))
}

// deleteTask handles DELETE /api/v1/tasks/{taskID}. A live task is
// cancelled before it is removed.
func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID, ok := parseUUID(w, chi.URLParam(r, "taskID"), "task_id")
	if !ok {
		return
	}

	if err := s.tasks.Delete(ctx, taskID, ownerFromContext(ctx)); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// acceptedUploadType reports whether a part content type may hold a PDF.
func acceptedUploadType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/pdf" || mt == "application/octet-stream"
}

// sanitizeFilename drops any client-supplied directory components.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrQueueClosed), errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "task state changed, retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeValidationError reports the first failing field of a validated form.
func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			writeError(w, http.StatusBadRequest, field+" is required")
		case "max":
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			writeError(w, http.StatusBadRequest, field+" is invalid")
		}
		return
	}
	writeError(w, http.StatusBadRequest, "invalid input")
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing the input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}
