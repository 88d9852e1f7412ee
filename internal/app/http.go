package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grantsmith/api/internal/export"
	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/gitrepo"
	"grantsmith/api/internal/proposal"
	"grantsmith/api/internal/search"
	"grantsmith/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/templates" {
		writeJSON(w, http.StatusOK, map[string]any{"templates": s.service.Templates()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.URL.Path == "/api/proposals" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProposals(r.Context())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"proposals": items})
		case http.MethodPost:
			var body struct {
				Title      string `json:"title"`
				TemplateID string `json:"templateId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateProposal(r.Context(), body.Title, body.TemplateID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "proposals" {
		s.handleProposal(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProposal(w http.ResponseWriter, r *http.Request, proposalID string, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProposal(r.Context(), proposalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteProposal(r.Context(), proposalID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if parts[0] == "sections" && len(parts) >= 2 {
		s.handleSection(w, r, proposalID, parts[1], parts[2:])
		return
	}

	if len(parts) == 1 {
		switch {
		case r.Method == http.MethodPut && parts[0] == "template":
			var body struct {
				TemplateID string `json:"templateId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.ChangeTemplate(r.Context(), proposalID, body.TemplateID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return

		case r.Method == http.MethodPost && parts[0] == "generate-all":
			s.handleGenerateAll(w, r, proposalID)
			return

		case r.Method == http.MethodPost && parts[0] == "cancel":
			cancelled, err := s.service.CancelRun(r.Context(), proposalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
			return

		case r.Method == http.MethodGet && parts[0] == "run":
			payload, err := s.service.RunStatus(r.Context(), proposalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return

		case r.Method == http.MethodGet && parts[0] == "assembled":
			payload, err := s.service.Assembled(r.Context(), proposalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return

		case r.Method == http.MethodGet && parts[0] == "ask":
			result, err := s.service.Ask(r.Context(), proposalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ask": result})
			return

		case r.Method == http.MethodGet && parts[0] == "blocks":
			blocks, err := s.service.Blocks(r.Context(), proposalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
			return

		case r.Method == http.MethodGet && parts[0] == "export":
			s.handleExport(w, r, proposalID)
			return

		case r.Method == http.MethodGet && parts[0] == "versions":
			commits, err := s.service.Versions(r.Context(), proposalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": commits})
			return
		}
	}

	if len(parts) == 2 && r.Method == http.MethodGet && parts[0] == "versions" {
		payload, err := s.service.Version(r.Context(), proposalID, parts[1])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSection(w http.ResponseWriter, r *http.Request, proposalID, name string, parts []string) {
	if len(parts) == 0 && r.Method == http.MethodPut {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		section, err := s.service.EditSection(r.Context(), proposalID, name, body.Text, authorName(r))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": section, "state": section.State()})
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPost && parts[0] == "generate" {
		var body struct {
			CustomInstructions *string `json:"customInstructions"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		section, err := s.service.GenerateSection(r.Context(), proposalID, name, body.CustomInstructions)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": section, "state": section.State()})
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPost && parts[0] == "restore" {
		var body struct {
			Index *int `json:"index"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Index == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "index is required", nil)
			return
		}
		section, err := s.service.RestoreSection(r.Context(), proposalID, name, *body.Index, authorName(r))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"section": section, "state": section.State()})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGenerateAll(w http.ResponseWriter, r *http.Request, proposalID string) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		status, err := s.service.StartRun(r.Context(), proposalID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"runId": status.RunID, "status": status})
		return
	}

	report, err := s.service.RunNow(r.Context(), proposalID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, proposalID string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	upload, _ := strconv.ParseBool(r.URL.Query().Get("upload"))

	result, artifact, err := s.service.Export(r.Context(), proposalID, format, upload)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if artifact != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"artifact": artifact,
			"filename": result.Filename,
			"etag":     result.ETag,
		})
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("ETag", strconv.Quote(result.ETag))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:       text,
		ProposalID: strings.TrimSpace(query.Get("proposalId")),
		Limit:      limit,
		Offset:     offset,
	}))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Author")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// authorName is the archive author for manual changes.
func authorName(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get("X-Author")); name != "" {
		return name
	}
	return defaultEditor
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Proposal not found", nil
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS", "Proposal already exists", nil
	case errors.Is(err, generation.ErrBusy):
		return http.StatusConflict, "GENERATION_IN_PROGRESS", "A generation is already in progress for this proposal", nil
	case errors.Is(err, proposal.ErrUnknownSection):
		return http.StatusNotFound, "SECTION_NOT_FOUND", "Section not found", nil
	case errors.Is(err, proposal.ErrHistoryIndex):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "History index out of range", nil
	case errors.Is(err, generation.ErrEmptyText):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil
	case errors.Is(err, gitrepo.ErrNoArchive):
		return http.StatusNotFound, "NOT_FOUND", "No archived versions", nil
	case errors.Is(err, gitrepo.ErrUnknownVersion):
		return http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Export format must be html, pdf or docx", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusConflict, "CONTENT_UNAVAILABLE", "Proposal has no generated content to export", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
