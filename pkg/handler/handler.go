// Package handler exposes the HTTP surface of the pipeline: uploads, status
// queries, transcription reads and semantic search.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/decksense/presentation-backend/config"
	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
	logx "github.com/decksense/presentation-backend/pkg/logger"
	"github.com/decksense/presentation-backend/pkg/service"
)

// Server hosts the HTTP API.
type Server struct {
	svc    *service.Service
	upload config.UploadConfig

	listener net.Listener
	server   *http.Server
}

// NewServer builds the API server with its routes registered.
func NewServer(svc *service.Service, upload config.UploadConfig) *Server {
	s := &Server{
		svc:    svc,
		upload: upload,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/presentations", s.handleUpload)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("GET /v1/transcriptions", s.handleListTranscriptions)
	mux.HandleFunc("GET /v1/transcriptions/{id}", s.handleGetTranscription)
	mux.HandleFunc("DELETE /v1/transcriptions/{id}", s.handleDeleteTranscription)
	mux.HandleFunc("GET /v1/transcriptions/{id}/slides/{number}", s.handleGetSlide)
	mux.HandleFunc("POST /v1/search", s.handleSearch)
	mux.HandleFunc("GET /v1/stats", s.handleStatistics)
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute, // uploads can be large
		WriteTimeout:      time.Minute,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Start begins serving on the given address.
func (s *Server) Start(ctx context.Context, addr string) error {
	logger, _ := logx.GetZapLogger(ctx)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	logger.Info("HTTP server listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(ctx context.Context) {
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

type uploadResponse struct {
	TaskID       string `json:"task_id"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	UploadStatus string `json:"upload_status"`
	Message      string `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger, _ := logx.GetZapLogger(r.Context())

	if err := r.ParseMultipartForm(s.upload.MaxFileSizeBytes()); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.writeError(w, http.StatusBadRequest, "file name is required")
		return
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !s.formatAllowed(ext) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported format %q, accepted formats: %s", ext, s.upload.AllowedFormats))
		return
	}
	if header.Size > s.upload.MaxFileSizeBytes() {
		s.writeServiceError(w, r,
			fmt.Errorf("maximum size is %dMB: %w", s.upload.MaxFileSizeMB, errorsx.ErrExceedMaxFileSize))
		return
	}

	filePath, size, err := s.saveUpload(file, header.Filename)
	if err != nil {
		logger.Error("Failed to store upload", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to store uploaded file")
		return
	}

	request := datamodel.TranscriptionRequest{
		FileName:          header.Filename,
		PresentationTitle: r.FormValue("presentation_title"),
		Author:            r.FormValue("author"),
		PresentationType:  r.FormValue("presentation_type"),
		LanguageCode:      formValueOr(r, "language_code", "pt-BR"),
		DetailedAnalysis:  r.FormValue("detailed_analysis") != "false",
		Workstream:        r.FormValue("workstream"),
		BPMLL1:            r.FormValue("bpml_l1"),
		BPMLL2:            r.FormValue("bpml_l2"),
	}
	now := time.Now().UTC()
	request.PresentationDate = &now
	if v := r.FormValue("presentation_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			request.PresentationDate = &t
		}
	}

	taskID, err := s.svc.Submit(r.Context(), filePath, request, r.FormValue("dataset_name"), "")
	if err != nil {
		_ = os.Remove(filePath)
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, uploadResponse{
		TaskID:       taskID,
		FileName:     header.Filename,
		FileSize:     size,
		UploadStatus: "uploaded",
		Message:      "File uploaded successfully. Processing started in background.",
	})
}

// saveUpload stages the file in the upload directory under a collision-free
// name. Ownership of the file passes to the job.
func (s *Server) saveUpload(file io.Reader, fileName string) (string, int64, error) {
	if err := os.MkdirAll(s.upload.UploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating upload directory: %w", err)
	}
	path := filepath.Join(s.upload.UploadDir,
		uuid.Must(uuid.NewV4()).String()+"_"+filepath.Base(fileName))

	dst, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating upload file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("writing upload file: %w", err)
	}
	return path, size, nil
}

func (s *Server) formatAllowed(ext string) bool {
	for _, allowed := range s.upload.AllowedFormatList() {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.GetTaskStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"task_id":      r.PathValue("id"),
		"status":       status.Status,
		"file_name":    status.FileName,
		"created_at":   status.CreatedAt,
		"started_at":   status.StartedAt,
		"completed_at": status.CompletedAt,
		"failed_at":    status.FailedAt,
		"error":        status.Error,
	})
}

func (s *Server) handleListTranscriptions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	var status *datamodel.RecordStatus
	if v := r.URL.Query().Get("status"); v != "" {
		parsed := datamodel.RecordStatus(v)
		status = &parsed
	}

	records, err := s.svc.ListTranscriptions(r.Context(), limit, status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transcriptions": records,
		"count":          len(records),
	})
}

func (s *Server) handleGetTranscription(w http.ResponseWriter, r *http.Request) {
	record, err := s.svc.GetTranscription(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleDeleteTranscription(w http.ResponseWriter, r *http.Request) {
	existed, err := s.svc.DeleteTranscription(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !existed {
		s.writeError(w, http.StatusNotFound, "transcription not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"id":      r.PathValue("id"),
	})
}

func (s *Server) handleGetSlide(w http.ResponseWriter, r *http.Request) {
	slideNumber, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "slide number must be an integer")
		return
	}

	slide, err := s.svc.GetSlideDetails(r.Context(), r.PathValue("id"), slideNumber)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, slide)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query datamodel.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	response, err := s.svc.Search(r.Context(), query)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Statistics(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// writeServiceError maps domain errors to HTTP statuses. Error strings are
// returned as-is; stack traces never leave the process.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errorsx.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errorsx.ErrInvalidArgument), errors.Is(err, errorsx.ErrUnsupportedFormat):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errorsx.ErrExceedMaxFileSize):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		logger, _ := logx.GetZapLogger(r.Context())
		logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formValueOr(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}
